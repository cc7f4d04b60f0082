// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rssqb/rssqb/internal/config"

	"github.com/stretchr/testify/require"
)

func testGptConfig() config.GptConfig {
	return config.GptConfig{URL: "http://localhost:0/v1/chat", Model: "gpt-4o-mini", Retry: 2, BetterModel: "gpt-4o", BetterSince: 1}
}

func TestCleanContentStripsFenceAndLanguageTag(t *testing.T) {
	require := require.New(t)
	require.Equal(`[{"a":1}]`, cleanContent("```json\n[{\"a\":1}]\n```"))
	require.Equal(`[{"a":1}]`, cleanContent("  [{\"a\":1}]  "))
	require.Equal(`[{"a":1}]`, cleanContent("`[{\"a\":1}]`"))
}

func TestClassifyChunkParsesShowAndOther(t *testing.T) {
	require := require.New(t)
	content := `[{"type":"show","fansub":"LoliHouse","show":"Some Show","season":"1","episode":"9","resolution":"1080p","language":"simplified chinese"},{"type":"other"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}})
	}))
	defer srv.Close()

	cfg := testGptConfig()
	cfg.URL = srv.URL
	results, err := New(cfg).classifyChunk(context.Background(), []string{"title one", "title two"}, cfg.Model)
	require.NoError(err)
	require.True(results[0].IsShow())
	require.Equal("Some Show", results[0].Show.Show)
	require.False(results[1].IsShow())
}

func TestClassifyEmptyInput(t *testing.T) {
	require := require.New(t)
	c := New(testGptConfig())
	results, err := c.Classify(context.Background(), nil)
	require.NoError(err)
	require.Nil(results)
}
