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
package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rssqb/rssqb/internal/classifier"
	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/pipeline"
	"github.com/rssqb/rssqb/internal/qbittorrent"
	"github.com/rssqb/rssqb/internal/store"
	"github.com/rssqb/rssqb/internal/store/storefixture"
	"github.com/rssqb/rssqb/internal/tmdb"

	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, gptBody, tmdbBody string, onAdd func(*http.Request)) *pipeline.Pipeline {
	gptSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gptBody))
	}))
	t.Cleanup(gptSrv.Close)

	tmdbSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tmdbBody))
	}))
	t.Cleanup(tmdbSrv.Close)

	qbMux := http.NewServeMux()
	qbMux.HandleFunc("/api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	qbMux.HandleFunc("/api/v2/auth/logout", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	qbMux.HandleFunc("/api/v2/torrents/add", func(w http.ResponseWriter, r *http.Request) {
		if onAdd != nil {
			onAdd(r)
		}
		w.WriteHeader(200)
	})
	qbSrv := httptest.NewServer(qbMux)
	t.Cleanup(qbSrv.Close)

	st := storefixture.New(t)
	qbClient, err := qbittorrent.New(context.Background(), qbSrv.URL, "admin", "pw", 10*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { qbClient.Close(context.Background()) })

	return &pipeline.Pipeline{
		Store:      st,
		Classifier: classifier.New(config.GptConfig{URL: gptSrv.URL, Model: "m", Retry: 0}),
		Enricher:   tmdb.New("secret", st, tmdb.WithTransport(recordingTransport(tmdbSrv.URL))),
		QbClient:   qbClient,
	}
}

// recordingTransport rewrites every request to target, since the enricher
// always targets the real TMDB host.
func recordingTransport(target string) http.RoundTripper {
	targetURL, err := url.Parse(target)
	if err != nil {
		panic(err)
	}
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		u := *r.URL
		u.Scheme = targetURL.Scheme
		u.Host = targetURL.Host
		r.URL = &u
		return http.DefaultTransport.RoundTrip(r)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testFeed() config.RssFeed {
	f := config.RssFeed{Site: config.SiteComicat, Search: "some-show"}
	f.Name = "some-show-feed"
	f.Tags = []string{"anime"}
	return f
}

func TestRunItemsSubmitsAndMarksSeen(t *testing.T) {
	require := require.New(t)

	gptBody := `{"choices":[{"message":{"content":"[{\"type\":\"show\",\"fansub\":\"LoliHouse\",\"show\":\"Some Show\",\"season\":\"1\",\"episode\":\"9\",\"resolution\":\"1080p\",\"language\":\"simplified chinese\"}]"}}]}`
	tmdbBody := `{"results":[{"id":99,"name":"Some Show (EN)","first_air_date":"2021-01-01"}]}`

	var renamed string
	p := newTestPipeline(t, gptBody, tmdbBody, func(r *http.Request) {
		require.NoError(r.ParseMultipartForm(1 << 20))
		renamed = r.FormValue("rename")
	})

	item := store.Item{GUID: "guid-1", Title: "[LoliHouse] Some Show - 09 [1080p]", Link: "https://example.com/1", Enclosure: "https://example.com/1.torrent"}

	result, err := p.RunItems(context.Background(), testFeed(), []store.Item{item})
	require.NoError(err)
	require.Len(result.Added, 1)
	require.Contains(renamed, "Some Show (EN) - S01E09")
	require.Contains(renamed, "tid")

	seen, err := p.Store.ItemExists("guid-1")
	require.NoError(err)
	require.True(seen)
}

func TestRunItemsSkipsAlreadySeen(t *testing.T) {
	require := require.New(t)
	p := newTestPipeline(t, `{"choices":[{"message":{"content":"[]"}}]}`, `{"results":[]}`, nil)

	item := store.Item{GUID: "guid-1", Title: "t", Link: "l", Enclosure: "e"}
	require.NoError(p.Store.InsertItem(item))

	result, err := p.RunItems(context.Background(), testFeed(), []store.Item{item})
	require.NoError(err)
	require.Empty(result.Added)
}

func TestRunItemsDropsOtherVariant(t *testing.T) {
	require := require.New(t)
	gptBody := `{"choices":[{"message":{"content":"[{\"type\":\"other\"}]"}}]}`
	p := newTestPipeline(t, gptBody, `{"results":[]}`, nil)

	item := store.Item{GUID: "guid-1", Title: "random junk", Link: "l", Enclosure: "e"}
	result, err := p.RunItems(context.Background(), testFeed(), []store.Item{item})
	require.NoError(err)
	require.Empty(result.Added)
}

func TestRunItemsFilterByRegex(t *testing.T) {
	require := require.New(t)
	p := newTestPipeline(t, `{"choices":[{"message":{"content":"[]"}}]}`, `{"results":[]}`, nil)

	cfg := &config.Config{DBURI: "x", LinkTo: "y", Feed: []config.Feed{
		{Type: "rss", Name: "f", Site: config.SiteComicat, Search: "s", Filters: []string{"WANTED"}},
	}}
	feeds, err := cfg.Feeds()
	require.NoError(err)
	require.Len(feeds, 1)

	item := store.Item{GUID: "guid-1", Title: "not a match", Link: "l", Enclosure: "e"}
	result, err := p.RunItems(context.Background(), feeds[0], []store.Item{item})
	require.NoError(err)
	require.Empty(result.Added)

	exists, err := p.Store.ItemExists("guid-1")
	require.NoError(err)
	require.False(exists, "regex-filtered items are never recorded as seen")
}
