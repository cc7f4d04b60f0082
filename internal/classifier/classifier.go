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

// Package classifier turns free-form release titles into structured show
// and episode metadata via a chat-completion style LLM endpoint.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rssqb/rssqb/internal/backoff"
	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/httpx"
	"github.com/rssqb/rssqb/internal/xlog"

	"golang.org/x/sync/errgroup"
)

// chunkSize bounds how many titles are sent in a single chat-completion
// request; the system prompt below was tuned against requests this size.
const chunkSize = 6

const systemPrompt = `
# Task
Extract release metadata from anime torrent titles.

## Input
Multiple lines of text, each line a single release title.

## Output
For every input line, extract: fansub group, show name, season, episode,
resolution, subtitle language. Classify the line as "show" if it is a
recognizable episode release, or "other" if it isn't (e.g. a batch of
unrelated files, an announcement, or junk).

Return a single JSON array, one object per input line, in the same order as
the input, with fields {type, fansub, show, season, episode, resolution,
language}. Do not wrap the array in a code fence.

Rules:
- type is "show" or "other".
- show uses the name as it appears in the title, preferring a translated
  name over a romanized one. Never include / or \ in show.
- resolution is "720p" or "1080p".
- language is one of "raw", "simplified chinese", "traditional chinese",
  "simplified and traditional chinese", "simplified chinese and japanese",
  "traditional chinese and japanese". "raw" means no subtitles at all.
- episode is a range like "1-24" for a batch release.

## Example
Input: [LoliHouse] A Wrong Way to Use Healing Magic / Chiyu Mahou no
Machigatta Tsukaikata - 09 [WebRip 1080p HEVC-10bit AAC][CHS&CHT]
Output:
[{"type": "show", "fansub": "LoliHouse", "show": "A Wrong Way to Use Healing Magic", "season": "1", "episode": "9", "resolution": "1080p", "language": "simplified and traditional chinese"}]
`

// ShowInfo is the structured metadata extracted for a recognized release.
type ShowInfo struct {
	Fansub     string
	Show       string
	Season     string
	Episode    string
	Resolution string
	Language   string
}

// Recognized is the result of classifying a single title: either a
// recognized show release, or Other for anything that doesn't fit.
type Recognized struct {
	Show *ShowInfo
}

// IsShow reports whether r carries show metadata.
func (r Recognized) IsShow() bool { return r.Show != nil }

// ClassifierError is returned when classification of a chunk exhausts its
// retries.
type ClassifierError struct {
	Titles []string
	Err    error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier: classify %d titles: %s", len(e.Titles), e.Err)
}
func (e *ClassifierError) Unwrap() error { return e.Err }

// Classifier classifies release titles using a chat-completion endpoint.
type Classifier struct {
	config    config.GptConfig
	timeout   time.Duration
	transport http.RoundTripper
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout bounds how long a single chat-completion request may run.
// Callers should thread the configured global outbound-request timeout
// through here so a hung endpoint can't stall a feed cycle indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

// WithTransport overrides the http.RoundTripper used to reach the
// chat-completion endpoint, primarily for tests and for routing through a
// configured proxy.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Classifier) { c.transport = transport }
}

// New returns a Classifier configured by cfg.
func New(cfg config.GptConfig, opts ...Option) *Classifier {
	c := &Classifier{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns one Recognized per title, in input order. Titles are
// chunked and chunks are classified concurrently; a chunk whose retries are
// exhausted fails the whole call.
func (c *Classifier) Classify(ctx context.Context, titles []string) ([]Recognized, error) {
	if len(titles) == 0 {
		return nil, nil
	}

	var chunks [][]string
	for i := 0; i < len(titles); i += chunkSize {
		end := i + chunkSize
		if end > len(titles) {
			end = len(titles)
		}
		chunks = append(chunks, titles[i:end])
	}

	results := make([][]Recognized, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			r, err := c.classifyChunkWithRetry(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Recognized
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (c *Classifier) classifyChunkWithRetry(ctx context.Context, titles []string) ([]Recognized, error) {
	attempts := backoff.New(backoff.Config{
		Min:          500 * time.Millisecond,
		Max:          10 * time.Second,
		RetryTimeout: time.Duration(c.config.Retry+1) * 30 * time.Second,
	}).Attempts()

	var lastErr error
	for attempt := uint8(0); attempt <= c.config.Retry && attempts.WaitForNext(); attempt++ {
		model := c.config.ModelFor(attempt)
		r, err := c.classifyChunk(ctx, titles, model)
		if err == nil {
			return r, nil
		}
		lastErr = err
		xlog.Sugar().Warnw("classifier attempt failed", "attempt", attempt, "model", model, "error", err)
	}
	return nil, &ClassifierError{Titles: titles, Err: lastErr}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type rawResult struct {
	Type       string `json:"type"`
	Fansub     string `json:"fansub"`
	Show       string `json:"show"`
	Season     string `json:"season"`
	Episode    string `json:"episode"`
	Resolution string `json:"resolution"`
	Language   string `json:"language"`
}

func (c *Classifier) classifyChunk(ctx context.Context, titles []string, model string) ([]Recognized, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: strings.Join(titles, "\n")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	opts := []httpx.SendOption{
		httpx.SendContext(ctx),
		httpx.SendTimeout(c.timeout),
		httpx.SendBody(bytes.NewReader(body)),
		httpx.SendHeader("Content-Type", "application/json"),
		httpx.SendHeader("Authorization", "Bearer "+c.config.Token),
	}
	if c.transport != nil {
		opts = append(opts, httpx.SendTransport(c.transport))
	}
	resp, err := httpx.Post(c.config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	content := cleanContent(chat.Choices[len(chat.Choices)-1].Message.Content)

	var raw []rawResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse content as json array: %w", err)
	}
	if len(raw) != len(titles) {
		return nil, fmt.Errorf("length mismatch: input=%d output=%d", len(titles), len(raw))
	}

	results := make([]Recognized, len(raw))
	for i, r := range raw {
		if r.Type != "show" {
			results[i] = Recognized{}
			continue
		}
		results[i] = Recognized{Show: &ShowInfo{
			Fansub:     r.Fansub,
			Show:       r.Show,
			Season:     r.Season,
			Episode:    r.Episode,
			Resolution: r.Resolution,
			Language:   r.Language,
		}}
	}
	return results, nil
}

// cleanContent trims whitespace, surrounding backticks, and a leading
// "json" language tag from a chat completion's raw content, per the
// response post-processing rules classification relies on.
func cleanContent(content string) string {
	content = strings.TrimSpace(content)
	content = strings.Trim(content, "`")
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "json")
	return strings.TrimSpace(content)
}
