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

// Package tmdb resolves classifier-extracted show names to their canonical
// TMDB identity, caching resolutions in the store so a show is looked up
// remotely at most once.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rssqb/rssqb/internal/httpx"
	"github.com/rssqb/rssqb/internal/store"
	"github.com/rssqb/rssqb/internal/xlog"

	"golang.org/x/sync/errgroup"
)

const searchURL = "https://api.themoviedb.org/3/search/tv"

// Enricher resolves show names against TMDB, backed by the store's
// tmdb_info cache.
type Enricher struct {
	secret    string
	store     *store.Store
	transport http.RoundTripper
	timeout   time.Duration
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithTransport overrides the http.RoundTripper used to reach TMDB,
// primarily for tests.
func WithTransport(transport http.RoundTripper) Option {
	return func(e *Enricher) { e.transport = transport }
}

// WithTimeout bounds how long a single TMDB search request may run. Callers
// should thread the configured global outbound-request timeout through
// here so a hung TMDB endpoint can't stall a feed cycle indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(e *Enricher) { e.timeout = d }
}

// New returns an Enricher using secret as the TMDB API key.
func New(secret string, st *store.Store, opts ...Option) *Enricher {
	e := &Enricher{secret: secret, store: st}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve looks up the canonical TmdbShow for every title, checking the
// cache first and falling back to a remote search concurrently for misses.
// Titles TMDB has no match for are simply absent from the result, which
// callers treat as "enrichment skipped" rather than an error.
func (e *Enricher) Resolve(ctx context.Context, titles []string) (map[string]store.TmdbShow, error) {
	dedup := make(map[string]struct{}, len(titles))
	var unique []string
	for _, t := range titles {
		if _, ok := dedup[t]; ok {
			continue
		}
		dedup[t] = struct{}{}
		unique = append(unique, t)
	}

	result := make(map[string]store.TmdbShow, len(unique))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, title := range unique {
		title := title
		g.Go(func() error {
			show, ok, err := e.resolveOne(gctx, title)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			mu.Lock()
			result[title] = show
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Enricher) resolveOne(ctx context.Context, title string) (store.TmdbShow, bool, error) {
	cached, err := e.store.TmdbShowByName(title)
	if err == nil {
		return cached, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.TmdbShow{}, false, fmt.Errorf("lookup cached tmdb show %q: %w", title, err)
	}

	found, ok, err := e.search(ctx, title)
	if err != nil {
		xlog.Sugar().Warnw("tmdb search failed", "title", title, "error", err)
		return store.TmdbShow{}, false, err
	}
	if !ok {
		return store.TmdbShow{}, false, nil
	}
	found.Name = title
	if err := e.store.InsertTmdbShow(found); err != nil {
		return store.TmdbShow{}, false, fmt.Errorf("cache tmdb show %q: %w", title, err)
	}
	return found, true, nil
}

type searchResponse struct {
	Results []struct {
		ID           int    `json:"id"`
		Name         string `json:"name"`
		FirstAirDate string `json:"first_air_date"`
	} `json:"results"`
}

func (e *Enricher) search(ctx context.Context, title string) (store.TmdbShow, bool, error) {
	q := url.Values{}
	q.Set("api_key", e.secret)
	q.Set("query", title)
	q.Set("language", "zh-CN")
	q.Set("include_adult", "true")
	rawURL := httpx.BuildURL(searchURL, q)

	opts := []httpx.SendOption{httpx.SendContext(ctx), httpx.SendTimeout(e.timeout)}
	if e.transport != nil {
		opts = append(opts, httpx.SendTransport(e.transport))
	}
	resp, err := httpx.Get(rawURL, opts...)
	if err != nil {
		return store.TmdbShow{}, false, fmt.Errorf("search tv show: %w", err)
	}
	defer resp.Body.Close()

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return store.TmdbShow{}, false, fmt.Errorf("decode tmdb response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return store.TmdbShow{}, false, nil
	}
	first := parsed.Results[0]
	year := 0
	if len(first.FirstAirDate) >= 4 {
		fmt.Sscanf(first.FirstAirDate[:4], "%d", &year)
	}
	return store.TmdbShow{
		TmdbName: first.Name,
		Year:     year,
		TmdbID:   first.ID,
	}, true, nil
}
