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

// Package feed fetches and parses torrent-release RSS feeds from the sites
// a feed worker is configured against.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/store"

	"github.com/mmcdole/gofeed"
)

// ErrMissingEnclosure is returned for an RSS item with no enclosure URL --
// there is nothing to hand to the torrent client.
var ErrMissingEnclosure = errors.New("feed: item has no enclosure")

// ErrMissingGUID is returned for an RSS item with no guid -- there is
// nothing to dedup against.
var ErrMissingGUID = errors.New("feed: item has no guid")

// Fetcher fetches and parses a feed's current items.
type Fetcher struct {
	parser *gofeed.Parser
}

// NewFetcher returns a Fetcher whose gofeed HTTP client is bounded by
// timeout and, if transport is non-nil, routed through it -- used to wire
// the configured global outbound-request timeout and https_proxy so a
// hung feed site can't stall a feed cycle indefinitely.
func NewFetcher(timeout time.Duration, transport http.RoundTripper) *Fetcher {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout, Transport: transport}
	return &Fetcher{parser: parser}
}

// Fetch retrieves and parses the current items of feed. Items with no guid
// or enclosure are dropped, matching the upstream RSS->Item conversion that
// treats them as malformed rather than fatal.
func (f *Fetcher) Fetch(ctx context.Context, feed config.RssFeed) ([]store.Item, error) {
	rawURL := URL(feed)
	parsed, err := f.parser.ParseURLWithContext(rawURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	var items []store.Item
	for _, raw := range parsed.Items {
		item, err := convert(raw)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func convert(raw *gofeed.Item) (store.Item, error) {
	if raw.GUID == "" {
		return store.Item{}, ErrMissingGUID
	}
	if len(raw.Enclosures) == 0 || raw.Enclosures[0].URL == "" {
		return store.Item{}, ErrMissingEnclosure
	}
	title := raw.Title
	if title == "" {
		title = "unknown"
	}
	link := raw.Link
	if link == "" {
		link = "unknown"
	}
	return store.Item{
		GUID:      raw.GUID,
		Title:     title,
		Link:      link,
		Enclosure: raw.Enclosures[0].URL,
	}, nil
}

// URL builds the RSS feed URL for feed, per its site's conventions.
func URL(feed config.RssFeed) string {
	switch feed.Site {
	case config.SiteComicat:
		u := &url.URL{Scheme: "https", Host: "comicat.org", Path: fmt.Sprintf("/rss-%s.xml", feed.Search)}
		return u.String()
	case config.SiteDmhy:
		u := &url.URL{Scheme: "https", Host: "www.dmhy.org", Path: "/topics/rss/rss.xml"}
		q := u.Query()
		q.Set("keyword", feed.Search)
		u.RawQuery = q.Encode()
		return u.String()
	default:
		return ""
	}
}
