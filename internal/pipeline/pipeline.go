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

// Package pipeline implements the fetch-through-submit stage sequence run
// once per feed tick: fetch, filter, dedup, classify, enrich, submit, and
// notify.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rssqb/rssqb/internal/classifier"
	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/feed"
	"github.com/rssqb/rssqb/internal/mailer"
	"github.com/rssqb/rssqb/internal/qbittorrent"
	"github.com/rssqb/rssqb/internal/store"
	"github.com/rssqb/rssqb/internal/tmdb"
	"github.com/rssqb/rssqb/internal/xlog"
)

// SourceError wraps a failure fetching or parsing a feed's items.
type SourceError struct {
	Feed string
	Err  error
}

func (e *SourceError) Error() string { return fmt.Sprintf("pipeline: fetch %s: %s", e.Feed, e.Err) }
func (e *SourceError) Unwrap() error { return e.Err }

// Pipeline runs one cycle of the fetch-through-submit sequence for a feed.
// The store, torrent-client session and mailer are held by reference and
// shared across every feed's Pipeline; the fetcher, classifier and enricher
// are built once per feed.
type Pipeline struct {
	Fetcher    *feed.Fetcher
	Store      *store.Store
	Classifier *classifier.Classifier
	Enricher   *tmdb.Enricher
	QbClient   *qbittorrent.Client
	Mailer     *mailer.Mailer
}

// Result summarizes one completed cycle.
type Result struct {
	Added []store.Item
}

// Run executes one pipeline cycle for feed, returning the items that were
// newly submitted. A non-nil error means the cycle aborted; partial work
// already durably committed (inserted TorrentRecords, submitted torrents)
// is not rolled back, by design: submitOne inserts the TorrentRecord before
// submitting and marks the item seen only after submission succeeds.
func (p *Pipeline) Run(ctx context.Context, f config.RssFeed) (Result, error) {
	items, err := p.Fetcher.Fetch(ctx, f)
	if err != nil {
		return Result{}, &SourceError{Feed: f.Name, Err: err}
	}
	return p.RunItems(ctx, f, items)
}

// RunItems runs the filter-through-notify stages of a cycle against an
// already-fetched item list, split out from Run so tests can drive the
// pipeline without a live feed source.
func (p *Pipeline) RunItems(ctx context.Context, f config.RssFeed, items []store.Item) (Result, error) {
	items = filterByRegex(f, items)

	items, err := p.filterSeen(items)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 {
		return Result{}, nil
	}

	titles := make([]string, len(items))
	for i, it := range items {
		titles[i] = it.Title
	}
	recognized, err := p.Classifier.Classify(ctx, titles)
	if err != nil {
		return Result{}, err
	}

	type pair struct {
		item store.Item
		info classifier.ShowInfo
	}
	var shows []pair
	for i, r := range recognized {
		if !r.IsShow() {
			continue
		}
		shows = append(shows, pair{item: items[i], info: *r.Show})
	}
	if len(shows) == 0 {
		return Result{}, nil
	}

	distinct := make(map[string]struct{}, len(shows))
	var showNames []string
	for _, s := range shows {
		if _, ok := distinct[s.info.Show]; ok {
			continue
		}
		distinct[s.info.Show] = struct{}{}
		showNames = append(showNames, s.info.Show)
	}
	resolved, err := p.Enricher.Resolve(ctx, showNames)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: enrich: %w", err)
	}

	var added []store.Item
	for _, s := range shows {
		info := s.info
		year, tmdbID := 0, 0
		if tm, ok := resolved[info.Show]; ok {
			info.Show = tm.TmdbName
			year = tm.Year
			tmdbID = tm.TmdbID
		}

		if err := p.submitOne(ctx, f, s.item, info, year, tmdbID); err != nil {
			return Result{}, err
		}
		added = append(added, s.item)
	}

	if len(added) > 0 {
		p.notify(added)
	}

	return Result{Added: added}, nil
}

func filterByRegex(f config.RssFeed, items []store.Item) []store.Item {
	var kept []store.Item
	for _, it := range items {
		if f.Matches(it.Title) {
			kept = append(kept, it)
		}
	}
	return kept
}

func (p *Pipeline) filterSeen(items []store.Item) ([]store.Item, error) {
	var kept []store.Item
	for _, it := range items {
		seen, err := p.Store.ItemExists(it.GUID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: check seen: %w", err)
		}
		if seen {
			continue
		}
		kept = append(kept, it)
	}
	return kept, nil
}

func (p *Pipeline) submitOne(ctx context.Context, f config.RssFeed, item store.Item, info classifier.ShowInfo, year, tmdbID int) error {
	torrentID := store.GenID()

	record := store.TorrentRecord{
		ID:         torrentID,
		Name:       info.Show,
		Year:       year,
		Season:     parseIntDefault(info.Season, 1),
		Episode:    parseIntDefault(info.Episode, 0),
		Fansub:     info.Fansub,
		Resolution: info.Resolution,
		Language:   info.Language,
		TmdbID:     tmdbID,
	}
	if err := p.Store.InsertTorrentRecord(record); err != nil {
		return fmt.Errorf("pipeline: insert torrent record: %w", err)
	}

	if err := p.QbClient.Login(ctx); err != nil {
		return fmt.Errorf("pipeline: login before submit: %w", err)
	}

	tags := append([]string{}, f.Tags...)
	tags = append(tags, info.Show)
	rename := fmt.Sprintf("%s - S%02dE%02d - %s - %s - %s - tid%d",
		info.Show, record.Season, record.Episode, info.Resolution, info.Language, info.Fansub, torrentID)

	req := qbittorrent.AddTorrentRequest{
		URLs:                  []string{item.Enclosure},
		SavePath:              f.SavePath,
		ContentLayout:         string(f.ContentLayout),
		Category:              f.Category,
		Tags:                  tags,
		Rename:                rename,
		AutoTorrentManagement: boolPtr(f.AutoTorrentManagement),
		RatioLimit:            f.RatioLimit,
	}
	if err := p.QbClient.AddTorrent(ctx, req); err != nil {
		return fmt.Errorf("pipeline: add torrent: %w", err)
	}

	if err := p.Store.InsertItem(item); err != nil {
		return fmt.Errorf("pipeline: insert seen item: %w", err)
	}

	xlog.Sugar().Infow("submitted torrent", "show", info.Show, "season", record.Season, "episode", record.Episode, "torrent_id", torrentID)
	return nil
}

func (p *Pipeline) notify(added []store.Item) {
	if p.Mailer == nil {
		return
	}
	subject := fmt.Sprintf("%d new release(s) added", len(added))
	body := ""
	for _, it := range added {
		body += it.Title + "\n"
	}
	if err := p.Mailer.Send(subject, body); err != nil {
		xlog.Sugar().Warnw("failed to send notification email", "error", err)
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func parseIntDefault(s string, def int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}
