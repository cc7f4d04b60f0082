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

// Package config defines the rssqbd TOML configuration schema and its
// defaulting rules.
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rssqb/rssqb/metrics"

	"go.uber.org/zap"
)

const defaultInterval = 15 * time.Minute
const defaultTimeout = 10 * time.Second

// ContentLayout mirrors qBittorrent's torrent content layout options.
type ContentLayout string

// Supported content layouts.
const (
	ContentLayoutOriginal     ContentLayout = "Original"
	ContentLayoutSubfolder    ContentLayout = "Subfolder"
	ContentLayoutNoSubfolder  ContentLayout = "NoSubfolder"
	ContentLayoutUnspecified  ContentLayout = ""
)

// RssSite is a closed sum type over the torrent index sites a feed can name.
// Site names accept either the English slug or its Chinese alias.
type RssSite string

// Supported sites.
const (
	SiteComicat RssSite = "comicat"
	SiteDmhy    RssSite = "dmhy"
)

// normalizeSite canonicalizes a raw TOML site value, accepting the Chinese
// aliases used by the original Rust configuration.
func normalizeSite(raw string) (RssSite, error) {
	switch raw {
	case "comicat", "动漫猫":
		return SiteComicat, nil
	case "dmhy", "动漫花园":
		return SiteDmhy, nil
	default:
		return "", fmt.Errorf("unknown rss site %q", raw)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so BurntSushi/toml can
// decode either the English slug or the Chinese alias directly into RssSite.
func (s *RssSite) UnmarshalText(text []byte) error {
	site, err := normalizeSite(string(text))
	if err != nil {
		return err
	}
	*s = site
	return nil
}

// FeedBase holds the fields shared by every feed and the `[default]` block
// that fills in whatever a feed omits.
type FeedBase struct {
	Name string `toml:"name"`

	IntervalS int64 `toml:"interval_s"`

	SavePath      string        `toml:"savepath"`
	ContentLayout ContentLayout `toml:"content_layout"`
	Category      string        `toml:"category"`
	Tags          []string      `toml:"tags"`

	AutoTorrentManagement bool `toml:"auto_torrent_management"`

	RatioLimit *float64 `toml:"ratio_limit"`

	Filters    []string `toml:"filters"`
	NotFilters []string `toml:"not_filters"`

	includeRe []*regexp.Regexp
	excludeRe []*regexp.Regexp
}

// Interval returns the feed's poll interval, defaulting to 15 minutes.
func (b *FeedBase) Interval() time.Duration {
	if b.IntervalS <= 0 {
		return defaultInterval
	}
	return time.Duration(b.IntervalS) * time.Second
}

// compileFilters compiles Filters/NotFilters into regexes. Called once after
// defaulting so Matches can run allocation-free on the hot path.
func (b *FeedBase) compileFilters() error {
	b.includeRe = nil
	b.excludeRe = nil
	for _, p := range b.Filters {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("compile filter %q: %w", p, err)
		}
		b.includeRe = append(b.includeRe, re)
	}
	for _, p := range b.NotFilters {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("compile not_filter %q: %w", p, err)
		}
		b.excludeRe = append(b.excludeRe, re)
	}
	return nil
}

// Matches reports whether title survives the include/exclude regex filter:
// every include regex must match (vacuously true if there are none), and no
// exclude regex may match.
func (b *FeedBase) Matches(title string) bool {
	for _, re := range b.includeRe {
		if !re.MatchString(title) {
			return false
		}
	}
	for _, re := range b.excludeRe {
		if re.MatchString(title) {
			return false
		}
	}
	return true
}

// applyDefaults fills any unset field of b from def.
func (b FeedBase) applyDefaults(def FeedBase) FeedBase {
	if b.IntervalS == 0 {
		b.IntervalS = def.IntervalS
	}
	if b.SavePath == "" {
		b.SavePath = def.SavePath
	}
	if b.ContentLayout == ContentLayoutUnspecified {
		b.ContentLayout = def.ContentLayout
	}
	if b.Category == "" {
		b.Category = def.Category
	}
	if len(b.Tags) == 0 {
		b.Tags = def.Tags
	}
	if !b.AutoTorrentManagement {
		b.AutoTorrentManagement = def.AutoTorrentManagement
	}
	if b.RatioLimit == nil {
		b.RatioLimit = def.RatioLimit
	}
	if len(b.Filters) == 0 {
		b.Filters = def.Filters
	}
	if len(b.NotFilters) == 0 {
		b.NotFilters = def.NotFilters
	}
	return b
}

// RssFeed is the only currently supported Feed variant. Additional variants
// are expected to expand the Feed sum type, not a class hierarchy.
type RssFeed struct {
	Site   RssSite `toml:"site"`
	Search string  `toml:"search"`
	FeedBase
}

// Feed is a tagged union over feed source kinds. `type = "rss"` is the only
// member today.
type Feed struct {
	Type string `toml:"type"`

	// Inline fields decoded directly off the [[feed]] table; mapped into
	// an RssFeed by Config.Feeds once Type is known.
	Name                  string        `toml:"name"`
	Site                  RssSite       `toml:"site"`
	Search                string        `toml:"search"`
	IntervalS             int64         `toml:"interval_s"`
	SavePath              string        `toml:"savepath"`
	ContentLayout         ContentLayout `toml:"content_layout"`
	Category              string        `toml:"category"`
	Tags                  []string      `toml:"tags"`
	AutoTorrentManagement bool          `toml:"auto_torrent_management"`
	RatioLimit            *float64      `toml:"ratio_limit"`
	Filters               []string      `toml:"filters"`
	NotFilters            []string      `toml:"not_filters"`
}

// Email configures the optional SMTP notification channel.
type Email struct {
	Sender     string `toml:"sender"`
	SenderPswd string `toml:"sender_pswd"`
	SMTPHost   string `toml:"smtp_host"`
	Receiver   string `toml:"receiver"`
}

// GptConfig configures the classifier's backing chat-completion endpoint.
type GptConfig struct {
	URL          string `toml:"url"`
	Model        string `toml:"model"`
	Token        string `toml:"token"`
	Retry        uint8  `toml:"retry"`
	BetterModel  string `toml:"better_model"`
	BetterSince  uint8  `toml:"better_since"`
}

// ModelFor returns the model to use on retry attempt i (0-indexed),
// escalating to BetterModel once i reaches BetterSince.
func (g GptConfig) ModelFor(attempt uint8) string {
	if attempt >= g.BetterSince {
		return g.BetterModel
	}
	return g.Model
}

// QbConfig configures the qBittorrent WebUI API session.
type QbConfig struct {
	BaseURL  string `toml:"base_url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Config is the top-level rssqbd configuration, decoded from TOML.
type Config struct {
	DBURI      string `toml:"db_uri" validate:"nonzero"`
	HTTPSProxy string `toml:"https_proxy"`
	TmdbSecret string `toml:"tmdb_secret"`
	LinkTo     string `toml:"link_to" validate:"nonzero"`
	TimeoutS   int64  `toml:"timeout_s"`

	Email *Email `toml:"email"`

	Gpt GptConfig `toml:"gpt"`
	Qb  QbConfig  `toml:"qb"`

	Default FeedBase `toml:"default"`
	Feed    []Feed   `toml:"feed"`

	ZapLogging zap.Config     `toml:"zap"`
	Metrics    metrics.Config `toml:"metrics"`
}

// Timeout returns the configured outbound HTTP timeout, defaulting to 10s.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutS <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeoutS) * time.Second
}

// Feeds returns the decoded, defaulted, filter-compiled RSS feeds.
func (c *Config) Feeds() ([]RssFeed, error) {
	feeds := make([]RssFeed, 0, len(c.Feed))
	seen := make(map[string]bool, len(c.Feed))
	for i, f := range c.Feed {
		if f.Type != "rss" && f.Type != "" {
			return nil, fmt.Errorf("feed %d: unsupported type %q", i, f.Type)
		}
		base := FeedBase{
			Name:                  f.Name,
			IntervalS:             f.IntervalS,
			SavePath:              f.SavePath,
			ContentLayout:         f.ContentLayout,
			Category:              f.Category,
			Tags:                  f.Tags,
			AutoTorrentManagement: f.AutoTorrentManagement,
			RatioLimit:            f.RatioLimit,
			Filters:               f.Filters,
			NotFilters:            f.NotFilters,
		}.applyDefaults(c.Default)
		if base.Name == "" {
			return nil, fmt.Errorf("feed %d: missing name", i)
		}
		if seen[base.Name] {
			return nil, fmt.Errorf("duplicate feed name %q", base.Name)
		}
		seen[base.Name] = true
		if err := base.compileFilters(); err != nil {
			return nil, fmt.Errorf("feed %q: %w", base.Name, err)
		}
		feeds = append(feeds, RssFeed{
			Site:     f.Site,
			Search:   f.Search,
			FeedBase: base,
		})
	}
	return feeds, nil
}
