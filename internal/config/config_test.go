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
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFeedBaseIntervalDefault(t *testing.T) {
	require := require.New(t)
	var b FeedBase
	require.Equal(defaultInterval, b.Interval())

	b.IntervalS = 30
	require.Equal(30*time.Second, b.Interval())
}

func TestFeedBaseApplyDefaults(t *testing.T) {
	require := require.New(t)
	def := FeedBase{SavePath: "/downloads", Category: "anime", Tags: []string{"tv"}}
	b := FeedBase{Category: "override"}

	merged := b.applyDefaults(def)
	require.Equal("/downloads", merged.SavePath)
	require.Equal("override", merged.Category)
	require.Equal([]string{"tv"}, merged.Tags)
}

func TestFeedBaseMatches(t *testing.T) {
	require := require.New(t)
	b := FeedBase{Filters: []string{"1080p"}, NotFilters: []string{"CHT"}}
	require.NoError(b.compileFilters())

	require.True(b.Matches("Some Show - 09 [1080p][CHS]"))
	require.False(b.Matches("Some Show - 09 [720p][CHS]"))
	require.False(b.Matches("Some Show - 09 [1080p][CHT]"))
}

func TestFeedBaseMatchesVacuousInclude(t *testing.T) {
	require := require.New(t)
	var b FeedBase
	require.NoError(b.compileFilters())
	require.True(b.Matches("anything at all"))
}

func TestNormalizeSiteAcceptsChineseAlias(t *testing.T) {
	require := require.New(t)
	site, err := normalizeSite("动漫花园")
	require.NoError(err)
	require.Equal(SiteDmhy, site)

	_, err = normalizeSite("bogus")
	require.Error(err)
}

func TestConfigFeedsRejectsDuplicateNames(t *testing.T) {
	require := require.New(t)
	c := &Config{
		Feed: []Feed{
			{Type: "rss", Name: "dup", Site: SiteComicat, Search: "a"},
			{Type: "rss", Name: "dup", Site: SiteDmhy, Search: "b"},
		},
	}
	_, err := c.Feeds()
	require.Error(err)
}

func TestConfigFeedsAppliesDefaultInterval(t *testing.T) {
	require := require.New(t)
	c := &Config{
		Default: FeedBase{IntervalS: 600},
		Feed:    []Feed{{Type: "rss", Name: "f", Site: SiteComicat, Search: "a"}},
	}
	feeds, err := c.Feeds()
	require.NoError(err)
	require.Equal(600*time.Second, feeds[0].Interval())
}
