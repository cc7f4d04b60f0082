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
package feed

import (
	"testing"

	"github.com/rssqb/rssqb/internal/config"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/require"
)

func TestURLComicat(t *testing.T) {
	require := require.New(t)
	u := URL(config.RssFeed{Site: config.SiteComicat, Search: "my-show"})
	require.Equal("https://comicat.org/rss-my-show.xml", u)
}

func TestURLDmhy(t *testing.T) {
	require := require.New(t)
	u := URL(config.RssFeed{Site: config.SiteDmhy, Search: "my show"})
	require.Equal("https://www.dmhy.org/topics/rss/rss.xml?keyword=my+show", u)
}

func TestConvertDropsMissingGUID(t *testing.T) {
	require := require.New(t)
	_, err := convert(&gofeed.Item{
		Title:      "t",
		Link:       "l",
		Enclosures: []*gofeed.Enclosure{{URL: "e"}},
	})
	require.Equal(ErrMissingGUID, err)
}

func TestConvertDropsMissingEnclosure(t *testing.T) {
	require := require.New(t)
	_, err := convert(&gofeed.Item{
		GUID:  "g",
		Title: "t",
		Link:  "l",
	})
	require.Equal(ErrMissingEnclosure, err)
}

func TestConvertDefaultsTitleAndLink(t *testing.T) {
	require := require.New(t)
	item, err := convert(&gofeed.Item{
		GUID:       "g",
		Enclosures: []*gofeed.Enclosure{{URL: "e"}},
	})
	require.NoError(err)
	require.Equal("unknown", item.Title)
	require.Equal("unknown", item.Link)
	require.Equal("e", item.Enclosure)
}
