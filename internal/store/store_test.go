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
package store_test

import (
	"testing"

	"github.com/rssqb/rssqb/internal/store"
	"github.com/rssqb/rssqb/internal/store/storefixture"

	"github.com/stretchr/testify/require"
)

func TestItemExistsAndInsert(t *testing.T) {
	require := require.New(t)
	s := storefixture.New(t)

	exists, err := s.ItemExists("guid-1")
	require.NoError(err)
	require.False(exists)

	require.NoError(s.InsertItem(store.Item{
		GUID:      "guid-1",
		Title:     "Some Show - 01",
		Link:      "https://example.com/1",
		Enclosure: "https://example.com/1.torrent",
	}))

	exists, err = s.ItemExists("guid-1")
	require.NoError(err)
	require.True(exists)
}

func TestInsertItemDuplicateGUID(t *testing.T) {
	require := require.New(t)
	s := storefixture.New(t)

	item := store.Item{GUID: "guid-1", Title: "t", Link: "l", Enclosure: "e"}
	require.NoError(s.InsertItem(item))
	require.Error(s.InsertItem(item))
}

func TestTmdbShowCache(t *testing.T) {
	require := require.New(t)
	s := storefixture.New(t)

	_, err := s.TmdbShowByName("Some Show")
	require.Equal(store.ErrNotFound, err)

	show := store.TmdbShow{Name: "Some Show", TmdbName: "Some Show (EN)", Year: 2023, TmdbID: 42}
	require.NoError(s.InsertTmdbShow(show))

	got, err := s.TmdbShowByName("Some Show")
	require.NoError(err)
	require.Equal(show, got)

	// Re-resolving the same name is idempotent.
	require.NoError(s.InsertTmdbShow(show))
}

func TestTorrentRecordInsertAndLookup(t *testing.T) {
	require := require.New(t)
	s := storefixture.New(t)

	id := store.GenID()
	require.True(id > 0)

	record := store.TorrentRecord{
		ID:         id,
		Name:       "Some Show",
		Year:       2023,
		Season:     1,
		Episode:    2,
		Fansub:     "SubGroup",
		Resolution: "1080p",
		Language:   "CHS",
		TmdbID:     42,
	}
	require.NoError(s.InsertTorrentRecord(record))

	got, err := s.TorrentRecordByID(id)
	require.NoError(err)
	require.Equal(record, got)

	_, err = s.TorrentRecordByID(id + 1)
	require.Equal(store.ErrNotFound, err)
}
