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
package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Item is a single announced release, as produced by a feed source adapter.
type Item struct {
	GUID      string `db:"guid"`
	Title     string `db:"title"`
	Link      string `db:"link"`
	Enclosure string `db:"enclosure"`
}

// ItemExists reports whether guid has already been recorded as seen. An item
// whose guid is already recorded here is never submitted again.
func (s *Store) ItemExists(guid string) (bool, error) {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM items WHERE guid = ?`, guid); err != nil {
		return false, &StoreError{Op: "item_exists", Err: err}
	}
	return count > 0, nil
}

// InsertItem records item as seen. Callers insert it last, after the
// torrent has been submitted to the client, so a crash between submission
// and this insert costs at most one duplicate resubmission on restart.
func (s *Store) InsertItem(item Item) error {
	_, err := s.db.NamedExec(`
		INSERT INTO items (guid, title, link, enclosure)
		VALUES (:guid, :title, :link, :enclosure)
	`, item)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &StoreError{Op: "insert_item", Err: errors.New("guid already seen")}
		}
		return &StoreError{Op: "insert_item", Err: err}
	}
	return nil
}
