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
	"database/sql"
	"errors"
	"math/rand"

	"github.com/mattn/go-sqlite3"
)

// TorrentRecord is the durable record of a release submitted to the torrent
// client, written before submission and consulted by the completion hook
// once the download finishes.
type TorrentRecord struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	Year       int    `db:"year"`
	Season     int    `db:"season"`
	Episode    int    `db:"episode"`
	Fansub     string `db:"fansub"`
	Resolution string `db:"resolution"`
	Language   string `db:"language"`
	TmdbID     int    `db:"tmdb_id"`
}

// GenID returns a positive 63-bit random identifier suitable for a
// TorrentRecord's id, which is also embedded as the " - tid<id>" suffix of
// the rename passed to the client on add so the completion hook can recover
// the record by id later.
func GenID() int64 {
	for {
		if id := rand.Int63(); id != 0 {
			return id
		}
	}
}

// InsertTorrentRecord persists record. Callers insert the record before
// submitting the torrent to the client, and before marking the source item
// seen, so a crash never loses a record for a torrent the client already
// has.
func (s *Store) InsertTorrentRecord(record TorrentRecord) error {
	_, err := s.db.NamedExec(`
		INSERT INTO torrent_info (id, name, year, season, episode, fansub, resolution, language, tmdb_id)
		VALUES (:id, :name, :year, :season, :episode, :fansub, :resolution, :language, :tmdb_id)
	`, record)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &StoreError{Op: "insert_torrent_record", Err: errors.New("id collision")}
		}
		return &StoreError{Op: "insert_torrent_record", Err: err}
	}
	return nil
}

// TorrentRecordByID returns the record for id, or ErrNotFound if no such
// record was ever inserted. The completion hook uses this to map a
// completed torrent back to its library placement.
func (s *Store) TorrentRecordByID(id int64) (TorrentRecord, error) {
	var record TorrentRecord
	err := s.db.Get(&record, `
		SELECT id, name, year, season, episode, fansub, resolution, language, tmdb_id
		FROM torrent_info WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return TorrentRecord{}, ErrNotFound
	}
	if err != nil {
		return TorrentRecord{}, &StoreError{Op: "torrent_record_by_id", Err: err}
	}
	return record, nil
}
