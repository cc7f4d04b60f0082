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

	"github.com/mattn/go-sqlite3"
)

// TmdbShow is a cached resolution from a recognized show name to its TMDB
// identity, keyed on the name as the classifier emitted it.
type TmdbShow struct {
	Name     string `db:"name"`
	TmdbName string `db:"tmdb_name"`
	Year     int    `db:"year"`
	TmdbID   int    `db:"tmdb_id"`
}

// TmdbShowByName returns the cached TMDB resolution for name, or ErrNotFound
// if name has never been resolved before. Callers consult this before
// issuing a TMDB search so a show is looked up at most once.
func (s *Store) TmdbShowByName(name string) (TmdbShow, error) {
	var show TmdbShow
	err := s.db.Get(&show, `
		SELECT name, tmdb_name, year, tmdb_id FROM tmdb_info WHERE name = ?
	`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return TmdbShow{}, ErrNotFound
	}
	if err != nil {
		return TmdbShow{}, &StoreError{Op: "tmdb_show_by_name", Err: err}
	}
	return show, nil
}

// InsertTmdbShow caches a resolved show. Re-resolving the same name is
// idempotent: a duplicate name is silently ignored rather than treated as an
// error, since two concurrent enrichments can race on the same show.
func (s *Store) InsertTmdbShow(show TmdbShow) error {
	_, err := s.db.NamedExec(`
		INSERT INTO tmdb_info (name, tmdb_name, year, tmdb_id)
		VALUES (:name, :tmdb_name, :year, :tmdb_id)
	`, show)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return nil
		}
		return &StoreError{Op: "insert_tmdb_show", Err: err}
	}
	return nil
}
