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
package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00001, down00001)
}

func up00001(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS items (
			guid      text PRIMARY KEY,
			title     text NOT NULL,
			link      text NOT NULL,
			enclosure text NOT NULL
		);
	`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tmdb_info (
			name      text PRIMARY KEY,
			tmdb_name text NOT NULL,
			year      integer NOT NULL,
			tmdb_id   integer NOT NULL
		);
	`); err != nil {
		return err
	}
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS torrent_info (
			id         integer PRIMARY KEY,
			name       text NOT NULL,
			year       integer NOT NULL,
			season     integer NOT NULL,
			episode    integer NOT NULL,
			fansub     text NOT NULL,
			resolution text NOT NULL,
			language   text NOT NULL,
			tmdb_id    integer NOT NULL
		);
	`)
	return err
}

func down00001(tx *sql.Tx) error {
	for _, stmt := range []string{
		`DROP TABLE torrent_info;`,
		`DROP TABLE tmdb_info;`,
		`DROP TABLE items;`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
