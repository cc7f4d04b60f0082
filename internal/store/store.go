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

// Package store implements the persistence layer: seen-items, cached TMDB
// lookups, and torrent records, all backed by a single embedded SQLite file.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/rssqb/rssqb/internal/store/migrations" // register migrations

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQL driver
	"github.com/pressly/goose"
)

// ErrNotFound is returned when a lookup by id or title finds no row.
var ErrNotFound = errors.New("store: not found")

// StoreError wraps a failure talking to the backing SQLite file.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %s", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Store is the process-wide handle to the SQLite-backed persistence layer.
// It is safe for concurrent use by multiple feed workers.
type Store struct {
	db *sqlx.DB
}

// Open creates (if absent) and migrates the SQLite database at path.
func Open(path string) (*Store, error) {
	if err := ensureFilePresent(path); err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	// SQLite rejects concurrent writers from multiple connections; route
	// every query through a single connection.
	db.SetMaxOpenConns(1)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, &StoreError{Op: "migrate", Err: err}
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return nil, &StoreError{Op: "migrate", Err: err}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureFilePresent(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0664)
	if err != nil {
		return err
	}
	return f.Close()
}
