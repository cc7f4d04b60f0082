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

// Package storefixture provides a real, migrated SQLite-backed store for
// tests, avoiding a hand-rolled mock of the persistence layer.
package storefixture

import (
	"path/filepath"
	"testing"

	"github.com/rssqb/rssqb/internal/store"

	"github.com/stretchr/testify/require"
)

// New returns a Store backed by a temporary SQLite file that is cleaned up
// automatically when t completes.
func New(t *testing.T) *store.Store {
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}
