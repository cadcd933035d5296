// Copyright 2025 The springbokd Authors
// This file is part of the springbokd library.
//
// The springbokd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The springbokd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the springbokd library. If not, see <http://www.gnu.org/licenses/>.

package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/springbok/springbokd/kvdb"
	"github.com/springbok/springbokd/kvdb/dbtest"
	"github.com/stretchr/testify/require"
)

func TestLevelDB(t *testing.T) {
	t.Run("DatabaseSuite", func(t *testing.T) {
		dbtest.TestDatabaseSuite(t, func() kvdb.KeyValueStore {
			db, err := New(filepath.Join(t.TempDir(), "db"), 0, 0, false)
			require.NoError(t, err)
			return db
		})
	})
}

func TestPreexistingEngine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	require.Equal(t, "", kvdb.PreexistingEngine(dir))

	db, err := New(dir, 0, 0, false)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Equal(t, kvdb.EngineLevelDB, kvdb.PreexistingEngine(dir))
}
