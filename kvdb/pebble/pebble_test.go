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

package pebble

import (
	"path/filepath"
	"testing"

	"github.com/springbok/springbokd/kvdb"
	"github.com/springbok/springbokd/kvdb/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, upperBound([]byte{0x01, 0x02}), "upper bound should increment last byte")
	assert.Equal(t, []byte{0x02}, upperBound([]byte{0x01, 0xff}), "upper bound should increment previous byte")
	assert.Nil(t, upperBound([]byte{0xff, 0xff}), "upper bound should be nil for all 0xff")
	assert.Nil(t, upperBound([]byte{}), "upper bound should be nil for empty prefix")
}

func TestPebbleDB(t *testing.T) {
	t.Run("DatabaseSuite", func(t *testing.T) {
		dbtest.TestDatabaseSuite(t, func() kvdb.KeyValueStore {
			db, err := NewInMemory(0)
			require.NoError(t, err)
			return db
		})
	})
}

func TestPebbleOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := New(dir, 0, 0, false)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	assert.Equal(t, kvdb.EnginePebble, kvdb.PreexistingEngine(dir))

	db, err = New(dir, 0, 0, true)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
