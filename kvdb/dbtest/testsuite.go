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

// Package dbtest holds a behavioural test suite shared by every kvdb backend.
package dbtest

import (
	"bytes"
	"testing"

	"github.com/springbok/springbokd/kvdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDatabaseSuite runs a suite of tests against a KeyValueStore database
// implementation.
func TestDatabaseSuite(t *testing.T, New func() kvdb.KeyValueStore) {
	t.Run("PutGet", func(t *testing.T) {
		db := New()
		defer db.Close()

		_, err := db.Get([]byte("missing"))
		assert.ErrorIs(t, err, kvdb.ErrNotFound, "missing keys must map to kvdb.ErrNotFound")

		require.NoError(t, db.Put([]byte("k1"), []byte("v1")))
		got, err := db.Get([]byte("k1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		has, err := db.Has([]byte("k1"))
		require.NoError(t, err)
		assert.True(t, has)

		require.NoError(t, db.Delete([]byte("k1")))
		has, err = db.Has([]byte("k1"))
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("Batch", func(t *testing.T) {
		db := New()
		defer db.Close()

		b := db.NewBatch()
		require.NoError(t, b.Put([]byte("a"), []byte("1")))
		require.NoError(t, b.Put([]byte("b"), []byte("2")))
		require.NoError(t, b.Delete([]byte("a")))
		assert.Positive(t, b.ValueSize())

		has, _ := db.Has([]byte("b"))
		assert.False(t, has, "batch must not be visible before Write")

		require.NoError(t, b.Write())
		has, _ = db.Has([]byte("b"))
		assert.True(t, has)
		has, _ = db.Has([]byte("a"))
		assert.False(t, has)

		b.Reset()
		assert.Zero(t, b.ValueSize())
	})

	t.Run("IteratorPrefixStart", func(t *testing.T) {
		db := New()
		defer db.Close()

		for _, k := range []string{"b1", "b2", "b3", "c1", "a9"} {
			require.NoError(t, db.Put([]byte(k), []byte("v"+k)))
		}
		var keys []string
		it := db.NewIterator([]byte("b"), []byte("2"))
		for it.Next() {
			keys = append(keys, string(it.Key()))
			assert.True(t, bytes.Equal(it.Value(), []byte("v"+string(it.Key()))))
		}
		require.NoError(t, it.Error())
		it.Release()
		assert.Equal(t, []string{"b2", "b3"}, keys)

		assert.False(t, kvdb.IsEmpty(db))
	})

	t.Run("Empty", func(t *testing.T) {
		db := New()
		defer db.Close()
		assert.True(t, kvdb.IsEmpty(db))
	})
}
