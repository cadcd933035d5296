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

package memorydb

import (
	"testing"

	"github.com/springbok/springbokd/kvdb"
	"github.com/springbok/springbokd/kvdb/dbtest"
	"github.com/stretchr/testify/assert"
)

func TestMemoryDB(t *testing.T) {
	t.Run("DatabaseSuite", func(t *testing.T) {
		dbtest.TestDatabaseSuite(t, func() kvdb.KeyValueStore {
			return New()
		})
	})
}

func TestClosedDatabase(t *testing.T) {
	db := New()
	db.Put([]byte("k"), []byte("v"))
	assert.Equal(t, 1, db.Len())
	assert.NoError(t, db.Close())

	_, err := db.Get([]byte("k"))
	assert.ErrorIs(t, err, errMemorydbClosed)
}
