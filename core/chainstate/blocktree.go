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

package chainstate

import (
	"errors"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/kvdb"
)

// Key layout of the block tree database.
var (
	blockIndexPrefix = []byte("b") // blockIndexPrefix + hash -> encoded entry
	flagPrefix       = []byte("F") // flagPrefix + name -> '1' | '0'
	reindexKey       = []byte("R") // present while a reindex is in progress
	lastFileKey      = []byte("l") // number of the last block file written
)

// Persisted feature flags. Each describes a property of the stored index
// that cannot change without rebuilding it.
const (
	FlagAddressIndex     = "addressindex"
	FlagTimestampIndex   = "timestampindex"
	FlagSpentIndex       = "spentindex"
	FlagPrunedBlockFiles = "prunedblockfiles"
)

// BlockTreeDB persists the block index and its metadata.
type BlockTreeDB struct {
	db kvdb.KeyValueStore
}

// NewBlockTreeDB wraps the given store.
func NewBlockTreeDB(db kvdb.KeyValueStore) *BlockTreeDB {
	return &BlockTreeDB{db: db}
}

// Store returns the underlying key/value store.
func (t *BlockTreeDB) Store() kvdb.KeyValueStore { return t.db }

// WriteEntries stores a set of index entries in one batch.
func (t *BlockTreeDB) WriteEntries(entries []*BlockIndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	for _, e := range entries {
		if err := batch.Put(append(append([]byte{}, blockIndexPrefix...), e.Hash[:]...), encodeEntry(e)); err != nil {
			return err
		}
	}
	return batch.Write()
}

// ReadEntries iterates over every stored entry. The entries are not linked.
func (t *BlockTreeDB) ReadEntries(fn func(e *BlockIndexEntry) error) error {
	it := t.db.NewIterator(blockIndexPrefix, nil)
	defer it.Release()

	for it.Next() {
		e, err := decodeEntry(it.Value())
		if err != nil {
			return err
		}
		if common.BytesToHash(it.Key()[len(blockIndexPrefix):]) != e.Hash {
			return errBadEntry
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return it.Error()
}

// WriteFlag persists a named boolean flag.
func (t *BlockTreeDB) WriteFlag(name string, value bool) error {
	v := []byte{'0'}
	if value {
		v[0] = '1'
	}
	return t.db.Put(append(append([]byte{}, flagPrefix...), name...), v)
}

// ReadFlag returns the flag value and whether it was ever written.
func (t *BlockTreeDB) ReadFlag(name string) (value bool, found bool, err error) {
	v, err := t.db.Get(append(append([]byte{}, flagPrefix...), name...))
	if errors.Is(err, kvdb.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return len(v) == 1 && v[0] == '1', true, nil
}

// WriteReindexing records whether a reindex is in progress.
func (t *BlockTreeDB) WriteReindexing(reindexing bool) error {
	if reindexing {
		return t.db.Put(reindexKey, []byte{'1'})
	}
	return t.db.Delete(reindexKey)
}

// ReadReindexing reports whether an interrupted reindex must be resumed.
func (t *BlockTreeDB) ReadReindexing() (bool, error) {
	return t.db.Has(reindexKey)
}

// WriteLastFile records the number of the last block file.
func (t *BlockTreeDB) WriteLastFile(n int) error {
	return t.db.Put(lastFileKey, []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)})
}

// HasEntries reports whether at least one block index entry is stored.
func (t *BlockTreeDB) HasEntries() bool {
	it := t.db.NewIterator(blockIndexPrefix, nil)
	defer it.Release()
	return it.Next()
}
