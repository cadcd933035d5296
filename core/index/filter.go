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

package index

import (
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/kvdb"
)

// FilterTypeBasic is the only block filter type.
const FilterTypeBasic = "basic"

var allFilterTypes = []string{FilterTypeBasic}

// ParseFilterTypes interprets the -blockfilterindex values: "0" or nothing
// disables every filter, "1" enables all of them, anything else is a list of
// filter type names.
func ParseFilterTypes(values []string) (mapset.Set[string], error) {
	set := mapset.NewThreadUnsafeSet[string]()
	if len(values) == 0 {
		return set, nil
	}
	if len(values) == 1 {
		switch values[0] {
		case "0", "":
			return set, nil
		case "1":
			set.Append(allFilterTypes...)
			return set, nil
		}
	}
	known := mapset.NewThreadUnsafeSet(allFilterTypes...)
	for _, v := range values {
		if !known.Contains(v) {
			return nil, fmt.Errorf("Unknown -blockfilterindex value %s.", v)
		}
		set.Add(v)
	}
	return set, nil
}

// SortedFilterTypes returns the set members in a stable order.
func SortedFilterTypes(set mapset.Set[string]) []string {
	names := set.ToSlice()
	sort.Strings(names)
	return names
}

var (
	filterPrefix       = []byte("f") // filterPrefix + block hash -> filter
	filterHeaderPrefix = []byte("h") // filterHeaderPrefix + block hash -> filter header
)

// FilterIndex stores one compact filter per block and the chain of filter
// headers committing to them.
type FilterIndex struct {
	*Indexer
	kind string
}

type filterBackend struct {
	kind string
	db   kvdb.KeyValueReader
}

func (b *filterBackend) Name() string { return b.kind + " block filter index" }

func (b *filterBackend) WriteBlock(batch kvdb.Batch, block *types.Block, height uint64) error {
	filter := basicFilter(block)
	var prev common.Hash
	if height > 0 {
		v, err := b.db.Get(append(append([]byte{}, filterHeaderPrefix...), block.ParentHash().Bytes()...))
		if err != nil {
			return fmt.Errorf("missing filter header of parent %s: %w", block.ParentHash().TerminalString(), err)
		}
		prev = common.BytesToHash(v)
	}
	fh := types.DoubleHash(filter)
	header := types.DoubleHash(append(fh[:], prev[:]...))
	hash := block.Hash()
	if err := batch.Put(append(append([]byte{}, filterPrefix...), hash[:]...), filter); err != nil {
		return err
	}
	return batch.Put(append(append([]byte{}, filterHeaderPrefix...), hash[:]...), header[:])
}

// basicFilter commits to the block body. Script level element extraction
// belongs to the consensus layer.
func basicFilter(block *types.Block) []byte {
	h := types.DoubleHash(block.Body())
	return h[:]
}

// NewFilterIndex creates the index for one filter type over db.
func NewFilterIndex(kind string, db kvdb.KeyValueStore, chain Chain) *FilterIndex {
	backend := &filterBackend{kind: kind, db: db}
	return &FilterIndex{Indexer: newIndexer(db, backend, chain), kind: kind}
}

// Kind returns the filter type.
func (ix *FilterIndex) Kind() string { return ix.kind }

// FilterHeader returns the filter header of a block.
func (ix *FilterIndex) FilterHeader(block common.Hash) (common.Hash, error) {
	v, err := ix.db.Get(append(append([]byte{}, filterHeaderPrefix...), block[:]...))
	if errors.Is(err, kvdb.ErrNotFound) {
		return common.Hash{}, errNotIndexed
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(v), nil
}
