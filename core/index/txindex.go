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
	"encoding/binary"
	"errors"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/kvdb"
)

var txPrefix = []byte("t") // txPrefix + txid -> height(8) | block hash(32)

// TxLocation is where a transaction was included.
type TxLocation struct {
	BlockHash common.Hash
	Height    uint64
}

// TxIndex maps transaction ids to the block that included them. Block bodies
// are opaque at this layer, so every block body is indexed as one entry keyed
// by its double hash.
type TxIndex struct {
	*Indexer
}

type txBackend struct{}

func (txBackend) Name() string { return "txindex" }

func (txBackend) WriteBlock(batch kvdb.Batch, block *types.Block, height uint64) error {
	txid := types.DoubleHash(block.Body())
	v := binary.BigEndian.AppendUint64(nil, height)
	hash := block.Hash()
	return batch.Put(append(append([]byte{}, txPrefix...), txid[:]...), append(v, hash[:]...))
}

// NewTxIndex creates the transaction index over db.
func NewTxIndex(db kvdb.KeyValueStore, chain Chain) *TxIndex {
	return &TxIndex{Indexer: newIndexer(db, txBackend{}, chain)}
}

// Lookup returns the location of a transaction.
func (ix *TxIndex) Lookup(txid common.Hash) (TxLocation, error) {
	v, err := ix.db.Get(append(append([]byte{}, txPrefix...), txid[:]...))
	if errors.Is(err, kvdb.ErrNotFound) {
		return TxLocation{}, errNotIndexed
	}
	if err != nil {
		return TxLocation{}, err
	}
	if len(v) != 8+common.HashLength {
		return TxLocation{}, errors.New("malformed tx index entry")
	}
	return TxLocation{Height: binary.BigEndian.Uint64(v[:8]), BlockHash: common.BytesToHash(v[8:])}, nil
}
