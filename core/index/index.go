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

// Package index maintains optional per-block indexes next to the chain
// state. Each index lives in its own database, follows the active chain on a
// background goroutine and is rebuilt from scratch after a reindex.
package index

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/kvdb"
	"github.com/springbok/springbokd/log"
)

var bestBlockKey = []byte("B") // height(8) | hash(32) of the last indexed block

// Chain is the view of the active chain an index follows.
type Chain interface {
	LookupBlock(hash common.Hash) *chainstate.BlockIndexEntry
	BlockAt(height uint64) *chainstate.BlockIndexEntry
	ReadBlock(e *chainstate.BlockIndexEntry) (*types.Block, error)
}

// Backend writes the index records of one block.
type Backend interface {
	Name() string
	WriteBlock(batch kvdb.Batch, block *types.Block, height uint64) error
}

// Indexer drives a Backend. It implements signals.Listener so that it wakes
// up whenever a block is connected.
type Indexer struct {
	signals.NopListener

	db      kvdb.KeyValueStore
	backend Backend
	chain   Chain

	bestHeight atomic.Int64 // -1 before the first block
	bestHash   common.Hash  // owned by the sync goroutine

	update      chan struct{}
	quit        chan struct{}
	done        chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
	interrupted atomic.Bool
	synced      atomic.Bool
	log         log.Logger
}

func newIndexer(db kvdb.KeyValueStore, backend Backend, chain Chain) *Indexer {
	ix := &Indexer{
		db:      db,
		backend: backend,
		chain:   chain,
		update:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log.New("index", backend.Name()),
	}
	ix.bestHeight.Store(-1)
	if v, err := db.Get(bestBlockKey); err == nil && len(v) == 8+common.HashLength {
		ix.bestHeight.Store(int64(binary.BigEndian.Uint64(v[:8])))
		ix.bestHash = common.BytesToHash(v[8:])
	}
	return ix
}

// Name returns the index name.
func (ix *Indexer) Name() string { return ix.backend.Name() }

// Start launches the sync goroutine.
func (ix *Indexer) Start() {
	ix.startOnce.Do(func() {
		ix.log.Info("Starting index", "height", ix.bestHeight.Load())
		go ix.loop()
	})
}

// Interrupt aborts a running sync at the next block boundary.
func (ix *Indexer) Interrupt() {
	ix.interrupted.Store(true)
}

// Stop interrupts the index and waits for the sync goroutine to exit. The
// database is left open.
func (ix *Indexer) Stop() {
	ix.Interrupt()
	ix.stopOnce.Do(func() {
		close(ix.quit)
		started := true
		ix.startOnce.Do(func() { started = false })
		if started {
			<-ix.done
		}
	})
}

// Close stops the index and closes its database.
func (ix *Indexer) Close() error {
	ix.Stop()
	return ix.db.Close()
}

// Synced reports whether the index caught up with the chain at least once.
func (ix *Indexer) Synced() bool { return ix.synced.Load() }

// BlockConnected wakes the sync goroutine.
func (ix *Indexer) BlockConnected(signals.BlockEvent) {
	select {
	case ix.update <- struct{}{}:
	default:
	}
}

func (ix *Indexer) loop() {
	defer close(ix.done)
	for {
		if err := ix.sync(); err != nil {
			ix.log.Error("Index sync failed", "err", err)
		}
		select {
		case <-ix.update:
		case <-ix.quit:
			return
		}
	}
}

// sync indexes the active chain from the last indexed block onwards.
func (ix *Indexer) sync() error {
	ix.rewind()
	for !ix.interrupted.Load() {
		next := uint64(ix.bestHeight.Load() + 1)
		e := ix.chain.BlockAt(next)
		if e == nil {
			if !ix.synced.Swap(true) {
				ix.log.Info("Index is enabled", "height", ix.bestHeight.Load())
			}
			return nil
		}
		if next > 0 && e.Header.PrevHash != ix.bestHash {
			ix.rewind()
			continue
		}
		block, err := ix.chain.ReadBlock(e)
		if err != nil {
			return err
		}
		batch := ix.db.NewBatch()
		if err := ix.backend.WriteBlock(batch, block, next); err != nil {
			return err
		}
		best := binary.BigEndian.AppendUint64(nil, next)
		if err := batch.Put(bestBlockKey, append(best, e.Hash[:]...)); err != nil {
			return err
		}
		if err := batch.Write(); err != nil {
			return err
		}
		ix.bestHash = e.Hash
		ix.bestHeight.Store(int64(next))
	}
	return nil
}

// rewind moves the best block back to the last indexed block that is still
// part of the active chain.
func (ix *Indexer) rewind() {
	if ix.bestHeight.Load() < 0 {
		return
	}
	for e := ix.chain.LookupBlock(ix.bestHash); e != nil; e = e.Prev {
		if active := ix.chain.BlockAt(e.Height); active != nil && active.Hash == e.Hash {
			if int64(e.Height) != ix.bestHeight.Load() {
				ix.log.Info("Index rewound after reorg", "height", e.Height)
			}
			ix.bestHash = e.Hash
			ix.bestHeight.Store(int64(e.Height))
			return
		}
	}
	ix.bestHash = common.Hash{}
	ix.bestHeight.Store(-1)
}

// BestHeight returns the height of the last indexed block.
func (ix *Indexer) BestHeight() int64 { return ix.bestHeight.Load() }

var errNotIndexed = errors.New("not indexed")
