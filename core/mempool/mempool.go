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

// Package mempool holds the unconfirmed transaction set as far as the node
// lifecycle is concerned: it can be persisted on shutdown and reloaded after
// the block import finished. Admission policy lives elsewhere.
package mempool

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/log"
)

const (
	// DumpFileName is the mempool snapshot in the data directory.
	DumpFileName = "mempool.dat"

	dumpVersion = 1

	// DefaultExpiry is how long a transaction may stay in the pool.
	DefaultExpiry = 336 * time.Hour

	maxEntrySize = 4 * 1024 * 1024
)

var errBadVersion = errors.New("unsupported mempool file version")

// Entry is one pooled transaction.
type Entry struct {
	Raw      []byte
	Time     int64 // unix seconds the transaction entered the pool
	FeeDelta int64 // prioritisation applied by the operator
}

// TxID returns the transaction id of the entry.
func (e *Entry) TxID() common.Hash { return types.DoubleHash(e.Raw) }

// Pool is the set of pooled transactions.
type Pool struct {
	mu      sync.RWMutex
	entries map[common.Hash]*Entry
	expiry  time.Duration
	loaded  atomic.Bool
	log     log.Logger
}

// New creates an empty pool.
func New(expiry time.Duration) *Pool {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Pool{entries: make(map[common.Hash]*Entry), expiry: expiry, log: log.New("module", "mempool")}
}

// Add inserts a transaction.
func (p *Pool) Add(e *Entry) common.Hash {
	id := e.TxID()
	p.mu.Lock()
	p.entries[id] = e
	p.mu.Unlock()
	return id
}

// Remove drops a transaction.
func (p *Pool) Remove(id common.Hash) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// Has reports whether a transaction is pooled.
func (p *Pool) Has(id common.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[id]
	return ok
}

// Size returns the number of pooled transactions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Bytes returns the total serialized size of the pool.
func (p *Pool) Bytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.entries {
		n += len(e.Raw)
	}
	return n
}

// IsLoaded reports whether the persisted pool was loaded.
func (p *Pool) IsLoaded() bool { return p.loaded.Load() }

// SetLoaded marks the pool loaded. The node does so when persistence is off.
func (p *Pool) SetLoaded() { p.loaded.Store(true) }

// LoadStats summarizes a Load call.
type LoadStats struct {
	Succeeded int
	Failed    int
	Expired   int
}

// Load reads the snapshot at path. accept is consulted for every unexpired
// entry; rejected entries are counted as failed. A missing file is not an
// error. The pool is marked loaded unless stop interrupted the load.
func (p *Pool) Load(path string, accept func(*Entry) error, stop func() bool) (LoadStats, error) {
	var stats LoadStats
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		p.loaded.Store(true)
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return stats, fmt.Errorf("failed to read mempool header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[:4]) != dumpVersion {
		return stats, errBadVersion
	}
	count := binary.LittleEndian.Uint64(hdr[4:])
	now := time.Now()
	for i := uint64(0); i < count; i++ {
		if stop != nil && stop() {
			return stats, nil
		}
		e, err := readEntry(r)
		if err != nil {
			return stats, fmt.Errorf("failed to read mempool entry %d: %w", i, err)
		}
		if now.Sub(time.Unix(e.Time, 0)) > p.expiry {
			stats.Expired++
			continue
		}
		if accept != nil {
			if err := accept(e); err != nil {
				stats.Failed++
				continue
			}
		}
		p.Add(e)
		stats.Succeeded++
	}
	p.log.Info("Imported mempool transactions from disk", "succeeded", stats.Succeeded, "failed", stats.Failed, "expired", stats.Expired)
	p.loaded.Store(true)
	return stats, nil
}

func readEntry(r io.Reader) (*Entry, error) {
	var hdr [20]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[16:20])
	if size > maxEntrySize {
		return nil, fmt.Errorf("entry too large: %d bytes", size)
	}
	e := &Entry{
		Time:     int64(binary.LittleEndian.Uint64(hdr[0:8])),
		FeeDelta: int64(binary.LittleEndian.Uint64(hdr[8:16])),
		Raw:      make([]byte, size),
	}
	if _, err := io.ReadFull(r, e.Raw); err != nil {
		return nil, err
	}
	return e, nil
}

// Dump writes the pool to path through a temporary file, so an interrupted
// dump never replaces a good snapshot.
func (p *Pool) Dump(path string) error {
	start := time.Now()
	p.mu.RLock()
	entries := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	tmp := path + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[:4], dumpVersion)
	binary.LittleEndian.PutUint64(hdr[4:], uint64(len(entries)))
	w.Write(hdr[:])
	for _, e := range entries {
		var eh [20]byte
		binary.LittleEndian.PutUint64(eh[0:8], uint64(e.Time))
		binary.LittleEndian.PutUint64(eh[8:16], uint64(e.FeeDelta))
		binary.LittleEndian.PutUint32(eh[16:20], uint32(len(e.Raw)))
		w.Write(eh[:])
		w.Write(e.Raw)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	p.log.Info("Dumped mempool", "transactions", len(entries), "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}
