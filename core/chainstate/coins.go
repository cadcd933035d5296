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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/kvdb"
)

var (
	coinPrefix    = []byte("C") // coinPrefix + txid + index -> encoded coin
	bestBlockKey  = []byte("B") // hash of the block the coin set reflects
	headBlocksKey = []byte("H") // present while a flush is only partially written
)

const minCoinsCacheSize = 4 * 1024 * 1024

// Outpoint references one output of a transaction.
type Outpoint struct {
	Hash  common.Hash
	Index uint32
}

func (o Outpoint) key() []byte {
	k := make([]byte, 0, len(coinPrefix)+common.HashLength+4)
	k = append(k, coinPrefix...)
	k = append(k, o.Hash[:]...)
	return binary.BigEndian.AppendUint32(k, o.Index)
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s-%d", o.Hash.TerminalString(), o.Index)
}

// Coin is an unspent transaction output.
type Coin struct {
	Value    int64
	Script   []byte
	Height   uint32
	Coinbase bool
}

func encodeCoin(c *Coin) []byte {
	buf := make([]byte, 13, 13+len(c.Script))
	binary.LittleEndian.PutUint32(buf[0:4], c.Height)
	if c.Coinbase {
		buf[4] = 1
	}
	binary.LittleEndian.PutUint64(buf[5:13], uint64(c.Value))
	return append(buf, c.Script...)
}

func decodeCoin(data []byte) (*Coin, error) {
	if len(data) < 13 {
		return nil, errors.New("malformed coin")
	}
	return &Coin{
		Height:   binary.LittleEndian.Uint32(data[0:4]),
		Coinbase: data[4] == 1,
		Value:    int64(binary.LittleEndian.Uint64(data[5:13])),
		Script:   append([]byte(nil), data[13:]...),
	}, nil
}

// CoinsView is the coin set a validator reads and mutates while connecting
// or disconnecting a block.
type CoinsView interface {
	GetCoin(op Outpoint) (*Coin, bool)
	AddCoin(op Outpoint, coin *Coin)
	SpendCoin(op Outpoint) bool
	BestBlock() common.Hash
	SetBestBlock(hash common.Hash)
}

// CoinsDB is the on-disk coin set.
type CoinsDB struct {
	db kvdb.KeyValueStore
}

// NewCoinsDB wraps the given store.
func NewCoinsDB(db kvdb.KeyValueStore) *CoinsDB {
	return &CoinsDB{db: db}
}

// BestBlock returns the block hash the stored coin set reflects, or the zero
// hash for an empty set.
func (c *CoinsDB) BestBlock() common.Hash {
	v, err := c.db.Get(bestBlockKey)
	if err != nil {
		return common.Hash{}
	}
	return common.BytesToHash(v)
}

// InterruptedFlush reports whether the last flush did not complete.
func (c *CoinsDB) InterruptedFlush() bool {
	has, _ := c.db.Has(headBlocksKey)
	return has
}

func (c *CoinsDB) getCoin(op Outpoint) (*Coin, error) {
	v, err := c.db.Get(op.key())
	if err != nil {
		return nil, err
	}
	return decodeCoin(v)
}

// CoinsCache layers a write-back cache over the coin database. Reads are
// served from the dirty set, then fastcache, then disk. Callers serialize
// access through the chain state lock.
type CoinsCache struct {
	db    *CoinsDB
	cache *fastcache.Cache
	dirty map[Outpoint]*Coin // nil marks a spent coin not yet flushed
	best  common.Hash
}

// NewCoinsCache creates a cache with the given read cache size in bytes.
func NewCoinsCache(db *CoinsDB, size int64) *CoinsCache {
	if size <= 0 {
		size = minCoinsCacheSize
	}
	return &CoinsCache{
		db:    db,
		cache: fastcache.New(int(size)),
		dirty: make(map[Outpoint]*Coin),
		best:  db.BestBlock(),
	}
}

func (c *CoinsCache) GetCoin(op Outpoint) (*Coin, bool) {
	if coin, ok := c.dirty[op]; ok {
		return coin, coin != nil
	}
	if v, ok := c.cache.HasGet(nil, op.key()); ok {
		coin, err := decodeCoin(v)
		return coin, err == nil
	}
	coin, err := c.db.getCoin(op)
	if err != nil {
		return nil, false
	}
	c.cache.Set(op.key(), encodeCoin(coin))
	return coin, true
}

// HaveCoinInCache reports whether the coin is already held in memory.
func (c *CoinsCache) HaveCoinInCache(op Outpoint) bool {
	if coin, ok := c.dirty[op]; ok {
		return coin != nil
	}
	return c.cache.Has(op.key())
}

func (c *CoinsCache) AddCoin(op Outpoint, coin *Coin) {
	c.dirty[op] = coin
	c.cache.Set(op.key(), encodeCoin(coin))
}

func (c *CoinsCache) SpendCoin(op Outpoint) bool {
	if _, ok := c.GetCoin(op); !ok {
		return false
	}
	c.dirty[op] = nil
	c.cache.Del(op.key())
	return true
}

func (c *CoinsCache) BestBlock() common.Hash { return c.best }

func (c *CoinsCache) SetBestBlock(hash common.Hash) { c.best = hash }

// DirtyCount returns the number of unflushed coin changes.
func (c *CoinsCache) DirtyCount() int { return len(c.dirty) }

// MemoryUsage returns the bytes held by the read cache.
func (c *CoinsCache) MemoryUsage() uint64 {
	var s fastcache.Stats
	c.cache.UpdateStats(&s)
	return s.BytesSize
}

// Flush writes every dirty coin and the best block marker to disk. The
// head-blocks marker brackets the write so a crash mid-flush is detectable.
func (c *CoinsCache) Flush() error {
	if len(c.dirty) == 0 && c.best == c.db.BestBlock() {
		return nil
	}
	if err := c.db.db.Put(headBlocksKey, c.best[:]); err != nil {
		return err
	}
	batch := c.db.db.NewBatch()
	for op, coin := range c.dirty {
		var err error
		if coin == nil {
			err = batch.Delete(op.key())
		} else {
			err = batch.Put(op.key(), encodeCoin(coin))
		}
		if err != nil {
			return err
		}
		if batch.ValueSize() >= kvdb.IdealBatchSize {
			if err := batch.Write(); err != nil {
				return err
			}
			batch.Reset()
		}
	}
	if !c.best.IsZero() {
		if err := batch.Put(bestBlockKey, c.best[:]); err != nil {
			return err
		}
	}
	if err := batch.Delete(headBlocksKey); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	c.dirty = make(map[Outpoint]*Coin)
	return nil
}

// Reset drops every cached coin without flushing.
func (c *CoinsCache) Reset() {
	c.cache.Reset()
	c.dirty = make(map[Outpoint]*Coin)
	c.best = c.db.BestBlock()
}

// overlayView is a throwaway view used for verification. Writes never reach
// the base view.
type overlayView struct {
	base  CoinsView
	coins map[Outpoint]*Coin
	best  common.Hash
}

func newOverlayView(base CoinsView) *overlayView {
	return &overlayView{base: base, coins: make(map[Outpoint]*Coin), best: base.BestBlock()}
}

func (v *overlayView) GetCoin(op Outpoint) (*Coin, bool) {
	if coin, ok := v.coins[op]; ok {
		return coin, coin != nil
	}
	return v.base.GetCoin(op)
}

func (v *overlayView) AddCoin(op Outpoint, coin *Coin) { v.coins[op] = coin }

func (v *overlayView) SpendCoin(op Outpoint) bool {
	if _, ok := v.GetCoin(op); !ok {
		return false
	}
	v.coins[op] = nil
	return true
}

func (v *overlayView) BestBlock() common.Hash     { return v.best }
func (v *overlayView) SetBestBlock(h common.Hash) { v.best = h }

// apply moves the overlay changes into the base view.
func (v *overlayView) apply() {
	for op, coin := range v.coins {
		if coin == nil {
			v.base.SpendCoin(op)
		} else {
			v.base.AddCoin(op, coin)
		}
	}
	v.base.SetBestBlock(v.best)
	v.coins = make(map[Outpoint]*Coin)
}

// UTXOStats summarizes the flushed coin set.
type UTXOStats struct {
	BestBlock   common.Hash
	Outputs     uint64
	TotalAmount int64
}

// Stats walks the on-disk coin set.
func (c *CoinsDB) Stats() (UTXOStats, error) {
	stats := UTXOStats{BestBlock: c.BestBlock()}
	it := c.db.NewIterator(coinPrefix, nil)
	defer it.Release()
	for it.Next() {
		coin, err := decodeCoin(it.Value())
		if err != nil {
			return stats, err
		}
		stats.Outputs++
		stats.TotalAmount += coin.Value
	}
	return stats, it.Error()
}
