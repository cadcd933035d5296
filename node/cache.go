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

package node

import (
	"math/bits"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/log"
)

// Cache sizes in MiB.
const (
	DefaultDBCache = 300
	MinDBCache     = 4

	maxBlockTreeCache   = 2
	maxTxIndexCache     = 1024
	maxFilterIndexCache = 1024
	maxCoinsDBCache     = 8
	evoDBCache          = 16
)

// MaxDBCache is the largest accepted -dbcache value in MiB.
var MaxDBCache int64 = func() int64 {
	if bits.UintSize == 32 {
		return 1024
	}
	return 16384
}()

// CacheBudget is the partition of the -dbcache total across the databases
// and the in-memory coin cache. All sizes are in bytes. The partitions sum
// to Total; EvoDB is a fixed allowance outside of it.
type CacheBudget struct {
	Total         int64
	BlockTree     int64
	TxIndex       int64
	FilterIndex   int64 // per filter index
	FilterIndexes int
	CoinsDB       int64
	CoinsCache    int64
	EvoDB         int64
}

// NewCacheBudget splits dbcacheMiB, clamped to [MinDBCache, MaxDBCache],
// between the consumers. Each database takes an eighth of what is left,
// capped, before the coin database takes up to a half and the coin cache
// keeps the remainder.
func NewCacheBudget(dbcacheMiB int64, txindex bool, filterIndexes int) CacheBudget {
	dbcacheMiB = max(dbcacheMiB, MinDBCache)
	dbcacheMiB = min(dbcacheMiB, MaxDBCache)

	b := CacheBudget{Total: dbcacheMiB << 20, EvoDB: evoDBCache << 20}
	left := b.Total

	b.BlockTree = min(left/8, maxBlockTreeCache<<20)
	left -= b.BlockTree

	var txCap int64
	if txindex {
		txCap = maxTxIndexCache << 20
	}
	b.TxIndex = min(left/8, txCap)
	left -= b.TxIndex

	if filterIndexes > 0 {
		pool := min(left/8, maxFilterIndexCache<<20)
		b.FilterIndexes = filterIndexes
		b.FilterIndex = pool / int64(filterIndexes)
		left -= b.FilterIndex * int64(filterIndexes)
	}

	b.CoinsDB = min(left/2, left/4+(1<<23))
	b.CoinsDB = min(b.CoinsDB, maxCoinsDBCache<<20)
	left -= b.CoinsDB

	b.CoinsCache = left
	return b
}

// Sum returns the bytes handed out from Total.
func (b CacheBudget) Sum() int64 {
	return b.BlockTree + b.TxIndex + b.FilterIndex*int64(b.FilterIndexes) + b.CoinsDB + b.CoinsCache
}

func (b CacheBudget) log(logger log.Logger) {
	logger.Info("Cache configuration",
		"blocktree", common.StorageSize(b.BlockTree),
		"txindex", common.StorageSize(b.TxIndex),
		"filterindex", common.StorageSize(b.FilterIndex), "filters", b.FilterIndexes,
		"coinsdb", common.StorageSize(b.CoinsDB),
		"coinscache", common.StorageSize(b.CoinsCache),
		"evodb", common.StorageSize(b.EvoDB))
}
