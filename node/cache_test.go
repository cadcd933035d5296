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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheBudgetDefault(t *testing.T) {
	b := NewCacheBudget(DefaultDBCache, false, 0)
	assert.Equal(t, int64(300<<20), b.Total)
	assert.Equal(t, int64(2<<20), b.BlockTree)
	assert.Zero(t, b.TxIndex)
	assert.Zero(t, b.FilterIndex)
	assert.Equal(t, int64(8<<20), b.CoinsDB)
	assert.Equal(t, int64(290<<20), b.CoinsCache)
	assert.Equal(t, int64(16<<20), b.EvoDB)
}

func TestCacheBudgetClamps(t *testing.T) {
	assert.Equal(t, int64(MinDBCache<<20), NewCacheBudget(0, true, 1).Total)
	assert.Equal(t, int64(MinDBCache<<20), NewCacheBudget(-7, true, 1).Total)
	assert.Equal(t, MaxDBCache<<20, NewCacheBudget(1<<40, true, 1).Total)
}

func TestCacheBudgetSmall(t *testing.T) {
	// 4 MiB: the eighths fall below every cap.
	b := NewCacheBudget(4, true, 2)
	total := int64(4 << 20)
	assert.Equal(t, total/8, b.BlockTree)
	left := total - b.BlockTree
	assert.Equal(t, left/8, b.TxIndex)
	left -= b.TxIndex
	assert.Equal(t, left/8/2, b.FilterIndex)
	left -= 2 * b.FilterIndex
	assert.Equal(t, left/2, b.CoinsDB)
	assert.Equal(t, left-left/2, b.CoinsCache)
}

func TestCacheBudgetInvariant(t *testing.T) {
	sizes := []int64{MinDBCache, 5, 17, 64, 100, DefaultDBCache, 450, 1000, 4096, 9999, MaxDBCache}
	for _, size := range sizes {
		for _, txindex := range []bool{false, true} {
			for filters := 0; filters <= 3; filters++ {
				b := NewCacheBudget(size, txindex, filters)
				assert.Equal(t, b.Total, b.Sum(), "size %d", size)
				assert.LessOrEqual(t, b.BlockTree, int64(maxBlockTreeCache<<20))
				assert.LessOrEqual(t, b.TxIndex, int64(maxTxIndexCache<<20))
				assert.LessOrEqual(t, b.FilterIndex*int64(filters), int64(maxFilterIndexCache<<20))
				assert.LessOrEqual(t, b.CoinsDB, int64(maxCoinsDBCache<<20))
				assert.GreaterOrEqual(t, b.CoinsCache, int64(0))
				if !txindex {
					assert.Zero(t, b.TxIndex)
				}
			}
		}
	}
}
