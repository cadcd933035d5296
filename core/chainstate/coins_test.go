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
	"testing"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/kvdb/memorydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinsCacheFlush(t *testing.T) {
	db := memorydb.New()
	cache := NewCoinsCache(NewCoinsDB(db), 0)

	op := Outpoint{Hash: common.Hash{1}, Index: 2}
	cache.AddCoin(op, &Coin{Value: 7, Script: []byte{0x51}, Height: 3})
	cache.SetBestBlock(common.Hash{9})
	assert.True(t, cache.HaveCoinInCache(op))
	assert.Equal(t, 1, cache.DirtyCount())
	require.NoError(t, cache.Flush())
	assert.Equal(t, 0, cache.DirtyCount())

	fresh := NewCoinsCache(NewCoinsDB(db), 0)
	assert.Equal(t, common.Hash{9}, fresh.BestBlock())
	assert.False(t, fresh.HaveCoinInCache(op))
	coin, ok := fresh.GetCoin(op)
	require.True(t, ok)
	assert.Equal(t, int64(7), coin.Value)
	assert.Equal(t, []byte{0x51}, coin.Script)
	assert.True(t, fresh.HaveCoinInCache(op))

	assert.True(t, fresh.SpendCoin(op))
	assert.False(t, fresh.SpendCoin(op))
	require.NoError(t, fresh.Flush())
	_, ok = NewCoinsCache(NewCoinsDB(db), 0).GetCoin(op)
	assert.False(t, ok)
	assert.False(t, NewCoinsDB(db).InterruptedFlush())
}

func TestCoinsCacheReset(t *testing.T) {
	cache := NewCoinsCache(NewCoinsDB(memorydb.New()), 0)
	op := Outpoint{Hash: common.Hash{3}}
	cache.AddCoin(op, &Coin{Value: 1})
	cache.SetBestBlock(common.Hash{4})
	cache.Reset()

	_, ok := cache.GetCoin(op)
	assert.False(t, ok)
	assert.True(t, cache.BestBlock().IsZero())
}

func TestOverlayViewIsolation(t *testing.T) {
	base := NewCoinsCache(NewCoinsDB(memorydb.New()), 0)
	kept, spent := Outpoint{Hash: common.Hash{1}}, Outpoint{Hash: common.Hash{2}}
	base.AddCoin(kept, &Coin{Value: 1})
	base.AddCoin(spent, &Coin{Value: 2})

	view := newOverlayView(base)
	assert.True(t, view.SpendCoin(spent))
	view.AddCoin(Outpoint{Hash: common.Hash{3}}, &Coin{Value: 3})
	_, ok := base.GetCoin(spent)
	assert.True(t, ok)

	view.SetBestBlock(common.Hash{5})
	view.apply()
	_, ok = base.GetCoin(spent)
	assert.False(t, ok)
	_, ok = base.GetCoin(Outpoint{Hash: common.Hash{3}})
	assert.True(t, ok)
	assert.Equal(t, common.Hash{5}, base.BestBlock())
}
