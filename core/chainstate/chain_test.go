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
	"testing"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/chaingen"
	"github.com/springbok/springbokd/core/checkqueue"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/kvdb/memorydb"
	"github.com/springbok/springbokd/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coinValidator creates one coin per block and rejects blocks listed in bad.
type coinValidator struct {
	bad map[common.Hash]bool
}

func (v *coinValidator) CheckBlock(*types.Block) error { return nil }

func (v *coinValidator) ConnectBlock(b *types.Block, height uint64, view CoinsView) ([]checkqueue.Check, error) {
	view.AddCoin(Outpoint{Hash: b.Hash()}, &Coin{Value: 50, Height: uint32(height), Coinbase: true})
	if v.bad[b.Hash()] {
		return []checkqueue.Check{func() error { return errors.New("bad-script") }}, nil
	}
	return nil, nil
}

func (v *coinValidator) DisconnectBlock(b *types.Block, height uint64, view CoinsView) error {
	if height == 0 {
		return nil
	}
	if !view.SpendCoin(Outpoint{Hash: b.Hash()}) {
		return errors.New("missing coinbase coin")
	}
	return nil
}

type testEnv struct {
	tree      *memorydb.Database
	coins     *memorydb.Database
	blocksDir string
	validator *coinValidator
}

func newTestEnv(t *testing.T) *testEnv {
	return &testEnv{
		tree:      memorydb.New(),
		coins:     memorydb.New(),
		blocksDir: t.TempDir(),
		validator: &coinValidator{bad: make(map[common.Hash]bool)},
	}
}

// open builds a fresh chain state over the environment's databases.
func (env *testEnv) open(t *testing.T) *ChainState {
	store, err := blockfile.OpenStore(env.blocksDir, params.RegtestParams.NetMagic)
	require.NoError(t, err)
	return New(Config{Params: params.RegtestParams, Validator: env.validator},
		NewBlockTreeDB(env.tree), NewCoinsDB(env.coins), store)
}

func loadFresh(t *testing.T, cs *ChainState) {
	require.NoError(t, cs.LoadBlockIndex())
	require.NoError(t, cs.LoadGenesisBlock())
	cs.InitCoinsCache(0)
}

func processAll(t *testing.T, cs *ChainState, blocks []*types.Block) {
	for _, b := range blocks {
		require.NoError(t, cs.ProcessBlock(b, nil))
	}
}

func TestGenesisIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)
	require.NoError(t, cs.LoadGenesisBlock())
	assert.Equal(t, 1, cs.BlockIndexSize())
	assert.Equal(t, int64(-1), cs.Height())

	require.NoError(t, cs.ActivateBestChain())
	assert.Equal(t, int64(0), cs.Height())
	assert.Equal(t, params.RegtestParams.GenesisHash(), cs.Tip().Hash)
}

func TestUnknownParent(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)

	blocks := chaingen.GenerateChain(params.RegtestParams.Genesis(), 2, nil)
	assert.ErrorIs(t, cs.ProcessBlock(blocks[1], nil), ErrUnknownParent)
	require.NoError(t, cs.ProcessBlock(blocks[0], nil))
	require.NoError(t, cs.ProcessBlock(blocks[1], nil))
	// Known blocks are accepted again without effect.
	require.NoError(t, cs.ProcessBlock(blocks[1], nil))
	assert.Equal(t, 3, cs.BlockIndexSize())
}

func TestForeignGenesisRejected(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)

	var verr *ValidationError
	err := cs.ProcessBlock(params.MainnetParams.Genesis(), nil)
	require.ErrorAs(t, err, &verr)
}

func TestActivateBestChainReorg(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)

	genesis := params.RegtestParams.Genesis()
	short := chaingen.GenerateChain(genesis, 3, nil)
	long := chaingen.GenerateChain(genesis, 4, func(i int, h *types.Header) []byte {
		h.Nonce = 1
		return nil
	})
	processAll(t, cs, short)
	require.NoError(t, cs.ActivateBestChain())
	assert.Equal(t, short[2].Hash(), cs.Tip().Hash)
	_, ok := cs.GetCoin(Outpoint{Hash: short[2].Hash()})
	assert.True(t, ok)

	processAll(t, cs, long)
	require.NoError(t, cs.ActivateBestChain())
	assert.Equal(t, long[3].Hash(), cs.Tip().Hash)
	assert.Equal(t, int64(4), cs.Height())
	for _, b := range short {
		_, ok := cs.GetCoin(Outpoint{Hash: b.Hash()})
		assert.False(t, ok, "coin of disconnected block %d", b.Time())
	}
	for i, b := range long {
		assert.Equal(t, b.Hash(), cs.BlockAt(uint64(i+1)).Hash)
	}
	want := types.CalcWork(genesis.Bits())
	want.Mul(want, uint256Of(5))
	assert.Equal(t, want, cs.ChainWork())
}

func TestInvalidBlockIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)

	genesis := params.RegtestParams.Genesis()
	good := chaingen.GenerateChain(genesis, 2, nil)
	bad := chaingen.GenerateChain(genesis, 3, func(i int, h *types.Header) []byte {
		h.Nonce = 7
		return nil
	})
	env.validator.bad[bad[1].Hash()] = true

	processAll(t, cs, good)
	processAll(t, cs, bad)
	require.NoError(t, cs.ActivateBestChain())

	assert.Equal(t, good[1].Hash(), cs.Tip().Hash)
	assert.True(t, cs.LookupBlock(bad[1].Hash()).Status&StatusFailed != 0)
	assert.True(t, cs.LookupBlock(bad[2].Hash()).Status&StatusFailedChild != 0)
	assert.False(t, cs.LookupBlock(bad[0].Hash()).Failed())
}

func TestReloadRestoresChain(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)
	blocks := chaingen.GenerateChain(params.RegtestParams.Genesis(), 5, nil)
	processAll(t, cs, blocks)
	require.NoError(t, cs.ActivateBestChain())
	tip, work := cs.Tip().Hash, cs.ChainWork()
	require.NoError(t, cs.ForceFlush())
	require.NoError(t, cs.ForceFlush())
	cs.ResetCoinsViews()
	_, ok := cs.GetCoin(Outpoint{Hash: blocks[0].Hash()})
	assert.False(t, ok)

	reopened := env.open(t)
	require.NoError(t, reopened.LoadBlockIndex())
	reopened.InitCoinsCache(0)
	assert.Equal(t, tip, reopened.CoinsBestBlock())
	require.NoError(t, reopened.LoadChainTip())
	assert.Equal(t, tip, reopened.Tip().Hash)
	assert.Equal(t, work, reopened.ChainWork())

	stats, err := reopened.UTXOStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), stats.Outputs)
	assert.Equal(t, int64(300), stats.TotalAmount)
}

func TestVerifyDBLevels(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)
	processAll(t, cs, chaingen.GenerateChain(params.RegtestParams.Genesis(), 8, nil))
	require.NoError(t, cs.ActivateBestChain())

	for level := VerifyRead; level <= VerifyReconnect; level++ {
		require.NoError(t, cs.VerifyDB(level, 6, nil), "level %d", level)
	}
	// Verification never touches the live coin set.
	_, ok := cs.GetCoin(Outpoint{Hash: cs.Tip().Hash})
	assert.True(t, ok)

	// A coin missing from the set is an inconsistency at level 3.
	cs.coins.SpendCoin(Outpoint{Hash: cs.Tip().Hash})
	assert.NoError(t, cs.VerifyDB(VerifyIntegrity, 6, nil))
	assert.Error(t, cs.VerifyDB(VerifyDisconnect, 6, nil))
}

func TestVerifyDBStops(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	loadFresh(t, cs)
	processAll(t, cs, chaingen.GenerateChain(params.RegtestParams.Genesis(), 4, nil))
	require.NoError(t, cs.ActivateBestChain())
	cs.coins.SpendCoin(Outpoint{Hash: cs.Tip().Hash})

	assert.NoError(t, cs.VerifyDB(VerifyReconnect, 4, func() bool { return true }))
}
