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
	"testing"
	"time"

	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/chaingen"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/kvdb/memorydb"
	"github.com/springbok/springbokd/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChain(t *testing.T, n int) (*chainstate.ChainState, []*types.Block) {
	store, err := blockfile.OpenStore(t.TempDir(), params.RegtestParams.NetMagic)
	require.NoError(t, err)
	cs := chainstate.New(chainstate.Config{Params: params.RegtestParams},
		chainstate.NewBlockTreeDB(memorydb.New()), chainstate.NewCoinsDB(memorydb.New()), store)
	out := chainstate.NewLoader().Load(cs, chainstate.LoadOptions{TxIndex: true})
	require.Equal(t, chainstate.OutcomeReady, out.Kind)
	blocks := chaingen.GenerateChain(params.RegtestParams.Genesis(), n, nil)
	for _, b := range blocks {
		require.NoError(t, cs.ProcessBlock(b, nil))
	}
	require.NoError(t, cs.ActivateBestChain())
	return cs, blocks
}

func waitHeight(t *testing.T, ix *Indexer, height int64) {
	require.Eventually(t, func() bool { return ix.BestHeight() == height }, 5*time.Second, 5*time.Millisecond)
}

func TestTxIndexFollowsChain(t *testing.T) {
	cs, blocks := newChain(t, 5)
	ix := NewTxIndex(memorydb.New(), cs)
	ix.Start()
	defer ix.Stop()
	waitHeight(t, ix.Indexer, 5)
	require.Eventually(t, ix.Synced, time.Second, time.Millisecond)

	loc, err := ix.Lookup(types.DoubleHash(blocks[2].Body()))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loc.Height)
	assert.Equal(t, blocks[2].Hash(), loc.BlockHash)

	more := chaingen.GenerateChain(blocks[4], 2, nil)
	for _, b := range more {
		require.NoError(t, cs.ProcessBlock(b, nil))
	}
	require.NoError(t, cs.ActivateBestChain())
	ix.BlockConnected(signals.BlockEvent{})
	waitHeight(t, ix.Indexer, 7)

	_, err = ix.Lookup(types.DoubleHash([]byte("unknown")))
	assert.ErrorIs(t, err, errNotIndexed)
}

func TestIndexResumesFromDisk(t *testing.T) {
	cs, _ := newChain(t, 3)
	db := memorydb.New()
	ix := NewTxIndex(db, cs)
	ix.Start()
	waitHeight(t, ix.Indexer, 3)
	ix.Stop()
	ix.Stop()

	again := NewTxIndex(db, cs)
	assert.Equal(t, int64(3), again.BestHeight())
	again.Stop() // never started
}

func TestFilterIndexReorg(t *testing.T) {
	cs, blocks := newChain(t, 3)
	ix := NewFilterIndex(FilterTypeBasic, memorydb.New(), cs)
	ix.Start()
	defer ix.Stop()
	waitHeight(t, ix.Indexer, 3)
	oldHeader, err := ix.FilterHeader(blocks[2].Hash())
	require.NoError(t, err)

	fork := chaingen.GenerateChain(blocks[0], 4, func(i int, h *types.Header) []byte {
		h.Nonce = 9
		return nil
	})
	for _, b := range fork {
		require.NoError(t, cs.ProcessBlock(b, nil))
	}
	require.NoError(t, cs.ActivateBestChain())
	require.Equal(t, fork[3].Hash(), cs.Tip().Hash)
	ix.BlockConnected(signals.BlockEvent{})
	waitHeight(t, ix.Indexer, 5)

	newHeader, err := ix.FilterHeader(fork[1].Hash())
	require.NoError(t, err)
	assert.NotEqual(t, oldHeader, newHeader)
	assert.Equal(t, "basic block filter index", ix.Name())
}

func TestParseFilterTypes(t *testing.T) {
	set, err := ParseFilterTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Cardinality())

	set, err = ParseFilterTypes([]string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []string{FilterTypeBasic}, SortedFilterTypes(set))

	set, err = ParseFilterTypes([]string{"basic"})
	require.NoError(t, err)
	assert.True(t, set.Contains(FilterTypeBasic))

	_, err = ParseFilterTypes([]string{"extended"})
	assert.EqualError(t, err, "Unknown -blockfilterindex value extended.")
}
