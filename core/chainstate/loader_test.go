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
	"fmt"
	"testing"
	"time"

	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/chaingen"
	"github.com/springbok/springbokd/kvdb/memorydb"
	"github.com/springbok/springbokd/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultLoadOptions() LoadOptions {
	return LoadOptions{TxIndex: true, CheckLevel: 3, CheckBlocks: 6}
}

// populated returns an environment holding a flushed chain of n blocks.
func populated(t *testing.T, n int, flags IndexFlags) *testEnv {
	env := newTestEnv(t)
	cs := env.open(t)
	opts := defaultLoadOptions()
	opts.Flags = flags
	out := NewLoader().Load(cs, opts)
	require.Equal(t, OutcomeReady, out.Kind, "%v", out.Err)
	processAll(t, cs, chaingen.GenerateChain(params.RegtestParams.Genesis(), n, nil))
	require.NoError(t, cs.ActivateBestChain())
	require.NoError(t, cs.ForceFlush())
	return env
}

func TestLoaderFreshDatadir(t *testing.T) {
	env := newTestEnv(t)
	cs := env.open(t)
	l := NewLoader()
	out := l.Load(cs, defaultLoadOptions())
	require.Equal(t, OutcomeReady, out.Kind)
	assert.Equal(t, LoaderReady, l.State())
	assert.NotNil(t, cs.LookupBlock(params.RegtestParams.GenesisHash()))

	// A second attempt needs a reset first.
	assert.Equal(t, OutcomeFatal, l.Load(cs, defaultLoadOptions()).Kind)
	l.Reset()
	assert.Equal(t, LoaderIdle, l.State())
}

func TestLoaderVerifiesPopulatedChain(t *testing.T) {
	env := populated(t, 10, IndexFlags{})
	cs := env.open(t)
	out := NewLoader().Load(cs, defaultLoadOptions())
	require.Equal(t, OutcomeReady, out.Kind, "%v", out.Err)
	assert.Equal(t, int64(10), cs.Height())
}

func TestLoaderFlagMismatch(t *testing.T) {
	for stored := 0; stored < 8; stored++ {
		for requested := 0; requested < 8; requested++ {
			if stored == requested {
				continue
			}
			storedFlags, requestedFlags := flagsOf(stored), flagsOf(requested)
			t.Run(fmt.Sprintf("%03b-%03b", stored, requested), func(t *testing.T) {
				env := populated(t, 2, storedFlags)
				opts := defaultLoadOptions()
				opts.Flags = requestedFlags

				out := NewLoader().Load(env.open(t), opts)
				assert.Equal(t, OutcomeNeedsRebuild, out.Kind)
				assert.ErrorIs(t, out.Err, ErrRebuildRequired)
				assert.Contains(t, out.Err.Error(), "You need to rebuild the database using -reindex to change -")

				// The same request succeeds once the rebuild is under way.
				opts.Reset = true
				env.tree = memorydb.New()
				env.coins = memorydb.New()
				assert.Equal(t, OutcomeReady, NewLoader().Load(env.open(t), opts).Kind)
			})
		}
	}
}

func flagsOf(bits int) IndexFlags {
	return IndexFlags{AddressIndex: bits&1 != 0, TimestampIndex: bits&2 != 0, SpentIndex: bits&4 != 0}
}

func TestLoaderWrongGenesis(t *testing.T) {
	env := populated(t, 1, IndexFlags{})
	store, err := blockfile.OpenStore(env.blocksDir, params.RegtestParams.NetMagic)
	require.NoError(t, err)
	devnet := params.NewDevnetParams("other")
	cs := New(Config{Params: devnet}, NewBlockTreeDB(env.tree), NewCoinsDB(env.coins), store)

	opts := defaultLoadOptions()
	out := NewLoader().Load(cs, opts)
	assert.Equal(t, OutcomeFatal, out.Kind)
	assert.EqualError(t, out.Err, "Incorrect or no genesis block found. Wrong datadir for network?")
}

func TestLoaderGovernanceNeedsTxIndex(t *testing.T) {
	store, err := blockfile.OpenStore(t.TempDir(), params.TestnetParams.NetMagic)
	require.NoError(t, err)
	cs := New(Config{Params: params.TestnetParams}, NewBlockTreeDB(memorydb.New()), NewCoinsDB(memorydb.New()), store)

	opts := defaultLoadOptions()
	opts.TxIndex = false
	out := NewLoader().Load(cs, opts)
	assert.Equal(t, OutcomeFatal, out.Kind)
	assert.Contains(t, out.Err.Error(), "Transaction index can't be disabled with governance validation enabled")
}

func TestLoaderFutureTip(t *testing.T) {
	env := populated(t, 3, IndexFlags{})
	cs := env.open(t)
	opts := defaultLoadOptions()
	genesis := params.RegtestParams.Genesis().Header()
	genesisTime := genesis.Timestamp()
	opts.AdjustedTime = func() time.Time { return genesisTime.Add(-3 * time.Hour) }

	l := NewLoader()
	out := l.Load(cs, opts)
	assert.Equal(t, OutcomeNeedsRebuild, out.Kind)
	assert.Contains(t, out.Err.Error(), "appears to be from the future")
	assert.Equal(t, LoaderFailed, l.State())
}

func TestLoaderCorruptionNeedsRebuild(t *testing.T) {
	env := populated(t, 4, IndexFlags{})
	// Drop the coin of the tip so the disconnect check fails.
	cs := env.open(t)
	require.NoError(t, cs.LoadBlockIndex())
	cs.InitCoinsCache(0)
	require.NoError(t, cs.LoadChainTip())
	cs.coins.SpendCoin(Outpoint{Hash: cs.Tip().Hash})
	require.NoError(t, cs.ForceFlush())

	out := NewLoader().Load(env.open(t), defaultLoadOptions())
	assert.Equal(t, OutcomeNeedsRebuild, out.Kind)
	assert.EqualError(t, out.Err, "Corrupted block database detected")

	// A rebuild outcome during a reindex cannot be recovered from.
	opts := defaultLoadOptions()
	opts.Reset = true
	opts.AdjustedTime = func() time.Time { return time.Unix(0, 0) }
	cs = env.open(t)
	require.NoError(t, cs.tree.WriteFlag(FlagPrunedBlockFiles, true))
	out = NewLoader().Load(cs, opts)
	assert.Equal(t, OutcomeFatal, out.Kind)
	assert.ErrorIs(t, out.Err, ErrRebuildRequired)
}

func TestLoaderPrunedToUnpruned(t *testing.T) {
	env := populated(t, 2, IndexFlags{})
	cs := env.open(t)
	require.NoError(t, cs.SetPruned())

	out := NewLoader().Load(env.open(t), defaultLoadOptions())
	assert.Equal(t, OutcomeNeedsRebuild, out.Kind)
	assert.Contains(t, out.Err.Error(), "go back to unpruned mode")

	opts := defaultLoadOptions()
	opts.Prune = true
	opts.DisableGovernance = true
	opts.TxIndex = false
	assert.Equal(t, OutcomeReady, NewLoader().Load(env.open(t), opts).Kind)
}

func TestLoaderEvoDBWithoutCoins(t *testing.T) {
	env := newTestEnv(t)
	opts := defaultLoadOptions()
	opts.EvoDBEmpty = func() bool { return false }
	out := NewLoader().Load(env.open(t), opts)
	assert.Equal(t, OutcomeNeedsRebuild, out.Kind)
	assert.EqualError(t, out.Err, "Error initializing block database")
}

func TestLoaderInterrupted(t *testing.T) {
	env := newTestEnv(t)
	opts := defaultLoadOptions()
	opts.Stop = func() bool { return true }
	assert.Equal(t, OutcomeInterrupted, NewLoader().Load(env.open(t), opts).Kind)
}
