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

package importer

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/chaingen"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/internal/shutdown"
	"github.com/springbok/springbokd/kvdb/memorydb"
	"github.com/springbok/springbokd/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var regtest = params.RegtestParams

// openChain loads a chain state over fresh databases and the given block
// directory.
func openChain(t *testing.T, blocksDir string, reset bool) *chainstate.ChainState {
	store, err := blockfile.OpenStore(blocksDir, regtest.NetMagic)
	require.NoError(t, err)
	cs := chainstate.New(chainstate.Config{Params: regtest},
		chainstate.NewBlockTreeDB(memorydb.New()), chainstate.NewCoinsDB(memorydb.New()), store)
	out := chainstate.NewLoader().Load(cs, chainstate.LoadOptions{Reset: reset, TxIndex: true, CheckLevel: 3, CheckBlocks: 6})
	require.Equal(t, chainstate.OutcomeReady, out.Kind, "%v", out.Err)
	return cs
}

func run(t *testing.T, p *Pipeline) error {
	t.Helper()
	p.Start()
	p.Start()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("import did not finish")
	}
	return p.Wait()
}

func TestNewJob(t *testing.T) {
	job := NewJob(true, "/data/bootstrap.dat", []string{"a.dat", "b.dat"})
	assert.True(t, job.Reindex())
	assert.Equal(t, []Source{
		{Kind: SourceReindex},
		{Kind: SourceBootstrap, Path: "/data/bootstrap.dat"},
		{Kind: SourceFile, Path: "a.dat"},
		{Kind: SourceFile, Path: "b.dat"},
	}, job.Sources())

	// Mutating the returned slice leaves the job untouched.
	job.Sources()[0].Kind = SourceFile
	assert.True(t, job.Reindex())
	assert.False(t, NewJob(false, "", nil).Reindex())
}

func TestReindexRoundTrip(t *testing.T) {
	blocksDir := t.TempDir()
	cs := openChain(t, blocksDir, false)
	for _, b := range chaingen.GenerateChain(regtest.Genesis(), 12, nil) {
		require.NoError(t, cs.ProcessBlock(b, nil))
	}
	require.NoError(t, cs.ActivateBestChain())
	require.NoError(t, cs.ForceFlush())
	tip, work := cs.Tip().Hash, cs.ChainWork()

	rebuilt := openChain(t, blocksDir, true)
	require.True(t, rebuilt.Reindexing())
	p := New(Config{Chain: rebuilt, Job: NewJob(true, "", nil), Signal: shutdown.New()})
	require.NoError(t, run(t, p))

	assert.False(t, rebuilt.Reindexing())
	assert.Equal(t, tip, rebuilt.Tip().Hash)
	assert.Equal(t, work, rebuilt.ChainWork())
	assert.Equal(t, 13, p.Stats().Blocks)
	assert.False(t, rebuilt.Importing())
}

func TestBootstrapImportOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	blocks := chaingen.GenerateChain(regtest.Genesis(), 6, nil)
	reversed := make([]*types.Block, len(blocks))
	for i, b := range blocks {
		reversed[len(blocks)-1-i] = b
	}
	bootstrap := filepath.Join(dir, "bootstrap.dat")
	require.NoError(t, chaingen.WriteBlockFile(bootstrap, regtest.NetMagic, reversed))

	cs := openChain(t, filepath.Join(dir, "blocks"), false)
	p := New(Config{Chain: cs, Job: NewJob(false, bootstrap, nil), Signal: shutdown.New()})
	require.NoError(t, run(t, p))

	assert.Equal(t, blocks[5].Hash(), cs.Tip().Hash)
	assert.Equal(t, 6, p.Stats().Blocks)
	assert.Equal(t, 0, p.Stats().Orphans)
	assert.NoFileExists(t, bootstrap)
	assert.FileExists(t, bootstrap+".old")

	// The renamed file is not imported again.
	again := New(Config{Chain: cs, Job: NewJob(false, bootstrap, nil), Signal: shutdown.New()})
	require.NoError(t, run(t, again))
	assert.Equal(t, 0, again.Stats().Files)
}

func TestUnreadableFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	blocks := chaingen.GenerateChain(regtest.Genesis(), 3, nil)
	good := filepath.Join(dir, "good.dat")
	require.NoError(t, chaingen.WriteBlockFile(good, regtest.NetMagic, blocks))

	cs := openChain(t, filepath.Join(dir, "blocks"), false)
	p := New(Config{Chain: cs, Job: NewJob(false, "", []string{filepath.Join(dir, "missing.dat"), good}), Signal: shutdown.New()})
	require.NoError(t, run(t, p))
	assert.Equal(t, blocks[2].Hash(), cs.Tip().Hash)
	assert.Equal(t, 1, p.Stats().Files)
}

func TestOrphansWithoutParent(t *testing.T) {
	dir := t.TempDir()
	blocks := chaingen.GenerateChain(regtest.Genesis(), 4, nil)
	file := filepath.Join(dir, "gap.dat")
	require.NoError(t, chaingen.WriteBlockFile(file, regtest.NetMagic, []*types.Block{blocks[0], blocks[2], blocks[3]}))

	cs := openChain(t, filepath.Join(dir, "blocks"), false)
	p := New(Config{Chain: cs, Job: NewJob(false, "", []string{file}), Signal: shutdown.New()})
	require.NoError(t, run(t, p))
	assert.Equal(t, blocks[0].Hash(), cs.Tip().Hash)
	assert.Equal(t, 2, p.Stats().Orphans)
}

func TestShutdownDuringImport(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, "part"+string(rune('a'+i))+".dat")
		require.NoError(t, os.WriteFile(name, chaingen.Frame(regtest.NetMagic, chaingen.GenerateChain(regtest.Genesis(), 50, nil)), 0600))
		files = append(files, name)
	}
	cs := openChain(t, filepath.Join(dir, "blocks"), false)
	signal := shutdown.New()
	signal.Request()

	warmed := false
	p := New(Config{Chain: cs, Job: NewJob(false, "", files), Signal: signal, Warmups: []Warmup{
		{Name: "never", Run: func(<-chan struct{}) error { warmed = true; return nil }},
	}})
	require.NoError(t, run(t, p))
	assert.Equal(t, 0, p.Stats().Files)
	assert.False(t, warmed)
}

// stoppingValidator requests shutdown once it has checked limit blocks.
type stoppingValidator struct {
	chainstate.NopValidator
	signal  *shutdown.Signal
	limit   int64
	checked atomic.Int64
}

func (v *stoppingValidator) CheckBlock(*types.Block) error {
	if v.checked.Add(1) == v.limit {
		v.signal.Request()
	}
	return nil
}

func TestShutdownDuringReplay(t *testing.T) {
	dir := t.TempDir()
	blocks := chaingen.GenerateChain(regtest.Genesis(), 150, nil)
	var files []string
	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, "part"+string(rune('a'+i))+".dat")
		require.NoError(t, chaingen.WriteBlockFile(name, regtest.NetMagic, blocks[i*50:(i+1)*50]))
		files = append(files, name)
	}

	signal := shutdown.New()
	validator := &stoppingValidator{signal: signal, limit: 10}
	store, err := blockfile.OpenStore(filepath.Join(dir, "blocks"), regtest.NetMagic)
	require.NoError(t, err)
	cs := chainstate.New(chainstate.Config{Params: regtest, Validator: validator},
		chainstate.NewBlockTreeDB(memorydb.New()), chainstate.NewCoinsDB(memorydb.New()), store)
	out := chainstate.NewLoader().Load(cs, chainstate.LoadOptions{TxIndex: true})
	require.Equal(t, chainstate.OutcomeReady, out.Kind, "%v", out.Err)
	validator.checked.Store(0)

	warmed := false
	p := New(Config{Chain: cs, Job: NewJob(false, "", files), Signal: signal, Warmups: []Warmup{
		{Name: "never", Run: func(<-chan struct{}) error { warmed = true; return nil }},
	}})
	require.NoError(t, run(t, p))

	stats := p.Stats()
	assert.Equal(t, 1, stats.Files)
	assert.Less(t, stats.Blocks, 50)
	assert.Less(t, validator.checked.Load(), int64(50))
	assert.Less(t, cs.Height(), int64(50))
	assert.False(t, warmed)
}

func TestStopAfterImport(t *testing.T) {
	cs := openChain(t, t.TempDir(), false)
	signal := shutdown.New()
	p := New(Config{Chain: cs, Signal: signal, StopAfterImport: true})
	require.NoError(t, run(t, p))
	assert.True(t, signal.Requested())
	assert.Equal(t, int64(0), cs.Height())
}

func TestWarmupsAreBestEffort(t *testing.T) {
	cs := openChain(t, t.TempDir(), false)
	var ran []string
	p := New(Config{Chain: cs, Signal: shutdown.New(), Warmups: []Warmup{
		{Name: "collateral", Run: func(<-chan struct{}) error { ran = append(ran, "collateral"); return errors.New("lookup failed") }},
		{Name: "masternode", Run: func(<-chan struct{}) error { ran = append(ran, "masternode"); return nil }},
	}})
	require.NoError(t, run(t, p))
	assert.Equal(t, []string{"collateral", "masternode"}, ran)
}

func TestActivationFailureIsFatal(t *testing.T) {
	cs := openChain(t, t.TempDir(), false)
	cs.ResetCoinsViews()
	signal := shutdown.New()
	p := New(Config{Chain: cs, Signal: signal})
	err := run(t, p)
	assert.ErrorIs(t, err, chainstate.ErrCoinsViewClosed)
	assert.True(t, signal.Requested())
}
