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
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/chaingen"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/mempool"
	"github.com/springbok/springbokd/internal/scheduler"
	"github.com/springbok/springbokd/params"
	"github.com/springbok/springbokd/rpc"
	"github.com/springbok/springbokd/tier2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nodeConfig returns a regtest configuration that opens no sockets.
func nodeConfig(t *testing.T, dir string) *Config {
	t.Helper()
	cfg := DefaultConfig
	cfg.DataDir = dir
	cfg.Network = params.RegTestNet
	cfg.DBEngine = "leveldb"
	cfg.Listen = false
	cfg.DNSSeed = false
	cfg.Discover = false
	cfg.Server = false
	cfg.DBCache = MinDBCache
	cfg.Set = map[string]bool{"listen": true, "dnsseed": true, "discover": true}
	return &cfg
}

func startNode(t *testing.T, cfg *Config) *Node {
	t.Helper()
	n, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	return n
}

func rawParams(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		require.NoError(t, err)
		out[i] = b
	}
	return out
}

func waitImport(t *testing.T, n *Node) {
	t.Helper()
	select {
	case <-n.importer.Done():
	case <-time.After(20 * time.Second):
		t.Fatal("block import did not finish")
	}
}

func TestStartShutdown(t *testing.T) {
	cfg := nodeConfig(t, t.TempDir())
	n := startNode(t, cfg)
	assert.Equal(t, Running, n.State())
	assert.Equal(t, int64(0), n.Chain().Height())
	assert.FileExists(t, n.pidFile)
	assert.ErrorIs(t, n.Start(), ErrNodeStarted)

	warm, _ := n.RPC().InWarmup()
	assert.False(t, warm)
	count, err := n.RPC().Execute(context.Background(), "getblockcount", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	n.Shutdown()
	n.Shutdown()
	assert.Equal(t, Stopped, n.State())
	assert.NoFileExists(t, n.pidFile)

	lock := flock.New(filepath.Join(cfg.NetDataDir(), lockFile))
	locked, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, locked, "data directory lock not released")
	lock.Unlock()

	// The caches written on shutdown are accepted by the next start.
	n = startNode(t, nodeConfig(t, cfg.DataDir))
	n.Shutdown()
}

func TestShutdownBeforeStart(t *testing.T) {
	n, err := New(nodeConfig(t, t.TempDir()), nil)
	require.NoError(t, err)
	n.Shutdown()
	assert.Equal(t, Stopped, n.State())
	assert.ErrorIs(t, n.Start(), ErrNodeStarted)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := nodeConfig(t, t.TempDir())
	cfg.Prune = -1
	_, err := New(cfg, nil)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Prune cannot be configured with a negative value.", cerr.Msg)

	cfg = nodeConfig(t, t.TempDir())
	cfg.Network = "nonet"
	_, err = New(cfg, nil)
	assert.ErrorAs(t, err, &cerr)
}

// warmupClient records the RPC answers seen while the node starts.
type warmupClient struct {
	node *Node

	verifyErr, loadErr error
	started, flushed   bool
	stopped            bool
}

func (c *warmupClient) RegisterRPCs(*rpc.Server) error { return nil }

func (c *warmupClient) Verify() error {
	_, c.verifyErr = c.node.RPC().Execute(context.Background(), "getblockcount", nil)
	return nil
}

func (c *warmupClient) Load() error {
	_, c.loadErr = c.node.RPC().Execute(context.Background(), "getblockcount", nil)
	return nil
}

func (c *warmupClient) Start(*scheduler.Scheduler) { c.started = true }
func (c *warmupClient) Flush()                     { c.flushed = true }
func (c *warmupClient) Stop()                      { c.stopped = true }

func TestWarmupGating(t *testing.T) {
	client := new(warmupClient)
	cfg := nodeConfig(t, t.TempDir())
	cfg.Clients = []ChainClient{client}
	n, err := New(cfg, nil)
	require.NoError(t, err)
	client.node = n
	require.NoError(t, n.Start())
	defer n.Shutdown()

	for _, err := range []error{client.verifyErr, client.loadErr} {
		var rerr rpc.Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, rpc.ErrCodeInWarmup, rerr.ErrorCode())
	}
	assert.True(t, client.started)

	count, err := n.RPC().Execute(context.Background(), "getblockcount", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	n.Shutdown()
	assert.True(t, client.flushed)
	assert.True(t, client.stopped)
}

func TestLockContention(t *testing.T) {
	cfg := nodeConfig(t, t.TempDir())
	require.NoError(t, os.MkdirAll(cfg.NetDataDir(), 0o700))
	held := flock.New(filepath.Join(cfg.NetDataDir(), lockFile))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	n, err := New(cfg, nil)
	require.NoError(t, err)
	err = n.Start()
	assert.ErrorIs(t, err, ErrLockHeld)
	n.Shutdown()

	assert.NoDirExists(t, filepath.Join(cfg.NetDataDir(), chainStateDir))
	assert.NoFileExists(t, n.pidFile)
	assert.True(t, held.Locked())
}

func TestStartInterrupted(t *testing.T) {
	n, err := New(nodeConfig(t, t.TempDir()), nil)
	require.NoError(t, err)
	n.signal.Request()
	assert.ErrorIs(t, n.Start(), ErrShutdownRequested)
	n.Shutdown()
	assert.Equal(t, Stopped, n.State())
}

func TestLoadBlockAndReindex(t *testing.T) {
	dir := t.TempDir()
	blocks := chaingen.GenerateChain(params.RegtestParams.Genesis(), 8, nil)
	file := filepath.Join(t.TempDir(), "blocks.dat")
	require.NoError(t, chaingen.WriteBlockFile(file, params.RegtestParams.NetMagic, blocks))

	cfg := nodeConfig(t, dir)
	cfg.LoadBlock = []string{file}
	n := startNode(t, cfg)
	waitImport(t, n)
	require.Equal(t, int64(8), n.Chain().Height())
	tip, work := n.Chain().Tip().Hash, n.Chain().ChainWork()
	assert.Equal(t, blocks[7].Hash(), tip)
	n.Shutdown()

	// Restarting loads the flushed tip.
	n = startNode(t, nodeConfig(t, dir))
	assert.Equal(t, tip, n.Chain().Tip().Hash)
	n.Shutdown()

	cfg = nodeConfig(t, dir)
	cfg.Reindex = true
	n = startNode(t, cfg)
	waitImport(t, n)
	assert.False(t, n.Chain().Reindexing())
	assert.Equal(t, tip, n.Chain().Tip().Hash)
	assert.Equal(t, work, n.Chain().ChainWork())
	n.Shutdown()
}

func TestStopAfterBlockImport(t *testing.T) {
	cfg := nodeConfig(t, t.TempDir())
	cfg.StopAfterBlockImport = true
	n, err := New(cfg, nil)
	require.NoError(t, err)
	err = n.Start()
	if err != nil {
		assert.ErrorIs(t, err, ErrShutdownRequested)
	}
	select {
	case <-n.signal.Done():
	case <-time.After(20 * time.Second):
		t.Fatal("shutdown not requested after import")
	}
	n.Shutdown()
}

func TestRebuildOnFlagChange(t *testing.T) {
	dir := t.TempDir()
	startNode(t, nodeConfig(t, dir)).Shutdown()

	cfg := nodeConfig(t, dir)
	cfg.AddressIndex = true
	n, err := New(cfg, nil)
	require.NoError(t, err)
	err = n.Start()
	require.ErrorIs(t, err, chainstate.ErrRebuildRequired)
	assert.Contains(t, err.Error(), "-addressindex")
	n.Shutdown()

	var reason string
	cfg = nodeConfig(t, dir)
	cfg.AddressIndex = true
	cfg.ConfirmRebuild = func(r string) bool {
		reason = r
		return true
	}
	n = startNode(t, cfg)
	waitImport(t, n)
	assert.Contains(t, reason, "-addressindex")
	assert.Equal(t, int64(0), n.Chain().Height())
	n.Shutdown()

	// The rebuilt database carries the new flag.
	cfg = nodeConfig(t, dir)
	cfg.AddressIndex = true
	startNode(t, cfg).Shutdown()
}

func TestNodeRPCs(t *testing.T) {
	n := startNode(t, nodeConfig(t, t.TempDir()))
	defer n.Shutdown()
	ctx := context.Background()

	info, err := n.RPC().Execute(ctx, "getblockchaininfo", nil)
	require.NoError(t, err)
	bi := info.(blockchainInfo)
	assert.Equal(t, params.RegTestNet, bi.Chain)
	assert.Equal(t, params.RegtestParams.GenesisHash().Hex(), bi.BestBlockHash)
	assert.Len(t, bi.ChainWork, 64)

	count, err := n.RPC().Execute(ctx, "getconnectioncount", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	sporks, err := n.RPC().Execute(ctx, "spork", rawParams(t, "show"))
	require.NoError(t, err)
	assert.Contains(t, sporks, "SPORK_2_INSTANTSEND_ENABLED")

	status, err := n.RPC().Execute(ctx, "mnsync", rawParams(t, "status"))
	require.NoError(t, err)
	assert.Equal(t, "MASTERNODE_SYNC_BLOCKCHAIN", status.(mnsyncStatus).AssetName)

	gov, err := n.RPC().Execute(ctx, "gobject", rawParams(t, "count"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"proposals": 0, "triggers": 0, "total": 0}, gov)

	_, err = n.RPC().Execute(ctx, "spork", rawParams(t, "SPORK_2_INSTANTSEND_ENABLED", 1))
	assert.Error(t, err, "no spork key configured")

	_, err = n.RPC().Execute(ctx, "stop", nil)
	require.NoError(t, err)
	assert.True(t, n.stopRequested())
}

func TestFeeEstimatesKeptWhenNotLoaded(t *testing.T) {
	dir := t.TempDir()
	startNode(t, nodeConfig(t, dir)).Shutdown()

	fees := mempool.NewFeeEstimator()
	id := common.Hash{1}
	fees.Track(id, 1000, 1)
	fees.ProcessBlock(3, []common.Hash{id})
	path := nodeConfig(t, dir).ResolvePath(feeEstimatesFile)
	require.NoError(t, fees.WriteFile(path))
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	// The load fails before the estimator is read, the file must survive.
	cfg := nodeConfig(t, dir)
	cfg.AddressIndex = true
	n, err := New(cfg, nil)
	require.NoError(t, err)
	require.ErrorIs(t, n.Start(), chainstate.ErrRebuildRequired)
	n.Shutdown()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A full run reads the estimator and writes the same state back.
	startNode(t, nodeConfig(t, dir)).Shutdown()
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// stopOnStart requests shutdown from the last startup step, while the RPC
// server is still in warmup.
type stopOnStart struct {
	warmupClient
}

func (c *stopOnStart) Start(*scheduler.Scheduler) { c.node.signal.Request() }

func TestCachesNotDumpedDuringWarmup(t *testing.T) {
	dir := t.TempDir()
	startNode(t, nodeConfig(t, dir)).Shutdown()

	netDir := nodeConfig(t, dir).NetDataDir()
	files := []string{
		filepath.Join(netDir, tier2.MetaCacheFile),
		filepath.Join(netDir, tier2.SporkCacheFile),
	}
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	contents := make(map[string][]byte)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		contents[f] = data
		require.NoError(t, os.Chtimes(f, old, old))
	}

	client := new(stopOnStart)
	cfg := nodeConfig(t, dir)
	cfg.Clients = []ChainClient{client}
	n, err := New(cfg, nil)
	require.NoError(t, err)
	client.node = n
	require.ErrorIs(t, n.Start(), ErrShutdownRequested)
	warm, _ := n.RPC().InWarmup()
	require.True(t, warm)
	n.Shutdown()
	require.True(t, client.stopped)

	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(old), "%s rewritten during warmup shutdown", f)
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.Equal(t, contents[f], data)
	}

	// A node that finished starting writes them again.
	startNode(t, nodeConfig(t, dir)).Shutdown()
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.True(t, info.ModTime().After(old), "%s not written on shutdown", f)
	}
}

func TestExternalIPMappedByConnManager(t *testing.T) {
	cfg := nodeConfig(t, t.TempDir())
	cfg.Listen = true
	cfg.UPnP = false
	cfg.NATPMP = false
	cfg.Bind = []string{"127.0.0.1:0"}
	cfg.ExternalIP = []string{"5.6.7.8"}
	cfg.Set["upnp"] = true
	cfg.Set["natpmp"] = true
	n := startNode(t, cfg)
	defer n.Shutdown()

	require.Eventually(t, func() bool {
		ip, port := n.connman.External()
		return ip.Equal(net.IPv4(5, 6, 7, 8)) && port != 0
	}, 5*time.Second, 5*time.Millisecond)
	_, port := n.connman.External()
	assert.Equal(t, n.connman.ListenAddrs()[0].(*net.TCPAddr).Port, port)

	n.Shutdown()
	ip, _ := n.connman.External()
	assert.Nil(t, ip)
}
