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
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/springbok/springbokd/common/mclock"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/checkqueue"
	"github.com/springbok/springbokd/core/importer"
	"github.com/springbok/springbokd/core/index"
	"github.com/springbok/springbokd/core/mempool"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/internal/sanity"
	"github.com/springbok/springbokd/internal/scheduler"
	"github.com/springbok/springbokd/internal/shutdown"
	"github.com/springbok/springbokd/internal/shutdowncheck"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/metrics"
	"github.com/springbok/springbokd/p2p"
	"github.com/springbok/springbokd/p2p/nat"
	"github.com/springbok/springbokd/p2p/netutil"
	"github.com/springbok/springbokd/params"
	"github.com/springbok/springbokd/rpc"
	"github.com/springbok/springbokd/version"
)

const (
	bootstrapFile    = "bootstrap.dat"
	feeEstimatesFile = "fee_estimates.dat"
	mempoolFile      = "mempool.dat"

	genesisPollInterval = 500 * time.Millisecond
)

// Node owns every subsystem of a running daemon and sequences their startup
// and shutdown. Components are created by Start in dependency order; Shutdown
// tears down whatever was created, in reverse.
type Node struct {
	config  *Config
	params  *params.ChainParams
	log     log.Logger
	signal  *shutdown.Signal
	clock   mclock.Clock
	started time.Time

	state       lifecycle
	startMu     sync.Mutex
	shutdownMu  sync.Mutex
	filterTypes []string
	budget      CacheBudget
	resources   *ResourceManager
	pidFile     string
	pidWritten  bool
	cookieFile  string
	reindexing  bool
	rpcInWarmup bool
	feesLoaded  bool

	signals *signals.Dispatcher
	checks  *checkqueue.Queue
	sched   *scheduler.Scheduler

	rpc  *rpc.Server
	http *rpc.HTTPServer
	ws   *rpc.Notifier

	db       *ChainDB
	loader   *chainstate.Loader
	chain    *chainstate.ChainState
	txIndex  *index.TxIndex
	filters  []*index.FilterIndex
	pool     *mempool.Pool
	fees     *mempool.FeeEstimator
	tracker  *shutdowncheck.ShutdownTracker
	importer *importer.Pipeline

	tier2 tier2Managers

	bans      *p2p.BanManager
	peerLogic *p2p.PeerLogic
	connman   *p2p.ConnManager

	stats      *metrics.Stats
	metricsSrv *metrics.Server
}

// New validates the configuration and creates a node. Nothing is written to
// disk until Start is called. The returned error is a *ConfigError when the
// options are invalid.
func New(conf *Config, signal *shutdown.Signal) (*Node, error) {
	confCopy := *conf
	conf = &confCopy
	if conf.DataDir == "" {
		return nil, configErrorf("no data directory configured")
	}
	p, err := conf.Params()
	if err != nil {
		return nil, err
	}
	conf.InteractParameters()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	filters, _ := index.ParseFilterTypes(conf.BlockFilterIndex)
	if signal == nil {
		signal = shutdown.New()
	}
	clock := conf.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	n := &Node{
		config:      conf,
		params:      p,
		log:         log.New("module", "node"),
		signal:      signal,
		clock:       clock,
		filterTypes: index.SortedFilterTypes(filters),
		signals:     signals.NewDispatcher(),
		checks:      checkqueue.New(),
		sched:       scheduler.New(clock),
		rpc:         rpc.NewServer(),
		fees:        mempool.NewFeeEstimator(),
		pool:        mempool.New(conf.MempoolExpiry),
	}
	n.budget = NewCacheBudget(conf.DBCache, conf.TxIndex, len(n.filterTypes))
	n.resources = NewResourceManager(ResourceConfig{
		DataDir:     conf.NetDataDir(),
		BlocksDir:   conf.BlocksDir,
		Params:      p,
		Engine:      conf.DBEngine,
		TxIndex:     conf.TxIndex,
		FilterTypes: n.filterTypes,
	})
	n.pidFile = conf.pidFile()
	// Commands are registered even with the RPC server disabled so that the
	// command table can be inspected.
	if err := n.registerRPCs(); err != nil {
		return nil, err
	}
	for _, c := range conf.Clients {
		if err := c.RegisterRPCs(n.rpc); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Config returns the effective configuration after parameter interaction.
func (n *Node) Config() *Config { return n.config }

// State returns the lifecycle phase.
func (n *Node) State() State { return n.state.get() }

// RPC returns the command table.
func (n *Node) RPC() *rpc.Server { return n.rpc }

// Chain returns the chain state, nil before it has been loaded.
func (n *Node) Chain() *chainstate.ChainState { return n.chain }

// HTTPAddrs returns the addresses the RPC server listens on.
func (n *Node) HTTPAddrs() []string {
	if n.http == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.http.Addrs() {
		addrs = append(addrs, a.String())
	}
	return addrs
}

// Wait blocks until shutdown has been requested.
func (n *Node) Wait() {
	<-n.signal.Done()
}

func (n *Node) stopRequested() bool { return n.signal.Requested() }

func (n *Node) initMessage(msg string) {
	n.log.Info("init message: " + msg)
	n.rpc.SetWarmupStatus(msg)
}

// Start runs the startup sequence and returns once the node is fully up.
// On error, and when ErrShutdownRequested is returned, the caller must
// still call Shutdown.
func (n *Node) Start() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	if n.state.get() != Unstarted {
		return ErrNodeStarted
	}
	n.started = time.Now()
	steps := []struct {
		name string
		fn   func() error
	}{
		{"sanity checks", n.sanityChecks},
		{"data directory lock", n.lockDataDir},
		{"services", n.startServices},
		{"chain state", n.loadChainState},
		{"chain services", n.startChainServices},
		{"maintenance tasks", n.scheduleTasks},
		{"block import", n.startImport},
		{"network", n.startNetwork},
	}
	for _, step := range steps {
		if n.stopRequested() {
			return ErrShutdownRequested
		}
		if err := step.fn(); err != nil {
			if !errors.Is(err, ErrShutdownRequested) {
				n.log.Error("Startup failed", "step", step.name, "err", err)
			}
			return err
		}
	}
	if n.stopRequested() {
		return ErrShutdownRequested
	}
	if err := n.state.advance(Running); err != nil {
		return err
	}
	n.rpc.SetWarmupFinished()
	n.initMessage("Done loading")
	return nil
}

func (n *Node) sanityChecks() error {
	if err := sanity.Check(); err != nil {
		n.log.Error("Sanity check failed", "err", err)
		return fmt.Errorf("Initialization sanity check failed. %s is shutting down.", version.ClientName)
	}
	if err := n.resources.ProbeLock(); err != nil {
		return err
	}
	return n.state.advance(SanityChecked)
}

func (n *Node) lockDataDir() error {
	if err := n.resources.LockDataDir(); err != nil {
		return err
	}
	if err := writePIDFile(n.pidFile); err != nil {
		return err
	}
	n.pidWritten = true

	n.log.Info("Starting "+version.ClientName, "version", version.WithCommit(), "network", n.params.Name)
	n.log.Info("Using data directory", "path", n.resources.DataDir())
	if err := n.config.fitConnections(raiseFdLimit); err != nil {
		return err
	}
	return n.config.validateMasternode(n.params)
}

// startServices brings up what the chain state load depends on, including
// the RPC server in warmup mode.
func (n *Node) startServices() error {
	n.checks.Start(checkqueue.ResolveThreads(n.config.Par))
	n.signals.Start()
	n.sched.Start()

	if err := n.setupSporks(); err != nil {
		return err
	}
	if n.config.Server {
		if err := n.startRPC(); err != nil {
			return err
		}
	}
	for _, c := range n.config.Clients {
		if err := c.Verify(); err != nil {
			return err
		}
	}
	n.bans = p2p.NewBanManager(n.config.ResolvePath(p2p.BanlistFile))
	n.peerLogic = p2p.NewPeerLogic(n.bans, n.config.BanTime)

	n.initMessage("Loading sporks cache...")
	return n.loadSporkCache()
}

// loadChainState opens the databases and loads the chain state. A failed
// load can be retried once with a full reindex, which reopens every
// database from scratch.
func (n *Node) loadChainState() error {
	n.budget.log(n.log)
	reset := n.config.Reindex
	n.loader = chainstate.NewLoader()
	for {
		if err := n.state.advance(ResourcesOpened); err != nil {
			return err
		}
		n.initMessage("Loading block index...")
		n.tier2.resetChainManagers()
		n.chain = nil
		db, err := n.resources.Open(n.budget, reset, n.config.ReindexChainState)
		n.db = db
		if err != nil {
			return err
		}
		n.chain = chainstate.New(chainstate.Config{
			Params:    n.params,
			Validator: n.config.Validator,
			Checks:    n.checks,
			Signals:   n.signals,
		}, db.BlockTree, db.Coins, db.Blocks)
		if err := n.tier2.openChainManagers(db.Evo); err != nil {
			return err
		}
		out := n.loader.Load(n.chain, chainstate.LoadOptions{
			Reset:             reset,
			ReindexChainState: n.config.ReindexChainState,
			Flags: chainstate.IndexFlags{
				AddressIndex:   n.config.AddressIndex,
				TimestampIndex: n.config.TimestampIndex,
				SpentIndex:     n.config.SpentIndex,
			},
			Prune:             n.config.Prune > 0,
			TxIndex:           n.config.TxIndex,
			DisableGovernance: n.config.DisableGovernance,
			CheckLevel:        n.config.CheckLevel,
			CheckBlocks:       n.config.CheckBlocks,
			CoinsCacheSize:    n.budget.CoinsCache,
			EvoDBEmpty:        db.Evo.IsEmpty,
			Stop:              n.stopRequested,
		})
		switch out.Kind {
		case chainstate.OutcomeReady:
			n.reindexing = reset
			return n.state.advance(ChainLoaded)
		case chainstate.OutcomeInterrupted:
			n.log.Info("Shutdown requested. Exiting.")
			return ErrShutdownRequested
		case chainstate.OutcomeNeedsRebuild:
			if n.config.ConfirmRebuild == nil || !n.config.ConfirmRebuild(out.Err.Error()) {
				n.log.Error("Aborted block database rebuild. Exiting.")
				return fmt.Errorf("%w.\nPlease restart with -reindex or -reindex-chainstate to recover.", out.Err)
			}
			n.log.Warn("Rebuilding block database", "reason", out.Err)
			reset = true
			n.loader.Reset()
		default:
			return out.Err
		}
	}
}

// startChainServices brings up the components working on the loaded chain.
func (n *Node) startChainServices() error {
	n.tracker = shutdowncheck.NewShutdownTracker(n.db.BlockTree.Store())
	n.tracker.MarkStartup()
	n.tracker.Start()

	if err := n.fees.ReadFile(n.config.ResolvePath(feeEstimatesFile)); err != nil {
		n.log.Warn("Failed to read fee estimates", "err", err)
	}
	n.feesLoaded = true
	if n.db.TxIndex != nil {
		n.txIndex = index.NewTxIndex(n.db.TxIndex, n.chain)
		n.signals.Register(n.txIndex)
		n.txIndex.Start()
	}
	for _, kind := range n.filterTypes {
		ix := index.NewFilterIndex(kind, n.db.Filters[kind], n.chain)
		n.filters = append(n.filters, ix)
		n.signals.Register(ix)
		ix.Start()
	}
	for _, c := range n.config.Clients {
		if err := c.Load(); err != nil {
			return err
		}
	}
	if n.config.Prune > 0 && !n.reindexing {
		n.initMessage("Pruning blockstore...")
		if err := n.chain.ForceFlush(); err != nil {
			return err
		}
	}
	if err := n.setupMasternode(); err != nil {
		return err
	}
	return n.loadTier2Caches()
}

// scheduleTasks registers the periodic maintenance. It must directly follow
// the cache load so no housekeeping can interleave with it.
func (n *Node) scheduleTasks() error {
	n.scheduleTier2Tasks()
	n.sched.ScheduleEvery("banlist dump", p2p.BanlistDumpInterval, n.bans.DumpBanlist)

	if n.config.StatsEnabled || n.config.MetricsAddr != "" {
		n.stats = metrics.NewStats(metrics.Config{PushURL: n.config.StatsPushURL, PushJob: "springbokd"}, n.chain, n.pool)
		n.sched.ScheduleEvery("stats", metrics.ClampPeriod(n.config.StatsPeriod), n.stats.Collect)
	}
	if n.config.MetricsAddr != "" {
		srv, err := metrics.StartServer(n.config.MetricsAddr, n.stats.Registry())
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		n.metricsSrv = srv
	}
	n.tier2.llmq.Start()
	return n.state.advance(ServicesStarted)
}

// startImport launches the block import and waits for the genesis block.
func (n *Node) startImport() error {
	for _, dir := range []string{n.resources.DataDir(), n.resources.BlocksDir()} {
		if err := n.resources.CheckDiskSpace(dir, 0); err != nil {
			return err
		}
	}
	var warmups []importer.Warmup
	warmups = append(warmups, importer.Warmup{Name: "masternode collaterals", Run: n.tier2.dmn.CollateralWarmup(n.chain)})
	if n.tier2.active != nil {
		warmups = append(warmups, importer.Warmup{Name: "masternode", Run: n.tier2.active.Init})
	}
	if n.config.PersistMempool {
		warmups = append(warmups, importer.Warmup{Name: "mempool", Run: n.loadMempool})
	}
	bootstrap := filepath.Join(n.resources.DataDir(), bootstrapFile)
	n.importer = importer.New(importer.Config{
		Chain:           n.chain,
		Job:             importer.NewJob(n.reindexing, bootstrap, n.config.LoadBlock),
		Signal:          n.signal,
		StopAfterImport: n.config.StopAfterBlockImport,
		Warmups:         warmups,
	})
	n.importer.Start()

	if err := n.waitForGenesis(); err != nil {
		return err
	}
	tip := n.chain.Tip()
	n.log.Info("Block index loaded", "blocks", n.chain.BlockIndexSize(), "height", tip.Height, "hash", tip.Hash)
	return nil
}

type tipWaiter struct {
	signals.NopListener
	ch chan struct{}
}

func (w *tipWaiter) UpdatedBlockTip(signals.TipEvent) {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// waitForGenesis blocks until the chain has a tip. The tip is polled so a
// shutdown request is observed while the import is still running.
func (n *Node) waitForGenesis() error {
	if n.chain.Tip() != nil {
		return nil
	}
	w := &tipWaiter{ch: make(chan struct{}, 1)}
	n.signals.Register(w)
	defer n.signals.Unregister(w)

	ticker := time.NewTicker(genesisPollInterval)
	defer ticker.Stop()
	for n.chain.Tip() == nil {
		select {
		case <-n.signal.Done():
			return ErrShutdownRequested
		case <-w.ch:
		case <-ticker.C:
		}
	}
	return nil
}

func (n *Node) loadMempool(quit <-chan struct{}) error {
	stop := func() bool {
		select {
		case <-quit:
			return true
		default:
			return false
		}
	}
	_, err := n.pool.Load(n.config.ResolvePath(mempoolFile), nil, stop)
	return err
}

func (n *Node) startNetwork() error {
	port := n.config.Port
	if port == 0 {
		port = n.params.DefaultPort
	}
	var mechanism nat.Interface
	if n.config.Listen {
		mechanism = nat.FromFlags(n.config.UPnP, n.config.NATPMP)
	}
	if mechanism == nil && len(n.config.ExternalIP) > 0 {
		m, err := nat.Parse("extip:" + n.config.ExternalIP[0])
		if err != nil {
			return configErrorf("Cannot resolve -externalip address: '%s'", n.config.ExternalIP[0])
		}
		mechanism = m
	}

	var whitelist netutil.Netlist
	if l, err := netutil.ParseNetlist(strings.Join(n.config.Whitelist, ",")); err == nil {
		whitelist = *l
	}
	n.connman = p2p.NewConnManager(p2p.ConnConfig{
		Listen:         n.config.Listen,
		Bind:           n.config.Bind,
		WhiteBind:      n.config.WhiteBind,
		Whitelist:      whitelist,
		DefaultPort:    port,
		MaxConnections: n.config.MaxConnections,
		Connect:        n.config.Connect,
		AddNode:        n.config.AddNode,
		SeedNode:       n.config.SeedNode,
		Proxy:          n.config.Proxy,
		NAT:            mechanism,
		Clock:          n.clock,
		Processor:      n.peerLogic,
		Bans:           n.bans,
	})
	n.signals.Register(n.peerLogic)
	if err := n.connman.Start(); err != nil {
		return err
	}
	for _, c := range n.config.Clients {
		c.Start(n.sched)
	}
	return nil
}

// uptime returns the time since Start.
func (n *Node) uptime() time.Duration {
	if n.started.IsZero() {
		return 0
	}
	return time.Since(n.started)
}
