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
	"fmt"
	"time"

	"github.com/springbok/springbokd/tier2"
)

// Maintenance periods of the second-tier managers.
const (
	fulfilledMaintenancePeriod  = time.Minute
	mnsyncTickPeriod            = time.Second
	dmnMaintenancePeriod        = 10 * time.Second
	governanceMaintenancePeriod = 5 * time.Minute
	coinJoinMaintenancePeriod   = time.Second
	dkgCleanupPeriod            = time.Hour
)

// tier2Managers holds the masternode layer. The chain bound managers are
// recreated on every chain state load attempt, the rest live for the whole
// process.
type tier2Managers struct {
	sporks     *tier2.SporkManager
	meta       *tier2.MetaStore
	fulfilled  *tier2.FulfilledRequests
	governance *tier2.GovernanceManager // nil with -disablegovernance

	dmn  *tier2.DeterministicMNManager
	llmq *tier2.LLMQContext

	mnsync   *tier2.MasternodeSync
	active   *tier2.ActiveMasternode // nil outside masternode mode
	coinjoin *tier2.CoinJoinServer   // nil outside masternode mode
	notify   *tier2.Notifications
}

func (t *tier2Managers) resetChainManagers() {
	if t.llmq != nil {
		t.llmq.Stop()
	}
	t.dmn = nil
	t.llmq = nil
}

func (t *tier2Managers) openChainManagers(evo *tier2.EvoDB) error {
	dmn, err := tier2.NewDeterministicMNManager(evo)
	if err != nil {
		return err
	}
	t.dmn = dmn
	t.llmq = tier2.NewLLMQContext(evo)
	return nil
}

// setupSporks creates the spork manager from the signer options, falling
// back to the network defaults.
func (n *Node) setupSporks() error {
	sporks := tier2.NewSporkManager()
	addrs := n.config.SporkAddr
	if len(addrs) == 0 {
		addrs = n.params.SporkAddresses
	}
	for _, addr := range addrs {
		if err := sporks.SetSporkAddress(addr); err != nil {
			return &ConfigError{Msg: err.Error()}
		}
	}
	minKeys := n.params.MinSporkKeys
	if n.config.MinSporkKeys != 0 {
		minKeys = n.config.MinSporkKeys
	}
	if err := sporks.SetMinSporkKeys(minKeys); err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	if n.config.SporkKey != "" {
		if err := sporks.SetPrivKey(n.config.SporkKey); err != nil {
			return &ConfigError{Msg: err.Error()}
		}
	}
	n.tier2.sporks = sporks
	return nil
}

func (n *Node) sporkCache() *tier2.FlatDB {
	return tier2.NewFlatDB(n.resources.DataDir(), tier2.SporkCacheFile, tier2.SporkCacheMagic, n.params.NetMagic)
}

func (n *Node) loadSporkCache() error {
	db := n.sporkCache()
	if err := db.Load(n.tier2.sporks); err != nil {
		n.log.Error("Failed to load spork cache", "err", err)
		return fmt.Errorf("Failed to load sporks cache from %s", db.Path())
	}
	return nil
}

// setupMasternode creates the managers that follow the loaded chain.
func (n *Node) setupMasternode() error {
	t := &n.tier2
	t.meta = tier2.NewMetaStore()
	t.fulfilled = tier2.NewFulfilledRequests()
	if !n.config.DisableGovernance {
		t.governance = tier2.NewGovernanceManager()
	}
	t.mnsync = tier2.NewMasternodeSync(n.chain, !n.config.DisableGovernance)

	if key := n.config.MasternodeBLSPrivKey; key != "" {
		active, err := tier2.NewActiveMasternode(key, t.dmn)
		if err != nil {
			return &ConfigError{Msg: err.Error()}
		}
		t.active = active
		t.coinjoin = tier2.NewCoinJoinServer(t.mnsync)
		n.log.Info("Masternode mode enabled")
	}
	t.notify = &tier2.Notifications{
		Sync:       t.mnsync,
		Governance: t.governance,
		DMN:        t.dmn,
		LLMQ:       t.llmq,
		Active:     t.active,
	}
	n.signals.Register(t.notify)
	return nil
}

type tier2Cache struct {
	name  string
	file  string
	magic string
	obj   tier2.Snapshot
}

func (n *Node) tier2Caches() []tier2Cache {
	t := &n.tier2
	caches := []tier2Cache{
		{"masternode", tier2.MetaCacheFile, tier2.MetaCacheMagic, t.meta},
	}
	if t.governance != nil {
		caches = append(caches, tier2Cache{"governance", tier2.GovernanceCacheFile, tier2.GovernanceCacheMagic, t.governance})
	}
	return append(caches, tier2Cache{"fulfilled requests", tier2.FulfilledCacheFile, tier2.FulfilledCacheMagic, t.fulfilled})
}

// loadTier2Caches restores the masternode caches. After a reindex, or
// without a chain tip, the caches are overwritten with empty snapshots.
func (n *Node) loadTier2Caches() error {
	load := !n.reindexing && !n.config.ReindexChainState && n.chain.Tip() != nil
	for _, c := range n.tier2Caches() {
		db := tier2.NewFlatDB(n.resources.DataDir(), c.file, c.magic, n.params.NetMagic)
		if load {
			n.initMessage(fmt.Sprintf("Loading %s cache...", c.name))
			if err := db.Load(c.obj); err != nil {
				n.log.Error("Failed to load cache", "cache", c.name, "err", err)
				return fmt.Errorf("Failed to load %s cache from %s", c.name, db.Path())
			}
			continue
		}
		if err := db.Dump(c.obj); err != nil {
			n.log.Error("Failed to clear cache", "cache", c.name, "err", err)
			return fmt.Errorf("Failed to clear %s cache at %s", c.name, db.Path())
		}
	}
	return nil
}

// dumpTier2Caches persists the caches and the spork values.
func (n *Node) dumpTier2Caches() {
	if n.tier2.meta != nil {
		for _, c := range n.tier2Caches() {
			db := tier2.NewFlatDB(n.resources.DataDir(), c.file, c.magic, n.params.NetMagic)
			if err := db.Dump(c.obj); err != nil {
				n.log.Warn("Failed to write cache", "cache", c.name, "err", err)
			}
		}
	}
	if n.tier2.sporks != nil {
		if err := n.sporkCache().Dump(n.tier2.sporks); err != nil {
			n.log.Warn("Failed to write spork cache", "err", err)
		}
	}
}

func (n *Node) scheduleTier2Tasks() {
	t := &n.tier2
	n.sched.ScheduleEvery("fulfilled requests maintenance", fulfilledMaintenancePeriod, t.fulfilled.DoMaintenance)
	n.sched.ScheduleEvery("masternode sync", mnsyncTickPeriod, t.mnsync.ProcessTick)
	n.sched.ScheduleEvery("masternode list maintenance", dmnMaintenancePeriod, t.dmn.DoMaintenance)
	if t.governance != nil {
		n.sched.ScheduleEvery("governance maintenance", governanceMaintenancePeriod, t.governance.DoMaintenance)
	}
	if t.active != nil {
		n.sched.ScheduleEvery("coinjoin maintenance", coinJoinMaintenancePeriod, t.coinjoin.DoMaintenance)
		n.sched.ScheduleEvery("dkg cache cleanup", dkgCleanupPeriod, t.llmq.CleanupDKGCache)
	}
}
