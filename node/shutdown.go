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
	"os"

	"github.com/springbok/springbokd/rpc"
)

// Shutdown stops every component that Start created, in reverse dependency
// order, and flushes the chain state to disk. It can be called after a
// failed or interrupted Start, before Start, and more than once. Concurrent
// calls return immediately while the first one is running.
func (n *Node) Shutdown() {
	if !n.shutdownMu.TryLock() {
		return
	}
	defer n.shutdownMu.Unlock()
	if n.state.get() == Stopped {
		return
	}
	n.signal.Request()
	n.state.advance(ShuttingDown)
	n.log.Info("Shutdown: in progress...")

	if n.http != nil {
		n.http.Stop()
	}
	n.rpc.Interrupt()
	if n.tier2.llmq != nil {
		n.tier2.llmq.Stop()
	}
	n.rpcInWarmup, _ = n.rpc.InWarmup()

	for _, c := range n.config.Clients {
		c.Flush()
	}
	if n.peerLogic != nil {
		n.signals.Unregister(n.peerLogic)
	}
	if n.connman != nil {
		n.connman.Interrupt()
		n.connman.Stop()
	}
	n.stopIndexes()

	// Everything that can still touch the chain state is stopped before the
	// final flush.
	n.sched.Stop()
	if n.importer != nil {
		<-n.importer.Done()
	}
	n.checks.Stop()
	n.signals.FlushBackgroundCallbacks()

	// A node that never left warmup has not loaded the caches, dumping them
	// would overwrite the previous data with empty sets.
	if !n.rpcInWarmup {
		n.dumpTier2Caches()
	}
	n.peerLogic = nil
	n.connman = nil
	if n.bans != nil {
		if err := n.bans.Close(); err != nil {
			n.log.Warn("Failed to write ban list", "err", err)
		}
	}

	if n.pool.IsLoaded() && n.config.PersistMempool {
		if err := n.pool.Dump(n.config.ResolvePath(mempoolFile)); err != nil {
			n.log.Warn("Failed to dump mempool", "err", err)
		}
	}
	if n.feesLoaded {
		n.fees.FlushUnconfirmed()
		if err := n.fees.WriteFile(n.config.ResolvePath(feeEstimatesFile)); err != nil {
			n.log.Warn("Failed to write fee estimates", "err", err)
		}
		n.feesLoaded = false
	}
	if n.chain != nil {
		n.flushChainState()
	}
	if n.tracker != nil {
		n.tracker.Stop()
	}
	n.tier2.resetChainManagers()
	n.txIndex, n.filters = nil, nil
	if err := n.resources.Close(); err != nil {
		n.log.Error("Failed to close databases", "err", err)
	}
	n.db = nil
	if n.metricsSrv != nil {
		n.metricsSrv.Stop()
	}

	for _, c := range n.config.Clients {
		c.Stop()
	}
	if n.tier2.notify != nil {
		n.signals.Unregister(n.tier2.notify)
	}
	n.signals.UnregisterAll()
	n.signals.Stop()

	n.removeFiles()
	n.resources.Release()
	n.state.advance(Stopped)
	n.log.Info("Shutdown: done")
}

func (n *Node) stopIndexes() {
	if n.txIndex != nil {
		n.txIndex.Stop()
	}
	for _, ix := range n.filters {
		ix.Stop()
	}
}

// flushChainState writes the coins cache, drains the callbacks queued by
// the flush and writes again so the index reflects them.
func (n *Node) flushChainState() {
	if err := n.chain.ForceFlush(); err != nil {
		n.log.Error("Failed to flush chain state", "err", err)
	}
	n.signals.FlushBackgroundCallbacks()
	if err := n.chain.ForceFlush(); err != nil {
		n.log.Error("Failed to flush chain state", "err", err)
	}
	n.chain.ResetCoinsViews()
}

func (n *Node) removeFiles() {
	if n.pidWritten {
		if err := removePIDFile(n.pidFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				n.log.Warn("Unable to remove PID file: File does not exist")
			} else {
				n.log.Warn("Unable to remove PID file", "err", err)
			}
		}
		n.pidWritten = false
	}
	if n.cookieFile != "" {
		if err := rpc.DeleteAuthCookie(n.cookieFile); err != nil {
			n.log.Warn("Unable to remove RPC auth cookie", "err", err)
		}
		n.cookieFile = ""
	}
}
