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

package tier2

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/log"
)

// Chain is the chain state view the managers consult.
type Chain interface {
	GetCoin(op chainstate.Outpoint) (*chainstate.Coin, bool)
	InitialDownload() bool
	Importing() bool
	Height() int64
}

// SyncStage is the progress of the masternode sync.
type SyncStage int32

const (
	SyncBlockchain SyncStage = iota + 1
	SyncGovernance
	SyncFinished
)

func (s SyncStage) String() string {
	switch s {
	case SyncBlockchain:
		return "MASTERNODE_SYNC_BLOCKCHAIN"
	case SyncGovernance:
		return "MASTERNODE_SYNC_GOVERNANCE"
	case SyncFinished:
		return "MASTERNODE_SYNC_FINISHED"
	}
	return fmt.Sprintf("SyncStage(%d)", int32(s))
}

// syncTimeout is how long the chain must look synced before the sync
// advances past the blockchain stage.
const syncTimeout = 30 * time.Second

// MasternodeSync tracks whether the second-tier data is in sync with the
// network. It advances on ProcessTick.
type MasternodeSync struct {
	chain      Chain
	governance bool

	stage    atomic.Int32
	mu       sync.Mutex
	lastBump time.Time
	now      func() time.Time
	log      log.Logger
}

func NewMasternodeSync(chain Chain, governance bool) *MasternodeSync {
	s := &MasternodeSync{chain: chain, governance: governance, now: time.Now, log: log.New("module", "mnsync")}
	s.Reset()
	return s
}

// Reset restarts the sync from the blockchain stage.
func (s *MasternodeSync) Reset() {
	s.stage.Store(int32(SyncBlockchain))
	s.mu.Lock()
	s.lastBump = s.now()
	s.mu.Unlock()
}

func (s *MasternodeSync) Stage() SyncStage { return SyncStage(s.stage.Load()) }

func (s *MasternodeSync) IsBlockchainSynced() bool { return s.Stage() > SyncBlockchain }

func (s *MasternodeSync) IsSynced() bool { return s.Stage() == SyncFinished }

// UpdatedBlockTip postpones the stage switch while blocks keep arriving.
func (s *MasternodeSync) UpdatedBlockTip(ev signals.TipEvent) {
	if ev.InitialDownload || s.IsBlockchainSynced() {
		return
	}
	s.mu.Lock()
	s.lastBump = s.now()
	s.mu.Unlock()
}

// ProcessTick advances the sync stage.
func (s *MasternodeSync) ProcessTick() error {
	switch s.Stage() {
	case SyncBlockchain:
		if s.chain.Importing() || s.chain.InitialDownload() {
			return nil
		}
		s.mu.Lock()
		waited := s.now().Sub(s.lastBump)
		s.mu.Unlock()
		if waited < syncTimeout {
			return nil
		}
		next := SyncGovernance
		if !s.governance {
			next = SyncFinished
		}
		s.switchTo(next)
	case SyncGovernance:
		s.switchTo(SyncFinished)
	}
	return nil
}

func (s *MasternodeSync) switchTo(stage SyncStage) {
	s.stage.Store(int32(stage))
	s.log.Info("Masternode sync stage changed", "stage", stage, "height", s.chain.Height())
}

// blsKeySize is the length of a BLS secret key.
const blsKeySize = 32

var errInvalidBLSKey = errors.New("Invalid masternodeblsprivkey. Please see documentation.")

// ActiveMasternode is the local masternode identity in masternode mode.
type ActiveMasternode struct {
	signals.NopListener

	dmn   *DeterministicMNManager
	key   []byte
	state atomic.Value // string
	log   log.Logger
}

// NewActiveMasternode parses the hex encoded BLS secret key.
func NewActiveMasternode(blsKeyHex string, dmn *DeterministicMNManager) (*ActiveMasternode, error) {
	key, err := hex.DecodeString(blsKeyHex)
	if err != nil || len(key) != blsKeySize {
		return nil, errInvalidBLSKey
	}
	am := &ActiveMasternode{dmn: dmn, key: key, log: log.New("module", "masternode")}
	am.state.Store("WAITING_FOR_PROTX")
	return am, nil
}

// State returns the local masternode status.
func (am *ActiveMasternode) State() string { return am.state.Load().(string) }

// Init checks whether the local key is registered. It runs after the block
// import finished.
func (am *ActiveMasternode) Init(quit <-chan struct{}) error {
	select {
	case <-quit:
		return nil
	default:
	}
	state := "WAITING_FOR_PROTX"
	if len(am.dmn.Masternodes()) > 0 {
		state = "READY"
	}
	am.state.Store(state)
	am.log.Info("Masternode initialized", "state", state)
	return nil
}

// UpdatedBlockTip re-evaluates the registration once the chain synced.
func (am *ActiveMasternode) UpdatedBlockTip(ev signals.TipEvent) {
	if ev.InitialDownload {
		return
	}
	am.Init(nil)
}

// CoinJoinServer runs the masternode side of mixing sessions.
type CoinJoinServer struct {
	mnsync   *MasternodeSync
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

// coinJoinSessionTimeout bounds an idle mixing session.
const coinJoinSessionTimeout = 30 * time.Second

func NewCoinJoinServer(mnsync *MasternodeSync) *CoinJoinServer {
	return &CoinJoinServer{mnsync: mnsync, sessions: make(map[string]time.Time), now: time.Now}
}

// Touch keeps the session of a client alive.
func (c *CoinJoinServer) Touch(client string) {
	c.mu.Lock()
	c.sessions[client] = c.now()
	c.mu.Unlock()
}

// Sessions returns the number of open sessions.
func (c *CoinJoinServer) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// DoMaintenance expires idle sessions. Nothing runs before the sync finished.
func (c *CoinJoinServer) DoMaintenance() error {
	if !c.mnsync.IsSynced() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for client, last := range c.sessions {
		if now.Sub(last) > coinJoinSessionTimeout {
			delete(c.sessions, client)
		}
	}
	return nil
}

// LLMQContext bundles the long-living masternode quorum components.
type LLMQContext struct {
	signals.NopListener

	Snapshots *QuorumSnapshotManager

	mu       sync.Mutex
	sessions map[uint64]time.Time // DKG sessions by quorum height
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
	tips     chan uint64
	now      func() time.Time
	log      log.Logger
}

// dkgSessionLifetime is how long finished DKG session data is kept.
const dkgSessionLifetime = time.Hour

func NewLLMQContext(evo *EvoDB) *LLMQContext {
	return &LLMQContext{
		Snapshots: NewQuorumSnapshotManager(evo),
		sessions:  make(map[uint64]time.Time),
		tips:      make(chan uint64, 16),
		now:       time.Now,
		log:       log.New("module", "llmq"),
	}
}

// Start launches the quorum worker.
func (l *LLMQContext) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.quit = make(chan struct{})
	l.wg.Add(1)
	go l.loop(l.quit)
}

// Stop interrupts and joins the worker.
func (l *LLMQContext) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.quit)
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *LLMQContext) loop(quit chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case height := <-l.tips:
			l.mu.Lock()
			if _, ok := l.sessions[height]; !ok {
				l.sessions[height] = l.now()
			}
			l.mu.Unlock()
		case <-quit:
			return
		}
	}
}

// UpdatedBlockTip schedules the DKG bookkeeping of the new tip.
func (l *LLMQContext) UpdatedBlockTip(ev signals.TipEvent) {
	if ev.InitialDownload {
		return
	}
	select {
	case l.tips <- ev.Height:
	default:
	}
}

// CleanupDKGCache drops expired DKG session data.
func (l *LLMQContext) CleanupDKGCache() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for height, started := range l.sessions {
		if now.Sub(started) > dkgSessionLifetime {
			delete(l.sessions, height)
		}
	}
	return nil
}

// Sessions returns the number of tracked DKG sessions.
func (l *LLMQContext) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// Notifications forwards validation events to the second-tier managers.
type Notifications struct {
	signals.NopListener

	Sync       *MasternodeSync
	Governance *GovernanceManager // nil when governance is disabled
	DMN        *DeterministicMNManager
	LLMQ       *LLMQContext
	Active     *ActiveMasternode // nil outside masternode mode
}

func (n *Notifications) UpdatedBlockTip(ev signals.TipEvent) {
	if n.Sync != nil {
		n.Sync.UpdatedBlockTip(ev)
	}
	if n.Governance != nil && !ev.InitialDownload {
		n.Governance.UpdatedBlockTip(ev.Height)
	}
	if n.LLMQ != nil {
		n.LLMQ.UpdatedBlockTip(ev)
	}
	if n.Active != nil {
		n.Active.UpdatedBlockTip(ev)
	}
}

func (n *Notifications) BlockConnected(ev signals.BlockEvent) {
	if n.DMN != nil {
		n.DMN.BlockConnected(ev)
	}
}

func (n *Notifications) BlockDisconnected(ev signals.BlockEvent) {
	if n.DMN != nil {
		n.DMN.BlockDisconnected(ev)
	}
}
