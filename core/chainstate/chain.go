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

// Package chainstate maintains the block index, the active chain and the coin
// set, and implements the startup loader that decides whether they can be
// used as found on disk.
package chainstate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/checkqueue"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/params"
)

const (
	// maxTipAge is the tip age after which the node considers itself in
	// initial block download.
	maxTipAge = 24 * time.Hour

	// dirtyCoinsFlushLimit triggers a coin flush while connecting blocks.
	dirtyCoinsFlushLimit = 200_000
)

// Config carries the collaborators of a ChainState.
type Config struct {
	Params    *params.ChainParams
	Validator Validator         // nil means NopValidator
	Checks    *checkqueue.Queue // nil runs deferred checks inline
	Signals   *signals.Dispatcher
}

// ChainState owns the block index, the active chain and the coin cache. Its
// mutex is the chain state lock: every mutation of the index or the coin
// views happens under it.
type ChainState struct {
	mu sync.Mutex

	params    *params.ChainParams
	validator Validator
	checks    *checkqueue.Queue
	signals   *signals.Dispatcher

	tree    *BlockTreeDB
	coinsDB *CoinsDB
	coins   *CoinsCache
	blocks  *blockfile.Store

	index    map[common.Hash]*BlockIndexEntry
	dirty    map[*BlockIndexEntry]struct{}
	chain    []*BlockIndexEntry // active chain indexed by height
	sequence uint64

	reindexing bool
	pruned     bool
	importing  atomic.Bool

	log log.Logger
}

// New creates a chain state over opened databases. Nothing is read until
// LoadBlockIndex is called.
func New(cfg Config, tree *BlockTreeDB, coinsDB *CoinsDB, blocks *blockfile.Store) *ChainState {
	if cfg.Validator == nil {
		cfg.Validator = NopValidator{}
	}
	if cfg.Signals == nil {
		cfg.Signals = signals.NewDispatcher()
	}
	return &ChainState{
		params:    cfg.Params,
		validator: cfg.Validator,
		checks:    cfg.Checks,
		signals:   cfg.Signals,
		tree:      tree,
		coinsDB:   coinsDB,
		blocks:    blocks,
		index:     make(map[common.Hash]*BlockIndexEntry),
		dirty:     make(map[*BlockIndexEntry]struct{}),
		log:       log.New("module", "chainstate"),
	}
}

// Params returns the network parameters of the chain.
func (cs *ChainState) Params() *params.ChainParams { return cs.params }

// Blocks returns the block file store.
func (cs *ChainState) Blocks() *blockfile.Store { return cs.blocks }

// LoadBlockIndex reads every stored index entry, links it to its parent and
// recomputes the cumulative work. It also restores the reindexing and
// pruning markers.
func (cs *ChainState) LoadBlockIndex() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var entries []*BlockIndexEntry
	err := cs.tree.ReadEntries(func(e *BlockIndexEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Height < entries[j].Height })

	cs.index = make(map[common.Hash]*BlockIndexEntry, len(entries))
	cs.dirty = make(map[*BlockIndexEntry]struct{})
	cs.chain = nil
	for _, e := range entries {
		cs.index[e.Hash] = e
	}
	for _, e := range entries {
		work := types.CalcWork(e.Header.Bits)
		if e.Height > 0 {
			parent := cs.index[e.Header.PrevHash]
			if parent == nil || parent.Height+1 != e.Height {
				return fmt.Errorf("block index entry %s has no parent", e.Hash.TerminalString())
			}
			e.Prev = parent
			work.Add(work, parent.ChainWork)
			if parent.Failed() && !e.Failed() {
				e.Status |= StatusFailedChild
			}
		}
		e.ChainWork = work
		cs.sequence++
		e.sequence = cs.sequence
	}
	if cs.reindexing, err = cs.tree.ReadReindexing(); err != nil {
		return err
	}
	if cs.pruned, _, err = cs.tree.ReadFlag(FlagPrunedBlockFiles); err != nil {
		return err
	}
	if len(entries) > 0 {
		cs.log.Info("Loaded block index", "entries", len(entries), "reindexing", cs.reindexing)
	}
	return nil
}

// BlockIndexSize returns the number of known blocks.
func (cs *ChainState) BlockIndexSize() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.index)
}

// LookupBlock returns the index entry of a known block.
func (cs *ChainState) LookupBlock(hash common.Hash) *BlockIndexEntry {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.index[hash]
}

// Reindexing reports whether a reindex is in progress.
func (cs *ChainState) Reindexing() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.reindexing
}

// SetReindexing persists the reindexing marker.
func (cs *ChainState) SetReindexing(reindexing bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.tree.WriteReindexing(reindexing); err != nil {
		return err
	}
	cs.reindexing = reindexing
	return nil
}

// FinishReindex clears the reindexing marker and makes sure the genesis
// block is present.
func (cs *ChainState) FinishReindex() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.tree.WriteReindexing(false); err != nil {
		return err
	}
	cs.reindexing = false
	return cs.loadGenesisLocked()
}

// SetImporting marks whether block files are being imported.
func (cs *ChainState) SetImporting(importing bool) { cs.importing.Store(importing) }

// Importing reports whether block files are being imported.
func (cs *ChainState) Importing() bool { return cs.importing.Load() }

// HavePruned reports whether block files were ever pruned.
func (cs *ChainState) HavePruned() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pruned
}

// SetPruned persists the pruned marker.
func (cs *ChainState) SetPruned() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.tree.WriteFlag(FlagPrunedBlockFiles, true); err != nil {
		return err
	}
	cs.pruned = true
	return nil
}

// LoadGenesisBlock stores the genesis block unless it is already indexed.
func (cs *ChainState) LoadGenesisBlock() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.loadGenesisLocked()
}

func (cs *ChainState) loadGenesisLocked() error {
	genesis := cs.params.Genesis()
	if _, ok := cs.index[genesis.Hash()]; ok {
		return nil
	}
	if _, err := cs.acceptBlock(genesis, nil); err != nil {
		return fmt.Errorf("failed to write genesis block: %w", err)
	}
	return cs.flushIndexLocked()
}

// InitCoinsCache creates the in-memory coin cache.
func (cs *ChainState) InitCoinsCache(size int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.coins = NewCoinsCache(cs.coinsDB, size)
}

// CoinsBestBlock returns the block the flushed coin set reflects.
func (cs *ChainState) CoinsBestBlock() common.Hash {
	return cs.coinsDB.BestBlock()
}

// LoadChainTip rebuilds the active chain from the coin set's best block.
func (cs *ChainState) LoadChainTip() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.coins == nil {
		return ErrCoinsViewClosed
	}
	best := cs.coins.BestBlock()
	tip := cs.index[best]
	if tip == nil {
		return fmt.Errorf("coins best block %s not in block index", best.TerminalString())
	}
	cs.setChainLocked(tip)
	cs.log.Info("Loaded best chain", "height", tip.Height, "hash", tip.Hash, "date", tip.Time().UTC().Format(time.RFC3339))
	return nil
}

// setChainLocked makes tip the head of the active chain.
func (cs *ChainState) setChainLocked(tip *BlockIndexEntry) {
	chain := make([]*BlockIndexEntry, tip.Height+1)
	for e := tip; e != nil; e = e.Prev {
		chain[e.Height] = e
	}
	cs.chain = chain
}

// Tip returns the head of the active chain, or nil.
func (cs *ChainState) Tip() *BlockIndexEntry {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.tipLocked()
}

func (cs *ChainState) tipLocked() *BlockIndexEntry {
	if len(cs.chain) == 0 {
		return nil
	}
	return cs.chain[len(cs.chain)-1]
}

// Height returns the height of the active chain, -1 without a tip.
func (cs *ChainState) Height() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return int64(len(cs.chain)) - 1
}

// BlockAt returns the active chain entry at height.
func (cs *ChainState) BlockAt(height uint64) *BlockIndexEntry {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if height >= uint64(len(cs.chain)) {
		return nil
	}
	return cs.chain[height]
}

// ReadBlock loads the data of an indexed block.
func (cs *ChainState) ReadBlock(e *BlockIndexEntry) (*types.Block, error) {
	if !e.HaveData() {
		return nil, fmt.Errorf("block %s not available", e.Hash.TerminalString())
	}
	block, err := cs.blocks.ReadBlock(e.Pos)
	if err != nil {
		return nil, err
	}
	if block.Hash() != e.Hash {
		return nil, fmt.Errorf("block at %s does not match index entry %s", e.Pos, e.Hash.TerminalString())
	}
	return block, nil
}

// GetCoin looks up an unspent output.
func (cs *ChainState) GetCoin(op Outpoint) (*Coin, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.coins == nil {
		return nil, false
	}
	return cs.coins.GetCoin(op)
}

// HaveCoinInCache reports whether an output is held in the coin cache.
func (cs *ChainState) HaveCoinInCache(op Outpoint) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.coins != nil && cs.coins.HaveCoinInCache(op)
}

// UTXOStats flushes the coin cache and summarizes the coin set.
func (cs *ChainState) UTXOStats() (UTXOStats, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.flushLocked(); err != nil {
		return UTXOStats{}, err
	}
	return cs.coinsDB.Stats()
}

// InitialDownload reports whether the node is still catching up.
func (cs *ChainState) InitialDownload() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.initialDownloadLocked()
}

func (cs *ChainState) initialDownloadLocked() bool {
	if cs.importing.Load() || cs.reindexing {
		return true
	}
	tip := cs.tipLocked()
	return tip == nil || time.Since(tip.Time()) > maxTipAge
}

// ProcessBlock adds a block to the block index. Blocks read from the block
// files during a reindex carry their position; all others are appended to the
// block files first. Already known blocks are ignored.
func (cs *ChainState) ProcessBlock(block *types.Block, pos *blockfile.FilePos) error {
	if !block.CheckMerkleRoot() {
		return &ValidationError{Hash: block.Hash(), Reason: "bad-txnmrklroot"}
	}
	if err := cs.validator.CheckBlock(block); err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, err := cs.acceptBlock(block, pos)
	return err
}

func (cs *ChainState) acceptBlock(block *types.Block, pos *blockfile.FilePos) (*BlockIndexEntry, error) {
	hash := block.Hash()
	if e, ok := cs.index[hash]; ok && e.HaveData() {
		return e, nil
	}
	header := block.Header()

	var parent *BlockIndexEntry
	if header.PrevHash.IsZero() {
		if hash != cs.params.GenesisHash() {
			return nil, &ValidationError{Hash: hash, Reason: "unexpected genesis block"}
		}
	} else if parent = cs.index[header.PrevHash]; parent == nil {
		return nil, ErrUnknownParent
	}
	var diskPos blockfile.FilePos
	if pos != nil {
		diskPos = *pos
	} else {
		var err error
		if diskPos, err = cs.blocks.WriteBlock(block); err != nil {
			return nil, err
		}
	}
	e := &BlockIndexEntry{
		Hash:      hash,
		Header:    header,
		Prev:      parent,
		ChainWork: types.CalcWork(header.Bits),
		Status:    StatusValidTree | StatusHaveData,
		Pos:       diskPos,
	}
	if parent != nil {
		e.Height = parent.Height + 1
		e.ChainWork.Add(e.ChainWork, parent.ChainWork)
		if parent.Failed() {
			e.Status |= StatusFailedChild
		}
	}
	cs.sequence++
	e.sequence = cs.sequence
	cs.index[hash] = e
	cs.dirty[e] = struct{}{}
	return e, nil
}

// ActivateBestChain moves the active chain to the valid branch with the most
// cumulative work, disconnecting and connecting blocks as needed.
func (cs *ChainState) ActivateBestChain() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.coins == nil {
		return ErrCoinsViewClosed
	}
	start := cs.tipLocked()
	for {
		best := cs.bestCandidateLocked()
		tip := cs.tipLocked()
		if best == nil || (tip != nil && !best.ChainWork.Gt(tip.ChainWork)) {
			break
		}
		err := cs.reorgLocked(tip, best)
		var verr *ValidationError
		if errors.As(err, &verr) && cs.index[verr.Hash] != nil {
			cs.log.Warn("Invalid block", "hash", verr.Hash, "reason", verr.Reason)
			cs.invalidateLocked(cs.index[verr.Hash])
			continue
		}
		if err != nil {
			return err
		}
	}
	if tip := cs.tipLocked(); tip != nil && tip != start {
		var fork uint64
		if start != nil {
			if f := findFork(start, tip); f != nil {
				fork = f.Height
			}
		}
		cs.signals.UpdatedBlockTip(signals.TipEvent{
			Hash:            tip.Hash,
			Height:          tip.Height,
			ForkHeight:      fork,
			InitialDownload: cs.initialDownloadLocked(),
		})
		if !cs.importing.Load() {
			cs.log.Info("New best chain", "height", tip.Height, "hash", tip.Hash, "work", tip.ChainWork)
		}
	}
	if cs.coins.DirtyCount() > dirtyCoinsFlushLimit {
		return cs.flushLocked()
	}
	return nil
}

// bestCandidateLocked returns the most-work entry whose branch has all data
// and contains no failed block.
func (cs *ChainState) bestCandidateLocked() *BlockIndexEntry {
	var best *BlockIndexEntry
	for _, e := range cs.index {
		if e.Failed() || !e.HaveData() {
			continue
		}
		if best != nil {
			if c := e.ChainWork.Cmp(best.ChainWork); c < 0 || (c == 0 && e.sequence > best.sequence) {
				continue
			}
		}
		if cs.connectableLocked(e) {
			best = e
		}
	}
	return best
}

func (cs *ChainState) connectableLocked(e *BlockIndexEntry) bool {
	for walk := e; walk != nil; walk = walk.Prev {
		if walk.Height < uint64(len(cs.chain)) && cs.chain[walk.Height] == walk {
			return true
		}
		if walk.Failed() || !walk.HaveData() {
			return false
		}
	}
	return true
}

func findFork(a, b *BlockIndexEntry) *BlockIndexEntry {
	for a != nil && b != nil && a != b {
		switch {
		case a.Height > b.Height:
			a = a.Prev
		case b.Height > a.Height:
			b = b.Prev
		default:
			a, b = a.Prev, b.Prev
		}
	}
	if a != b {
		return nil
	}
	return a
}

func (cs *ChainState) reorgLocked(tip, best *BlockIndexEntry) error {
	fork := findFork(tip, best)
	for t := tip; t != nil && t != fork; t = t.Prev {
		if err := cs.disconnectTipLocked(); err != nil {
			return err
		}
	}
	var path []*BlockIndexEntry
	for e := best; e != fork; e = e.Prev {
		path = append(path, e)
	}
	for i := len(path) - 1; i >= 0; i-- {
		if err := cs.connectTipLocked(path[i]); err != nil {
			return err
		}
	}
	return nil
}

func (cs *ChainState) connectTipLocked(e *BlockIndexEntry) error {
	block, err := cs.ReadBlock(e)
	if err != nil {
		return fmt.Errorf("failed to read block %d: %w", e.Height, err)
	}
	view := newOverlayView(cs.coins)
	checks, err := cs.validator.ConnectBlock(block, e.Height, view)
	var verr *ValidationError
	if errors.As(err, &verr) {
		return &ValidationError{Hash: e.Hash, Reason: verr.Reason}
	}
	if err != nil {
		return err
	}
	if err := cs.runChecks(checks); err != nil {
		return &ValidationError{Hash: e.Hash, Reason: err.Error()}
	}
	view.SetBestBlock(e.Hash)
	view.apply()

	if e.raiseValidity(StatusValidChain) {
		cs.dirty[e] = struct{}{}
	}
	cs.chain = append(cs.chain[:e.Height], e)
	cs.signals.BlockConnected(signals.BlockEvent{Hash: e.Hash, Height: e.Height, Time: e.Header.Time, Body: block.Body()})
	return nil
}

func (cs *ChainState) disconnectTipLocked() error {
	tip := cs.tipLocked()
	if tip == nil {
		return errNoTip
	}
	block, err := cs.ReadBlock(tip)
	if err != nil {
		return fmt.Errorf("failed to read block %d: %w", tip.Height, err)
	}
	if err := cs.validator.DisconnectBlock(block, tip.Height, cs.coins); err != nil {
		return fmt.Errorf("failed to disconnect block %s: %w", tip.Hash.TerminalString(), err)
	}
	var prev common.Hash
	if tip.Prev != nil {
		prev = tip.Prev.Hash
	}
	cs.coins.SetBestBlock(prev)
	cs.chain = cs.chain[:tip.Height]
	cs.signals.BlockDisconnected(signals.BlockEvent{Hash: tip.Hash, Height: tip.Height, Time: tip.Header.Time, Body: block.Body()})
	return nil
}

// invalidateLocked marks e failed and every descendant as a failed child.
func (cs *ChainState) invalidateLocked(e *BlockIndexEntry) {
	if e == nil {
		return
	}
	e.Status |= StatusFailed
	cs.dirty[e] = struct{}{}
	for _, other := range cs.index {
		if other.Height > e.Height && other.Ancestor(e.Height) == e && other.Status&StatusFailedChild == 0 {
			other.Status |= StatusFailedChild
			cs.dirty[other] = struct{}{}
		}
	}
}

func (cs *ChainState) runChecks(checks []checkqueue.Check) error {
	if len(checks) == 0 {
		return nil
	}
	if cs.checks == nil {
		for _, check := range checks {
			if err := check(); err != nil {
				return err
			}
		}
		return nil
	}
	return cs.checks.Run(checks)
}

// ForceFlush writes the dirty index entries, the coin cache and the last
// block file number to disk.
func (cs *ChainState) ForceFlush() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.flushLocked()
}

func (cs *ChainState) flushIndexLocked() error {
	if len(cs.dirty) == 0 {
		return nil
	}
	entries := make([]*BlockIndexEntry, 0, len(cs.dirty))
	for e := range cs.dirty {
		entries = append(entries, e)
	}
	if err := cs.tree.WriteEntries(entries); err != nil {
		return err
	}
	cs.dirty = make(map[*BlockIndexEntry]struct{})
	return nil
}

func (cs *ChainState) flushLocked() error {
	if err := cs.flushIndexLocked(); err != nil {
		return fmt.Errorf("failed to write block index: %w", err)
	}
	if err := cs.tree.WriteLastFile(cs.blocks.LastFile()); err != nil {
		return err
	}
	if cs.coins == nil {
		return nil
	}
	if err := cs.coins.Flush(); err != nil {
		return fmt.Errorf("failed to write coin database: %w", err)
	}
	cs.signals.ChainStateFlushed(cs.coins.BestBlock())
	return nil
}

// ResetCoinsViews drops the coin cache. Later coin lookups fail until
// InitCoinsCache is called again.
func (cs *ChainState) ResetCoinsViews() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.coins = nil
}

// CoinsMemoryUsage returns the size of the coin cache in bytes.
func (cs *ChainState) CoinsMemoryUsage() uint64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.coins == nil {
		return 0
	}
	return cs.coins.MemoryUsage()
}

// ChainWork returns the cumulative work of the active chain.
func (cs *ChainState) ChainWork() *uint256.Int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if tip := cs.tipLocked(); tip != nil {
		return new(uint256.Int).Set(tip.ChainWork)
	}
	return new(uint256.Int)
}
