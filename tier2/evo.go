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
	"encoding/binary"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/kvdb"
	"github.com/springbok/springbokd/log"
)

var (
	evoTipKey        = []byte("evo_tip") // hash of the block the evo data reflects
	mnPrefix         = []byte("dmn_M")   // mnPrefix + proTxHash -> json masternode
	mnListPrefix     = []byte("dmn_S")   // mnListPrefix + height(8) + hash -> list size(4)
	quorumSnapPrefix = []byte("llmq_S")  // quorumSnapPrefix + blockhash -> json snapshot
)

// listCacheSize is how many per-block list entries DoMaintenance keeps.
const listCacheSize = 576

// EvoDB stores the deterministic masternode data.
type EvoDB struct {
	db kvdb.KeyValueStore
}

func NewEvoDB(db kvdb.KeyValueStore) *EvoDB { return &EvoDB{db: db} }

// IsEmpty reports whether nothing was ever written.
func (e *EvoDB) IsEmpty() bool { return kvdb.IsEmpty(e.db) }

// BestBlock returns the block the stored data reflects.
func (e *EvoDB) BestBlock() common.Hash {
	v, err := e.db.Get(evoTipKey)
	if err != nil {
		return common.Hash{}
	}
	return common.BytesToHash(v)
}

// Masternode is a registered masternode.
type Masternode struct {
	ProTxHash  common.Hash         `json:"proTxHash"`
	Collateral chainstate.Outpoint `json:"collateral"`
	Service    string              `json:"service"`
	Registered uint64              `json:"registeredHeight"`
}

// DeterministicMNManager tracks the masternode list along the active chain.
type DeterministicMNManager struct {
	signals.NopListener

	evo *EvoDB
	mu  sync.Mutex
	mns map[common.Hash]*Masternode
	tip uint64
	log log.Logger
}

// NewDeterministicMNManager loads the registered masternodes from the evo DB.
func NewDeterministicMNManager(evo *EvoDB) (*DeterministicMNManager, error) {
	m := &DeterministicMNManager{evo: evo, mns: make(map[common.Hash]*Masternode), log: log.New("module", "dmn")}
	it := evo.db.NewIterator(mnPrefix, nil)
	defer it.Release()
	for it.Next() {
		mn := new(Masternode)
		if err := json.Unmarshal(it.Value(), mn); err != nil {
			return nil, err
		}
		m.mns[mn.ProTxHash] = mn
	}
	return m, it.Error()
}

// Register adds a masternode to the list.
func (m *DeterministicMNManager) Register(mn *Masternode) error {
	enc, err := json.Marshal(mn)
	if err != nil {
		return err
	}
	if err := m.evo.db.Put(append(append([]byte{}, mnPrefix...), mn.ProTxHash[:]...), enc); err != nil {
		return err
	}
	m.mu.Lock()
	m.mns[mn.ProTxHash] = mn
	m.mu.Unlock()
	return nil
}

// Masternodes returns the list sorted by registration hash.
func (m *DeterministicMNManager) Masternodes() []*Masternode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Masternode, 0, len(m.mns))
	for _, mn := range m.mns {
		out = append(out, mn)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].ProTxHash[:]) < string(out[j].ProTxHash[:])
	})
	return out
}

// Has reports whether proTxHash is registered.
func (m *DeterministicMNManager) Has(proTxHash common.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mns[proTxHash]
	return ok
}

func listKey(height uint64, hash common.Hash) []byte {
	k := append([]byte{}, mnListPrefix...)
	k = binary.BigEndian.AppendUint64(k, height)
	return append(k, hash[:]...)
}

// BlockConnected records the list state at the block.
func (m *DeterministicMNManager) BlockConnected(ev signals.BlockEvent) {
	m.mu.Lock()
	size := uint32(len(m.mns))
	m.tip = ev.Height
	m.mu.Unlock()

	batch := m.evo.db.NewBatch()
	batch.Put(listKey(ev.Height, ev.Hash), binary.BigEndian.AppendUint32(nil, size))
	batch.Put(evoTipKey, ev.Hash[:])
	if err := batch.Write(); err != nil {
		m.log.Error("Failed to write masternode list", "hash", ev.Hash, "err", err)
	}
}

// BlockDisconnected drops the list state of the block.
func (m *DeterministicMNManager) BlockDisconnected(ev signals.BlockEvent) {
	if err := m.evo.db.Delete(listKey(ev.Height, ev.Hash)); err != nil {
		m.log.Error("Failed to undo masternode list", "hash", ev.Hash, "err", err)
	}
}

// DoMaintenance drops per-block list entries far below the tip.
func (m *DeterministicMNManager) DoMaintenance() error {
	m.mu.Lock()
	tip := m.tip
	m.mu.Unlock()
	if tip <= listCacheSize {
		return nil
	}
	limit := binary.BigEndian.AppendUint64(append([]byte{}, mnListPrefix...), tip-listCacheSize)

	it := m.evo.db.NewIterator(mnListPrefix, nil)
	defer it.Release()
	batch := m.evo.db.NewBatch()
	for it.Next() {
		if string(it.Key()) >= string(limit) {
			break
		}
		batch.Delete(append([]byte{}, it.Key()...))
	}
	if err := it.Error(); err != nil {
		return err
	}
	return batch.Write()
}

// CollateralWarmup returns a task touching every collateral coin so it sits
// in the coin cache before the first block after startup.
func (m *DeterministicMNManager) CollateralWarmup(chain Chain) func(quit <-chan struct{}) error {
	return func(quit <-chan struct{}) error {
		mns := m.Masternodes()
		missing := 0
		for _, mn := range mns {
			select {
			case <-quit:
				return nil
			default:
			}
			if _, ok := chain.GetCoin(mn.Collateral); !ok {
				missing++
			}
		}
		m.log.Info("Warmed masternode collaterals", "count", len(mns), "missing", missing)
		return nil
	}
}

// QuorumSnapshot describes which masternodes were skipped when a quorum was
// built.
type QuorumSnapshot struct {
	ActiveMembers []bool `json:"activeQuorumMembers"`
	SkipMode      int    `json:"skipListMode"`
	SkipList      []int  `json:"skipList"`
}

// QuorumSnapshotManager persists quorum snapshots in the evo DB.
type QuorumSnapshotManager struct {
	evo   *EvoDB
	mu    sync.Mutex
	cache map[common.Hash]*QuorumSnapshot
}

func NewQuorumSnapshotManager(evo *EvoDB) *QuorumSnapshotManager {
	return &QuorumSnapshotManager{evo: evo, cache: make(map[common.Hash]*QuorumSnapshot)}
}

var errNoSnapshot = errors.New("quorum snapshot not found")

func (q *QuorumSnapshotManager) Store(block common.Hash, snap *QuorumSnapshot) error {
	enc, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := q.evo.db.Put(append(append([]byte{}, quorumSnapPrefix...), block[:]...), enc); err != nil {
		return err
	}
	q.mu.Lock()
	q.cache[block] = snap
	q.mu.Unlock()
	return nil
}

func (q *QuorumSnapshotManager) Get(block common.Hash) (*QuorumSnapshot, error) {
	q.mu.Lock()
	snap, ok := q.cache[block]
	q.mu.Unlock()
	if ok {
		return snap, nil
	}
	enc, err := q.evo.db.Get(append(append([]byte{}, quorumSnapPrefix...), block[:]...))
	if errors.Is(err, kvdb.ErrNotFound) {
		return nil, errNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	snap = new(QuorumSnapshot)
	if err := json.Unmarshal(enc, snap); err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.cache[block] = snap
	q.mu.Unlock()
	return snap, nil
}
