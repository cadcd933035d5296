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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/springbok/springbokd/common"
)

// MasternodeMeta is the locally observed, non-consensus state of a masternode.
type MasternodeMeta struct {
	LastDSQ             int64 `json:"lastDsq"`
	MixingTxCount       int   `json:"mixingTxCount"`
	LastOutboundAttempt int64 `json:"lastOutboundAttempt"`
	LastOutboundSuccess int64 `json:"lastOutboundSuccess"`
}

// MetaStore keeps MasternodeMeta by provider registration hash.
type MetaStore struct {
	mu      sync.Mutex
	metas   map[common.Hash]*MasternodeMeta
	dsqSeen int64
}

func NewMetaStore() *MetaStore {
	return &MetaStore{metas: make(map[common.Hash]*MasternodeMeta)}
}

func (s *MetaStore) get(pro common.Hash) *MasternodeMeta {
	m, ok := s.metas[pro]
	if !ok {
		m = new(MasternodeMeta)
		s.metas[pro] = m
	}
	return m
}

// AddDSQ records a mixing queue announcement of the masternode.
func (s *MetaStore) AddDSQ(pro common.Hash) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dsqSeen++
	m := s.get(pro)
	m.LastDSQ = s.dsqSeen
	m.MixingTxCount = 0
	return s.dsqSeen
}

// AddOutboundAttempt notes a connection attempt, successful or not.
func (s *MetaStore) AddOutboundAttempt(pro common.Hash, success bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.get(pro)
	m.LastOutboundAttempt = now.Unix()
	if success {
		m.LastOutboundSuccess = now.Unix()
	}
}

// Meta returns a copy of the meta info of the masternode.
func (s *MetaStore) Meta(pro common.Hash) (MasternodeMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metas[pro]
	if !ok {
		return MasternodeMeta{}, false
	}
	return *m, true
}

// Remove drops masternodes that are no longer in the list.
func (s *MetaStore) Remove(keep func(pro common.Hash) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pro := range s.metas {
		if !keep(pro) {
			delete(s.metas, pro)
		}
	}
}

func (s *MetaStore) CheckAndRemove() {}

func (s *MetaStore) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("Masternodes: meta infos object count: %d, nDsqCount: %d", len(s.metas), s.dsqSeen)
}

type metaStoreJSON struct {
	Metas   map[common.Hash]*MasternodeMeta `json:"metas"`
	DSQSeen int64                           `json:"dsqCount"`
}

func (s *MetaStore) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(metaStoreJSON{Metas: s.metas, DSQSeen: s.dsqSeen})
}

func (s *MetaStore) UnmarshalJSON(data []byte) error {
	var dec metaStoreJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas, s.dsqSeen = dec.Metas, dec.DSQSeen
	if s.metas == nil {
		s.metas = make(map[common.Hash]*MasternodeMeta)
	}
	return nil
}

// FulfilledRequestLifetime is how long a fulfilled request is remembered.
const FulfilledRequestLifetime = time.Hour

// FulfilledRequests remembers which requests were already served to which
// peer address, so they are not answered again within the lifetime.
type FulfilledRequests struct {
	mu       sync.Mutex
	requests map[string]map[string]int64 // addr -> request -> expiry (unix)
	now      func() time.Time
}

func NewFulfilledRequests() *FulfilledRequests {
	return &FulfilledRequests{requests: make(map[string]map[string]int64), now: time.Now}
}

// Add marks the request of addr as fulfilled.
func (f *FulfilledRequests) Add(addr, request string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs, ok := f.requests[addr]
	if !ok {
		reqs = make(map[string]int64)
		f.requests[addr] = reqs
	}
	reqs[request] = f.now().Add(FulfilledRequestLifetime).Unix()
}

// Has reports whether the request of addr was fulfilled and has not expired.
func (f *FulfilledRequests) Has(addr, request string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	expiry, ok := f.requests[addr][request]
	return ok && expiry > f.now().Unix()
}

// RemoveAll forgets every request of addr.
func (f *FulfilledRequests) RemoveAll(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.requests, addr)
}

// DoMaintenance expires old requests.
func (f *FulfilledRequests) DoMaintenance() error {
	f.CheckAndRemove()
	return nil
}

func (f *FulfilledRequests) CheckAndRemove() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now().Unix()
	for addr, reqs := range f.requests {
		for req, expiry := range reqs {
			if expiry <= now {
				delete(reqs, req)
			}
		}
		if len(reqs) == 0 {
			delete(f.requests, addr)
		}
	}
}

func (f *FulfilledRequests) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("Nodes with fulfilled requests: %d", len(f.requests))
}

func (f *FulfilledRequests) MarshalJSON() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.Marshal(f.requests)
}

func (f *FulfilledRequests) UnmarshalJSON(data []byte) error {
	var dec map[string]map[string]int64
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	if dec == nil {
		dec = make(map[string]map[string]int64)
	}
	f.mu.Lock()
	f.requests = dec
	f.mu.Unlock()
	return nil
}

// Governance object types.
const (
	GovernanceProposal   = 1
	GovernanceTrigger    = 2
	GovernanceDeleteTime = 10 * time.Minute
)

// GovernanceObject is a proposal or trigger along with its vote tally. The
// payload is never interpreted here.
type GovernanceObject struct {
	Type     int    `json:"type"`
	Created  int64  `json:"created"`
	Expires  int64  `json:"expires"`
	Deleted  int64  `json:"deleted,omitempty"`
	Payload  []byte `json:"payload"`
	YesVotes int    `json:"yes"`
	NoVotes  int    `json:"no"`
}

// GovernanceManager holds the governance objects seen on the network.
type GovernanceManager struct {
	mu      sync.Mutex
	objects map[common.Hash]*GovernanceObject
	height  uint64
	now     func() time.Time
}

func NewGovernanceManager() *GovernanceManager {
	return &GovernanceManager{objects: make(map[common.Hash]*GovernanceObject), now: time.Now}
}

// Add stores an object, replacing an earlier copy.
func (g *GovernanceManager) Add(hash common.Hash, obj *GovernanceObject) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[hash] = obj
}

// Count returns the number of proposals and triggers.
func (g *GovernanceManager) Count() (proposals, triggers int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, obj := range g.objects {
		switch obj.Type {
		case GovernanceProposal:
			proposals++
		case GovernanceTrigger:
			triggers++
		}
	}
	return proposals, triggers
}

// UpdatedBlockTip remembers the height objects are judged against.
func (g *GovernanceManager) UpdatedBlockTip(height uint64) {
	g.mu.Lock()
	g.height = height
	g.mu.Unlock()
}

// DoMaintenance marks expired objects deleted and removes the ones deleted
// long enough ago.
func (g *GovernanceManager) DoMaintenance() error {
	g.CheckAndRemove()
	return nil
}

func (g *GovernanceManager) CheckAndRemove() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for hash, obj := range g.objects {
		if obj.Deleted == 0 && obj.Expires != 0 && obj.Expires <= now.Unix() {
			obj.Deleted = now.Unix()
		}
		if obj.Deleted != 0 && now.Sub(time.Unix(obj.Deleted, 0)) >= GovernanceDeleteTime {
			delete(g.objects, hash)
		}
	}
}

func (g *GovernanceManager) String() string {
	proposals, triggers := g.Count()
	return fmt.Sprintf("Governance Objects: %d (Proposals: %d, Triggers: %d)", proposals+triggers, proposals, triggers)
}

func (g *GovernanceManager) MarshalJSON() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return json.Marshal(g.objects)
}

func (g *GovernanceManager) UnmarshalJSON(data []byte) error {
	var dec map[common.Hash]*GovernanceObject
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	if dec == nil {
		dec = make(map[common.Hash]*GovernanceObject)
	}
	g.mu.Lock()
	g.objects = dec
	g.mu.Unlock()
	return nil
}
