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

package p2p

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/log"
)

const (
	// BanScoreThreshold is the misbehavior score that gets a peer banned.
	BanScoreThreshold = 100

	readBufferSize = 4096
)

type peerState struct {
	peer     *Peer
	score    int
	received atomic.Uint64
}

// PeerLogic is the message processor of the node. It also follows the
// active chain through validation events so that it knows which tip to
// announce.
type PeerLogic struct {
	signals.NopListener

	bans *BanManager

	mu      sync.Mutex
	peers   map[int64]*peerState
	tip     atomic.Uint64
	ibd     atomic.Bool
	banTime time.Duration
	log     log.Logger
}

// NewPeerLogic creates a message processor. bans may be nil.
func NewPeerLogic(bans *BanManager, banTime time.Duration) *PeerLogic {
	pl := &PeerLogic{
		bans:    bans,
		peers:   make(map[int64]*peerState),
		banTime: banTime,
		log:     log.New("module", "peerlogic"),
	}
	pl.ibd.Store(true)
	return pl
}

// InitializeNode starts tracking p.
func (pl *PeerLogic) InitializeNode(p *Peer) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.peers[p.ID] = &peerState{peer: p}
}

// FinalizeNode forgets p.
func (pl *PeerLogic) FinalizeNode(p *Peer) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.peers, p.ID)
}

// ProcessMessages consumes the peer's stream until it fails or quit closes.
func (pl *PeerLogic) ProcessMessages(p *Peer, quit <-chan struct{}) error {
	pl.mu.Lock()
	st := pl.peers[p.ID]
	pl.mu.Unlock()
	if st == nil {
		return errors.New("peer not initialized")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-quit:
			p.Disconnect()
		case <-done:
		}
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, err := p.Conn.Read(buf)
		st.received.Add(uint64(n))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Misbehaving raises the score of a peer and bans it once the threshold is
// reached. Whitelisted peers are never banned.
func (pl *PeerLogic) Misbehaving(id int64, howmuch int, reason string) {
	pl.mu.Lock()
	st := pl.peers[id]
	if st == nil {
		pl.mu.Unlock()
		return
	}
	before := st.score
	st.score += howmuch
	after := st.score
	pl.mu.Unlock()

	pl.log.Info("Peer misbehaving", "peer", st.peer, "score", after, "reason", reason)
	if before < BanScoreThreshold && after >= BanScoreThreshold && !st.peer.Whitelisted {
		if pl.bans != nil {
			pl.bans.BanAddr(st.peer.Addr.Addr(), pl.banTime, reason)
		}
		st.peer.Disconnect()
	}
}

// BytesReceived returns the traffic received from a peer.
func (pl *PeerLogic) BytesReceived(id int64) uint64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if st := pl.peers[id]; st != nil {
		return st.received.Load()
	}
	return 0
}

// Tracked returns the number of live peers.
func (pl *PeerLogic) Tracked() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.peers)
}

// UpdatedBlockTip records the new tip.
func (pl *PeerLogic) UpdatedBlockTip(ev signals.TipEvent) {
	pl.tip.Store(ev.Height)
	pl.ibd.Store(ev.InitialDownload)
}

// BestHeight returns the height of the last announced tip.
func (pl *PeerLogic) BestHeight() uint64 { return pl.tip.Load() }

// InitialDownload reports whether the last tip update was during initial
// block download.
func (pl *PeerLogic) InitialDownload() bool { return pl.ibd.Load() }
