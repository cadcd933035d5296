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
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/springbok/springbokd/core/types"
	"golang.org/x/crypto/ripemd160"
)

// SporkID identifies a network-wide feature switch.
type SporkID int32

const (
	SporkInstantSendEnabled     SporkID = 10001
	SporkInstantSendBlockFilter SporkID = 10002
	SporkSuperblocksEnabled     SporkID = 10008
	SporkQuorumDKGEnabled       SporkID = 10016
	SporkChainLocksEnabled      SporkID = 10018
	SporkQuorumAllConnected     SporkID = 10020
	SporkQuorumPoSe             SporkID = 10022
)

const (
	sporkOff                int64 = 4070908800 // 2099-01-01
	sporkAddressPayloadSize       = 20
)

var sporkDefs = []struct {
	id   SporkID
	name string
	def  int64
}{
	{SporkInstantSendEnabled, "SPORK_2_INSTANTSEND_ENABLED", 0},
	{SporkInstantSendBlockFilter, "SPORK_3_INSTANTSEND_BLOCK_FILTERING", 0},
	{SporkSuperblocksEnabled, "SPORK_9_SUPERBLOCKS_ENABLED", sporkOff},
	{SporkQuorumDKGEnabled, "SPORK_17_QUORUM_DKG_ENABLED", sporkOff},
	{SporkChainLocksEnabled, "SPORK_19_CHAINLOCKS_ENABLED", sporkOff},
	{SporkQuorumAllConnected, "SPORK_21_QUORUM_ALL_CONNECTED", sporkOff},
	{SporkQuorumPoSe, "SPORK_23_QUORUM_POSE", sporkOff},
}

var (
	errInvalidSporkAddress = errors.New("Invalid spork address specified with -sporkaddr")
	errInvalidMinSporkKeys = errors.New("Invalid minimum number of spork signers specified with -minsporkkeys")
	errInvalidSporkKey     = errors.New("Unable to sign spork message, wrong key?")
	errUnknownSpork        = errors.New("unknown spork")
	errNoSporkKey          = errors.New("no spork key set")
)

// SporkMessage is a signed spork value.
type SporkMessage struct {
	ID         SporkID `json:"id"`
	Value      int64   `json:"value"`
	TimeSigned int64   `json:"timeSigned"`
	Sig        []byte  `json:"sig"`
}

func (m *SporkMessage) sigHash() []byte {
	buf := make([]byte, 0, 20)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.ID))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.Value))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.TimeSigned))
	h := types.DoubleHash(buf)
	return h[:]
}

// signer recovers the key id that produced the signature.
func (m *SporkMessage) signer() ([sporkAddressPayloadSize]byte, error) {
	pub, _, err := ecdsa.RecoverCompact(m.Sig, m.sigHash())
	if err != nil {
		return [sporkAddressPayloadSize]byte{}, err
	}
	return hash160(pub.SerializeCompressed()), nil
}

func hash160(data []byte) [sporkAddressPayloadSize]byte {
	sha := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sha[:])
	var id [sporkAddressPayloadSize]byte
	copy(id[:], h.Sum(nil))
	return id
}

// SporkManager keeps the latest spork values accepted from the configured
// spork signers.
type SporkManager struct {
	mu      sync.RWMutex
	active  map[SporkID]map[[sporkAddressPayloadSize]byte]*SporkMessage
	signers map[[sporkAddressPayloadSize]byte]struct{}
	minKeys int
	key     *secp256k1.PrivateKey
	now     func() time.Time
}

func NewSporkManager() *SporkManager {
	return &SporkManager{
		active:  make(map[SporkID]map[[sporkAddressPayloadSize]byte]*SporkMessage),
		signers: make(map[[sporkAddressPayloadSize]byte]struct{}),
		now:     time.Now,
	}
}

// SetSporkAddress adds a signer address.
func (s *SporkManager) SetSporkAddress(addr string) error {
	payload, _, err := base58.CheckDecode(addr)
	if err != nil || len(payload) != sporkAddressPayloadSize {
		return errInvalidSporkAddress
	}
	var id [sporkAddressPayloadSize]byte
	copy(id[:], payload)
	s.mu.Lock()
	s.signers[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

// SetMinSporkKeys sets how many signers must agree on a value.
func (s *SporkManager) SetMinSporkKeys(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= len(s.signers)/2 || n > len(s.signers) {
		return errInvalidMinSporkKeys
	}
	s.minKeys = n
	return nil
}

// SetPrivKey installs the WIF encoded signing key. The key must belong to
// one of the signer addresses.
func (s *SporkManager) SetPrivKey(wif string) error {
	payload, _, err := base58.CheckDecode(wif)
	if err != nil {
		return errInvalidSporkKey
	}
	if len(payload) == secp256k1.PrivKeyBytesLen+1 && payload[secp256k1.PrivKeyBytesLen] == 1 {
		payload = payload[:secp256k1.PrivKeyBytesLen]
	}
	if len(payload) != secp256k1.PrivKeyBytesLen {
		return errInvalidSporkKey
	}
	key := secp256k1.PrivKeyFromBytes(payload)
	id := hash160(key.PubKey().SerializeCompressed())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signers[id]; !ok {
		return errInvalidSporkKey
	}
	s.key = key
	return nil
}

// UpdateSpork signs a new value with the local key and applies it.
func (s *SporkManager) UpdateSpork(id SporkID, value int64) error {
	if _, ok := sporkName(id); !ok {
		return errUnknownSpork
	}
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key == nil {
		return errNoSporkKey
	}
	msg := &SporkMessage{ID: id, Value: value, TimeSigned: s.now().Unix()}
	msg.Sig = ecdsa.SignCompact(key, msg.sigHash(), true)
	return s.ProcessSpork(msg)
}

// ProcessSpork accepts a spork message from a known signer.
func (s *SporkManager) ProcessSpork(msg *SporkMessage) error {
	if _, ok := sporkName(msg.ID); !ok {
		return errUnknownSpork
	}
	signer, err := msg.signer()
	if err != nil {
		return fmt.Errorf("invalid spork signature: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signers[signer]; !ok {
		return errors.New("spork signed by unknown key")
	}
	bySigner, ok := s.active[msg.ID]
	if !ok {
		bySigner = make(map[[sporkAddressPayloadSize]byte]*SporkMessage)
		s.active[msg.ID] = bySigner
	}
	if prev, ok := bySigner[signer]; ok && prev.TimeSigned >= msg.TimeSigned {
		return nil
	}
	bySigner[signer] = msg
	return nil
}

// Value returns the value agreed on by at least the minimum number of
// signers, or the default.
func (s *SporkManager) Value(id SporkID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueLocked(id)
}

func (s *SporkManager) valueLocked(id SporkID) int64 {
	counts := make(map[int64]int)
	for _, msg := range s.active[id] {
		counts[msg.Value]++
		if counts[msg.Value] >= max(s.minKeys, 1) {
			return msg.Value
		}
	}
	for _, d := range sporkDefs {
		if d.id == id {
			return d.def
		}
	}
	return sporkOff
}

// IsActive reports whether the spork's activation time has passed.
func (s *SporkManager) IsActive(id SporkID) bool {
	return s.Value(id) < s.now().Unix()
}

// Values returns every spork value by name.
func (s *SporkManager) Values() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(sporkDefs))
	for _, d := range sporkDefs {
		out[d.name] = s.valueLocked(d.id)
	}
	return out
}

// Names returns the spork names in id order.
func (s *SporkManager) Names() []string {
	names := make([]string, 0, len(sporkDefs))
	for _, d := range sporkDefs {
		names = append(names, d.name)
	}
	return names
}

// SporkByName resolves a spork name.
func SporkByName(name string) (SporkID, bool) {
	for _, d := range sporkDefs {
		if d.name == name {
			return d.id, true
		}
	}
	return 0, false
}

func sporkName(id SporkID) (string, bool) {
	for _, d := range sporkDefs {
		if d.id == id {
			return d.name, true
		}
	}
	return "", false
}

// CheckAndRemove drops messages whose signer is not configured anymore.
func (s *SporkManager) CheckAndRemove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, bySigner := range s.active {
		for signer, msg := range bySigner {
			if recovered, err := msg.signer(); err != nil || recovered != signer {
				delete(bySigner, signer)
				continue
			}
			if _, ok := s.signers[signer]; !ok {
				delete(bySigner, signer)
			}
		}
		if len(bySigner) == 0 {
			delete(s.active, id)
		}
	}
}

func (s *SporkManager) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("Sporks: %d", len(s.active))
}

func (s *SporkManager) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]*SporkMessage, 0)
	for _, bySigner := range s.active {
		for _, msg := range bySigner {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].ID != msgs[j].ID {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].TimeSigned < msgs[j].TimeSigned
	})
	return json.Marshal(msgs)
}

// UnmarshalJSON restores the stored messages. Signers are recovered from the
// signatures; messages from unknown signers are dropped by CheckAndRemove.
func (s *SporkManager) UnmarshalJSON(data []byte) error {
	var msgs []*SporkMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[SporkID]map[[sporkAddressPayloadSize]byte]*SporkMessage)
	for _, msg := range msgs {
		signer, err := msg.signer()
		if err != nil {
			continue
		}
		bySigner, ok := s.active[msg.ID]
		if !ok {
			bySigner = make(map[[sporkAddressPayloadSize]byte]*SporkMessage)
			s.active[msg.ID] = bySigner
		}
		bySigner[signer] = msg
	}
	return nil
}
