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
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/springbok/springbokd/log"
)

const (
	// BanlistFile is the name of the ban list below the network data dir.
	BanlistFile = "banlist.json"

	// DefaultBanTime is used by Ban when no duration is given.
	DefaultBanTime = 24 * time.Hour

	// BanlistDumpInterval is how often the ban list is written out.
	BanlistDumpInterval = 15 * time.Minute

	banlistVersion = 1
)

// BanEntry is one banned subnet.
type BanEntry struct {
	Subnet   netip.Prefix `json:"subnet"`
	Created  int64        `json:"created"`
	BanUntil int64        `json:"ban_until"`
	Reason   string       `json:"reason,omitempty"`
}

type banlistFile struct {
	Version int        `json:"version"`
	Banned  []BanEntry `json:"banned"`
}

// BanManager keeps the set of banned subnets and persists it to disk.
type BanManager struct {
	path string

	mu    sync.Mutex
	bans  map[netip.Prefix]BanEntry
	dirty bool
	now   func() time.Time
	log   log.Logger
}

// NewBanManager creates a ban manager persisting to path and loads the
// existing list. An unreadable list is logged and replaced by an empty one.
func NewBanManager(path string) *BanManager {
	bm := &BanManager{
		path: path,
		bans: make(map[netip.Prefix]BanEntry),
		now:  time.Now,
		log:  log.New("module", "banman"),
	}
	start := time.Now()
	n, err := bm.load()
	switch {
	case errors.Is(err, os.ErrNotExist):
		bm.log.Debug("No ban list found, starting with an empty one", "path", path)
		bm.dirty = true
	case err != nil:
		bm.log.Warn("Invalid or missing ban list, recreating", "path", path, "err", err)
		bm.dirty = true
	default:
		bm.log.Info("Loaded ban list", "entries", n, "elapsed", time.Since(start))
	}
	bm.SweepBanned()
	return bm
}

func (bm *BanManager) load() (int, error) {
	data, err := os.ReadFile(bm.path)
	if err != nil {
		return 0, err
	}
	var file banlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, err
	}
	if file.Version != banlistVersion {
		return 0, fmt.Errorf("unsupported ban list version %d", file.Version)
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, e := range file.Banned {
		if !e.Subnet.IsValid() {
			continue
		}
		bm.bans[e.Subnet.Masked()] = e
	}
	return len(bm.bans), nil
}

// Ban bans a subnet for d, or DefaultBanTime if d is zero.
func (bm *BanManager) Ban(subnet netip.Prefix, d time.Duration, reason string) {
	if d <= 0 {
		d = DefaultBanTime
	}
	subnet = subnet.Masked()
	now := bm.now()
	until := now.Add(d).Unix()

	bm.mu.Lock()
	defer bm.mu.Unlock()
	if old, ok := bm.bans[subnet]; ok && old.BanUntil >= until {
		return
	}
	bm.bans[subnet] = BanEntry{Subnet: subnet, Created: now.Unix(), BanUntil: until, Reason: reason}
	bm.dirty = true
	bm.log.Info("Banned subnet", "subnet", subnet, "until", time.Unix(until, 0), "reason", reason)
}

// BanAddr bans a single address.
func (bm *BanManager) BanAddr(addr netip.Addr, d time.Duration, reason string) {
	addr = addr.Unmap()
	bm.Ban(netip.PrefixFrom(addr, addr.BitLen()), d, reason)
}

// Unban lifts the ban of exactly subnet.
func (bm *BanManager) Unban(subnet netip.Prefix) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	subnet = subnet.Masked()
	if _, ok := bm.bans[subnet]; !ok {
		return false
	}
	delete(bm.bans, subnet)
	bm.dirty = true
	return true
}

// ClearBanned removes every ban.
func (bm *BanManager) ClearBanned() {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bans = make(map[netip.Prefix]BanEntry)
	bm.dirty = true
}

// IsBanned reports whether addr falls into a subnet with an active ban.
func (bm *BanManager) IsBanned(addr netip.Addr) bool {
	addr = addr.Unmap()
	now := bm.now().Unix()

	bm.mu.Lock()
	defer bm.mu.Unlock()
	for subnet, e := range bm.bans {
		if now < e.BanUntil && subnet.Contains(addr) {
			return true
		}
	}
	return false
}

// Banned returns the active bans ordered by subnet.
func (bm *BanManager) Banned() []BanEntry {
	bm.SweepBanned()

	bm.mu.Lock()
	defer bm.mu.Unlock()
	list := make([]BanEntry, 0, len(bm.bans))
	for _, e := range bm.bans {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Subnet.String() < list[j].Subnet.String() })
	return list
}

// SweepBanned drops expired bans.
func (bm *BanManager) SweepBanned() {
	now := bm.now().Unix()

	bm.mu.Lock()
	defer bm.mu.Unlock()
	for subnet, e := range bm.bans {
		if now >= e.BanUntil {
			delete(bm.bans, subnet)
			bm.dirty = true
			bm.log.Debug("Removed expired ban", "subnet", subnet)
		}
	}
}

// DumpBanlist writes the ban list if it changed since the last write.
func (bm *BanManager) DumpBanlist() error {
	bm.SweepBanned()

	bm.mu.Lock()
	if !bm.dirty {
		bm.mu.Unlock()
		return nil
	}
	file := banlistFile{Version: banlistVersion, Banned: make([]BanEntry, 0, len(bm.bans))}
	for _, e := range bm.bans {
		file.Banned = append(file.Banned, e)
	}
	bm.dirty = false
	bm.mu.Unlock()

	sort.Slice(file.Banned, func(i, j int) bool {
		return file.Banned[i].Subnet.String() < file.Banned[j].Subnet.String()
	})
	start := time.Now()
	if err := writeBanlist(bm.path, &file); err != nil {
		bm.mu.Lock()
		bm.dirty = true
		bm.mu.Unlock()
		return err
	}
	bm.log.Debug("Flushed ban list", "entries", len(file.Banned), "elapsed", time.Since(start))
	return nil
}

// Close writes out pending changes.
func (bm *BanManager) Close() error {
	return bm.DumpBanlist()
}

func writeBanlist(path string, file *banlistFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".new"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
