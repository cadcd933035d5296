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

// Package shutdowncheck records startup markers in the block tree database so
// that unclean shutdowns can be reported on the next start.
package shutdowncheck

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/kvdb"
	"github.com/springbok/springbokd/log"
)

const (
	// crashesToKeep is the number of unclean shutdown markers retained.
	crashesToKeep = 10

	// RefreshInterval is how often the current marker's timestamp is bumped.
	RefreshInterval = 5 * time.Minute
)

var markerKey = []byte("unclean-shutdown")

// ShutdownTracker is a service that reports previous unclean shutdowns
// upon start. It needs to be started after a successful start-up and stopped
// after a successful shutdown, just before the db is closed.
type ShutdownTracker struct {
	db   kvdb.KeyValueStore
	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewShutdownTracker creates a new ShutdownTracker instance and has
// no other side-effect.
func NewShutdownTracker(db kvdb.KeyValueStore) *ShutdownTracker {
	return &ShutdownTracker{
		db:   db,
		now:  time.Now,
		stop: make(chan struct{}),
	}
}

// MarkStartup pushes a new startup marker and reports the unclean shutdowns
// left behind by earlier runs. It returns the boot times of those runs.
func (t *ShutdownTracker) MarkStartup() []time.Time {
	unclean, discarded, err := t.push()
	if err != nil {
		log.Error("Could not update unclean-shutdown-marker list", "error", err)
		return nil
	}
	if discarded > 0 {
		log.Warn("Old unclean shutdowns found", "count", discarded)
	}
	boots := make([]time.Time, 0, len(unclean))
	for _, tstamp := range unclean {
		booted := time.Unix(int64(tstamp), 0)
		log.Warn("Unclean shutdown detected", "booted", booted, "age", common.PrettyAge(booted))
		boots = append(boots, booted)
	}
	return boots
}

// Start runs a loop that refreshes the current marker every RefreshInterval.
func (t *ShutdownTracker) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.Refresh(); err != nil {
					log.Warn("Failed to refresh unclean-shutdown marker", "err", err)
				}
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop ends the refresh loop and clears the current marker.
func (t *ShutdownTracker) Stop() {
	t.once.Do(func() {
		close(t.stop)
		t.wg.Wait()
		if err := t.pop(); err != nil {
			log.Error("Failed to clear unclean-shutdown marker", "err", err)
		}
	})
}

// Refresh sets the timestamp of the current marker to now.
func (t *ShutdownTracker) Refresh() error {
	markers, err := t.read()
	if err != nil {
		return err
	}
	if len(markers) == 0 {
		return errors.New("no unclean-shutdown marker to update")
	}
	markers[len(markers)-1] = uint64(t.now().Unix())
	return t.write(markers)
}

// push appends a marker for this run, returning the earlier markers and the
// number of markers discarded to stay within crashesToKeep.
func (t *ShutdownTracker) push() ([]uint64, uint64, error) {
	markers, err := t.read()
	if err != nil {
		return nil, 0, err
	}
	previous := append([]uint64(nil), markers...)
	var discarded uint64
	if len(markers) >= crashesToKeep {
		discarded = uint64(len(markers) - crashesToKeep + 1)
		markers = markers[discarded:]
	}
	markers = append(markers, uint64(t.now().Unix()))
	if err := t.write(markers); err != nil {
		return nil, 0, err
	}
	return previous, discarded, nil
}

func (t *ShutdownTracker) pop() error {
	markers, err := t.read()
	if err != nil {
		return err
	}
	if len(markers) > 0 {
		markers = markers[:len(markers)-1]
	}
	return t.write(markers)
}

func (t *ShutdownTracker) read() ([]uint64, error) {
	data, err := t.db.Get(markerKey)
	if errors.Is(err, kvdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, errors.New("malformed unclean-shutdown marker list")
	}
	markers := make([]uint64, len(data)/8)
	for i := range markers {
		markers[i] = binary.BigEndian.Uint64(data[i*8:])
	}
	return markers, nil
}

func (t *ShutdownTracker) write(markers []uint64) error {
	data := make([]byte, 8*len(markers))
	for i, m := range markers {
		binary.BigEndian.PutUint64(data[i*8:], m)
	}
	return t.db.Put(markerKey, data)
}
