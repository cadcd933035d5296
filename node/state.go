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
	"sync"
)

// State is the lifecycle phase of a node.
type State int32

const (
	Unstarted State = iota
	SanityChecked
	ResourcesOpened
	ChainLoaded
	ServicesStarted
	Running
	ShuttingDown
	Stopped
)

var stateNames = [...]string{
	Unstarted:       "unstarted",
	SanityChecked:   "sanity-checked",
	ResourcesOpened: "resources-opened",
	ChainLoaded:     "chain-loaded",
	ServicesStarted: "services-started",
	Running:         "running",
	ShuttingDown:    "shutting-down",
	Stopped:         "stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// CanTransition reports whether a node in state s may move to next. Phases
// advance one at a time. The only way back is a rebuild, which reopens the
// resources from ResourcesOpened or ChainLoaded. Shutdown is reachable from
// every phase short of Stopped.
func (s State) CanTransition(next State) bool {
	switch {
	case s == Stopped:
		return false
	case next == ShuttingDown:
		return s != ShuttingDown
	case next == Stopped:
		return s == ShuttingDown
	case next == ResourcesOpened && (s == ResourcesOpened || s == ChainLoaded):
		return true
	}
	return next == s+1 && next < ShuttingDown
}

// lifecycle guards the node state.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) get() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) advance(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.CanTransition(next) {
		return fmt.Errorf("invalid node state transition %v -> %v", l.state, next)
	}
	l.state = next
	return nil
}
