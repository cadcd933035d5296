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

// Package shutdown implements the process-wide shutdown request flag.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is a one-way latch. Once requested it stays requested for the rest
// of the process lifetime. Request is safe to call from a goroutine that
// relays OS signals: it only flips an atomic and closes a channel.
type Signal struct {
	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an unset shutdown signal.
func New() *Signal {
	ctx, cancel := context.WithCancel(context.Background())
	return &Signal{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Request sets the signal. Calling it more than once has no further effect.
func (s *Signal) Request() {
	s.requested.Store(true)
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// Requested reports whether shutdown has been requested.
func (s *Signal) Requested() bool {
	return s.requested.Load()
}

// Done returns a channel that is closed once shutdown is requested.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Context returns a context that is cancelled once shutdown is requested.
func (s *Signal) Context() context.Context {
	return s.ctx
}
