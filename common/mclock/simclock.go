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

package mclock

import (
	"container/heap"
	"sync"
	"time"
)

// Simulated is a virtual Clock. Time only moves when Run is called, which
// fires every timer that expired on the way. A test usually triggers the
// code under test, waits for its timers with WaitForTimers, then calls Run.
type Simulated struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     AbsTime
	pending timerQueue
}

type simTimer struct {
	clock *Simulated
	at    AbsTime
	pos   int // index in pending, -1 once fired or stopped
	ch    chan AbsTime
}

func (s *Simulated) lazyInit() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
}

// Run advances the clock by d.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	s.lazyInit()
	end := s.now.Add(d)
	var fired []*simTimer
	for len(s.pending) > 0 && s.pending[0].at <= end {
		fired = append(fired, heap.Pop(&s.pending).(*simTimer))
	}
	s.now = end
	s.mu.Unlock()

	for _, t := range fired {
		select {
		case t.ch <- t.at:
		default:
		}
	}
}

// ActiveTimers returns the number of pending timers.
func (s *Simulated) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// WaitForTimers blocks until at least n timers are pending.
func (s *Simulated) WaitForTimers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazyInit()
	for len(s.pending) < n {
		s.cond.Wait()
	}
}

func (s *Simulated) Now() AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Simulated) NewTimer(d time.Duration) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazyInit()
	t := &simTimer{clock: s, ch: make(chan AbsTime, 1)}
	s.arm(t, d)
	return t
}

func (s *Simulated) arm(t *simTimer, d time.Duration) {
	t.at = s.now.Add(d)
	heap.Push(&s.pending, t)
	s.cond.Broadcast()
}

func (t *simTimer) C() <-chan AbsTime { return t.ch }

func (t *simTimer) Stop() bool {
	s := t.clock
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.pos < 0 {
		return false
	}
	heap.Remove(&s.pending, t.pos)
	s.cond.Broadcast()
	return true
}

func (t *simTimer) Reset(d time.Duration) {
	s := t.clock
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.pos >= 0 {
		heap.Remove(&s.pending, t.pos)
	}
	s.arm(t, d)
}

type timerQueue []*simTimer

func (q timerQueue) Len() int           { return len(q) }
func (q timerQueue) Less(i, j int) bool { return q[i].at < q[j].at }

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].pos, q[j].pos = i, j
}

func (q *timerQueue) Push(x any) {
	t := x.(*simTimer)
	t.pos = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	t.pos = -1
	*q = old[:len(old)-1]
	return t
}
