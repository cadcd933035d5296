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

// Package scheduler runs periodic maintenance callbacks on a single
// goroutine.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/springbok/springbokd/common/mclock"
	"github.com/springbok/springbokd/log"
)

type task struct {
	name   string
	period time.Duration
	fn     func() error
	next   mclock.AbsTime
	seq    uint64
	index  int
}

// Scheduler keeps the registered tasks in a min-heap ordered by the time
// they are next due. Tasks never run concurrently with each other.
type Scheduler struct {
	clock mclock.Clock
	log   log.Logger

	mu      sync.Mutex
	tasks   taskHeap
	seq     uint64
	running bool
	wake    chan struct{}
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped scheduler driven by clock.
func New(clock mclock.Clock) *Scheduler {
	if clock == nil {
		clock = mclock.System{}
	}
	return &Scheduler{
		clock: clock,
		log:   log.New("module", "scheduler"),
		wake:  make(chan struct{}, 1),
	}
}

// ScheduleEvery registers fn to run every period, first after one period.
// Errors and panics of fn are logged and do not affect later runs.
func (s *Scheduler) ScheduleEvery(name string, period time.Duration, fn func() error) {
	if period <= 0 {
		panic("scheduler: non-positive period for " + name)
	}
	s.mu.Lock()
	s.seq++
	heap.Push(&s.tasks, &task{name: name, period: period, fn: fn, next: s.clock.Now().Add(period), seq: s.seq})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.quit = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.quit)
}

// Stop terminates the scheduler goroutine and waits for a running callback
// to return. Registered tasks are kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(quit chan struct{}) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-quit:
				return
			}
		}
		next := s.tasks[0]
		if wait := next.next.Sub(s.clock.Now()); wait > 0 {
			s.mu.Unlock()
			timer := s.clock.NewTimer(wait)
			select {
			case <-timer.C():
			case <-s.wake:
			case <-quit:
				timer.Stop()
				return
			}
			timer.Stop()
			continue
		}
		heap.Pop(&s.tasks)
		s.mu.Unlock()

		s.run(next)

		s.mu.Lock()
		next.next = next.next.Add(next.period)
		if now := s.clock.Now(); next.next < now {
			next.next = now.Add(next.period)
		}
		heap.Push(&s.tasks, next)
		s.mu.Unlock()

		select {
		case <-quit:
			return
		default:
		}
	}
}

func (s *Scheduler) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Scheduled task panicked", "task", t.name, "err", r)
		}
	}()
	if err := t.fn(); err != nil {
		s.log.Warn("Scheduled task failed", "task", t.name, "err", err)
	}
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].next != h[j].next {
		return h[i].next < h[j].next
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
