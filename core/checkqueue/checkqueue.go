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

// Package checkqueue runs block validation checks on a fixed set of worker
// goroutines shared by every batch.
package checkqueue

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/springbok/springbokd/log"
)

// MaxScriptCheckThreads caps the number of verification workers.
const MaxScriptCheckThreads = 15

// Check is a unit of verification work.
type Check func() error

type job struct {
	check Check
	batch *batch
}

type batch struct {
	wg      sync.WaitGroup
	failed  atomic.Bool
	errOnce sync.Once
	err     error
}

// Queue owns the worker goroutines.
type Queue struct {
	mu      sync.Mutex
	jobs    chan job
	workers int
	wg      sync.WaitGroup
	log     log.Logger
}

// New returns an idle queue. Run executes checks on the caller until Start
// launches workers.
func New() *Queue {
	return &Queue{log: log.New("module", "checkqueue")}
}

// ResolveThreads turns a -par value into a worker count: 0 means one per
// core, a negative value leaves that many cores free. The calling goroutine also
// verifies, so one fewer worker is started, and the result is capped.
func ResolveThreads(par int) int {
	n := par
	if n <= 0 {
		n += runtime.NumCPU()
	}
	if n <= 1 {
		return 0
	}
	n-- // the caller of Run acts as a worker too
	if n > MaxScriptCheckThreads {
		n = MaxScriptCheckThreads
	}
	return n
}

// Start launches n workers. Starting a running queue is a no-op.
func (q *Queue) Start(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs != nil || n <= 0 {
		return
	}
	q.jobs = make(chan job, 128)
	q.workers = n
	q.log.Info("Script verification uses threads", "count", n+1)
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.worker(q.jobs)
	}
}

// Workers returns the number of running workers.
func (q *Queue) Workers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.workers
}

// Stop terminates the workers after they finished their current checks.
func (q *Queue) Stop() {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs, q.workers = nil, 0
	q.mu.Unlock()

	if jobs != nil {
		close(jobs)
		q.wg.Wait()
	}
}

// Run executes every check and returns the first failure. Once a check has
// failed, the remaining checks of the batch are skipped.
func (q *Queue) Run(checks []Check) error {
	b := new(batch)

	q.mu.Lock()
	jobs := q.jobs
	if jobs == nil {
		q.mu.Unlock()
		for _, check := range checks {
			if err := check(); err != nil {
				return err
			}
		}
		return nil
	}
	b.wg.Add(len(checks))
	for _, check := range checks {
		jobs <- job{check: check, batch: b}
	}
	q.mu.Unlock()

	b.wg.Wait()
	return b.err
}

func (q *Queue) worker(jobs <-chan job) {
	defer q.wg.Done()
	for j := range jobs {
		if !j.batch.failed.Load() {
			if err := j.check(); err != nil {
				j.batch.failed.Store(true)
				j.batch.errOnce.Do(func() { j.batch.err = err })
			}
		}
		j.batch.wg.Done()
	}
}
