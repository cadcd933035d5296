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

// Package signals delivers validation events to registered listeners on a
// background goroutine, in the order they were raised.
package signals

import (
	"sync"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/log"
)

// TipEvent describes a change of the active chain tip.
type TipEvent struct {
	Hash            common.Hash
	Height          uint64
	ForkHeight      uint64
	InitialDownload bool
}

// BlockEvent describes a block joining or leaving the active chain.
type BlockEvent struct {
	Hash   common.Hash
	Height uint64
	Time   uint32
	Body   []byte
}

// Listener receives validation events. Embed NopListener to implement only
// the callbacks of interest.
type Listener interface {
	UpdatedBlockTip(ev TipEvent)
	BlockConnected(ev BlockEvent)
	BlockDisconnected(ev BlockEvent)
	ChainStateFlushed(best common.Hash)
}

// NopListener implements Listener with empty callbacks.
type NopListener struct{}

func (NopListener) UpdatedBlockTip(TipEvent)     {}
func (NopListener) BlockConnected(BlockEvent)    {}
func (NopListener) BlockDisconnected(BlockEvent) {}
func (NopListener) ChainStateFlushed(common.Hash) {}

// Dispatcher fans events out to listeners. Until Start is called, and after
// Stop, events are delivered synchronously by FlushBackgroundCallbacks.
type Dispatcher struct {
	mu        sync.Mutex
	listeners []Listener
	queue     []func()
	wake      chan struct{}
	idle      *sync.Cond
	running   bool
	inflight  bool
	quit      chan struct{}
	wg        sync.WaitGroup
	log       log.Logger
}

// NewDispatcher creates a dispatcher without a delivery goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		log:  log.New("module", "signals"),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Start launches the background delivery goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.quit = make(chan struct{})
	d.wg.Add(1)
	go d.loop(d.quit)
}

// Stop drains the queue and terminates the delivery goroutine.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.quit)
	d.mu.Unlock()

	d.wg.Wait()
	d.FlushBackgroundCallbacks()
}

// Register adds a listener. Events raised before registration are not
// replayed.
func (d *Dispatcher) Register(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Unregister removes a listener. Callbacks already queued for it still run.
func (d *Dispatcher) Unregister(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, have := range d.listeners {
		if have == l {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return
		}
	}
}

// UnregisterAll removes every listener.
func (d *Dispatcher) UnregisterAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = nil
}

// Listeners returns the number of registered listeners.
func (d *Dispatcher) Listeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

func (d *Dispatcher) UpdatedBlockTip(ev TipEvent) {
	d.enqueue(func(l Listener) { l.UpdatedBlockTip(ev) })
}

func (d *Dispatcher) BlockConnected(ev BlockEvent) {
	d.enqueue(func(l Listener) { l.BlockConnected(ev) })
}

func (d *Dispatcher) BlockDisconnected(ev BlockEvent) {
	d.enqueue(func(l Listener) { l.BlockDisconnected(ev) })
}

func (d *Dispatcher) ChainStateFlushed(best common.Hash) {
	d.enqueue(func(l Listener) { l.ChainStateFlushed(best) })
}

// enqueue snapshots the listener set at raise time.
func (d *Dispatcher) enqueue(call func(Listener)) {
	d.mu.Lock()
	targets := append([]Listener(nil), d.listeners...)
	if len(targets) == 0 {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, func() {
		for _, l := range targets {
			call(l)
		}
	})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// FlushBackgroundCallbacks blocks until every queued callback has run. When
// no delivery goroutine is running, the queue is drained on the caller.
func (d *Dispatcher) FlushBackgroundCallbacks() {
	d.mu.Lock()
	if !d.running {
		for len(d.queue) > 0 || d.inflight {
			if d.inflight {
				d.idle.Wait()
				continue
			}
			next := d.queue[0]
			d.queue = d.queue[1:]
			d.inflight = true
			d.mu.Unlock()
			d.run(next)
			d.mu.Lock()
			d.inflight = false
			d.idle.Broadcast()
		}
		d.mu.Unlock()
		return
	}
	for len(d.queue) > 0 || d.inflight {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Pending returns the number of queued callbacks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) loop(quit chan struct{}) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.idle.Broadcast()
			d.mu.Unlock()
			select {
			case <-d.wake:
				continue
			case <-quit:
				return
			}
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.inflight = true
		d.mu.Unlock()

		d.run(next)

		d.mu.Lock()
		d.inflight = false
		d.idle.Broadcast()
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Validation listener panicked", "err", r)
		}
	}()
	fn()
}
