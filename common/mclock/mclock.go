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

// Package mclock provides a monotonic clock that tests can replace with a
// simulated one.
package mclock

import (
	"time"
)

var processStart = time.Now()

// AbsTime is a point on the monotonic clock, in nanoseconds since process
// start.
type AbsTime int64

// Now returns the current monotonic time.
func Now() AbsTime {
	return AbsTime(time.Since(processStart))
}

// Add returns t + d.
func (t AbsTime) Add(d time.Duration) AbsTime {
	return t + AbsTime(d)
}

// Sub returns the duration t - t2.
func (t AbsTime) Sub(t2 AbsTime) time.Duration {
	return time.Duration(t - t2)
}

// Clock is the time source of the node's periodic work.
type Clock interface {
	Now() AbsTime
	NewTimer(time.Duration) Timer
}

// Timer delivers the clock time on C once it expires.
type Timer interface {
	C() <-chan AbsTime
	// Stop cancels the timer and reports whether it was still pending.
	Stop() bool
	// Reset rearms a stopped or expired timer whose channel was drained.
	Reset(time.Duration)
}

// System is the real monotonic clock.
type System struct{}

func (System) Now() AbsTime { return Now() }

func (System) NewTimer(d time.Duration) Timer {
	ch := make(chan AbsTime, 1)
	t := time.AfterFunc(d, func() {
		select {
		case ch <- Now():
		default:
		}
	})
	return &systemTimer{Timer: t, ch: ch}
}

type systemTimer struct {
	*time.Timer
	ch chan AbsTime
}

func (t *systemTimer) C() <-chan AbsTime    { return t.ch }
func (t *systemTimer) Reset(d time.Duration) { t.Timer.Reset(d) }
