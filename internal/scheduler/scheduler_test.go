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

package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/springbok/springbokd/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expect(t *testing.T, calls <-chan string, want ...string) {
	t.Helper()
	var got []string
	for range want {
		select {
		case name := <-calls:
			got = append(got, name)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v want %v", got, want)
		}
	}
	assert.Equal(t, want, got)
}

func TestScheduleEvery(t *testing.T) {
	clock := new(mclock.Simulated)
	s := New(clock)
	calls := make(chan string, 16)
	s.ScheduleEvery("fast", time.Second, func() error { calls <- "fast"; return nil })
	s.ScheduleEvery("slow", 3*time.Second, func() error { calls <- "slow"; return nil })
	assert.Equal(t, 2, s.Len())
	s.Start()
	defer s.Stop()

	for step := 1; step <= 3; step++ {
		clock.WaitForTimers(1)
		clock.Run(time.Second)
		if step < 3 {
			expect(t, calls, "fast")
		} else {
			expect(t, calls, "fast", "slow")
		}
	}
}

func TestFailuresAreContained(t *testing.T) {
	clock := new(mclock.Simulated)
	s := New(clock)
	calls := make(chan string, 16)
	runs := 0
	s.ScheduleEvery("flaky", time.Second, func() error {
		runs++
		calls <- "flaky"
		switch runs {
		case 1:
			return errors.New("disk full")
		case 2:
			panic("corrupt cache")
		}
		return nil
	})
	s.Start()
	defer s.Stop()

	for i := 0; i < 3; i++ {
		clock.WaitForTimers(1)
		clock.Run(time.Second)
		expect(t, calls, "flaky")
	}
}

func TestStopJoins(t *testing.T) {
	s := New(nil)
	s.Stop() // not started

	started, release := make(chan struct{}, 1), make(chan struct{})
	s.ScheduleEvery("slow", time.Millisecond, func() error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	s.Start()
	s.Start()
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	require.Equal(t, 1, s.Len())
}

func TestNonPositivePeriodPanics(t *testing.T) {
	assert.Panics(t, func() { New(nil).ScheduleEvery("bad", 0, func() error { return nil }) })
}
