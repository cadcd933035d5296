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

package checkqueue

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunParallel(t *testing.T) {
	q := New()
	q.Start(4)
	defer q.Stop()
	require.Equal(t, 4, q.Workers())

	var count atomic.Int32
	checks := make([]Check, 500)
	for i := range checks {
		checks[i] = func() error {
			count.Add(1)
			return nil
		}
	}
	require.NoError(t, q.Run(checks))
	assert.Equal(t, int32(500), count.Load())
}

func TestRunReportsFailure(t *testing.T) {
	q := New()
	q.Start(2)
	defer q.Stop()

	errBad := errors.New("bad signature")
	checks := []Check{
		func() error { return nil },
		func() error { return errBad },
		func() error { return nil },
	}
	assert.ErrorIs(t, q.Run(checks), errBad)
}

func TestRunInlineWithoutWorkers(t *testing.T) {
	q := New()
	ran := 0
	err := q.Run([]Check{func() error { ran++; return nil }, func() error { ran++; return nil }})
	require.NoError(t, err)
	assert.Equal(t, 2, ran)

	q.Stop() // stopping an idle queue is harmless
}

func TestResolveThreads(t *testing.T) {
	cpus := runtime.NumCPU()
	assert.Equal(t, 0, ResolveThreads(1))
	assert.Equal(t, 3, ResolveThreads(4))
	assert.Equal(t, MaxScriptCheckThreads, ResolveThreads(64))
	want := cpus - 1
	if want > MaxScriptCheckThreads {
		want = MaxScriptCheckThreads
	}
	if cpus <= 1 {
		want = 0
	}
	assert.Equal(t, want, ResolveThreads(0))
	assert.Equal(t, 0, ResolveThreads(-cpus))
}
