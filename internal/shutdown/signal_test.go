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

package shutdown

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalLatches(t *testing.T) {
	s := New()
	assert.False(t, s.Requested())
	select {
	case <-s.Done():
		t.Fatal("done channel closed before request")
	default:
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Request()
		}()
	}
	wg.Wait()

	assert.True(t, s.Requested())
	<-s.Done()
	assert.Error(t, s.Context().Err())
}
