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

package shutdowncheck

import (
	"testing"
	"time"

	"github.com/springbok/springbokd/kvdb/memorydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanShutdownLeavesNoMarker(t *testing.T) {
	db := memorydb.New()
	tr := NewShutdownTracker(db)
	assert.Empty(t, tr.MarkStartup())
	tr.Start()
	tr.Stop()
	tr.Stop()

	assert.Empty(t, NewShutdownTracker(db).MarkStartup())
}

func TestUncleanShutdownReported(t *testing.T) {
	db := memorydb.New()
	boot := time.Unix(1_700_000_000, 0)

	first := NewShutdownTracker(db)
	first.now = func() time.Time { return boot }
	first.MarkStartup()
	// No Stop: the process died.

	second := NewShutdownTracker(db)
	second.now = func() time.Time { return boot.Add(time.Hour) }
	unclean := second.MarkStartup()
	require.Len(t, unclean, 1)
	assert.True(t, unclean[0].Equal(boot))

	second.now = func() time.Time { return boot.Add(2 * time.Hour) }
	require.NoError(t, second.Refresh())
	markers, err := second.read()
	require.NoError(t, err)
	assert.Equal(t, []uint64{uint64(boot.Unix()), uint64(boot.Add(2 * time.Hour).Unix())}, markers)
}

func TestMarkersAreCapped(t *testing.T) {
	db := memorydb.New()
	for i := 0; i < crashesToKeep+5; i++ {
		NewShutdownTracker(db).MarkStartup()
	}
	markers, err := NewShutdownTracker(db).read()
	require.NoError(t, err)
	assert.Len(t, markers, crashesToKeep)
}

func TestRefreshWithoutMarker(t *testing.T) {
	assert.Error(t, NewShutdownTracker(memorydb.New()).Refresh())
}
