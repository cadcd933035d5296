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

package p2p

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), BanlistFile)
	bm := NewBanManager(path)

	now := time.Now()
	bm.now = func() time.Time { return now }

	bm.BanAddr(netip.MustParseAddr("10.0.0.1"), time.Hour, "test")
	bm.Ban(netip.MustParsePrefix("192.168.0.0/16"), 0, "subnet")

	assert.True(t, bm.IsBanned(netip.MustParseAddr("10.0.0.1")))
	assert.True(t, bm.IsBanned(netip.MustParseAddr("::ffff:10.0.0.1")))
	assert.False(t, bm.IsBanned(netip.MustParseAddr("10.0.0.2")))
	assert.True(t, bm.IsBanned(netip.MustParseAddr("192.168.44.1")))
	assert.Len(t, bm.Banned(), 2)

	require.NoError(t, bm.Close())
	reloaded := NewBanManager(path)
	reloaded.now = bm.now
	assert.True(t, reloaded.IsBanned(netip.MustParseAddr("10.0.0.1")))
	assert.Len(t, reloaded.Banned(), 2)

	// The single address ban expires first.
	now = now.Add(2 * time.Hour)
	assert.False(t, bm.IsBanned(netip.MustParseAddr("10.0.0.1")))
	assert.Len(t, bm.Banned(), 1)

	assert.True(t, bm.Unban(netip.MustParsePrefix("192.168.0.0/16")))
	assert.False(t, bm.Unban(netip.MustParsePrefix("192.168.0.0/16")))
	assert.Empty(t, bm.Banned())
}

func TestBanManagerDumpOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), BanlistFile)
	bm := NewBanManager(path)
	require.NoError(t, bm.DumpBanlist())
	info, err := os.Stat(path)
	require.NoError(t, err)

	// Nothing changed, the file is left alone.
	require.NoError(t, os.Chtimes(path, time.Unix(0, 0), time.Unix(0, 0)))
	require.NoError(t, bm.DumpBanlist())
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, after.ModTime().Equal(time.Unix(0, 0)))
	assert.Equal(t, info.Size(), after.Size())
}

func TestBanManagerRecreatesCorruptList(t *testing.T) {
	path := filepath.Join(t.TempDir(), BanlistFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	bm := NewBanManager(path)
	assert.Empty(t, bm.Banned())
	require.NoError(t, bm.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)
}
