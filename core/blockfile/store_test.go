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

package blockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/springbok/springbokd/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMagic = [4]byte{0xfc, 0xc1, 0xb7, 0xdc}

func testBlocks(n int) []*types.Block {
	var (
		blocks []*types.Block
		parent types.Header
	)
	for i := 0; i < n; i++ {
		h := types.Header{Version: 1, PrevHash: parent.Hash(), Time: uint32(1000 + i), Bits: 0x207fffff}
		b := types.NewBlock(h, []byte{byte(i), 0xde, 0xad})
		parent = b.Header()
		blocks = append(blocks, b)
	}
	return blocks
}

func TestStoreWriteRead(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, testMagic)
	require.NoError(t, err)

	blocks := testBlocks(4)
	var positions []FilePos
	for _, b := range blocks {
		pos, err := store.WriteBlock(b)
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	assert.True(t, store.HasFile(0))
	assert.False(t, store.HasFile(1))

	for i, pos := range positions {
		got, err := store.ReadBlock(pos)
		require.NoError(t, err)
		assert.Equal(t, blocks[i].Hash(), got.Hash())
	}
	_, err = store.ReadBlock(NullPos)
	assert.Error(t, err)

	// Reopening continues appending to the same file.
	reopened, err := OpenStore(dir, testMagic)
	require.NoError(t, err)
	pos, err := reopened.WriteBlock(blocks[0])
	require.NoError(t, err)
	assert.Equal(t, int32(0), pos.File)
	assert.Greater(t, pos.Offset, positions[3].Offset)
}

func TestScanSkipsGarbage(t *testing.T) {
	blocks := testBlocks(3)

	var stream bytes.Buffer
	stream.WriteString("garbage before the first record")
	for i, b := range blocks {
		data := b.Encode()
		stream.Write(testMagic[:])
		stream.Write([]byte{byte(len(data)), byte(len(data) >> 8), 0, 0})
		stream.Write(data)
		if i == 0 {
			// A record with an implausible size is skipped.
			stream.Write(testMagic[:])
			stream.Write([]byte{0x01, 0, 0, 0})
			stream.Write(bytes.Repeat([]byte{0}, 16))
		}
	}
	// Truncated trailing record.
	stream.Write(testMagic[:])
	stream.Write([]byte{0xff, 0, 0, 0})
	stream.Write([]byte{1, 2, 3})

	var seen []*types.Block
	n, err := Scan(&stream, testMagic, nil, func(b *types.Block, offset uint32) error {
		seen = append(seen, b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for i := range blocks {
		assert.Equal(t, blocks[i].Hash(), seen[i].Hash())
	}
}

func TestScanOffsetsMatchStore(t *testing.T) {
	store, err := OpenStore(t.TempDir(), testMagic)
	require.NoError(t, err)
	blocks := testBlocks(3)
	var positions []FilePos
	for _, b := range blocks {
		pos, err := store.WriteBlock(b)
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	f, err := store.ReadCloser(0)
	require.NoError(t, err)
	defer f.Close()

	i := 0
	_, err = Scan(f, testMagic, nil, func(b *types.Block, offset uint32) error {
		assert.Equal(t, positions[i].Offset, offset)
		i++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, i)
}

func TestScanStop(t *testing.T) {
	store, err := OpenStore(t.TempDir(), testMagic)
	require.NoError(t, err)
	for _, b := range testBlocks(5) {
		_, err := store.WriteBlock(b)
		require.NoError(t, err)
	}
	f, err := store.ReadCloser(0)
	require.NoError(t, err)
	defer f.Close()

	calls := 0
	n, err := Scan(f, testMagic, func() bool { return calls >= 2 }, func(*types.Block, uint32) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 2, n)
}

func TestCleanupBlockRevFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"blk00000.dat", "blk00001.dat", "blk00003.dat", "rev00000.dat", "rev00001.dat", "other.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600))
	}
	require.NoError(t, CleanupBlockRevFiles(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"blk00000.dat", "blk00001.dat", "other.txt"}, names)
}
