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

// Package blockfile reads and writes the flat blkNNNNN.dat block files.
//
// Every record in a block file is the network magic, a little endian uint32
// length and the serialized block. The same framing is used by bootstrap.dat
// and by files handed to -loadblock.
package blockfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/springbok/springbokd/core/types"
)

// MaxBlockFileSize is the size after which a new block file is started.
const MaxBlockFileSize = 128 * 1024 * 1024

// recordHeaderSize is the framing in front of every stored block.
const recordHeaderSize = 8

var errNullPos = errors.New("null block position")

// FilePos locates the serialized block inside a block file. Offset points at
// the first byte of the block, after the record framing.
type FilePos struct {
	File   int32
	Offset uint32
}

// NullPos is the position of a block without data on disk.
var NullPos = FilePos{File: -1}

// IsNull reports whether the position points at no data.
func (p FilePos) IsNull() bool { return p.File < 0 }

func (p FilePos) String() string {
	if p.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%d:%d", p.File, p.Offset)
}

// Store appends blocks to the block files of one data directory.
type Store struct {
	dir   string
	magic [4]byte

	mu       sync.Mutex
	lastFile int32
	lastSize int64
}

// OpenStore creates the block directory if needed and positions the writer
// after the last existing block file.
func OpenStore(dir string, magic [4]byte) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, magic: magic}
	for n := int32(0); ; n++ {
		info, err := os.Stat(s.BlockFileName(int(n)))
		if err != nil {
			break
		}
		s.lastFile, s.lastSize = n, info.Size()
	}
	return s, nil
}

// Dir returns the directory holding the block files.
func (s *Store) Dir() string { return s.dir }

// Magic returns the network magic the store frames records with.
func (s *Store) Magic() [4]byte { return s.magic }

// BlockFileName returns the path of block file n.
func (s *Store) BlockFileName(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("blk%05d.dat", n))
}

// UndoFileName returns the path of undo file n.
func (s *Store) UndoFileName(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("rev%05d.dat", n))
}

// HasFile reports whether block file n exists.
func (s *Store) HasFile(n int) bool {
	_, err := os.Stat(s.BlockFileName(n))
	return err == nil
}

// LastFile returns the number of the block file new blocks are appended to.
func (s *Store) LastFile() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.lastFile)
}

// WriteBlock appends block to the current block file, rolling over to the
// next file when it would grow past MaxBlockFileSize.
func (s *Store) WriteBlock(block *types.Block) (FilePos, error) {
	data := block.Encode()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSize > 0 && s.lastSize+int64(len(data))+recordHeaderSize > MaxBlockFileSize {
		s.lastFile++
		s.lastSize = 0
	}
	f, err := os.OpenFile(s.BlockFileName(int(s.lastFile)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return NullPos, err
	}
	defer f.Close()

	var frame [recordHeaderSize]byte
	copy(frame[:4], s.magic[:])
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(data)))
	if _, err := f.Write(append(frame[:], data...)); err != nil {
		return NullPos, err
	}
	pos := FilePos{File: s.lastFile, Offset: uint32(s.lastSize) + recordHeaderSize}
	s.lastSize += int64(len(data)) + recordHeaderSize
	return pos, nil
}

// ReadBlock loads the block stored at pos.
func (s *Store) ReadBlock(pos FilePos) (*types.Block, error) {
	if pos.IsNull() || pos.Offset < recordHeaderSize {
		return nil, errNullPos
	}
	f, err := os.Open(s.BlockFileName(int(pos.File)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frame [recordHeaderSize]byte
	if _, err := f.ReadAt(frame[:], int64(pos.Offset)-recordHeaderSize); err != nil {
		return nil, fmt.Errorf("read block frame at %v: %w", pos, err)
	}
	if [4]byte(frame[:4]) != s.magic {
		return nil, fmt.Errorf("bad magic at %v", pos)
	}
	size := binary.LittleEndian.Uint32(frame[4:])
	if size < types.HeaderSize || size > types.MaxBlockSize {
		return nil, fmt.Errorf("bad block size %d at %v", size, pos)
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, int64(pos.Offset)); err != nil {
		return nil, fmt.Errorf("read block at %v: %w", pos, err)
	}
	return types.DecodeBlock(data)
}

// CleanupBlockRevFiles removes every undo file and every block file after
// the first gap in the blkNNNNN.dat sequence. It runs before a reindex of a
// pruned node, where undo data cannot be trusted.
func CleanupBlockRevFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	blkFiles := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) != 12 || !strings.HasSuffix(name, ".dat") {
			continue
		}
		switch {
		case strings.HasPrefix(name, "blk"):
			if n, err := strconv.Atoi(name[3:8]); err == nil {
				blkFiles[n] = filepath.Join(dir, name)
			}
		case strings.HasPrefix(name, "rev"):
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	// Remove all block files that aren't part of a contiguous set starting at
	// zero, for lack of an index to tell what they contain.
	numbers := make([]int, 0, len(blkFiles))
	for n := range blkFiles {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	contiguous := 0
	for _, n := range numbers {
		if n == contiguous {
			contiguous++
			continue
		}
		if err := os.Remove(blkFiles[n]); err != nil {
			return err
		}
	}
	return nil
}

// ReadCloser opens block file n for a sequential scan.
func (s *Store) ReadCloser(n int) (io.ReadCloser, error) {
	return os.Open(s.BlockFileName(n))
}
