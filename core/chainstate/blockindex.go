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

package chainstate

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/holiman/uint256"
	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/types"
)

// BlockStatus tracks how far a block has been validated and whether its data
// is available.
type BlockStatus uint32

const (
	StatusValidUnknown BlockStatus = 0
	// StatusValidTree marks a block whose parent is known and which passed the
	// context free checks.
	StatusValidTree BlockStatus = 2
	// StatusValidChain marks a block that has been connected at least once.
	StatusValidChain BlockStatus = 4
	StatusValidMask  BlockStatus = 7

	StatusHaveData    BlockStatus = 8
	StatusFailed      BlockStatus = 32
	StatusFailedChild BlockStatus = 64
	StatusFailedMask              = StatusFailed | StatusFailedChild
)

// BlockIndexEntry is the in-memory record of one known block.
type BlockIndexEntry struct {
	Hash      common.Hash
	Header    types.Header
	Prev      *BlockIndexEntry
	Height    uint64
	ChainWork *uint256.Int
	Status    BlockStatus
	Pos       blockfile.FilePos

	sequence uint64 // arrival order, breaks chain work ties
}

// HaveData reports whether the block's data is stored in a block file.
func (e *BlockIndexEntry) HaveData() bool {
	return e.Status&StatusHaveData != 0 && !e.Pos.IsNull()
}

// Failed reports whether the block or one of its ancestors is invalid.
func (e *BlockIndexEntry) Failed() bool {
	return e.Status&StatusFailedMask != 0
}

// Time returns the block header time.
func (e *BlockIndexEntry) Time() time.Time {
	return e.Header.Timestamp()
}

// raiseValidity lifts the validity level, never lowering it. It reports
// whether the status changed.
func (e *BlockIndexEntry) raiseValidity(level BlockStatus) bool {
	if e.Failed() || e.Status&StatusValidMask >= level {
		return false
	}
	e.Status = (e.Status &^ StatusValidMask) | level
	return true
}

// Ancestor walks back to the entry at the given height.
func (e *BlockIndexEntry) Ancestor(height uint64) *BlockIndexEntry {
	if height > e.Height {
		return nil
	}
	walk := e
	for walk != nil && walk.Height > height {
		walk = walk.Prev
	}
	return walk
}

// diskEntrySize is the encoded length of an index entry:
// height(8) status(4) file(4) offset(4) header(80).
const diskEntrySize = 20 + types.HeaderSize

var errBadEntry = errors.New("malformed block index entry")

func encodeEntry(e *BlockIndexEntry) []byte {
	buf := make([]byte, diskEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.Height)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.Status))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(e.Pos.File))
	binary.LittleEndian.PutUint32(buf[16:20], e.Pos.Offset)
	copy(buf[20:], e.Header.Encode())
	return buf
}

func decodeEntry(data []byte) (*BlockIndexEntry, error) {
	if len(data) != diskEntrySize {
		return nil, errBadEntry
	}
	header, err := types.DecodeHeader(data[20:])
	if err != nil {
		return nil, err
	}
	return &BlockIndexEntry{
		Hash:   header.Hash(),
		Header: *header,
		Height: binary.LittleEndian.Uint64(data[0:8]),
		Status: BlockStatus(binary.LittleEndian.Uint32(data[8:12])),
		Pos: blockfile.FilePos{
			File:   int32(binary.LittleEndian.Uint32(data[12:16])),
			Offset: binary.LittleEndian.Uint32(data[16:20]),
		},
	}, nil
}
