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
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/springbok/springbokd/core/types"
)

// ErrStopped is returned by Scan when the stop callback asked it to abort.
var ErrStopped = errors.New("block scan stopped")

// ScanFunc receives every decoded block together with the offset of its
// serialized form inside the stream.
type ScanFunc func(block *types.Block, offset uint32) error

// Scan replays a stream of framed blocks. Bytes between records that do not
// start with the network magic are skipped, as are records whose declared
// length is implausible, so a partially written or padded file still yields
// every intact block. A truncated trailing record ends the scan without
// error. stop is polled before every record.
func Scan(r io.Reader, magic [4]byte, stop func() bool, fn ScanFunc) (int, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	var (
		offset int64
		loaded int
		size   [4]byte
	)
	for {
		if stop != nil && stop() {
			return loaded, ErrStopped
		}
		// Locate the next magic sequence
		for matched := 0; matched < len(magic); {
			b, err := br.ReadByte()
			if err != nil {
				return loaded, eofIsClean(err)
			}
			offset++
			switch {
			case b == magic[matched]:
				matched++
			case b == magic[0]:
				matched = 1
			default:
				matched = 0
			}
		}
		if _, err := io.ReadFull(br, size[:]); err != nil {
			return loaded, eofIsClean(err)
		}
		offset += 4

		n := binary.LittleEndian.Uint32(size[:])
		if n < types.HeaderSize || n > types.MaxBlockSize {
			continue
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return loaded, eofIsClean(err)
		}
		start := offset
		offset += int64(n)

		block, err := types.DecodeBlock(data)
		if err != nil {
			continue
		}
		if err := fn(block, uint32(start)); err != nil {
			return loaded, err
		}
		loaded++
	}
}

func eofIsClean(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil
	}
	return err
}
