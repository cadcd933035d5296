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

// Package chaingen builds deterministic block chains and block files for
// tests.
package chaingen

import (
	"encoding/binary"
	"os"

	"github.com/springbok/springbokd/core/types"
)

// BlockSpacing is the timestamp distance between generated blocks.
const BlockSpacing = 150

// GenerateChain creates n blocks on top of parent. If gen is non-nil it is
// called for every block with the block index and the header under
// construction; it may modify the header and returns the block body. A nil
// body is replaced by a default one.
func GenerateChain(parent *types.Block, n int, gen func(i int, h *types.Header) []byte) []*types.Block {
	blocks := make([]*types.Block, 0, n)
	for i := 0; i < n; i++ {
		h := types.Header{
			Version:  parent.Header().Version,
			PrevHash: parent.Hash(),
			Time:     parent.Time() + BlockSpacing,
			Bits:     parent.Bits(),
		}
		var body []byte
		if gen != nil {
			body = gen(i, &h)
		}
		if body == nil {
			body = binary.LittleEndian.AppendUint32(append([]byte("body"), parent.Hash().Bytes()[:4]...), uint32(i))
		}
		block := types.NewBlock(h, body)
		blocks = append(blocks, block)
		parent = block
	}
	return blocks
}

// Frame returns the blocks in block file framing.
func Frame(magic [4]byte, blocks []*types.Block) []byte {
	var out []byte
	for _, b := range blocks {
		data := b.Encode()
		out = append(out, magic[:]...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
		out = append(out, data...)
	}
	return out
}

// WriteBlockFile writes the framed blocks to path.
func WriteBlockFile(path string, magic [4]byte, blocks []*types.Block) error {
	return os.WriteFile(path, Frame(magic, blocks), 0600)
}
