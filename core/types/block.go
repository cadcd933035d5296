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

// Package types contains data types related to the chain: block headers,
// blocks and their on-disk encoding.
package types

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/springbok/springbokd/common"
)

// HeaderSize is the length of the serialized block header.
const HeaderSize = 80

// MaxBlockSize bounds the size of a single serialized block accepted from a
// block file. Larger records are treated as garbage by the scanners.
const MaxBlockSize = 32 * 1024 * 1024

var errShortHeader = errors.New("block header too short")

// Header represents a block header.
type Header struct {
	Version    uint32
	PrevHash   common.Hash
	MerkleRoot common.Hash
	Time       uint32
	Bits       uint32
	Nonce      uint32
}

// Encode serializes the header into its 80 byte little endian wire form.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Time)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// DecodeHeader parses an 80 byte serialized header.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, errShortHeader
	}
	h := &Header{
		Version: binary.LittleEndian.Uint32(b[0:4]),
		Time:    binary.LittleEndian.Uint32(b[68:72]),
		Bits:    binary.LittleEndian.Uint32(b[72:76]),
		Nonce:   binary.LittleEndian.Uint32(b[76:80]),
	}
	copy(h.PrevHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	return h, nil
}

// Hash returns the double-SHA256 of the serialized header.
func (h *Header) Hash() common.Hash {
	return DoubleHash(h.Encode())
}

// Timestamp returns the header time as a time.Time.
func (h *Header) Timestamp() time.Time {
	return time.Unix(int64(h.Time), 0)
}

// Block is a header together with its opaque body. Transactions are not
// interpreted by this package; validation belongs to the consensus layer.
type Block struct {
	header Header
	body   []byte

	hash *common.Hash
}

// NewBlock creates a block whose merkle root commits to the body.
func NewBlock(header Header, body []byte) *Block {
	header.MerkleRoot = DoubleHash(body)
	return &Block{header: header, body: append([]byte(nil), body...)}
}

// Header returns a copy of the block header.
func (b *Block) Header() Header { return b.header }

// Body returns the opaque block body.
func (b *Block) Body() []byte { return b.body }

func (b *Block) ParentHash() common.Hash { return b.header.PrevHash }
func (b *Block) Time() uint32            { return b.header.Time }
func (b *Block) Bits() uint32            { return b.header.Bits }

// Hash returns the header hash, caching it on first use.
func (b *Block) Hash() common.Hash {
	if b.hash != nil {
		return *b.hash
	}
	h := b.header.Hash()
	b.hash = &h
	return h
}

// Size returns the serialized length of the block.
func (b *Block) Size() int {
	return HeaderSize + len(b.body)
}

// Encode serializes the block as header followed by the raw body.
func (b *Block) Encode() []byte {
	out := make([]byte, 0, b.Size())
	out = append(out, b.header.Encode()...)
	return append(out, b.body...)
}

// CheckMerkleRoot reports whether the header commits to the body.
func (b *Block) CheckMerkleRoot() bool {
	return b.header.MerkleRoot == DoubleHash(b.body)
}

// DecodeBlock parses a serialized block.
func DecodeBlock(data []byte) (*Block, error) {
	if len(data) > MaxBlockSize {
		return nil, fmt.Errorf("block of %d bytes exceeds limit", len(data))
	}
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	return &Block{header: *h, body: append([]byte(nil), data[HeaderSize:]...)}, nil
}

// DoubleHash computes SHA256(SHA256(data)).
func DoubleHash(data []byte) common.Hash {
	first := sha256.Sum256(data)
	return common.Hash(sha256.Sum256(first[:]))
}
