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

package types

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncoding(t *testing.T) {
	h := Header{Version: 2, Time: 1417713337, Bits: 0x207fffff, Nonce: 7}
	h.PrevHash[0] = 0xaa

	enc := h.Encode()
	require.Len(t, enc, HeaderSize)

	dec, err := DecodeHeader(enc)
	require.NoError(t, err)
	assert.Equal(t, h, *dec)
	assert.Equal(t, h.Hash(), dec.Hash())

	_, err = DecodeHeader(enc[:40])
	assert.Error(t, err)
}

func TestBlockRoundTrip(t *testing.T) {
	b := NewBlock(Header{Version: 1, Bits: 0x207fffff, Time: 100}, []byte("coinbase"))
	assert.True(t, b.CheckMerkleRoot())

	dec, err := DecodeBlock(b.Encode())
	require.NoError(t, err)
	assert.Equal(t, b.Hash(), dec.Hash())
	assert.Equal(t, []byte("coinbase"), dec.Body())
	assert.True(t, dec.CheckMerkleRoot())
	assert.Equal(t, HeaderSize+8, dec.Size())
}

func TestCalcWork(t *testing.T) {
	// Minimum difficulty of the original proof-of-work chain.
	assert.Equal(t, uint256.NewInt(0x100010001), CalcWork(0x1d00ffff))

	// Regression test networks allow target 0x7fffff << 232, two hashes per block.
	assert.Equal(t, uint256.NewInt(2), CalcWork(0x207fffff))

	assert.True(t, CalcWork(0x04123456).Sign() > 0)
	assert.True(t, CalcWork(0x04923456).IsZero(), "negative target")
	assert.True(t, CalcWork(0x01003456).IsZero(), "zero target")
	assert.True(t, CalcWork(0xff123456).IsZero(), "overflowing target")
}
