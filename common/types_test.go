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

package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashHexRoundTrip(t *testing.T) {
	var h Hash
	h[0] = 0x01
	h[31] = 0xff

	s := h.Hex()
	assert.Equal(t, "ff", s[:2], "hex form is byte reversed")
	assert.Equal(t, "01", s[62:])

	back, err := HexToHash(s)
	require.NoError(t, err)
	assert.Equal(t, h, back)

	_, err = HexToHash("abcd")
	assert.Error(t, err)
}

func TestHashText(t *testing.T) {
	h := BytesToHash([]byte{1, 2, 3})
	text, err := h.MarshalText()
	require.NoError(t, err)

	var decoded Hash
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, h, decoded)
	assert.False(t, decoded.IsZero())
	assert.True(t, Hash{}.IsZero())
}

func TestStorageSize(t *testing.T) {
	assert.Equal(t, "2.00 MiB", StorageSize(2*1024*1024+1).String()[:8])
	assert.Equal(t, "512.00B", StorageSize(512).TerminalString())
}

func TestPrettyDuration(t *testing.T) {
	assert.Equal(t, "1.234s", PrettyDuration(1234567891*time.Nanosecond).String())
	assert.Equal(t, "2ms", PrettyDuration(2*time.Millisecond).String())
	assert.Equal(t, "0", PrettyAge(time.Now()).String())
}
