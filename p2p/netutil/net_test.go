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

package netutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetlist(t *testing.T) {
	l, err := ParseNetlist("127.0.0.0/8, 10.1.2.3 ,,fe80::/10")
	require.NoError(t, err)
	assert.Len(t, *l, 3)
	assert.True(t, l.Contains(netip.MustParseAddr("127.0.0.1")))
	assert.True(t, l.Contains(netip.MustParseAddr("::ffff:10.1.2.3")))
	assert.False(t, l.Contains(netip.MustParseAddr("10.1.2.4")))

	_, err = ParseNetlist("300.1.1.1")
	assert.Error(t, err)
}

func TestIsRoutable(t *testing.T) {
	tests := map[string]bool{
		"8.8.8.8":     true,
		"127.0.0.1":   false,
		"192.168.1.1": false,
		"0.0.0.0":     false,
		"192.0.2.4":   false,
		"2001:db8::1": false,
		"2a00:1450::": true,
	}
	for ip, want := range tests {
		assert.Equal(t, want, IsRoutable(netip.MustParseAddr(ip)), ip)
	}
}

func TestParseService(t *testing.T) {
	host, port, err := ParseService("1.2.3.4:1234", 9999)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", host)
	assert.Equal(t, 1234, port)

	host, port, err = ParseService("[::1]", 9999)
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, 9999, port)

	_, _, err = ParseService("example.org", 0)
	assert.ErrorIs(t, err, errMissingPort)
	_, _, err = ParseService("1.2.3.4:99999", 0)
	assert.Error(t, err)
}
