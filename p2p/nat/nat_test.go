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

package nat

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/springbok/springbokd/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{spec: "", want: ""},
		{spec: "none", want: ""},
		{spec: "extip:1.2.3.4", want: "ExtIP(1.2.3.4)"},
		{spec: "pmp:192.168.0.1", want: "NAT-PMP(192.168.0.1)"},
		{spec: "upnp", want: "UPnP"},
		{spec: "any", want: "UPnP or NAT-PMP"},
		{spec: "extip", wantErr: true},
		{spec: "extip:300.1.1.1", wantErr: true},
		{spec: "carrier-pigeon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.spec)
		if tt.wantErr {
			assert.Error(t, err, tt.spec)
			continue
		}
		require.NoError(t, err, tt.spec)
		if tt.want == "" {
			assert.Nil(t, got, tt.spec)
			continue
		}
		assert.Equal(t, tt.want, got.String(), tt.spec)
	}
}

func TestFromFlags(t *testing.T) {
	assert.Nil(t, FromFlags(false, false))
	assert.Equal(t, "UPnP", FromFlags(true, false).String())
	assert.Equal(t, "NAT-PMP", FromFlags(false, true).String())
	assert.Equal(t, "UPnP or NAT-PMP", FromFlags(true, true).String())
}

type fakeNAT struct {
	mu      sync.Mutex
	added   []int
	deleted []int
}

func (f *fakeNAT) AddMapping(protocol string, extport, intport int, name string, lifetime time.Duration) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, extport)
	return uint16(extport + 1), nil
}

func (f *fakeNAT) DeleteMapping(protocol string, extport, intport int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, extport)
	return nil
}

func (f *fakeNAT) ExternalIP() (net.IP, error) { return net.IPv4(5, 6, 7, 8), nil }
func (f *fakeNAT) String() string              { return "fake" }

func TestMapper(t *testing.T) {
	var (
		clock = new(mclock.Simulated)
		fake  = new(fakeNAT)
		seen  = make(chan net.IP, 1)
	)
	m := NewMapper(fake, 9999, clock)
	m.OnExternalIP = func(ip net.IP) { seen <- ip }
	m.Stop() // not started
	m.Start()

	clock.WaitForTimers(2)
	clock.Run(0)
	select {
	case ip := <-seen:
		assert.Equal(t, "5.6.7.8", ip.String())
	case <-time.After(5 * time.Second):
		t.Fatal("external IP not reported")
	}
	require.Eventually(t, func() bool {
		_, port := m.External()
		return port == 10000
	}, 5*time.Second, time.Millisecond)

	m.Stop()
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []int{9999}, fake.added)
	assert.Equal(t, []int{10000}, fake.deleted)
}
