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

package p2p

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/springbok/springbokd/common/mclock"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/p2p/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startManager(t *testing.T, cfg ConnConfig) *ConnManager {
	t.Helper()
	if cfg.Processor == nil {
		cfg.Processor = NewPeerLogic(cfg.Bans, time.Hour)
	}
	cm := NewConnManager(cfg)
	require.NoError(t, cm.Start())
	t.Cleanup(cm.Stop)
	return cm
}

func waitConnections(t *testing.T, cm *ConnManager, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return cm.ConnectionCount() == n }, 5*time.Second, 5*time.Millisecond)
}

// expectDropped asserts that the remote side closes conn without sending.
func expectDropped(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		t.Fatal("connection was not closed")
	}
}

func TestInboundConnections(t *testing.T) {
	bans := NewBanManager(filepath.Join(t.TempDir(), BanlistFile))
	cm := startManager(t, ConnConfig{Bind: []string{"127.0.0.1:0"}, Bans: bans})
	addr := cm.ListenAddrs()[0].String()

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()
	waitConnections(t, cm, 1)
	assert.True(t, cm.Peers()[0].Inbound)

	bans.BanAddr(netip.MustParseAddr("127.0.0.1"), time.Hour, "test")
	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c2.Close()
	expectDropped(t, c2)
	assert.Equal(t, 1, cm.ConnectionCount())
}

func TestInboundLimit(t *testing.T) {
	cm := startManager(t, ConnConfig{
		Bind:           []string{"127.0.0.1:0"},
		MaxConnections: MaxOutboundConnections + MaxAddNodeConnections + 1,
	})
	addr := cm.ListenAddrs()[0].String()

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()
	waitConnections(t, cm, 1)

	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c2.Close()
	expectDropped(t, c2)
	assert.Equal(t, 1, cm.ConnectionCount())
}

func TestWhitelistBypassesBans(t *testing.T) {
	bans := NewBanManager(filepath.Join(t.TempDir(), BanlistFile))
	bans.BanAddr(netip.MustParseAddr("127.0.0.1"), time.Hour, "test")
	cm := startManager(t, ConnConfig{WhiteBind: []string{"127.0.0.1:0"}, Bans: bans})

	c, err := net.Dial("tcp", cm.ListenAddrs()[0].String())
	require.NoError(t, err)
	defer c.Close()
	waitConnections(t, cm, 1)
	assert.True(t, cm.Peers()[0].Whitelisted)
}

func TestExplicitBindFailureIsFatal(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cm := NewConnManager(ConnConfig{Bind: []string{l.Addr().String()}, Processor: NewPeerLogic(nil, 0)})
	err = cm.Start()
	var berr *BindError
	require.ErrorAs(t, err, &berr)
	assert.Contains(t, err.Error(), "Unable to bind to")
	cm.Stop()
}

func TestOutboundConnect(t *testing.T) {
	server := startManager(t, ConnConfig{Bind: []string{"127.0.0.1:0"}})
	client := startManager(t, ConnConfig{Connect: []string{server.ListenAddrs()[0].String()}})

	waitConnections(t, server, 1)
	waitConnections(t, client, 1)
	peer := client.Peers()[0]
	assert.False(t, peer.Inbound)
	assert.True(t, peer.Manual)

	client.Stop()
	waitConnections(t, server, 0)
	client.Stop()
}

func TestStopClosesConnections(t *testing.T) {
	cm := NewConnManager(ConnConfig{Bind: []string{"127.0.0.1:0"}, Processor: NewPeerLogic(nil, 0)})
	cm.Stop() // never started
	cm = NewConnManager(ConnConfig{Bind: []string{"127.0.0.1:0"}, Processor: NewPeerLogic(nil, 0)})
	require.NoError(t, cm.Start())

	c, err := net.Dial("tcp", cm.ListenAddrs()[0].String())
	require.NoError(t, err)
	defer c.Close()
	waitConnections(t, cm, 1)

	cm.Stop()
	assert.Equal(t, 0, cm.ConnectionCount())
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, cm.Start(), errServerStopped)
}

func TestMisbehavingPeerIsBanned(t *testing.T) {
	bans := NewBanManager(filepath.Join(t.TempDir(), BanlistFile))
	pl := NewPeerLogic(bans, time.Hour)
	cm := startManager(t, ConnConfig{Bind: []string{"127.0.0.1:0"}, Bans: bans, Processor: pl})

	c, err := net.Dial("tcp", cm.ListenAddrs()[0].String())
	require.NoError(t, err)
	defer c.Close()
	waitConnections(t, cm, 1)

	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	id := cm.Peers()[0].ID
	require.Eventually(t, func() bool { return pl.BytesReceived(id) == 5 }, 5*time.Second, 5*time.Millisecond)

	pl.Misbehaving(id, 50, "first")
	assert.False(t, bans.IsBanned(netip.MustParseAddr("127.0.0.1")))
	pl.Misbehaving(id, 50, "second")
	assert.True(t, bans.IsBanned(netip.MustParseAddr("127.0.0.1")))
	waitConnections(t, cm, 0)
	assert.Equal(t, 0, pl.Tracked())
}

func TestPeerLogicFollowsTip(t *testing.T) {
	pl := NewPeerLogic(nil, 0)
	assert.True(t, pl.InitialDownload())
	var l signals.Listener = pl
	l.UpdatedBlockTip(signals.TipEvent{Height: 42})
	assert.Equal(t, uint64(42), pl.BestHeight())
	assert.False(t, pl.InitialDownload())
}

type recordingNAT struct {
	mu      sync.Mutex
	added   []int
	deleted []int
}

func (r *recordingNAT) AddMapping(protocol string, extport, intport int, name string, lifetime time.Duration) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, intport)
	return uint16(extport), nil
}

func (r *recordingNAT) DeleteMapping(protocol string, extport, intport int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, intport)
	return nil
}

func (r *recordingNAT) ExternalIP() (net.IP, error) { return net.IPv4(5, 6, 7, 8), nil }
func (r *recordingNAT) String() string              { return "recording" }

func (r *recordingNAT) mappings() (added, deleted []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.added...), append([]int(nil), r.deleted...)
}

var _ nat.Interface = (*recordingNAT)(nil)

func TestPortMappingSingleOwner(t *testing.T) {
	var (
		clock  = new(mclock.Simulated)
		mapper = new(recordingNAT)
	)
	cm := NewConnManager(ConnConfig{
		Bind:      []string{"127.0.0.1:0"},
		NAT:       mapper,
		Clock:     clock,
		Processor: NewPeerLogic(nil, time.Hour),
	})
	require.NoError(t, cm.Start())
	port := cm.ListenAddrs()[0].(*net.TCPAddr).Port

	clock.WaitForTimers(2)
	clock.Run(0)
	require.Eventually(t, func() bool {
		ip, _ := cm.External()
		added, _ := mapper.mappings()
		return ip.Equal(net.IPv4(5, 6, 7, 8)) && len(added) == 1
	}, 5*time.Second, time.Millisecond)

	cm.Stop()
	added, deleted := mapper.mappings()
	assert.Equal(t, []int{port}, added)
	assert.Equal(t, []int{port}, deleted)
	ip, _ := cm.External()
	assert.Nil(t, ip)
}

func TestNoPortMappingWithoutListener(t *testing.T) {
	mapper := new(recordingNAT)
	cm := startManager(t, ConnConfig{NAT: mapper, Clock: new(mclock.Simulated)})
	ip, port := cm.External()
	assert.Nil(t, ip)
	assert.Zero(t, port)
	cm.Stop()
	added, _ := mapper.mappings()
	assert.Empty(t, added)
}
