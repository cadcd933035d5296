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

// Package p2p manages the node's peer connections: listening sockets,
// outbound dialing, banning and NAT port mapping. The wire protocol spoken
// over a connection is left to a MessageProcessor.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/springbok/springbokd/common/mclock"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/p2p/nat"
	"github.com/springbok/springbokd/p2p/netutil"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxConnections is the default -maxconnections.
	DefaultMaxConnections = 125

	// MaxOutboundConnections is the number of automatic outbound slots.
	MaxOutboundConnections = 8

	// MaxAddNodeConnections is the number of slots reserved for -addnode.
	MaxAddNodeConnections = 8

	defaultDialTimeout  = 5 * time.Second
	addNodeRetryPeriod  = 60 * time.Second
	acceptRetryInterval = 50 * time.Millisecond

	// dialRateLimit bounds outbound connection attempts per second.
	dialRateLimit = 2
	dialBurst     = 4
)

var (
	errServerRunning  = errors.New("connection manager already running")
	errServerStopped  = errors.New("connection manager stopped")
	errAlreadyDialing = errors.New("already connected or dialing")
)

// BindError is returned by Start when an explicitly requested address could
// not be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("Unable to bind to %s on this computer. springbokd is probably already running. (%v)", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// MessageProcessor speaks the wire protocol with connected peers.
type MessageProcessor interface {
	// InitializeNode is called once a connection is established.
	InitializeNode(p *Peer)
	// ProcessMessages runs until the connection fails or quit is closed.
	ProcessMessages(p *Peer, quit <-chan struct{}) error
	// FinalizeNode is called after the connection was closed.
	FinalizeNode(p *Peer)
}

// Peer is one established connection.
type Peer struct {
	ID          int64
	Conn        net.Conn
	Addr        netip.AddrPort
	Inbound     bool
	Whitelisted bool
	Manual      bool // -connect or -addnode target
	Connected   time.Time

	closeOnce sync.Once
}

// Disconnect closes the connection.
func (p *Peer) Disconnect() {
	p.closeOnce.Do(func() { p.Conn.Close() })
}

func (p *Peer) String() string {
	dir := "outbound"
	if p.Inbound {
		dir = "inbound"
	}
	return fmt.Sprintf("peer=%d %s %v", p.ID, dir, p.Addr)
}

// ConnConfig configures a ConnManager.
type ConnConfig struct {
	// Listen enables inbound connections.
	Listen bool
	// Bind and WhiteBind are explicit listen addresses. Failing to bind any
	// of them is fatal. Peers accepted on a WhiteBind address are whitelisted.
	Bind      []string
	WhiteBind []string
	Whitelist netutil.Netlist

	DefaultPort    int
	MaxConnections int

	// Connect restricts outbound connections to the given peers.
	Connect  []string
	AddNode  []string
	SeedNode []string

	// Proxy is a SOCKS5 proxy for all outbound connections.
	Proxy       string
	DialTimeout time.Duration

	// NAT maps the first listening port. Clock drives the mapping timers
	// and defaults to the system clock.
	NAT   nat.Interface
	Clock mclock.Clock

	Processor MessageProcessor
	Bans      *BanManager
}

// ConnManager owns the listening sockets and every established connection.
type ConnManager struct {
	cfg ConnConfig

	lock      sync.Mutex
	running   bool
	listeners []net.Listener
	peers     map[int64]*Peer
	dialing   mapset.Set[string]
	mapper    *nat.Mapper
	dialer    proxy.Dialer
	limiter   *rate.Limiter

	interrupt     chan struct{}
	interruptOnce sync.Once
	wg            sync.WaitGroup
	peerWG        sync.WaitGroup
	lastID        atomic.Int64
	log           log.Logger
}

// NewConnManager creates a stopped connection manager.
func NewConnManager(cfg ConnConfig) *ConnManager {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &ConnManager{
		cfg:       cfg,
		peers:     make(map[int64]*Peer),
		dialing:   mapset.NewSet[string](),
		limiter:   rate.NewLimiter(dialRateLimit, dialBurst),
		interrupt: make(chan struct{}),
		log:       log.New("module", "net"),
	}
}

// Start binds the listening sockets, starts port mapping and begins dialing.
// It fails only when an explicitly requested address cannot be bound.
func (cm *ConnManager) Start() error {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	if cm.running {
		return errServerRunning
	}
	select {
	case <-cm.interrupt:
		return errServerStopped
	default:
	}
	if cm.cfg.Processor == nil {
		return errors.New("connection manager needs a message processor")
	}

	dialer, err := cm.setupDialer()
	if err != nil {
		return err
	}
	cm.dialer = dialer

	if err := cm.setupListening(); err != nil {
		for _, l := range cm.listeners {
			l.Close()
		}
		cm.listeners = nil
		return err
	}
	if cm.cfg.NAT != nil && len(cm.listeners) > 0 {
		cm.mapper = nat.NewMapper(cm.cfg.NAT, cm.listenPort(), cm.cfg.Clock)
		cm.mapper.Start()
	}
	cm.running = true

	cm.wg.Add(1)
	go cm.dialLoop()
	return nil
}

func (cm *ConnManager) setupDialer() (proxy.Dialer, error) {
	direct := &net.Dialer{Timeout: cm.cfg.DialTimeout}
	if cm.cfg.Proxy == "" {
		return direct, nil
	}
	host, port, err := netutil.ParseService(cm.cfg.Proxy, 9050)
	if err != nil {
		return nil, fmt.Errorf("Invalid -proxy address or hostname: '%s'", cm.cfg.Proxy)
	}
	d, err := proxy.SOCKS5("tcp", net.JoinHostPort(host, strconv.Itoa(port)), nil, direct)
	if err != nil {
		return nil, fmt.Errorf("Invalid -proxy address or hostname: '%s'", cm.cfg.Proxy)
	}
	cm.log.Info("Using SOCKS5 proxy", "addr", cm.cfg.Proxy)
	return d, nil
}

func (cm *ConnManager) setupListening() error {
	explicit := len(cm.cfg.Bind) > 0 || len(cm.cfg.WhiteBind) > 0
	for _, addr := range cm.cfg.Bind {
		if err := cm.bind(addr, false); err != nil {
			return err
		}
	}
	for _, addr := range cm.cfg.WhiteBind {
		if err := cm.bind(addr, true); err != nil {
			return err
		}
	}
	if explicit || !cm.cfg.Listen {
		return nil
	}
	addr := net.JoinHostPort("", strconv.Itoa(cm.cfg.DefaultPort))
	if err := cm.bind(addr, false); err != nil {
		cm.log.Warn("Failed to listen on default address, inbound connections disabled", "addr", addr, "err", err)
	}
	return nil
}

func (cm *ConnManager) bind(addr string, whitelisted bool) error {
	host, port, err := netutil.ParseService(addr, cm.cfg.DefaultPort)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	hostport := net.JoinHostPort(host, strconv.Itoa(port))
	l, err := net.Listen("tcp", hostport)
	if err != nil {
		return &BindError{Addr: hostport, Err: err}
	}
	cm.listeners = append(cm.listeners, l)
	cm.log.Info("Bound to address", "addr", l.Addr(), "whitelisted", whitelisted)

	cm.wg.Add(1)
	go cm.listenLoop(l, whitelisted)
	return nil
}

func (cm *ConnManager) listenPort() int {
	if len(cm.listeners) == 0 {
		return cm.cfg.DefaultPort
	}
	if tcp, ok := cm.listeners[0].Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return cm.cfg.DefaultPort
}

// External returns the address reported by the port mapper. The IP is nil
// when no mapping is active.
func (cm *ConnManager) External() (net.IP, int) {
	cm.lock.Lock()
	mapper := cm.mapper
	cm.lock.Unlock()
	if mapper == nil {
		return nil, 0
	}
	return mapper.External()
}

// ListenAddrs returns the bound addresses.
func (cm *ConnManager) ListenAddrs() []net.Addr {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	addrs := make([]net.Addr, len(cm.listeners))
	for i, l := range cm.listeners {
		addrs[i] = l.Addr()
	}
	return addrs
}

// Interrupt stops accepting and dialing. Established connections stay up
// until Stop.
func (cm *ConnManager) Interrupt() {
	cm.interruptOnce.Do(func() { close(cm.interrupt) })
}

// Stop interrupts the manager, closes every connection and waits for all
// goroutines to exit. It is safe to call on a manager that never started.
func (cm *ConnManager) Stop() {
	cm.Interrupt()

	cm.lock.Lock()
	if !cm.running {
		cm.lock.Unlock()
		return
	}
	cm.running = false
	for _, l := range cm.listeners {
		l.Close()
	}
	cm.listeners = nil
	mapper := cm.mapper
	cm.mapper = nil
	cm.lock.Unlock()

	cm.wg.Wait()
	cm.lock.Lock()
	for _, p := range cm.peers {
		p.Disconnect()
	}
	cm.lock.Unlock()
	cm.peerWG.Wait()
	if mapper != nil {
		mapper.Stop()
	}
	cm.log.Info("Connection manager stopped")
}

// ConnectionCount returns the number of established connections.
func (cm *ConnManager) ConnectionCount() int {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	return len(cm.peers)
}

// Peers returns the established connections.
func (cm *ConnManager) Peers() []*Peer {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	list := make([]*Peer, 0, len(cm.peers))
	for _, p := range cm.peers {
		list = append(list, p)
	}
	return list
}

// DisconnectAddr closes every connection with a peer at addr and reports
// whether there was one.
func (cm *ConnManager) DisconnectAddr(addr netip.Addr) bool {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	found := false
	for _, p := range cm.peers {
		if p.Addr.Addr() == addr.Unmap() {
			p.Disconnect()
			found = true
		}
	}
	return found
}

func (cm *ConnManager) interrupted() bool {
	select {
	case <-cm.interrupt:
		return true
	default:
		return false
	}
}

func (cm *ConnManager) listenLoop(l net.Listener, whitelisted bool) {
	defer cm.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if netutil.IsTemporaryError(err) && !cm.interrupted() {
				cm.log.Debug("Temporary read error", "err", err)
				time.Sleep(acceptRetryInterval)
				continue
			}
			if !cm.interrupted() {
				cm.log.Debug("Listener closed", "addr", l.Addr(), "err", err)
			}
			return
		}
		if cm.interrupted() {
			conn.Close()
			return
		}
		cm.acceptInbound(conn, whitelisted)
	}
}

func (cm *ConnManager) acceptInbound(conn net.Conn, whitelisted bool) {
	remote, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}
	remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())
	if !whitelisted {
		whitelisted = cm.cfg.Whitelist.Contains(remote.Addr())
	}
	if !whitelisted && cm.cfg.Bans != nil && cm.cfg.Bans.IsBanned(remote.Addr()) {
		cm.log.Debug("Connection from banned address dropped", "addr", remote)
		conn.Close()
		return
	}
	if !whitelisted && cm.inboundCount() >= cm.maxInbound() {
		cm.log.Debug("Connection limit reached, dropping inbound", "addr", remote)
		conn.Close()
		return
	}
	cm.addPeer(conn, remote, true, whitelisted, false)
}

func (cm *ConnManager) maxInbound() int {
	n := cm.cfg.MaxConnections - (MaxOutboundConnections + MaxAddNodeConnections)
	if n < 0 {
		return 0
	}
	return n
}

func (cm *ConnManager) inboundCount() int {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	n := 0
	for _, p := range cm.peers {
		if p.Inbound {
			n++
		}
	}
	return n
}

func (cm *ConnManager) addPeer(conn net.Conn, addr netip.AddrPort, inbound, whitelisted, manual bool) {
	p := &Peer{
		ID:          cm.lastID.Add(1),
		Conn:        conn,
		Addr:        addr,
		Inbound:     inbound,
		Whitelisted: whitelisted,
		Manual:      manual,
		Connected:   time.Now(),
	}
	cm.lock.Lock()
	if !cm.running {
		cm.lock.Unlock()
		conn.Close()
		return
	}
	cm.peers[p.ID] = p
	cm.peerWG.Add(1)
	cm.lock.Unlock()

	cm.log.Debug("Added connection", "peer", p)
	go cm.runPeer(p)
}

func (cm *ConnManager) runPeer(p *Peer) {
	defer cm.peerWG.Done()

	cm.cfg.Processor.InitializeNode(p)
	err := cm.cfg.Processor.ProcessMessages(p, cm.interrupt)
	p.Disconnect()
	cm.cfg.Processor.FinalizeNode(p)

	cm.lock.Lock()
	delete(cm.peers, p.ID)
	cm.lock.Unlock()
	cm.log.Debug("Removed connection", "peer", p, "err", err)
}

// dialLoop keeps the manual connections up and connects to the seed nodes
// once. With -connect only those peers are dialed.
func (cm *ConnManager) dialLoop() {
	defer cm.wg.Done()

	manual := cm.cfg.AddNode
	if len(cm.cfg.Connect) > 0 {
		manual = cm.cfg.Connect
	} else {
		for _, addr := range cm.cfg.SeedNode {
			if cm.interrupted() {
				return
			}
			cm.dial(addr, false)
		}
	}
	if len(manual) == 0 {
		return
	}
	retry := time.NewTicker(addNodeRetryPeriod)
	defer retry.Stop()
	for {
		for _, addr := range manual {
			if cm.interrupted() {
				return
			}
			if !cm.connectedTo(addr) {
				cm.dial(addr, true)
			}
		}
		select {
		case <-cm.interrupt:
			return
		case <-retry.C:
		}
	}
}

func (cm *ConnManager) connectedTo(target string) bool {
	host, port, err := netutil.ParseService(target, cm.cfg.DefaultPort)
	if err != nil {
		return false
	}
	want := net.JoinHostPort(host, strconv.Itoa(port))
	cm.lock.Lock()
	defer cm.lock.Unlock()
	for _, p := range cm.peers {
		if !p.Inbound && p.Conn.RemoteAddr().String() == want {
			return true
		}
	}
	return false
}

// dial opens one outbound connection, honoring the attempt rate limit.
func (cm *ConnManager) dial(target string, manual bool) error {
	host, port, err := netutil.ParseService(target, cm.cfg.DefaultPort)
	if err != nil {
		cm.log.Warn("Invalid peer address", "addr", target, "err", err)
		return err
	}
	hostport := net.JoinHostPort(host, strconv.Itoa(port))

	if !cm.dialing.Add(hostport) {
		return errAlreadyDialing
	}
	defer cm.dialing.Remove(hostport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cm.interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := cm.limiter.Wait(ctx); err != nil {
		return errServerStopped
	}
	conn, err := cm.dialer.Dial("tcp", hostport)
	if err != nil {
		cm.log.Debug("Failed to connect", "addr", hostport, "err", err)
		return err
	}
	remote, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		// Proxied connections report the proxy's view, keep the target.
		remote = netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))
	}
	remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())
	cm.addPeer(conn, remote, false, cm.cfg.Whitelist.Contains(remote.Addr()), manual)
	return nil
}
