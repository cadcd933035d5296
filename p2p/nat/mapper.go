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
	"time"

	"github.com/springbok/springbokd/common/mclock"
	"github.com/springbok/springbokd/log"
)

const (
	portMapDuration        = 10 * time.Minute
	portMapRefreshInterval = 8 * time.Minute
	portMapRetryInterval   = 5 * time.Minute
	extipRetryInterval     = 2 * time.Minute
)

// Mapper keeps a TCP port mapping alive on a NAT device and tracks the
// external address reported by it.
type Mapper struct {
	nat   Interface
	port  int
	clock mclock.Clock

	mu      sync.Mutex
	extIP   net.IP
	extPort int
	quit    chan struct{}
	wg      sync.WaitGroup
	log     log.Logger

	// OnExternalIP is called whenever the external address changes.
	OnExternalIP func(ip net.IP)
}

// NewMapper creates a mapper for port. A nil clock means the system clock.
func NewMapper(m Interface, port int, clock mclock.Clock) *Mapper {
	if clock == nil {
		clock = mclock.System{}
	}
	return &Mapper{
		nat:   m,
		port:  port,
		clock: clock,
		log:   log.New("proto", "TCP", "intport", port, "interface", m),
	}
}

// Start launches the mapping loop.
func (m *Mapper) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quit != nil {
		return
	}
	m.quit = make(chan struct{})
	m.wg.Add(1)
	go m.loop(m.quit)
}

// Stop removes the mapping and joins the loop. It is a no-op when the mapper
// was never started.
func (m *Mapper) Stop() {
	m.mu.Lock()
	quit := m.quit
	m.quit = nil
	m.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	m.wg.Wait()
}

// External returns the mapped address, if any.
func (m *Mapper) External() (net.IP, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extIP, m.extPort
}

func (m *Mapper) loop(quit chan struct{}) {
	defer m.wg.Done()

	refresh := m.clock.NewTimer(0)
	extip := m.clock.NewTimer(0)
	defer func() {
		refresh.Stop()
		extip.Stop()
		if _, port := m.External(); port != 0 {
			m.log.Debug("Deleting port mapping", "extport", port)
			m.nat.DeleteMapping("TCP", port, m.port)
		}
	}()

	for {
		select {
		case <-quit:
			return

		case <-extip.C():
			extip.Reset(extipRetryInterval)
			ip, err := m.nat.ExternalIP()
			if err != nil {
				m.log.Debug("Couldn't get external IP", "err", err)
				continue
			}
			m.mu.Lock()
			changed := !ip.Equal(m.extIP)
			m.extIP = ip
			m.mu.Unlock()
			if changed {
				m.log.Info("External IP changed", "ip", ip)
				if m.OnExternalIP != nil {
					m.OnExternalIP(ip)
				}
			}

		case <-refresh.C():
			_, external := m.External()
			if external == 0 {
				external = m.port
			}
			p, err := m.nat.AddMapping("TCP", external, m.port, "springbokd", portMapDuration)
			if err != nil {
				m.log.Debug("Couldn't add port mapping", "err", err)
				m.mu.Lock()
				m.extPort = 0
				m.mu.Unlock()
				refresh.Reset(portMapRetryInterval)
				continue
			}
			m.mu.Lock()
			m.extPort = int(p)
			m.mu.Unlock()
			refresh.Reset(portMapRefreshInterval)
			if int(p) != external {
				m.log.Info("NAT mapped alternative port", "extport", p)
			} else {
				m.log.Info("NAT mapped port", "extport", p)
			}
		}
	}
}
