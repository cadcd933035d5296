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

package metrics

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/springbok/springbokd/log"
)

// Server exposes a registry over HTTP.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Handler serves reg in the prometheus text format on /debug/metrics/prometheus
// and the expvar set on /debug/metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	m := http.NewServeMux()
	m.Handle("/debug/metrics", expvar.Handler())
	m.Handle("/debug/metrics/prometheus", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return m
}

// StartServer listens on address and serves the statistics registry together
// with the go runtime collectors.
func StartServer(address string, reg *prometheus.Registry) (*Server, error) {
	if err := reg.Register(collectors.NewGoCollector()); err != nil && !isAlreadyRegistered(err) {
		return nil, err
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	s := &Server{
		srv:      &http.Server{Handler: Handler(reg), ReadHeaderTimeout: 5 * time.Second},
		listener: listener,
	}
	log.Info("Starting metrics server", "addr", fmt.Sprintf("http://%s/debug/metrics", listener.Addr()))
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failure in running metrics server", "err", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
