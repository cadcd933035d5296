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

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/springbok/springbokd/log"
)

const (
	defaultBodyLimit     = 5 * 1024 * 1024
	defaultHTTPTimeout   = 30 * time.Second
	httpShutdownTimeout  = 5 * time.Second
	defaultHTTPWorkQueue = 16
)

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Addrs []string // host:port pairs to listen on

	User     string
	Password string
	// JWTSecret, when set, additionally accepts HS256 bearer tokens.
	JWTSecret []byte

	CorsAllowedOrigins []string
	REST               bool
	WS                 bool

	// WorkQueue bounds the number of requests served at once.
	WorkQueue int
	BodyLimit int
	Timeout   time.Duration
}

// HTTPServer serves the command table over HTTP.
type HTTPServer struct {
	cfg HTTPConfig
	srv *Server
	ws  *Notifier

	mu        sync.Mutex
	listeners []net.Listener
	server    *http.Server
	work      chan struct{}
	log       log.Logger
}

// NewHTTPServer creates a stopped HTTP transport for srv. ws may be nil when
// websocket notifications are disabled.
func NewHTTPServer(cfg HTTPConfig, srv *Server, ws *Notifier) *HTTPServer {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaultBodyLimit
	}
	if cfg.WorkQueue <= 0 {
		cfg.WorkQueue = defaultHTTPWorkQueue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &HTTPServer{
		cfg:  cfg,
		srv:  srv,
		ws:   ws,
		work: make(chan struct{}, cfg.WorkQueue),
		log:  log.New("module", "http"),
	}
}

// Start binds every configured address. Failing to bind any address is an
// error, partial binds are closed again.
func (h *HTTPServer) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return errors.New("http server already running")
	}
	if len(h.cfg.Addrs) == 0 {
		return errors.New("no RPC bind address")
	}
	for _, addr := range h.cfg.Addrs {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range h.listeners {
				l.Close()
			}
			h.listeners = nil
			return fmt.Errorf("Unable to start HTTP server. See debug log for details. (%s: %w)", addr, err)
		}
		h.log.Info("Binding RPC", "addr", l.Addr())
		h.listeners = append(h.listeners, l)
	}
	h.server = &http.Server{
		Handler:           h.handler(),
		ReadTimeout:       h.cfg.Timeout,
		ReadHeaderTimeout: h.cfg.Timeout,
		WriteTimeout:      h.cfg.Timeout,
		IdleTimeout:       2 * h.cfg.Timeout,
	}
	for _, l := range h.listeners {
		go h.server.Serve(l)
	}
	return nil
}

// Addrs returns the bound addresses.
func (h *HTTPServer) Addrs() []net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	addrs := make([]net.Addr, len(h.listeners))
	for i, l := range h.listeners {
		addrs[i] = l.Addr()
	}
	return addrs
}

// Stop shuts the server down, waiting a bounded time for active requests.
func (h *HTTPServer) Stop() {
	h.mu.Lock()
	server := h.server
	h.server, h.listeners = nil, nil
	h.mu.Unlock()
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		h.log.Warn("HTTP server shutdown timed out", "err", err)
		server.Close()
	}
	if h.ws != nil {
		h.ws.closeAll()
	}
	h.log.Info("HTTP server stopped")
}

func (h *HTTPServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(h.serveRPC))
	if h.cfg.REST {
		mux.Handle("/rest/", newRESTHandler(h.srv))
	}
	if h.cfg.WS && h.ws != nil {
		mux.Handle("/ws", h.ws.Handler(h.srv, h.cfg.CorsAllowedOrigins))
	}
	var handler http.Handler = mux
	handler = newAuthHandler(h.cfg.User, h.cfg.Password, h.cfg.JWTSecret, handler, h.cfg.REST)
	handler = newCorsHandler(handler, h.cfg.CorsAllowedOrigins)
	return h.limit(handler)
}

// limit bounds the number of requests in flight.
func (h *HTTPServer) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case h.work <- struct{}{}:
			defer func() { <-h.work }()
			next.ServeHTTP(w, r)
		default:
			h.log.Warn("Request rejected because http work queue depth exceeded", "depth", h.cfg.WorkQueue)
			http.Error(w, "Work queue depth exceeded", http.StatusServiceUnavailable)
		}
	})
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	// disable CORS support if user has not specified a custom CORS configuration
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	})
	return c.Handler(srv)
}

// serveRPC serves JSON-RPC requests over HTTP.
func (h *HTTPServer) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "" {
		http.NotFound(w, r)
		return
	}
	// Permit dumb empty requests for remote health-checks.
	if r.Method == http.MethodGet && r.ContentLength == 0 && r.URL.RawQuery == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if code, err := h.validateRequest(r); err != nil {
		http.Error(w, err.Error(), code)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(h.cfg.BodyLimit)+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > h.cfg.BodyLimit {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	out := h.srv.Handle(r.Context(), body)
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("content-type", contentType)
	w.Header().Set("content-length", strconv.Itoa(len(out)+1))
	w.Write(out)
	w.Write([]byte("\n"))
}

// validateRequest returns a non-zero response code and error message if the
// request is invalid.
func (h *HTTPServer) validateRequest(r *http.Request) (int, error) {
	if r.Method != http.MethodPost {
		return http.StatusMethodNotAllowed, errors.New("JSONRPC server handles only POST requests")
	}
	if r.ContentLength > int64(h.cfg.BodyLimit) {
		err := fmt.Errorf("content length too large (%d>%d)", r.ContentLength, h.cfg.BodyLimit)
		return http.StatusRequestEntityTooLarge, err
	}
	ct := r.Header.Get("content-type")
	if ct == "" {
		return 0, nil
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		for _, accepted := range acceptedContentTypes {
			if accepted == mt {
				return 0, nil
			}
		}
	}
	err := fmt.Errorf("invalid content type, only %s is supported", contentType)
	return http.StatusUnsupportedMediaType, err
}
