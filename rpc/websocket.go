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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/signals"
	"github.com/springbok/springbokd/log"
)

const (
	wsReadBuffer       = 1024
	wsWriteBuffer      = 1024
	wsPingInterval     = 30 * time.Second
	wsPingWriteTimeout = 5 * time.Second
	wsPongTimeout      = 30 * time.Second
	wsDefaultReadLimit = 32 * 1024 * 1024

	// TopicHashBlock delivers the hash of every new chain tip.
	TopicHashBlock = "hashblock"
)

var wsBufferPool = new(sync.Pool)

type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	subs    map[string]string // subscription id -> topic
	closed  chan struct{}
	once    sync.Once
}

func (c *wsConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Notifier serves JSON-RPC over websocket connections and pushes chain
// events to the clients that subscribed to them. It is a validation event
// listener.
type Notifier struct {
	signals.NopListener

	mu    sync.Mutex
	conns map[*wsConn]struct{}
	log   log.Logger
}

// NewNotifier creates a notifier without connections.
func NewNotifier() *Notifier {
	return &Notifier{
		conns: make(map[*wsConn]struct{}),
		log:   log.New("module", "ws"),
	}
}

// Handler returns a handler that serves JSON-RPC to websocket connections.
//
// allowedOrigins should be a list of allowed origin URLs. To allow
// connections with any origin, pass "*".
func (n *Notifier) Handler(srv *Server, allowedOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     wsHandshakeValidator(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			n.log.Debug("WebSocket upgrade failed", "err", err)
			return
		}
		c := &wsConn{conn: conn, subs: make(map[string]string), closed: make(chan struct{})}
		n.mu.Lock()
		n.conns[c] = struct{}{}
		n.mu.Unlock()
		defer func() {
			n.mu.Lock()
			delete(n.conns, c)
			n.mu.Unlock()
			c.close()
		}()
		go n.pingLoop(c)
		n.serve(context.Background(), srv, c)
	})
}

func (n *Notifier) pingLoop(c *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (n *Notifier) serve(ctx context.Context, srv *Server, c *wsConn) {
	c.conn.SetReadLimit(wsDefaultReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
		if resp := n.handleSubscription(c, data); resp != nil {
			if c.write(resp) != nil {
				return
			}
			continue
		}
		if out := srv.Handle(ctx, data); out != nil {
			if c.write(json.RawMessage(out)) != nil {
				return
			}
		}
	}
}

// handleSubscription answers subscribe and unsubscribe calls. It returns nil
// for every other message.
func (n *Notifier) handleSubscription(c *wsConn, data []byte) *jsonrpcMessage {
	var msg jsonrpcMessage
	if json.Unmarshal(data, &msg) != nil {
		return nil
	}
	switch msg.Method {
	case "subscribe":
		var topic string
		params, err := msg.params()
		if err == nil {
			_, err = ParseArg(params, 0, &topic)
		}
		if err != nil {
			return msg.errorResponse(err)
		}
		if topic != TopicHashBlock {
			return msg.errorResponse(NewError(ErrCodeInvalidParam, "unknown topic %q", topic))
		}
		id := uuid.NewString()
		n.mu.Lock()
		c.subs[id] = topic
		n.mu.Unlock()
		return msg.response(id)
	case "unsubscribe":
		var id string
		params, err := msg.params()
		if err == nil {
			_, err = ParseArg(params, 0, &id)
		}
		if err != nil {
			return msg.errorResponse(err)
		}
		n.mu.Lock()
		_, found := c.subs[id]
		delete(c.subs, id)
		n.mu.Unlock()
		return msg.response(found)
	}
	return nil
}

type subscriptionResult struct {
	ID     string `json:"subscription"`
	Result any    `json:"result"`
}

type blockTip struct {
	Hash   common.Hash `json:"hash"`
	Height uint64      `json:"height"`
}

// Notify sends result to every subscriber of topic.
func (n *Notifier) Notify(topic string, result any) {
	type target struct {
		c  *wsConn
		id string
	}
	var targets []target
	n.mu.Lock()
	for c := range n.conns {
		for id, t := range c.subs {
			if t == topic {
				targets = append(targets, target{c, id})
			}
		}
	}
	n.mu.Unlock()

	for _, t := range targets {
		params, _ := json.Marshal(subscriptionResult{ID: t.id, Result: result})
		msg := &jsonrpcMessage{Version: vsn, Method: topic, Params: params}
		if err := t.c.write(msg); err != nil {
			n.log.Debug("Dropping websocket subscriber", "id", t.id, "err", err)
			t.c.close()
		}
	}
}

// UpdatedBlockTip notifies TopicHashBlock subscribers.
func (n *Notifier) UpdatedBlockTip(ev signals.TipEvent) {
	n.Notify(TopicHashBlock, blockTip{Hash: ev.Hash, Height: ev.Height})
}

// Subscribers returns the number of subscriptions to topic.
func (n *Notifier) Subscribers(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for c := range n.conns {
		for _, t := range c.subs {
			if t == topic {
				count++
			}
		}
	}
	return count
}

func (n *Notifier) closeAll() {
	n.mu.Lock()
	conns := make([]*wsConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// wsHandshakeValidator returns a handler that verifies the origin during the
// websocket upgrade process. When a '*' is specified as an allowed origins all
// connections are accepted.
func wsHandshakeValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAllOrigins := false

	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAllOrigins = true
		}
		if origin != "" {
			origins.Add(origin)
		}
	}
	// allow localhost if no allowedOrigins are specified.
	if origins.Cardinality() == 0 {
		origins.Add("http://localhost")
		if hostname, err := os.Hostname(); err == nil {
			origins.Add("http://" + hostname)
		}
	}
	log.Debug(fmt.Sprintf("Allowed origin(s) for WS RPC interface %v", origins.ToSlice()))

	return func(req *http.Request) bool {
		// Skip origin verification if no Origin header is present. Browsers
		// always set Origin, and other software can put anything in it.
		if _, ok := req.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(req.Header.Get("Origin"))
		if allowAllOrigins || originIsAllowed(origins, origin) {
			return true
		}
		log.Warn("Rejected WebSocket connection", "origin", origin)
		return false
	}
}

func originIsAllowed(allowedOrigins mapset.Set[string], browserOrigin string) bool {
	for _, origin := range allowedOrigins.ToSlice() {
		if ruleAllowsOrigin(origin, browserOrigin) {
			return true
		}
	}
	return false
}

func ruleAllowsOrigin(allowedOrigin string, browserOrigin string) bool {
	allowedScheme, allowedHostname, allowedPort, err := parseOriginURL(allowedOrigin)
	if err != nil {
		log.Warn("Error parsing allowed origin specification", "spec", allowedOrigin, "error", err)
		return false
	}
	browserScheme, browserHostname, browserPort, err := parseOriginURL(browserOrigin)
	if err != nil {
		log.Warn("Error parsing browser 'Origin' field", "Origin", browserOrigin, "error", err)
		return false
	}
	if allowedScheme != "" && allowedScheme != browserScheme {
		return false
	}
	if allowedHostname != "" && allowedHostname != browserHostname {
		return false
	}
	if allowedPort != "" && allowedPort != browserPort {
		return false
	}
	return true
}

func parseOriginURL(origin string) (string, string, string, error) {
	parsedURL, err := url.Parse(strings.ToLower(origin))
	if err != nil {
		return "", "", "", err
	}
	var scheme, hostname, port string
	if strings.Contains(origin, "://") {
		scheme = parsedURL.Scheme
		hostname = parsedURL.Hostname()
		port = parsedURL.Port()
	} else {
		scheme = ""
		hostname = parsedURL.Scheme
		port = parsedURL.Opaque
		if hostname == "" {
			hostname = origin
		}
	}
	return scheme, hostname, port, nil
}
