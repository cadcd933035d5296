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
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/springbok/springbokd/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Handler executes one command. params are the positional arguments.
type Handler func(ctx context.Context, params []json.RawMessage) (any, error)

// Command is an entry of the command table.
type Command struct {
	Category string
	Name     string
	Args     []string
	Handler  Handler
}

// Server holds the command table and dispatches calls. It starts in warmup:
// until SetWarmupFinished is called every call is answered with an
// ErrCodeInWarmup error carrying the current init message.
type Server struct {
	mu       sync.RWMutex
	commands map[string]*Command

	warmup       atomic.Bool
	warmupMu     sync.Mutex
	warmupStatus string

	running atomic.Bool
	log     log.Logger
}

// NewServer creates a server in warmup mode.
func NewServer() *Server {
	s := &Server{
		commands:     make(map[string]*Command),
		warmupStatus: "RPC server started",
		log:          log.New("module", "rpc"),
	}
	s.warmup.Store(true)
	s.running.Store(true)
	return s
}

// Register adds a command. Registering a name twice is an error.
func (s *Server) Register(cmd Command) error {
	if cmd.Name == "" || cmd.Handler == nil {
		return errors.New("rpc: command needs a name and a handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[cmd.Name]; ok {
		return fmt.Errorf("rpc: command %q already registered", cmd.Name)
	}
	c := cmd
	s.commands[cmd.Name] = &c
	return nil
}

// Commands returns the registered commands ordered by category and name.
func (s *Server) Commands() []Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Command, 0, len(s.commands))
	for _, c := range s.commands {
		list = append(list, *c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Category != list[j].Category {
			return list[i].Category < list[j].Category
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// Help renders the command list, or the usage of one command.
func (s *Server) Help(name string) (string, error) {
	if name != "" {
		s.mu.RLock()
		c, ok := s.commands[name]
		s.mu.RUnlock()
		if !ok {
			return "", NewError(ErrCodeMisc, "help: unknown command: %s", name)
		}
		return usage(c), nil
	}
	var (
		b        strings.Builder
		category string
	)
	for i, c := range s.Commands() {
		if c.Category != category {
			if i > 0 {
				b.WriteString("\n")
			}
			category = c.Category
			fmt.Fprintf(&b, "== %s ==\n", cases.Title(language.English).String(category))
		}
		b.WriteString(usage(&c))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func usage(c *Command) string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// SetWarmupStatus changes the message returned to callers during warmup.
func (s *Server) SetWarmupStatus(status string) {
	s.warmupMu.Lock()
	s.warmupStatus = status
	s.warmupMu.Unlock()
}

// SetWarmupFinished makes the server answer calls.
func (s *Server) SetWarmupFinished() {
	s.warmupMu.Lock()
	defer s.warmupMu.Unlock()
	if s.warmup.Load() {
		s.warmup.Store(false)
		s.log.Info("RPC warmup finished")
	}
}

// InWarmup reports whether the server is still warming up, and with which
// status.
func (s *Server) InWarmup() (bool, string) {
	s.warmupMu.Lock()
	defer s.warmupMu.Unlock()
	return s.warmup.Load(), s.warmupStatus
}

// Interrupt makes the server reject every further call.
func (s *Server) Interrupt() {
	s.running.Store(false)
}

// Execute runs a command.
func (s *Server) Execute(ctx context.Context, method string, params []json.RawMessage) (result any, err error) {
	if !s.running.Load() {
		return nil, NewError(ErrCodeMisc, "Shutting down")
	}
	if warm, status := s.InWarmup(); warm {
		return nil, NewError(ErrCodeInWarmup, "%s", status)
	}
	s.mu.RLock()
	c, ok := s.commands[method]
	s.mu.RUnlock()
	if !ok {
		return nil, &methodNotFoundError{method}
	}
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			s.log.Error("RPC method " + method + " crashed: " + fmt.Sprintf("%v\n%s", r, buf))
			result, err = nil, &internalServerError{ErrCodeInternal, "method handler crashed"}
		}
	}()
	return c.Handler(ctx, params)
}

// handleMsg answers one message. Notifications produce no answer.
func (s *Server) handleMsg(ctx context.Context, msg *jsonrpcMessage) *jsonrpcMessage {
	if msg.Method == "" {
		return msg.errorResponse(&invalidRequestError{"Method must be a string"})
	}
	if msg.ID != nil && !msg.hasValidID() {
		return msg.errorResponse(&invalidRequestError{"Invalid request id"})
	}
	params, err := msg.params()
	if err != nil {
		return msg.errorResponse(err)
	}
	s.log.Trace("Handling RPC call", "method", msg.Method)
	result, err := s.Execute(ctx, msg.Method, params)
	if msg.isNotification() {
		return nil
	}
	if err != nil {
		s.log.Debug("RPC call failed", "method", msg.Method, "err", err)
		return msg.errorResponse(err)
	}
	return msg.response(result)
}

// Handle processes a raw request body, a single call or a batch, and returns
// the encoded answer. A nil answer means only notifications were received.
func (s *Server) Handle(ctx context.Context, body []byte) []byte {
	if !json.Valid(body) {
		out, _ := json.Marshal(errorMessage(&parseError{"Parse error"}))
		return out
	}
	msgs, batch := parseMessage(body)
	if batch && len(msgs) == 0 {
		out, _ := json.Marshal(errorMessage(&invalidRequestError{"empty batch"}))
		return out
	}
	var answers []*jsonrpcMessage
	for _, msg := range msgs {
		if resp := s.handleMsg(ctx, msg); resp != nil {
			answers = append(answers, resp)
		}
	}
	if len(answers) == 0 {
		return nil
	}
	var out []byte
	if batch {
		out, _ = json.Marshal(answers)
	} else {
		out, _ = json.Marshal(answers[0])
	}
	return out
}

// ParseArg decodes params[i] into v. Missing optional arguments leave v
// untouched and report false.
func ParseArg(params []json.RawMessage, i int, v any) (bool, error) {
	if i >= len(params) || string(params[i]) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(params[i], v); err != nil {
		return false, NewError(ErrCodeType, "Expected type %T for argument %d: %v", v, i+1, err)
	}
	return true, nil
}
