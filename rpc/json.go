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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	vsn         = "2.0"
	contentType = "application/json"
)

var acceptedContentTypes = []string{contentType, "application/json-rpc", "application/jsonrequest", "text/plain"}

var null = json.RawMessage("null")

// A value of this type can be a JSON-RPC request, notification or response.
// Clients following the legacy 1.0 convention omit "jsonrpc".
type jsonrpcMessage struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonError      `json:"error,omitempty"`
}

func (msg *jsonrpcMessage) isNotification() bool {
	return msg.Version == vsn && msg.ID == nil && msg.Method != ""
}

func (msg *jsonrpcMessage) hasValidID() bool {
	return len(msg.ID) > 0 && msg.ID[0] != '{' && msg.ID[0] != '['
}

func (msg *jsonrpcMessage) String() string {
	b, _ := json.Marshal(msg)
	return string(b)
}

// params decodes positional parameters. Named parameters are not supported.
func (msg *jsonrpcMessage) params() ([]json.RawMessage, error) {
	p := bytes.TrimSpace(msg.Params)
	if len(p) == 0 || bytes.Equal(p, null) {
		return nil, nil
	}
	if p[0] != '[' {
		return nil, &invalidRequestError{"Params must be an array"}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(p, &list); err != nil {
		return nil, &parseError{err.Error()}
	}
	return list, nil
}

func (msg *jsonrpcMessage) response(result any) *jsonrpcMessage {
	enc, err := json.Marshal(result)
	if err != nil {
		return msg.errorResponse(&internalServerError{ErrCodeInternal, err.Error()})
	}
	return &jsonrpcMessage{Version: msg.Version, ID: msg.id(), Result: enc}
}

func (msg *jsonrpcMessage) errorResponse(err error) *jsonrpcMessage {
	resp := errorMessage(err)
	resp.Version = msg.Version
	resp.ID = msg.id()
	return resp
}

func (msg *jsonrpcMessage) id() json.RawMessage {
	if msg.ID == nil {
		return null
	}
	return msg.ID
}

func errorMessage(err error) *jsonrpcMessage {
	msg := &jsonrpcMessage{ID: null, Error: &jsonError{
		Code:    ErrCodeMisc,
		Message: err.Error(),
	}}
	var ec Error
	if errors.As(err, &ec) {
		msg.Error.Code = ec.ErrorCode()
	}
	return msg
}

type jsonError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (err *jsonError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("json-rpc error %d", err.Code)
	}
	return err.Message
}

func (err *jsonError) ErrorCode() int {
	return err.Code
}

// parseMessage parses raw bytes as a (batch of) JSON-RPC message(s). There are no error
// checks in this function because the raw message has already been syntax-checked when it
// is called. Any non-JSON-RPC messages in the input return the zero value of
// jsonrpcMessage.
func parseMessage(raw json.RawMessage) ([]*jsonrpcMessage, bool) {
	if !isBatch(raw) {
		msgs := []*jsonrpcMessage{{}}
		json.Unmarshal(raw, &msgs[0])
		return msgs, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.Token() // skip '['
	var msgs []*jsonrpcMessage
	for dec.More() {
		msgs = append(msgs, new(jsonrpcMessage))
		dec.Decode(&msgs[len(msgs)-1])
	}
	return msgs, true
}

// isBatch returns true when the first non-whitespace characters is '['
func isBatch(raw json.RawMessage) bool {
	for _, c := range raw {
		// skip insignificant whitespace (http://www.ietf.org/rfc/rfc4627.txt)
		if c == 0x20 || c == 0x09 || c == 0x0a || c == 0x0d {
			continue
		}
		return c == '['
	}
	return false
}
