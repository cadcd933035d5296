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

import "fmt"

// Error wraps RPC errors, which contain an error code in addition to the message.
type Error interface {
	Error() string  // returns the message
	ErrorCode() int // returns the code
}

// Standard JSON-RPC 2.0 errors.
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeParse          = -32700
)

// Node specific error codes.
const (
	ErrCodeMisc          = -1  // unexpected failure while handling a command
	ErrCodeType          = -3  // unexpected type was passed as parameter
	ErrCodeInvalidParam  = -8  // invalid, missing or duplicate parameter
	ErrCodeClientNotConn = -9  // not connected
	ErrCodeInWarmup      = -28 // client still warming up
)

// CodedError is an RPC error with a code.
type CodedError struct {
	Code    int
	Message string
}

func (e *CodedError) Error() string  { return e.Message }
func (e *CodedError) ErrorCode() int { return e.Code }

// NewError creates an RPC error.
func NewError(code int, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) ErrorCode() int { return ErrCodeMethodNotFound }

func (e *methodNotFoundError) Error() string { return "Method not found" }

type invalidRequestError struct{ message string }

func (e *invalidRequestError) ErrorCode() int { return ErrCodeInvalidRequest }

func (e *invalidRequestError) Error() string { return e.message }

type parseError struct{ message string }

func (e *parseError) ErrorCode() int { return ErrCodeParse }

func (e *parseError) Error() string { return e.message }

type internalServerError struct {
	code    int
	message string
}

func (e *internalServerError) ErrorCode() int { return e.code }

func (e *internalServerError) Error() string { return e.message }

var (
	_ Error = new(CodedError)
	_ Error = new(methodNotFoundError)
	_ Error = new(invalidRequestError)
	_ Error = new(parseError)
	_ Error = new(internalServerError)
)
