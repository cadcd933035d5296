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

package node

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrDatadirUsed       = errors.New("datadir already used by another process")
	ErrShutdownRequested = errors.New("shutdown requested")
	ErrNodeStarted       = errors.New("node already started")

	// ErrLockHeld matches any ResourceError of kind LockHeld.
	ErrLockHeld = &ResourceError{Kind: LockHeld}

	datadirInUseErrnos = map[uint]bool{11: true, 32: true, 35: true}
)

func convertFileLockError(err error) error {
	if errno, ok := err.(syscall.Errno); ok && datadirInUseErrnos[uint(errno)] {
		return ErrDatadirUsed
	}
	return err
}

// ResourceKind classifies failures of the resource manager.
type ResourceKind int

const (
	LockHeld ResourceKind = iota + 1
	NotWritable
	CreateDir
	DiskSpace
	Open
)

func (k ResourceKind) String() string {
	switch k {
	case LockHeld:
		return "lock held"
	case NotWritable:
		return "not writable"
	case CreateDir:
		return "create directory"
	case DiskSpace:
		return "disk space"
	case Open:
		return "open database"
	default:
		return fmt.Sprintf("ResourceKind(%d)", int(k))
	}
}

// ResourceError is returned when the data directory or one of the databases
// cannot be used.
type ResourceError struct {
	Kind ResourceKind
	Path string
	Msg  string // user facing text, empty to derive one from Kind
	Err  error
}

func (e *ResourceError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Is matches another ResourceError of the same kind.
func (e *ResourceError) Is(target error) bool {
	t, ok := target.(*ResourceError)
	return ok && t.Kind == e.Kind && t.Path == "" && t.Err == nil
}

// ConfigError reports an invalid option or combination of options. It is
// raised before any resource is touched.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
