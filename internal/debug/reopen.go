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

package debug

import (
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

var reopenRequested atomic.Bool

// RequestLogReopen asks the log file writer to reopen its file before the
// next write. It only sets a flag and is safe to call from a signal handler.
func RequestLogReopen() {
	reopenRequested.Store(true)
}

// reopenFile appends to a plain log file, reopening it on request so an
// external tool can rotate it.
type reopenFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openLogFile(path string) (*reopenFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &reopenFile{path: path, f: f}, nil
}

func (w *reopenFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if reopenRequested.CompareAndSwap(true, false) {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			w.f.Close()
			w.f = f
		}
	}
	return w.f.Write(p)
}

func (w *reopenFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// reopenRotator closes the lumberjack file on request. Lumberjack opens it
// again on the next write.
type reopenRotator struct {
	*lumberjack.Logger
}

func (w reopenRotator) Write(p []byte) (int, error) {
	if reopenRequested.CompareAndSwap(true, false) {
		w.Logger.Close()
	}
	return w.Logger.Write(p)
}
