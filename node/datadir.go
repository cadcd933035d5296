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
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/springbok/springbokd/internal/sanity"
	"github.com/springbok/springbokd/version"
)

const (
	lockFile       = ".lock"
	DefaultPIDFile = "springbokd.pid"
)

func lockError(dir string) error {
	return &ResourceError{
		Kind: LockHeld,
		Path: dir,
		Msg:  fmt.Sprintf("Cannot obtain a lock on data directory %s. %s is probably already running.", dir, version.ClientName),
	}
}

// prepareDataDir creates dir if needed and makes sure it is writable.
func prepareDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &ResourceError{Kind: CreateDir, Path: dir, Err: err}
	}
	if err := sanity.CheckWritable(dir); err != nil {
		return &ResourceError{
			Kind: NotWritable,
			Path: dir,
			Msg:  fmt.Sprintf("Cannot write to data directory '%s'; check permissions.", dir),
			Err:  err,
		}
	}
	return nil
}

// probeDataDirLock takes and immediately drops the lock on dir.
func probeDataDirLock(dir string) error {
	if err := prepareDataDir(dir); err != nil {
		return err
	}
	l := flock.New(filepath.Join(dir, lockFile))
	defer l.Close()
	locked, err := l.TryLock()
	if err != nil {
		if errors.Is(convertFileLockError(err), ErrDatadirUsed) {
			return lockError(dir)
		}
		return &ResourceError{Kind: LockHeld, Path: dir, Err: err}
	}
	if !locked {
		return lockError(dir)
	}
	return l.Unlock()
}

// lockDataDir takes the lock on dir and keeps it until the returned lock is
// closed.
func lockDataDir(dir string) (*flock.Flock, error) {
	if err := prepareDataDir(dir); err != nil {
		return nil, err
	}
	l := flock.New(filepath.Join(dir, lockFile))
	locked, err := l.TryLock()
	if err != nil {
		l.Close()
		if errors.Is(convertFileLockError(err), ErrDatadirUsed) {
			return nil, lockError(dir)
		}
		return nil, &ResourceError{Kind: LockHeld, Path: dir, Err: err}
	}
	if !locked {
		l.Close()
		return nil, lockError(dir)
	}
	return l, nil
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("Unable to create the PID file '%s': %v", path, err)
	}
	return nil
}

func removePIDFile(path string) error {
	return os.Remove(path)
}
