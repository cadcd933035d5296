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

package chainstate

import (
	"errors"
	"fmt"

	"github.com/springbok/springbokd/common"
)

var (
	// ErrUnknownParent is returned by ProcessBlock for a block whose parent is
	// not in the block index yet.
	ErrUnknownParent = errors.New("unknown parent block")

	// ErrRebuildRequired matches every RebuildError.
	ErrRebuildRequired = errors.New("database rebuild required")

	// ErrCoinsViewClosed is returned when the coin views were already reset.
	ErrCoinsViewClosed = errors.New("coins view closed")

	errNoTip = errors.New("no active chain tip")
)

// ValidationError reports a block that breaks a consensus rule. The block is
// marked failed; any other error returned while connecting blocks is fatal.
type ValidationError struct {
	Hash   common.Hash
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("block %s invalid: %s", e.Hash.TerminalString(), e.Reason)
}

// RebuildError is a loader failure that can only be recovered from by
// rebuilding the block index and coin database from the block files.
type RebuildError struct {
	Reason string
}

func (e *RebuildError) Error() string { return e.Reason }

func (e *RebuildError) Is(target error) bool { return target == ErrRebuildRequired }

func rebuild(format string, args ...any) error {
	return &RebuildError{Reason: fmt.Sprintf(format, args...)}
}
