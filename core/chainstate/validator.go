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
	"github.com/springbok/springbokd/core/checkqueue"
	"github.com/springbok/springbokd/core/types"
)

// Validator applies the consensus rules to blocks. The chain state only
// sequences the calls; it never looks inside a block body.
type Validator interface {
	// CheckBlock runs the context free checks.
	CheckBlock(block *types.Block) error

	// ConnectBlock applies the block to view and returns the deferred checks
	// (script verification) that must pass before the changes are kept.
	ConnectBlock(block *types.Block, height uint64, view CoinsView) ([]checkqueue.Check, error)

	// DisconnectBlock reverts the effects of ConnectBlock on view.
	DisconnectBlock(block *types.Block, height uint64, view CoinsView) error
}

// NopValidator accepts every block and leaves the coin set untouched.
type NopValidator struct{}

func (NopValidator) CheckBlock(*types.Block) error { return nil }

func (NopValidator) ConnectBlock(*types.Block, uint64, CoinsView) ([]checkqueue.Check, error) {
	return nil, nil
}

func (NopValidator) DisconnectBlock(*types.Block, uint64, CoinsView) error { return nil }
