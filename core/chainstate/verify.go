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
	"fmt"

	"github.com/springbok/springbokd/core/checkqueue"
	"github.com/springbok/springbokd/core/types"
)

// Verification levels accepted by VerifyDB.
const (
	VerifyRead       = 0 // block data can be read
	VerifyCheck      = 1 // context free block checks
	VerifyIntegrity  = 2 // stored block matches its index entry
	VerifyDisconnect = 3 // tip blocks disconnect cleanly from the coin set
	VerifyReconnect  = 4 // and connect again
)

// VerifyDB checks the last depth blocks of the active chain at the given
// level. Disconnect and reconnect run against a throwaway view so the coin
// cache stays untouched. A stop request ends the walk early without error.
func (cs *ChainState) VerifyDB(level, depth int, stop func() bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	tip := cs.tipLocked()
	if tip == nil || tip.Height == 0 {
		return nil
	}
	if cs.coins == nil {
		return ErrCoinsViewClosed
	}
	level = max(VerifyRead, min(level, VerifyReconnect))
	if depth <= 0 || uint64(depth) > tip.Height {
		depth = int(tip.Height)
	}
	cs.log.Info("Verifying last blocks", "count", depth, "level", level)

	var (
		view     = newOverlayView(cs.coins)
		lowest   = tip
		verified = 0
	)
	for e := tip; e != nil && e.Height > 0 && e.Height+uint64(depth) > tip.Height; e = e.Prev {
		if stop != nil && stop() {
			cs.log.Info("Block verification interrupted", "verified", verified)
			return nil
		}
		block, err := cs.blocks.ReadBlock(e.Pos)
		if err != nil {
			return fmt.Errorf("*** ReadBlockFromDisk failed at %d, hash=%s: %v", e.Height, e.Hash, err)
		}
		if level >= VerifyCheck {
			if err := cs.checkBlock(block); err != nil {
				return fmt.Errorf("*** found bad block at %d, hash=%s: %v", e.Height, e.Hash, err)
			}
		}
		if level >= VerifyIntegrity && block.Hash() != e.Hash {
			return fmt.Errorf("*** found block with mismatching hash at %d, stored %s", e.Height, block.Hash())
		}
		if level >= VerifyDisconnect {
			if err := cs.validator.DisconnectBlock(block, e.Height, view); err != nil {
				return fmt.Errorf("*** irrecoverable inconsistency in block data at %d, hash=%s: %v", e.Height, e.Hash, err)
			}
			view.SetBestBlock(e.Header.PrevHash)
			lowest = e
		}
		verified++
	}
	if level >= VerifyReconnect {
		for e := lowest; ; e = cs.chain[e.Height+1] {
			if stop != nil && stop() {
				return nil
			}
			block, err := cs.blocks.ReadBlock(e.Pos)
			if err != nil {
				return fmt.Errorf("*** ReadBlockFromDisk failed at %d, hash=%s: %v", e.Height, e.Hash, err)
			}
			checks, err := cs.validator.ConnectBlock(block, e.Height, view)
			if err == nil {
				err = cs.runChecks(checks)
			}
			if err != nil {
				return fmt.Errorf("*** found unconnectable block at %d, hash=%s: %v", e.Height, e.Hash, err)
			}
			view.SetBestBlock(e.Hash)
			if e == tip {
				break
			}
		}
	}
	cs.log.Info("No coin database inconsistencies in last blocks", "count", verified)
	return nil
}

func (cs *ChainState) checkBlock(block *types.Block) error {
	return cs.runChecks([]checkqueue.Check{
		func() error {
			if !block.CheckMerkleRoot() {
				return &ValidationError{Hash: block.Hash(), Reason: "bad-txnmrklroot"}
			}
			return nil
		},
		func() error { return cs.validator.CheckBlock(block) },
	})
}
