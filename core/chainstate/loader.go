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
	"time"

	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/params"
)

// maxFutureBlockTime is how far ahead of the adjusted time a loaded tip may
// be before the database is considered corrupt.
const maxFutureBlockTime = 2 * time.Hour

// LoaderState is the phase of a chain state load.
type LoaderState int

const (
	LoaderIdle LoaderState = iota
	LoaderLoading
	LoaderVerifying
	LoaderReady
	LoaderFailed
)

func (s LoaderState) String() string {
	switch s {
	case LoaderIdle:
		return "idle"
	case LoaderLoading:
		return "loading"
	case LoaderVerifying:
		return "verifying"
	case LoaderReady:
		return "ready"
	case LoaderFailed:
		return "failed"
	}
	return fmt.Sprintf("LoaderState(%d)", int(s))
}

// OutcomeKind classifies the result of a load attempt.
type OutcomeKind int

const (
	// OutcomeReady means the chain state can be used.
	OutcomeReady OutcomeKind = iota
	// OutcomeNeedsRebuild means the stored data is unusable, and a reindex
	// would recover.
	OutcomeNeedsRebuild
	// OutcomeFatal means no automatic recovery exists.
	OutcomeFatal
	// OutcomeInterrupted means a shutdown was requested during the load.
	OutcomeInterrupted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReady:
		return "ready"
	case OutcomeNeedsRebuild:
		return "needs-rebuild"
	case OutcomeFatal:
		return "fatal"
	case OutcomeInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the result of Loader.Load. Err carries the user facing reason
// for rebuild and fatal outcomes.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// IndexFlags are the optional indexes whose presence is baked into the block
// index.
type IndexFlags struct {
	AddressIndex   bool
	TimestampIndex bool
	SpentIndex     bool
}

// Any reports whether an additional index is enabled.
func (f IndexFlags) Any() bool {
	return f.AddressIndex || f.TimestampIndex || f.SpentIndex
}

func (f IndexFlags) named() []struct {
	name  string
	value bool
} {
	return []struct {
		name  string
		value bool
	}{
		{FlagAddressIndex, f.AddressIndex},
		{FlagTimestampIndex, f.TimestampIndex},
		{FlagSpentIndex, f.SpentIndex},
	}
}

// LoadOptions are the startup settings a load attempt is checked against.
type LoadOptions struct {
	Reset             bool // full reindex requested
	ReindexChainState bool
	Flags             IndexFlags
	Prune             bool
	TxIndex           bool
	DisableGovernance bool

	CheckLevel     int
	CheckBlocks    int
	CoinsCacheSize int64

	// AdjustedTime returns the network adjusted time. Defaults to time.Now.
	AdjustedTime func() time.Time
	// EvoDBEmpty reports whether the masternode list database holds data.
	EvoDBEmpty func() bool
	// Stop is polled at every safe boundary.
	Stop func() bool
}

// Loader drives one chain state through the load and verification phases.
// A loader that failed or finished can be reused after Reset.
type Loader struct {
	state LoaderState
	err   error
	log   log.Logger
}

// NewLoader returns an idle loader.
func NewLoader() *Loader {
	return &Loader{log: log.New("module", "loader")}
}

// State returns the current phase.
func (l *Loader) State() LoaderState { return l.state }

// Err returns the reason of the last failure.
func (l *Loader) Err() error { return l.err }

// Reset returns the loader to Idle for another attempt.
func (l *Loader) Reset() {
	l.state, l.err = LoaderIdle, nil
}

// Load validates and loads the chain state found on disk. cs must be freshly
// constructed over freshly opened databases. Any outcome requiring a rebuild
// while a rebuild is already under way is reported as fatal.
func (l *Loader) Load(cs *ChainState, opts LoadOptions) Outcome {
	if l.state != LoaderIdle {
		return l.fail(OutcomeFatal, fmt.Errorf("chain state loader is %s", l.state))
	}
	l.state = LoaderLoading

	out := l.load(cs, opts)
	switch out.Kind {
	case OutcomeReady:
		l.state = LoaderReady
		return out
	case OutcomeNeedsRebuild:
		if opts.Reset {
			return l.fail(OutcomeFatal, out.Err)
		}
	}
	return l.fail(out.Kind, out.Err)
}

func (l *Loader) fail(kind OutcomeKind, err error) Outcome {
	l.state, l.err = LoaderFailed, err
	if kind == OutcomeInterrupted {
		l.log.Info("Chain state load interrupted")
	} else {
		l.log.Error("Chain state load failed", "outcome", kind, "err", err)
	}
	return Outcome{Kind: kind, Err: err}
}

func (l *Loader) load(cs *ChainState, opts LoadOptions) Outcome {
	stopped := func() bool { return opts.Stop != nil && opts.Stop() }
	now := time.Now
	if opts.AdjustedTime != nil {
		now = opts.AdjustedTime
	}
	if opts.Reset {
		if err := cs.SetReindexing(true); err != nil {
			return Outcome{Kind: OutcomeFatal, Err: err}
		}
		if opts.Prune {
			if err := blockfile.CleanupBlockRevFiles(cs.Blocks().Dir()); err != nil {
				l.log.Warn("Failed to clean up block files", "err", err)
			}
		}
	}
	if stopped() {
		return Outcome{Kind: OutcomeInterrupted}
	}
	if err := cs.LoadBlockIndex(); err != nil {
		l.log.Error("Failed to load block index", "err", err)
		return needsRebuild("Error loading block database")
	}
	if !opts.DisableGovernance && !opts.TxIndex && cs.Params().Name != params.RegTestNet {
		return Outcome{Kind: OutcomeFatal, Err: errors.New("Transaction index can't be disabled with governance validation enabled. Either start with -disablegovernance command line switch or enable transaction index.")}
	}
	empty := cs.BlockIndexSize() == 0
	if !empty && cs.LookupBlock(cs.Params().GenesisHash()) == nil {
		return Outcome{Kind: OutcomeFatal, Err: errors.New("Incorrect or no genesis block found. Wrong datadir for network?")}
	}
	if out := l.checkFlags(cs, opts, empty); out.Kind != OutcomeReady {
		return out
	}
	if cs.HavePruned() && !opts.Prune {
		return needsRebuild("You need to rebuild the database using -reindex to go back to unpruned mode.  This will redownload the entire blockchain")
	}
	if !cs.Reindexing() {
		if err := cs.LoadGenesisBlock(); err != nil {
			l.log.Error("Failed to initialize genesis block", "err", err)
			return needsRebuild("Error initializing block database")
		}
	}
	if stopped() {
		return Outcome{Kind: OutcomeInterrupted}
	}

	cs.InitCoinsCache(opts.CoinsCacheSize)
	if cs.coinsDB.InterruptedFlush() {
		return needsRebuild("Unable to replay blocks. You will need to rebuild the database using -reindex-chainstate.")
	}
	coinsEmpty := opts.Reset || opts.ReindexChainState || cs.CoinsBestBlock().IsZero()
	if !coinsEmpty {
		if err := cs.LoadChainTip(); err != nil {
			l.log.Error("Failed to load chain tip", "err", err)
			return needsRebuild("Error initializing block database")
		}
	}
	if coinsEmpty && opts.EvoDBEmpty != nil && !opts.EvoDBEmpty() {
		return needsRebuild("Error initializing block database")
	}
	if coinsEmpty {
		return Outcome{Kind: OutcomeReady}
	}

	l.state = LoaderVerifying
	if tip := cs.Tip(); tip != nil && tip.Time().After(now().Add(maxFutureBlockTime)) {
		return needsRebuild("The block database contains a block which appears to be from the future. " +
			"This may be due to your computer's date and time being set incorrectly. " +
			"Only rebuild the block database if you are sure that your computer's date and time are correct")
	}
	if err := cs.VerifyDB(opts.CheckLevel, opts.CheckBlocks, stopped); err != nil {
		l.log.Error("Block database verification failed", "err", err)
		return needsRebuild("Corrupted block database detected")
	}
	if stopped() {
		return Outcome{Kind: OutcomeInterrupted}
	}
	return Outcome{Kind: OutcomeReady}
}

// checkFlags compares the persisted index flags with the requested ones. A
// fresh or reindexing index adopts the requested flags.
func (l *Loader) checkFlags(cs *ChainState, opts LoadOptions, empty bool) Outcome {
	for _, f := range opts.Flags.named() {
		if empty || opts.Reset {
			if err := cs.tree.WriteFlag(f.name, f.value); err != nil {
				return Outcome{Kind: OutcomeFatal, Err: err}
			}
			continue
		}
		stored, _, err := cs.tree.ReadFlag(f.name)
		if err != nil {
			return needsRebuild("Error loading block database")
		}
		if stored != f.value {
			return needsRebuild("You need to rebuild the database using -reindex to change -%s", f.name)
		}
	}
	return Outcome{Kind: OutcomeReady}
}

func needsRebuild(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeNeedsRebuild, Err: rebuild(format, args...)}
}
