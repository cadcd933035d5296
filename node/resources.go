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
	"sync"

	"github.com/gofrs/flock"
	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/internal/sanity"
	"github.com/springbok/springbokd/kvdb"
	"github.com/springbok/springbokd/kvdb/leveldb"
	"github.com/springbok/springbokd/kvdb/pebble"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/params"
	"github.com/springbok/springbokd/tier2"
	"golang.org/x/sync/errgroup"
)

// Database locations relative to the data directory.
const (
	blockTreeDir   = "index" // below the blocks directory
	chainStateDir  = "chainstate"
	evoDir         = "evodb"
	txIndexDir     = "indexes/txindex"
	filterIndexDir = "indexes/blockfilter"

	dbHandles = 64
)

// ResourceConfig locates the databases owned by a ResourceManager.
type ResourceConfig struct {
	DataDir   string // network specific data directory
	BlocksDir string // defaults to DataDir/blocks
	Params    *params.ChainParams
	Engine    string // kvdb.EngineLevelDB, kvdb.EnginePebble or empty

	TxIndex     bool
	FilterTypes []string
}

// ChainDB is the set of open databases a chain state runs on. It is owned by
// the ResourceManager, every other component only borrows it.
type ChainDB struct {
	BlockTree *chainstate.BlockTreeDB
	Coins     *chainstate.CoinsDB
	Evo       *tier2.EvoDB
	Blocks    *blockfile.Store

	TxIndex kvdb.KeyValueStore            // nil without -txindex
	Filters map[string]kvdb.KeyValueStore // keyed by filter type

	stores []kvdb.KeyValueStore
}

func (db *ChainDB) close() error {
	var errs []error
	for _, s := range db.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	db.stores = nil
	return errors.Join(errs...)
}

// ResourceManager owns the data directory lock and the chain databases.
type ResourceManager struct {
	cfg ResourceConfig
	log log.Logger

	mu   sync.Mutex
	lock *flock.Flock
	db   *ChainDB
}

// NewResourceManager creates a resource manager. Nothing is touched on disk
// until the data directory is probed or locked.
func NewResourceManager(cfg ResourceConfig) *ResourceManager {
	if cfg.BlocksDir == "" {
		cfg.BlocksDir = filepath.Join(cfg.DataDir, "blocks")
	}
	return &ResourceManager{cfg: cfg, log: log.New("module", "resources")}
}

// DataDir returns the network specific data directory.
func (rm *ResourceManager) DataDir() string { return rm.cfg.DataDir }

// BlocksDir returns the block file directory.
func (rm *ResourceManager) BlocksDir() string { return rm.cfg.BlocksDir }

// ProbeLock checks that the data directory lock could be taken, without
// holding it. It can be called any number of times.
func (rm *ResourceManager) ProbeLock() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.lock != nil {
		return nil
	}
	return probeDataDirLock(rm.cfg.DataDir)
}

// LockDataDir takes the data directory lock for the rest of the process
// lifetime. Only the first call acquires it.
func (rm *ResourceManager) LockDataDir() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.lock != nil {
		return nil
	}
	l, err := lockDataDir(rm.cfg.DataDir)
	if err != nil {
		return err
	}
	rm.lock = l
	return nil
}

// Open closes any open databases and opens them again with the given budget.
// wipe deletes every database first, wipeChainState only the coin set and
// the databases derived from it.
func (rm *ResourceManager) Open(budget CacheBudget, wipe, wipeChainState bool) (*ChainDB, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.db != nil {
		if err := rm.db.close(); err != nil {
			rm.log.Warn("Failed to close databases", "err", err)
		}
		rm.db = nil
	}
	if err := os.MkdirAll(rm.cfg.BlocksDir, 0o700); err != nil {
		return nil, &ResourceError{Kind: CreateDir, Path: rm.cfg.BlocksDir, Err: err}
	}
	blocks, err := blockfile.OpenStore(rm.cfg.BlocksDir, rm.cfg.Params.NetMagic)
	if err != nil {
		return nil, &ResourceError{Kind: Open, Path: rm.cfg.BlocksDir, Err: err}
	}

	type target struct {
		path  string
		cache int64
		wipe  bool
		store *kvdb.KeyValueStore
	}
	var (
		db      = &ChainDB{Blocks: blocks, Filters: make(map[string]kvdb.KeyValueStore)}
		tree    kvdb.KeyValueStore
		coins   kvdb.KeyValueStore
		evo     kvdb.KeyValueStore
		filters = make([]kvdb.KeyValueStore, len(rm.cfg.FilterTypes))
	)
	targets := []target{
		{filepath.Join(rm.cfg.BlocksDir, blockTreeDir), budget.BlockTree, wipe, &tree},
		{filepath.Join(rm.cfg.DataDir, chainStateDir), budget.CoinsDB, wipe || wipeChainState, &coins},
		{filepath.Join(rm.cfg.DataDir, evoDir), budget.EvoDB, wipe || wipeChainState, &evo},
	}
	if rm.cfg.TxIndex {
		targets = append(targets, target{filepath.Join(rm.cfg.DataDir, txIndexDir), budget.TxIndex, wipe, &db.TxIndex})
	}
	for i, kind := range rm.cfg.FilterTypes {
		targets = append(targets, target{filepath.Join(rm.cfg.DataDir, filterIndexDir, kind), budget.FilterIndex, wipe, &filters[i]})
	}

	var (
		g      errgroup.Group
		opened = make([]kvdb.KeyValueStore, len(targets))
	)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			if t.wipe {
				rm.log.Info("Wiping database", "path", t.path)
				if err := os.RemoveAll(t.path); err != nil {
					return &ResourceError{Kind: Open, Path: t.path, Err: err}
				}
			}
			store, err := openKeyValueStore(t.path, rm.cfg.Engine, t.cache, dbHandles)
			if err != nil {
				return &ResourceError{Kind: Open, Path: t.path, Err: err}
			}
			opened[i] = store
			*t.store = store
			return nil
		})
	}
	err = g.Wait()
	for _, s := range opened {
		if s != nil {
			db.stores = append(db.stores, s)
		}
	}
	if err != nil {
		db.close()
		return nil, err
	}
	for i, kind := range rm.cfg.FilterTypes {
		db.Filters[kind] = filters[i]
	}
	db.BlockTree = chainstate.NewBlockTreeDB(tree)
	db.Coins = chainstate.NewCoinsDB(coins)
	db.Evo = tier2.NewEvoDB(evo)
	rm.db = db
	return db, nil
}

// CheckDiskSpace fails if dir has less than additional bytes free on top of
// the minimum every data directory keeps.
func (rm *ResourceManager) CheckDiskSpace(dir string, additional uint64) error {
	ok, err := sanity.CheckDiskSpace(dir, additional)
	if err != nil {
		rm.log.Warn("Failed to query free disk space", "dir", dir, "err", err)
		return nil
	}
	if !ok {
		return &ResourceError{Kind: DiskSpace, Path: dir, Msg: fmt.Sprintf("Error: Disk space is low for %s", dir)}
	}
	return nil
}

// Close closes the open databases. It is safe to call repeatedly.
func (rm *ResourceManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.db == nil {
		return nil
	}
	err := rm.db.close()
	rm.db = nil
	return err
}

// Release drops the data directory lock.
func (rm *ResourceManager) Release() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.lock == nil {
		return nil
	}
	err := rm.lock.Unlock()
	rm.lock.Close()
	rm.lock = nil
	return err
}

// openKeyValueStore opens a database with the requested engine, or the
// one found on disk. A conflicting choice is an error.
//
//	                   engine == ""     engine != ""
//	                +--------------------------------
//	db is missing   |  pebble         |  engine
//	db exists       |  from db        |  engine (if compatible)
func openKeyValueStore(path, engine string, cache int64, handles int) (kvdb.KeyValueStore, error) {
	if engine != "" && engine != kvdb.EngineLevelDB && engine != kvdb.EnginePebble {
		return nil, fmt.Errorf("unknown db engine %v", engine)
	}
	existing := kvdb.PreexistingEngine(path)
	if existing != "" && engine != "" && engine != existing {
		return nil, fmt.Errorf("db engine choice was %v but found pre-existing %v database at %s", engine, existing, path)
	}
	if engine == kvdb.EngineLevelDB || existing == kvdb.EngineLevelDB {
		return leveldb.New(path, cache, handles, false)
	}
	return pebble.New(path, cache, handles, false)
}
