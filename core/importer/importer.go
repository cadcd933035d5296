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

// Package importer replays block files into the chain state on a background
// goroutine: the local block files during a reindex, a bootstrap file and any
// files named with -loadblock.
package importer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/blockfile"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/types"
	"github.com/springbok/springbokd/internal/shutdown"
	"github.com/springbok/springbokd/log"
)

// SourceKind tells how a source is replayed.
type SourceKind int

const (
	// SourceReindex replays blk00000.dat, blk00001.dat, ... until the first
	// missing file, keeping the blocks where they are.
	SourceReindex SourceKind = iota
	// SourceBootstrap is renamed to <name>.old after a successful import.
	SourceBootstrap
	// SourceFile is a user supplied block file.
	SourceFile
)

func (k SourceKind) String() string {
	switch k {
	case SourceReindex:
		return "reindex"
	case SourceBootstrap:
		return "bootstrap"
	case SourceFile:
		return "file"
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// Source is one entry of an import job.
type Source struct {
	Kind SourceKind
	Path string
}

// Job is the ordered, immutable list of sources to import.
type Job struct {
	sources []Source
}

// NewJob builds the import job from the startup settings. An empty
// bootstrapPath disables the bootstrap source.
func NewJob(reindex bool, bootstrapPath string, files []string) Job {
	var sources []Source
	if reindex {
		sources = append(sources, Source{Kind: SourceReindex})
	}
	if bootstrapPath != "" {
		sources = append(sources, Source{Kind: SourceBootstrap, Path: bootstrapPath})
	}
	for _, f := range files {
		sources = append(sources, Source{Kind: SourceFile, Path: f})
	}
	return Job{sources: sources}
}

// Sources returns a copy of the job's sources.
func (j Job) Sources() []Source {
	return append([]Source(nil), j.sources...)
}

// Reindex reports whether the job rebuilds from the local block files.
func (j Job) Reindex() bool {
	return len(j.sources) > 0 && j.sources[0].Kind == SourceReindex
}

// Warmup is a best effort task run once the import finished. quit is closed
// when shutdown is requested.
type Warmup struct {
	Name string
	Run  func(quit <-chan struct{}) error
}

// Config configures a Pipeline.
type Config struct {
	Chain           *chainstate.ChainState
	Job             Job
	Signal          *shutdown.Signal
	StopAfterImport bool
	Warmups         []Warmup
}

// Stats summarizes a finished import.
type Stats struct {
	Files    int
	Blocks   int
	Orphans  int // blocks whose parent never arrived
	Duration time.Duration
}

type pendingBlock struct {
	block *types.Block
	pos   *blockfile.FilePos
}

// Pipeline runs one import job. It can be started only once.
type Pipeline struct {
	cfg Config

	once sync.Once
	done chan struct{}
	err  error

	orphans map[common.Hash][]pendingBlock
	stats   Stats
	log     log.Logger
}

// New creates an idle pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		done:    make(chan struct{}),
		orphans: make(map[common.Hash][]pendingBlock),
		log:     log.New("module", "import"),
	}
}

// Start launches the import goroutine. Further calls are ignored.
func (p *Pipeline) Start() {
	p.once.Do(func() {
		go func() {
			defer close(p.done)
			p.err = p.run()
		}()
	})
}

// Done is closed once the import and all warm-ups have finished.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Wait blocks until the pipeline finished and returns its fatal error, if any.
func (p *Pipeline) Wait() error {
	<-p.done
	return p.err
}

// Stats returns the import statistics. Only valid after Done is closed.
func (p *Pipeline) Stats() Stats { return p.stats }

func (p *Pipeline) stopped() bool { return p.cfg.Signal.Requested() }

func (p *Pipeline) run() error {
	start := time.Now()
	chain := p.cfg.Chain

	chain.SetImporting(true)
	for _, src := range p.cfg.Job.sources {
		if p.stopped() {
			break
		}
		var err error
		switch src.Kind {
		case SourceReindex:
			err = p.reindex()
		case SourceBootstrap:
			err = p.importBootstrap(src.Path)
		case SourceFile:
			err = p.importFile(src.Path)
		}
		if err != nil {
			chain.SetImporting(false)
			return p.fatal(err)
		}
	}
	chain.SetImporting(false)
	for _, pending := range p.orphans {
		p.stats.Orphans += len(pending)
	}
	p.orphans = nil
	p.stats.Duration = time.Since(start)
	if p.stopped() {
		p.log.Info("Block import interrupted", "files", p.stats.Files, "blocks", p.stats.Blocks)
		return nil
	}
	if err := chain.ActivateBestChain(); err != nil {
		return p.fatal(fmt.Errorf("failed to connect best block: %w", err))
	}
	if len(p.cfg.Job.sources) > 0 {
		p.log.Info("Block import finished", "files", p.stats.Files, "blocks", p.stats.Blocks,
			"orphans", p.stats.Orphans, "elapsed", common.PrettyDuration(p.stats.Duration))
	}
	if p.cfg.StopAfterImport {
		p.log.Info("Stopping after block import")
		p.cfg.Signal.Request()
		return nil
	}
	for _, w := range p.cfg.Warmups {
		if p.stopped() {
			break
		}
		if err := w.Run(p.cfg.Signal.Done()); err != nil {
			p.log.Warn("Warm-up failed", "task", w.Name, "err", err)
		}
	}
	return nil
}

// fatal reports an import failure and requests shutdown.
func (p *Pipeline) fatal(err error) error {
	p.log.Error("Block import failed", "err", err)
	p.cfg.Signal.Request()
	return err
}

func (p *Pipeline) reindex() error {
	chain := p.cfg.Chain
	store := chain.Blocks()
	for n := 0; store.HasFile(n) && !p.stopped(); n++ {
		f, err := store.ReadCloser(n)
		if err != nil {
			p.log.Warn("Could not open block file", "file", store.BlockFileName(n), "err", err)
			break
		}
		p.log.Info("Reindexing block file", "file", store.BlockFileName(n))
		file := int32(n)
		err = p.load(store.BlockFileName(n), f, func(offset uint32) *blockfile.FilePos {
			return &blockfile.FilePos{File: file, Offset: offset}
		})
		f.Close()
		if err != nil {
			return err
		}
	}
	if p.stopped() {
		return nil
	}
	if err := chain.FinishReindex(); err != nil {
		return fmt.Errorf("failed to finish reindex: %w", err)
	}
	p.log.Info("Reindexing finished")
	return nil
}

func (p *Pipeline) importBootstrap(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		p.log.Warn("Could not open bootstrap file", "path", path, "err", err)
		return nil
	}
	p.log.Info("Importing bootstrap.dat", "path", path)
	err = p.load(path, f, nil)
	f.Close()
	if err != nil || p.stopped() {
		return err
	}
	if err := os.Rename(path, path+".old"); err != nil {
		p.log.Warn("Could not rename bootstrap file", "path", path, "err", err)
	}
	return nil
}

func (p *Pipeline) importFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		p.log.Warn("Could not open blocks file", "path", path, "err", err)
		return nil
	}
	defer f.Close()
	p.log.Info("Importing blocks file", "path", path)
	return p.load(path, f, nil)
}

// load replays the file read from r and activates the best chain afterwards. positionOf
// is nil for files outside the block directory, whose blocks are copied into
// the block files.
func (p *Pipeline) load(name string, r io.Reader, positionOf func(offset uint32) *blockfile.FilePos) error {
	start := time.Now()
	loaded := 0
	_, err := blockfile.Scan(r, p.cfg.Chain.Params().NetMagic, p.stopped, func(block *types.Block, offset uint32) error {
		var pos *blockfile.FilePos
		if positionOf != nil {
			pos = positionOf(offset)
		}
		loaded += p.process(block, pos)
		return nil
	})
	if err != nil && !errors.Is(err, blockfile.ErrStopped) {
		p.log.Warn("Error reading block file", "path", name, "err", err)
	}
	p.stats.Files++
	p.stats.Blocks += loaded
	p.log.Info("Loaded blocks from external file", "path", name, "blocks", loaded, "elapsed", common.PrettyDuration(time.Since(start)))

	if p.stopped() {
		return nil
	}
	if err := p.cfg.Chain.ActivateBestChain(); err != nil {
		return fmt.Errorf("failed to connect best block: %w", err)
	}
	return nil
}

// process hands a block to the chain state, parking it until its parent is
// known. It returns the number of blocks accepted, including released
// descendants.
func (p *Pipeline) process(block *types.Block, pos *blockfile.FilePos) int {
	err := p.cfg.Chain.ProcessBlock(block, pos)
	switch {
	case errors.Is(err, chainstate.ErrUnknownParent):
		parent := block.ParentHash()
		p.orphans[parent] = append(p.orphans[parent], pendingBlock{block: block, pos: pos})
		p.log.Debug("Out of order block", "hash", block.Hash(), "parent", parent)
		return 0
	case err != nil:
		p.log.Warn("Error processing block", "hash", block.Hash(), "err", err)
		return 0
	}
	accepted := 1
	queue := []common.Hash{block.Hash()}
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		children := p.orphans[head]
		delete(p.orphans, head)
		for _, child := range children {
			if err := p.cfg.Chain.ProcessBlock(child.block, child.pos); err != nil {
				p.log.Warn("Error processing out of order block", "hash", child.block.Hash(), "err", err)
				continue
			}
			accepted++
			queue = append(queue, child.block.Hash())
		}
	}
	return accepted
}
