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
	"path/filepath"
	"time"

	"github.com/springbok/springbokd/common/mclock"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/internal/scheduler"
	"github.com/springbok/springbokd/params"
	"github.com/springbok/springbokd/rpc"
)

// ChainClient is an optional subsystem, such as a wallet, that follows the
// node lifecycle. Clients are verified before the chain is loaded, loaded and
// started after it, flushed and stopped on shutdown.
type ChainClient interface {
	RegisterRPCs(srv *rpc.Server) error
	Verify() error
	Load() error
	Start(sched *scheduler.Scheduler)
	Flush()
	Stop()
}

// Config holds every option that influences the node lifecycle. Option
// names in Set follow the command line spelling ("listen", "txindex", ...).
type Config struct {
	// DataDir is the root data directory. Every network other than main uses
	// a subdirectory of it.
	DataDir string
	// BlocksDir overrides the location of the block files.
	BlocksDir string `toml:",omitempty"`

	Network    string
	DevnetName string `toml:",omitempty"`
	DBEngine   string `toml:",omitempty"`

	Reindex           bool `toml:"-"`
	ReindexChainState bool `toml:"-"`
	// LoadBlock lists block files imported at startup.
	LoadBlock            []string `toml:",omitempty"`
	StopAfterBlockImport bool     `toml:"-"`

	DBCache     int64
	Prune       int64 // MiB, 0 disables, 1 allows manual pruning only
	TxIndex     bool
	CheckLevel  int
	CheckBlocks int
	Par         int

	AddressIndex     bool     `toml:",omitempty"`
	TimestampIndex   bool     `toml:",omitempty"`
	SpentIndex       bool     `toml:",omitempty"`
	BlockFilterIndex []string `toml:",omitempty"`
	PeerBlockFilters bool     `toml:",omitempty"`

	PersistMempool bool
	MempoolExpiry  time.Duration

	DisableGovernance    bool
	MasternodeBLSPrivKey string   `toml:"-"`
	SporkAddr            []string `toml:",omitempty"`
	MinSporkKeys         int      `toml:",omitempty"`
	SporkKey             string   `toml:"-"`

	Listen              bool
	Bind                []string `toml:",omitempty"`
	WhiteBind           []string `toml:",omitempty"`
	Whitelist           []string `toml:",omitempty"`
	Port                int      `toml:",omitempty"`
	MaxConnections      int
	Connect             []string `toml:",omitempty"`
	AddNode             []string `toml:",omitempty"`
	SeedNode            []string `toml:",omitempty"`
	DNSSeed             bool
	Discover            bool
	ExternalIP          []string `toml:",omitempty"`
	Proxy               string   `toml:",omitempty"`
	UPnP                bool
	NATPMP              bool
	ListenOnion         bool
	BlocksOnly          bool `toml:",omitempty"`
	WhitelistRelay      bool
	WhitelistForceRelay bool `toml:",omitempty"`
	BanTime             time.Duration

	Server        bool
	RPCBind       []string `toml:",omitempty"`
	RPCPort       int      `toml:",omitempty"`
	RPCUser       string   `toml:",omitempty"`
	RPCPassword   string   `toml:"-"`
	RPCCorsDomain []string `toml:",omitempty"`
	REST          bool     `toml:",omitempty"`
	RPCWorkQueue  int
	RPCWS         bool   `toml:",omitempty"`
	RPCJWTSecret  string `toml:",omitempty"` // path to a hex encoded secret

	StatsEnabled bool   `toml:",omitempty"`
	StatsPeriod  int    `toml:",omitempty"` // seconds
	StatsPushURL string `toml:",omitempty"`
	MetricsAddr  string `toml:",omitempty"`

	UserAgentComments []string `toml:",omitempty"`
	DisableWallet     bool     `toml:",omitempty"`
	PIDFile           string   `toml:",omitempty"`

	// Set records the options given explicitly. Parameter interaction never
	// overrides those.
	Set map[string]bool `toml:"-"`

	// ConfirmRebuild is asked whether to reindex after the chain state failed
	// to load. A nil function declines.
	ConfirmRebuild func(reason string) bool `toml:"-"`

	Clients   []ChainClient        `toml:"-"`
	Validator chainstate.Validator `toml:"-"`
	Clock     mclock.Clock         `toml:"-"`

	params *params.ChainParams
}

// IsSet reports whether name was given explicitly.
func (c *Config) IsSet(name string) bool {
	return c.Set[name]
}

// MarkSet records name as given explicitly.
func (c *Config) MarkSet(name string) {
	if c.Set == nil {
		c.Set = make(map[string]bool)
	}
	c.Set[name] = true
}

// Params returns the chain parameters selected by Network.
func (c *Config) Params() (*params.ChainParams, error) {
	if c.params == nil {
		p, err := params.Select(c.Network, c.DevnetName)
		if err != nil {
			return nil, &ConfigError{Msg: err.Error()}
		}
		c.params = p
	}
	return c.params, nil
}

// NetDataDir returns the data directory of the selected network.
func (c *Config) NetDataDir() string {
	p, err := c.Params()
	if err != nil || p.DataSubdir == "" {
		return c.DataDir
	}
	return filepath.Join(c.DataDir, p.DataSubdir)
}

// ResolvePath resolves path relative to the network data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.NetDataDir(), path)
}

func (c *Config) pidFile() string {
	if c.PIDFile == "" {
		return c.ResolvePath(DefaultPIDFile)
	}
	return c.ResolvePath(c.PIDFile)
}
