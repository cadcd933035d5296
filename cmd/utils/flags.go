// Copyright 2025 The springbokd Authors
// This file is part of springbokd.
//
// springbokd is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// springbokd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with springbokd. If not, see <http://www.gnu.org/licenses/>.

// Package utils contains internal helper functions for springbokd commands.
package utils

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/springbok/springbokd/internal/flags"
	"github.com/springbok/springbokd/node"
	"github.com/springbok/springbokd/params"
	"github.com/urfave/cli/v2"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// General settings
	DataDirFlag = &flags.DirectoryFlag{
		Name:     "datadir",
		Usage:    "Data directory for the databases and block files",
		Value:    flags.DirectoryString(node.DefaultDataDir()),
		Category: flags.NodeCategory,
	}
	BlocksDirFlag = &flags.DirectoryFlag{
		Name:     "blocksdir",
		Usage:    "Directory for the block files (default: <datadir>/blocks)",
		Category: flags.NodeCategory,
	}
	TestnetFlag = &cli.BoolFlag{
		Name:     "testnet",
		Usage:    "Use the test chain",
		Category: flags.NodeCategory,
	}
	RegtestFlag = &cli.BoolFlag{
		Name:     "regtest",
		Usage:    "Use the regression test chain, blocks can be solved instantly",
		Category: flags.TestingCategory,
	}
	DevnetFlag = &cli.StringFlag{
		Name:     "devnet",
		Usage:    "Use the named development chain",
		Category: flags.TestingCategory,
	}
	PIDFileFlag = &cli.StringFlag{
		Name:     "pid",
		Usage:    "PID file, relative paths are resolved against the network data directory",
		Value:    node.DefaultPIDFile,
		Category: flags.NodeCategory,
	}
	UserAgentCommentFlag = &cli.StringSliceFlag{
		Name:     "uacomment",
		Usage:    "Comment appended to the user agent string",
		Category: flags.NodeCategory,
	}
	DisableWalletFlag = &cli.BoolFlag{
		Name:     "disablewallet",
		Usage:    "Do not load the wallet and disable wallet RPC calls",
		Category: flags.NodeCategory,
	}

	// Chain state
	DBEngineFlag = &cli.StringFlag{
		Name:     "dbengine",
		Usage:    "Backing database implementation to use ('pebble' or 'leveldb')",
		Category: flags.ChainCategory,
	}
	ReindexFlag = &cli.BoolFlag{
		Name:     "reindex",
		Usage:    "Rebuild the chain state and block index from the block files on disk",
		Category: flags.ChainCategory,
	}
	ReindexChainStateFlag = &cli.BoolFlag{
		Name:     "reindex-chainstate",
		Usage:    "Rebuild the chain state from the currently indexed blocks",
		Category: flags.ChainCategory,
	}
	LoadBlockFlag = &cli.StringSliceFlag{
		Name:     "loadblock",
		Usage:    "Import blocks from an external block file on startup",
		Category: flags.ChainCategory,
	}
	StopAfterBlockImportFlag = &cli.BoolFlag{
		Name:     "stopafterblockimport",
		Usage:    "Stop running after importing blocks from disk",
		Category: flags.TestingCategory,
	}
	PruneFlag = &cli.Int64Flag{
		Name:     "prune",
		Usage:    "Reduce storage by pruning old blocks, 1 allows manual pruning, >=945 is the target size in MiB",
		Category: flags.ChainCategory,
	}
	CheckLevelFlag = &cli.IntFlag{
		Name:     "checklevel",
		Usage:    "How thorough the block verification of -checkblocks is (0-4)",
		Value:    node.DefaultCheckLevel,
		Category: flags.ChainCategory,
	}
	CheckBlocksFlag = &cli.IntFlag{
		Name:     "checkblocks",
		Usage:    "How many blocks to check at startup (0 = all)",
		Value:    node.DefaultCheckBlocks,
		Category: flags.ChainCategory,
	}

	// Indexes
	TxIndexFlag = &cli.BoolFlag{
		Name:     "txindex",
		Usage:    "Maintain a full transaction index",
		Value:    node.DefaultConfig.TxIndex,
		Category: flags.IndexCategory,
	}
	AddressIndexFlag = &cli.BoolFlag{
		Name:     "addressindex",
		Usage:    "Maintain a full address index",
		Category: flags.IndexCategory,
	}
	TimestampIndexFlag = &cli.BoolFlag{
		Name:     "timestampindex",
		Usage:    "Maintain a timestamp index for block hashes",
		Category: flags.IndexCategory,
	}
	SpentIndexFlag = &cli.BoolFlag{
		Name:     "spentindex",
		Usage:    "Maintain a full spent index",
		Category: flags.IndexCategory,
	}
	BlockFilterIndexFlag = &cli.StringSliceFlag{
		Name:     "blockfilterindex",
		Usage:    "Maintain an index of compact filters by block ('basic', '1' for all types, '0' for none)",
		Category: flags.IndexCategory,
	}
	PeerBlockFiltersFlag = &cli.BoolFlag{
		Name:     "peerblockfilters",
		Usage:    "Serve compact block filters to peers",
		Category: flags.IndexCategory,
	}

	// Performance tuning
	DBCacheFlag = &cli.Int64Flag{
		Name:     "dbcache",
		Usage:    "Maximum database cache size in MiB",
		Value:    node.DefaultDBCache,
		Category: flags.PerfCategory,
	}
	ParFlag = &cli.IntFlag{
		Name:     "par",
		Usage:    "Number of script verification threads (0 = auto, <0 = leave that many cores free)",
		Category: flags.PerfCategory,
	}

	// Mempool
	PersistMempoolFlag = &cli.BoolFlag{
		Name:     "persistmempool",
		Usage:    "Save the mempool on shutdown and load it on restart",
		Value:    node.DefaultConfig.PersistMempool,
		Category: flags.MempoolCategory,
	}
	MempoolExpiryFlag = &cli.DurationFlag{
		Name:     "mempoolexpiry",
		Usage:    "Do not keep transactions in the mempool longer than this",
		Value:    node.DefaultMempoolExpiry,
		Category: flags.MempoolCategory,
	}

	// Masternode and sporks
	DisableGovernanceFlag = &cli.BoolFlag{
		Name:     "disablegovernance",
		Usage:    "Disable the governance validation",
		Category: flags.MasternodeCategory,
	}
	MasternodeBLSPrivKeyFlag = &cli.StringFlag{
		Name:     "masternodeblsprivkey",
		Usage:    "Run as a masternode with the given BLS private key",
		Category: flags.MasternodeCategory,
	}
	SporkAddrFlag = &cli.StringSliceFlag{
		Name:     "sporkaddr",
		Usage:    "Override the spork signer address, only useful for regtest and devnet",
		Category: flags.MasternodeCategory,
	}
	MinSporkKeysFlag = &cli.IntFlag{
		Name:     "minsporkkeys",
		Usage:    "Override the minimum spork signers needed to change a spork value",
		Category: flags.MasternodeCategory,
	}
	SporkKeyFlag = &cli.StringFlag{
		Name:     "sporkkey",
		Usage:    "Private key used to sign spork messages",
		Category: flags.MasternodeCategory,
	}

	// Networking
	ListenFlag = &cli.BoolFlag{
		Name:     "listen",
		Usage:    "Accept connections from outside",
		Value:    node.DefaultConfig.Listen,
		Category: flags.NetworkingCategory,
	}
	BindFlag = &cli.StringSliceFlag{
		Name:     "bind",
		Usage:    "Bind to the given address and always listen on it",
		Category: flags.NetworkingCategory,
	}
	WhiteBindFlag = &cli.StringSliceFlag{
		Name:     "whitebind",
		Usage:    "Bind to the given address and whitelist peers connecting to it",
		Category: flags.NetworkingCategory,
	}
	WhitelistFlag = &cli.StringSliceFlag{
		Name:     "whitelist",
		Usage:    "Whitelist peers connecting from the given IP address or CIDR network",
		Category: flags.NetworkingCategory,
	}
	PortFlag = &cli.IntFlag{
		Name:     "port",
		Usage:    "Listen for connections on this port (default: network dependent)",
		Category: flags.NetworkingCategory,
	}
	MaxConnectionsFlag = &cli.IntFlag{
		Name:     "maxconnections",
		Usage:    "Maintain at most this many connections to peers",
		Value:    node.DefaultConfig.MaxConnections,
		Category: flags.NetworkingCategory,
	}
	ConnectFlag = &cli.StringSliceFlag{
		Name:     "connect",
		Usage:    "Connect only to the specified nodes",
		Category: flags.NetworkingCategory,
	}
	AddNodeFlag = &cli.StringSliceFlag{
		Name:     "addnode",
		Usage:    "Add a node to connect to and attempt to keep the connection open",
		Category: flags.NetworkingCategory,
	}
	SeedNodeFlag = &cli.StringSliceFlag{
		Name:     "seednode",
		Usage:    "Connect to a node to retrieve peer addresses, and disconnect",
		Category: flags.NetworkingCategory,
	}
	DNSSeedFlag = &cli.BoolFlag{
		Name:     "dnsseed",
		Usage:    "Query for peer addresses via DNS lookup if low on addresses",
		Value:    node.DefaultConfig.DNSSeed,
		Category: flags.NetworkingCategory,
	}
	DiscoverFlag = &cli.BoolFlag{
		Name:     "discover",
		Usage:    "Discover own IP addresses",
		Value:    node.DefaultConfig.Discover,
		Category: flags.NetworkingCategory,
	}
	ExternalIPFlag = &cli.StringSliceFlag{
		Name:     "externalip",
		Usage:    "Specify your own public address",
		Category: flags.NetworkingCategory,
	}
	ProxyFlag = &cli.StringFlag{
		Name:     "proxy",
		Usage:    "Connect through a SOCKS5 proxy (host:port)",
		Category: flags.NetworkingCategory,
	}
	UPnPFlag = &cli.BoolFlag{
		Name:     "upnp",
		Usage:    "Use UPnP to map the listening port",
		Category: flags.NetworkingCategory,
	}
	NATPMPFlag = &cli.BoolFlag{
		Name:     "natpmp",
		Usage:    "Use NAT-PMP to map the listening port",
		Category: flags.NetworkingCategory,
	}
	ListenOnionFlag = &cli.BoolFlag{
		Name:     "listenonion",
		Usage:    "Automatically create Tor hidden service",
		Value:    node.DefaultConfig.ListenOnion,
		Category: flags.NetworkingCategory,
	}
	BlocksOnlyFlag = &cli.BoolFlag{
		Name:     "blocksonly",
		Usage:    "Reject transactions from network peers",
		Category: flags.NetworkingCategory,
	}
	WhitelistRelayFlag = &cli.BoolFlag{
		Name:     "whitelistrelay",
		Usage:    "Accept relayed transactions received from whitelisted peers",
		Value:    node.DefaultConfig.WhitelistRelay,
		Category: flags.NetworkingCategory,
	}
	WhitelistForceRelayFlag = &cli.BoolFlag{
		Name:     "whitelistforcerelay",
		Usage:    "Force relay of transactions from whitelisted peers",
		Category: flags.NetworkingCategory,
	}
	BanTimeFlag = &cli.DurationFlag{
		Name:     "bantime",
		Usage:    "How long misbehaving peers stay banned",
		Value:    node.DefaultBanTime,
		Category: flags.NetworkingCategory,
	}

	// RPC settings
	ServerFlag = &cli.BoolFlag{
		Name:     "server",
		Usage:    "Accept JSON-RPC commands",
		Value:    node.DefaultConfig.Server,
		Category: flags.RPCCategory,
	}
	RPCBindFlag = &cli.StringSliceFlag{
		Name:     "rpcbind",
		Usage:    "Bind the RPC server to the given address (default: 127.0.0.1)",
		Category: flags.RPCCategory,
	}
	RPCPortFlag = &cli.IntFlag{
		Name:     "rpcport",
		Usage:    "Listen for JSON-RPC connections on this port (default: network dependent)",
		Category: flags.RPCCategory,
	}
	RPCUserFlag = &cli.StringFlag{
		Name:     "rpcuser",
		Usage:    "Username for JSON-RPC connections",
		Category: flags.RPCCategory,
	}
	RPCPasswordFlag = &cli.StringFlag{
		Name:     "rpcpassword",
		Usage:    "Password for JSON-RPC connections, a cookie file is used when empty",
		Category: flags.RPCCategory,
	}
	RPCCorsDomainFlag = &cli.StringSliceFlag{
		Name:     "rpccorsdomain",
		Usage:    "Domains from which to accept cross origin requests (browser enforced)",
		Category: flags.RPCCategory,
	}
	RESTFlag = &cli.BoolFlag{
		Name:     "rest",
		Usage:    "Accept public REST requests",
		Category: flags.RPCCategory,
	}
	RPCWorkQueueFlag = &cli.IntFlag{
		Name:     "rpcworkqueue",
		Usage:    "Depth of the work queue to service RPC calls",
		Value:    node.DefaultRPCWorkQueue,
		Category: flags.RPCCategory,
	}
	RPCWSFlag = &cli.BoolFlag{
		Name:     "rpcws",
		Usage:    "Serve JSON-RPC and chain notifications over websocket at /ws",
		Category: flags.RPCCategory,
	}
	RPCJWTSecretFlag = &cli.StringFlag{
		Name:     "rpcjwtsecret",
		Usage:    "Path to a hex encoded secret accepted for HS256 bearer tokens",
		Category: flags.RPCCategory,
	}

	// Metrics and stats
	StatsEnabledFlag = &cli.BoolFlag{
		Name:     "statsenabled",
		Usage:    "Collect chain and mempool statistics",
		Category: flags.MetricsCategory,
	}
	StatsPeriodFlag = &cli.IntFlag{
		Name:     "statsperiod",
		Usage:    "Seconds between statistics collections",
		Value:    60,
		Category: flags.MetricsCategory,
	}
	StatsPushURLFlag = &cli.StringFlag{
		Name:     "statspushurl",
		Usage:    "Prometheus push gateway receiving the statistics",
		Category: flags.MetricsCategory,
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:     "metricsaddr",
		Usage:    "Serve the statistics on this address at /metrics",
		Category: flags.MetricsCategory,
	}
)

var (
	// NodeFlags is the set of flags mapped onto node.Config.
	NodeFlags = []cli.Flag{
		DataDirFlag, BlocksDirFlag, TestnetFlag, RegtestFlag, DevnetFlag, PIDFileFlag,
		UserAgentCommentFlag, DisableWalletFlag,
		DBEngineFlag, ReindexFlag, ReindexChainStateFlag, LoadBlockFlag, StopAfterBlockImportFlag,
		PruneFlag, CheckLevelFlag, CheckBlocksFlag,
		TxIndexFlag, AddressIndexFlag, TimestampIndexFlag, SpentIndexFlag, BlockFilterIndexFlag,
		PeerBlockFiltersFlag,
		DBCacheFlag, ParFlag,
		PersistMempoolFlag, MempoolExpiryFlag,
		DisableGovernanceFlag, MasternodeBLSPrivKeyFlag, SporkAddrFlag, MinSporkKeysFlag, SporkKeyFlag,
	}
	NetworkFlags = []cli.Flag{
		ListenFlag, BindFlag, WhiteBindFlag, WhitelistFlag, PortFlag, MaxConnectionsFlag,
		ConnectFlag, AddNodeFlag, SeedNodeFlag, DNSSeedFlag, DiscoverFlag, ExternalIPFlag,
		ProxyFlag, UPnPFlag, NATPMPFlag, ListenOnionFlag, BlocksOnlyFlag,
		WhitelistRelayFlag, WhitelistForceRelayFlag, BanTimeFlag,
	}
	RPCFlags = []cli.Flag{
		ServerFlag, RPCBindFlag, RPCPortFlag, RPCUserFlag, RPCPasswordFlag, RPCCorsDomainFlag,
		RESTFlag, RPCWorkQueueFlag, RPCWSFlag, RPCJWTSecretFlag,
	}
	MetricsFlags = []cli.Flag{
		StatsEnabledFlag, StatsPeriodFlag, StatsPushURLFlag, MetricsAddrFlag,
	}
)

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// CheckExclusive verifies that only a single instance of the provided flags was
// set by the user.
func CheckExclusive(ctx *cli.Context, flags ...cli.Flag) {
	var set []string
	for _, f := range flags {
		name := f.Names()[0]
		if ctx.IsSet(name) {
			set = append(set, "--"+name)
		}
	}
	if len(set) > 1 {
		Fatalf("Flags %v can't be used at the same time", strings.Join(set, ", "))
	}
}

// optionName is the spelling used by node.Config.IsSet.
func optionName(flag string) string {
	return strings.ReplaceAll(flag, "-", "")
}

func setBool(ctx *cli.Context, cfg *node.Config, f *cli.BoolFlag, dst *bool) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.Bool(f.Name)
		cfg.MarkSet(optionName(f.Name))
	}
}

func setInt(ctx *cli.Context, cfg *node.Config, f *cli.IntFlag, dst *int) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.Int(f.Name)
		cfg.MarkSet(optionName(f.Name))
	}
}

func setInt64(ctx *cli.Context, cfg *node.Config, f *cli.Int64Flag, dst *int64) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.Int64(f.Name)
		cfg.MarkSet(optionName(f.Name))
	}
}

func setDuration(ctx *cli.Context, cfg *node.Config, f *cli.DurationFlag, dst *time.Duration) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.Duration(f.Name)
		cfg.MarkSet(optionName(f.Name))
	}
}

func setString(ctx *cli.Context, cfg *node.Config, f *cli.StringFlag, dst *string) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.String(f.Name)
		cfg.MarkSet(optionName(f.Name))
	}
}

func setStrings(ctx *cli.Context, cfg *node.Config, f *cli.StringSliceFlag, dst *[]string) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.StringSlice(f.Name)
		cfg.MarkSet(optionName(f.Name))
	}
}

// setNetwork selects the chain from the network flags.
func setNetwork(ctx *cli.Context, cfg *node.Config) {
	CheckExclusive(ctx, TestnetFlag, RegtestFlag, DevnetFlag)
	switch {
	case ctx.Bool(TestnetFlag.Name):
		cfg.Network = params.TestNet
	case ctx.Bool(RegtestFlag.Name):
		cfg.Network = params.RegTestNet
	case ctx.IsSet(DevnetFlag.Name):
		cfg.Network = params.DevNet
		cfg.DevnetName = ctx.String(DevnetFlag.Name)
	}
}

// NetworkName returns the network selected on the command line, or the
// empty string when none was chosen.
func NetworkName(ctx *cli.Context) string {
	var cfg node.Config
	setNetwork(ctx, &cfg)
	return cfg.Network
}

// SetNodeConfig applies node-related command line flags to the config.
func SetNodeConfig(ctx *cli.Context, cfg *node.Config) {
	if ctx.IsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.String(DataDirFlag.Name)
	}
	if ctx.IsSet(BlocksDirFlag.Name) {
		cfg.BlocksDir = ctx.String(BlocksDirFlag.Name)
		cfg.MarkSet("blocksdir")
	}
	setNetwork(ctx, cfg)
	setString(ctx, cfg, PIDFileFlag, &cfg.PIDFile)
	setStrings(ctx, cfg, UserAgentCommentFlag, &cfg.UserAgentComments)
	setBool(ctx, cfg, DisableWalletFlag, &cfg.DisableWallet)

	setString(ctx, cfg, DBEngineFlag, &cfg.DBEngine)
	setBool(ctx, cfg, ReindexFlag, &cfg.Reindex)
	setBool(ctx, cfg, ReindexChainStateFlag, &cfg.ReindexChainState)
	setStrings(ctx, cfg, LoadBlockFlag, &cfg.LoadBlock)
	setBool(ctx, cfg, StopAfterBlockImportFlag, &cfg.StopAfterBlockImport)
	setInt64(ctx, cfg, PruneFlag, &cfg.Prune)
	setInt(ctx, cfg, CheckLevelFlag, &cfg.CheckLevel)
	setInt(ctx, cfg, CheckBlocksFlag, &cfg.CheckBlocks)

	setBool(ctx, cfg, TxIndexFlag, &cfg.TxIndex)
	setBool(ctx, cfg, AddressIndexFlag, &cfg.AddressIndex)
	setBool(ctx, cfg, TimestampIndexFlag, &cfg.TimestampIndex)
	setBool(ctx, cfg, SpentIndexFlag, &cfg.SpentIndex)
	setStrings(ctx, cfg, BlockFilterIndexFlag, &cfg.BlockFilterIndex)
	setBool(ctx, cfg, PeerBlockFiltersFlag, &cfg.PeerBlockFilters)

	setInt64(ctx, cfg, DBCacheFlag, &cfg.DBCache)
	setInt(ctx, cfg, ParFlag, &cfg.Par)
	setBool(ctx, cfg, PersistMempoolFlag, &cfg.PersistMempool)
	setDuration(ctx, cfg, MempoolExpiryFlag, &cfg.MempoolExpiry)

	setBool(ctx, cfg, DisableGovernanceFlag, &cfg.DisableGovernance)
	setString(ctx, cfg, MasternodeBLSPrivKeyFlag, &cfg.MasternodeBLSPrivKey)
	setStrings(ctx, cfg, SporkAddrFlag, &cfg.SporkAddr)
	setInt(ctx, cfg, MinSporkKeysFlag, &cfg.MinSporkKeys)
	setString(ctx, cfg, SporkKeyFlag, &cfg.SporkKey)

	setP2PConfig(ctx, cfg)
	setRPCConfig(ctx, cfg)

	setBool(ctx, cfg, StatsEnabledFlag, &cfg.StatsEnabled)
	setInt(ctx, cfg, StatsPeriodFlag, &cfg.StatsPeriod)
	setString(ctx, cfg, StatsPushURLFlag, &cfg.StatsPushURL)
	setString(ctx, cfg, MetricsAddrFlag, &cfg.MetricsAddr)
}

func setP2PConfig(ctx *cli.Context, cfg *node.Config) {
	setBool(ctx, cfg, ListenFlag, &cfg.Listen)
	setStrings(ctx, cfg, BindFlag, &cfg.Bind)
	setStrings(ctx, cfg, WhiteBindFlag, &cfg.WhiteBind)
	setStrings(ctx, cfg, WhitelistFlag, &cfg.Whitelist)
	setInt(ctx, cfg, PortFlag, &cfg.Port)
	setInt(ctx, cfg, MaxConnectionsFlag, &cfg.MaxConnections)
	setStrings(ctx, cfg, ConnectFlag, &cfg.Connect)
	setStrings(ctx, cfg, AddNodeFlag, &cfg.AddNode)
	setStrings(ctx, cfg, SeedNodeFlag, &cfg.SeedNode)
	setBool(ctx, cfg, DNSSeedFlag, &cfg.DNSSeed)
	setBool(ctx, cfg, DiscoverFlag, &cfg.Discover)
	setStrings(ctx, cfg, ExternalIPFlag, &cfg.ExternalIP)
	setString(ctx, cfg, ProxyFlag, &cfg.Proxy)
	setBool(ctx, cfg, UPnPFlag, &cfg.UPnP)
	setBool(ctx, cfg, NATPMPFlag, &cfg.NATPMP)
	setBool(ctx, cfg, ListenOnionFlag, &cfg.ListenOnion)
	setBool(ctx, cfg, BlocksOnlyFlag, &cfg.BlocksOnly)
	setBool(ctx, cfg, WhitelistRelayFlag, &cfg.WhitelistRelay)
	setBool(ctx, cfg, WhitelistForceRelayFlag, &cfg.WhitelistForceRelay)
	setDuration(ctx, cfg, BanTimeFlag, &cfg.BanTime)
}

func setRPCConfig(ctx *cli.Context, cfg *node.Config) {
	setBool(ctx, cfg, ServerFlag, &cfg.Server)
	setStrings(ctx, cfg, RPCBindFlag, &cfg.RPCBind)
	setInt(ctx, cfg, RPCPortFlag, &cfg.RPCPort)
	setString(ctx, cfg, RPCUserFlag, &cfg.RPCUser)
	setString(ctx, cfg, RPCPasswordFlag, &cfg.RPCPassword)
	setStrings(ctx, cfg, RPCCorsDomainFlag, &cfg.RPCCorsDomain)
	setBool(ctx, cfg, RESTFlag, &cfg.REST)
	setInt(ctx, cfg, RPCWorkQueueFlag, &cfg.RPCWorkQueue)
	setBool(ctx, cfg, RPCWSFlag, &cfg.RPCWS)
	setString(ctx, cfg, RPCJWTSecretFlag, &cfg.RPCJWTSecret)
}
