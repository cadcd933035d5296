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
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/springbok/springbokd/p2p/netutil"
	"github.com/springbok/springbokd/rpc"
	"github.com/springbok/springbokd/tier2"
	"github.com/springbok/springbokd/version"
)

const defaultRPCBind = "127.0.0.1"

var errHTTPStart = errors.New("Unable to start HTTP server. See debug log for details.")

type blockchainInfo struct {
	Chain                string `json:"chain"`
	Blocks               int64  `json:"blocks"`
	BestBlockHash        string `json:"bestblockhash"`
	ChainWork            string `json:"chainwork"`
	InitialBlockDownload bool   `json:"initialblockdownload"`
	Pruned               bool   `json:"pruned"`
	Importing            bool   `json:"importing"`
}

type mnsyncStatus struct {
	AssetID            int32  `json:"AssetID"`
	AssetName          string `json:"AssetName"`
	IsBlockchainSynced bool   `json:"IsBlockchainSynced"`
	IsSynced           bool   `json:"IsSynced"`
}

// registerRPCs installs the commands answered by the node itself.
func (n *Node) registerRPCs() error {
	commands := []rpc.Command{
		{Category: "blockchain", Name: "getblockcount", Handler: n.rpcGetBlockCount},
		{Category: "blockchain", Name: "getbestblockhash", Handler: n.rpcGetBestBlockHash},
		{Category: "blockchain", Name: "getblockchaininfo", Handler: n.rpcGetBlockchainInfo},
		{Category: "network", Name: "getconnectioncount", Handler: n.rpcGetConnectionCount},
		{Category: "control", Name: "uptime", Handler: n.rpcUptime},
		{Category: "control", Name: "stop", Handler: n.rpcStop},
		{Category: "control", Name: "help", Args: []string{"command"}, Handler: n.rpcHelp},
		{Category: "springbok", Name: "spork", Args: []string{"command", "value"}, Handler: n.rpcSpork},
		{Category: "springbok", Name: "mnsync", Args: []string{"command"}, Handler: n.rpcMnsync},
		{Category: "springbok", Name: "gobject", Args: []string{"command"}, Handler: n.rpcGobject},
	}
	for _, cmd := range commands {
		if err := n.rpc.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

var errNoChain = rpc.NewError(rpc.ErrCodeMisc, "Chain state not loaded")

func (n *Node) rpcGetBlockCount(context.Context, []json.RawMessage) (any, error) {
	if n.chain == nil {
		return nil, errNoChain
	}
	return n.chain.Height(), nil
}

func (n *Node) rpcGetBestBlockHash(context.Context, []json.RawMessage) (any, error) {
	if n.chain == nil || n.chain.Tip() == nil {
		return nil, errNoChain
	}
	return n.chain.Tip().Hash.Hex(), nil
}

func (n *Node) rpcGetBlockchainInfo(context.Context, []json.RawMessage) (any, error) {
	if n.chain == nil {
		return nil, errNoChain
	}
	info := blockchainInfo{
		Chain:                n.params.Name,
		Blocks:               n.chain.Height(),
		InitialBlockDownload: n.chain.InitialDownload(),
		Pruned:               n.chain.HavePruned(),
		Importing:            n.chain.Importing(),
	}
	if tip := n.chain.Tip(); tip != nil {
		info.BestBlockHash = tip.Hash.Hex()
	}
	if work := n.chain.ChainWork(); work != nil {
		info.ChainWork = fmt.Sprintf("%064x", work.ToBig())
	}
	return info, nil
}

func (n *Node) rpcGetConnectionCount(context.Context, []json.RawMessage) (any, error) {
	if n.connman == nil {
		return nil, rpc.NewError(rpc.ErrCodeClientNotConn, "Error: Peer-to-peer functionality missing or disabled")
	}
	return n.connman.ConnectionCount(), nil
}

func (n *Node) rpcUptime(context.Context, []json.RawMessage) (any, error) {
	return int64(n.uptime().Seconds()), nil
}

func (n *Node) rpcStop(context.Context, []json.RawMessage) (any, error) {
	n.signal.Request()
	return version.ClientName + " server stopping", nil
}

func (n *Node) rpcHelp(_ context.Context, params []json.RawMessage) (any, error) {
	var name string
	if _, err := rpc.ParseArg(params, 0, &name); err != nil {
		return nil, err
	}
	return n.rpc.Help(name)
}

func (n *Node) rpcSpork(_ context.Context, params []json.RawMessage) (any, error) {
	sporks := n.tier2.sporks
	if sporks == nil {
		return nil, rpc.NewError(rpc.ErrCodeMisc, "Sporks not loaded")
	}
	var cmd string
	if _, err := rpc.ParseArg(params, 0, &cmd); err != nil {
		return nil, err
	}
	switch cmd {
	case "", "show":
		return sporks.Values(), nil
	case "active":
		active := make(map[string]bool)
		for _, name := range sporks.Names() {
			id, _ := tier2.SporkByName(name)
			active[name] = sporks.IsActive(id)
		}
		return active, nil
	}
	id, ok := tier2.SporkByName(cmd)
	if !ok {
		return nil, rpc.NewError(rpc.ErrCodeInvalidParam, "Invalid spork name")
	}
	var value int64
	if ok, err := rpc.ParseArg(params, 1, &value); err != nil {
		return nil, err
	} else if !ok {
		return nil, rpc.NewError(rpc.ErrCodeInvalidParam, "Missing spork value")
	}
	if err := sporks.UpdateSpork(id, value); err != nil {
		return nil, rpc.NewError(rpc.ErrCodeInvalidParam, "%v", err)
	}
	return "success", nil
}

func (n *Node) rpcMnsync(_ context.Context, params []json.RawMessage) (any, error) {
	var cmd string
	if _, err := rpc.ParseArg(params, 0, &cmd); err != nil {
		return nil, err
	}
	if cmd != "status" {
		return nil, rpc.NewError(rpc.ErrCodeInvalidParam, "Unknown mnsync command %q", cmd)
	}
	sync := n.tier2.mnsync
	if sync == nil {
		return nil, rpc.NewError(rpc.ErrCodeMisc, "Masternode sync not started")
	}
	stage := sync.Stage()
	return mnsyncStatus{
		AssetID:            int32(stage),
		AssetName:          stage.String(),
		IsBlockchainSynced: sync.IsBlockchainSynced(),
		IsSynced:           sync.IsSynced(),
	}, nil
}

func (n *Node) rpcGobject(_ context.Context, params []json.RawMessage) (any, error) {
	var cmd string
	if _, err := rpc.ParseArg(params, 0, &cmd); err != nil {
		return nil, err
	}
	if cmd != "count" {
		return nil, rpc.NewError(rpc.ErrCodeInvalidParam, "Unknown gobject command %q", cmd)
	}
	if n.tier2.governance == nil {
		return nil, rpc.NewError(rpc.ErrCodeMisc, "Governance is disabled")
	}
	proposals, triggers := n.tier2.governance.Count()
	return map[string]int{"proposals": proposals, "triggers": triggers, "total": proposals + triggers}, nil
}

// startRPC starts the HTTP transport in warmup mode. Without -rpcpassword
// a random cookie is written to the data directory.
func (n *Node) startRPC() error {
	user, password := n.config.RPCUser, n.config.RPCPassword
	if password == "" {
		path := n.config.ResolvePath(rpc.CookieFile)
		u, p, err := rpc.GenerateAuthCookie(path)
		if err != nil {
			n.log.Error("Unable to write the RPC auth cookie", "path", path, "err", err)
			return errHTTPStart
		}
		n.cookieFile = path
		user, password = u, p
	}
	var secret []byte
	if n.config.RPCJWTSecret != "" {
		s, err := obtainJWTSecret(n.config.ResolvePath(n.config.RPCJWTSecret))
		if err != nil {
			n.log.Error("Unable to load the JWT secret", "err", err)
			return errHTTPStart
		}
		secret = s
	}
	addrs, err := n.rpcAddrs()
	if err != nil {
		n.log.Error("Invalid -rpcbind address", "err", err)
		return errHTTPStart
	}
	if n.config.RPCWS {
		n.ws = rpc.NewNotifier()
		n.signals.Register(n.ws)
	}
	n.http = rpc.NewHTTPServer(rpc.HTTPConfig{
		Addrs:              addrs,
		User:               user,
		Password:           password,
		JWTSecret:          secret,
		CorsAllowedOrigins: n.config.RPCCorsDomain,
		REST:               n.config.REST,
		WS:                 n.config.RPCWS,
		WorkQueue:          n.config.RPCWorkQueue,
	}, n.rpc, n.ws)
	if err := n.http.Start(); err != nil {
		n.log.Error("Failed to start the HTTP server", "err", err)
		return errHTTPStart
	}
	n.log.Info("HTTP server started", "addrs", strings.Join(n.HTTPAddrs(), ","))
	return nil
}

func (n *Node) rpcAddrs() ([]string, error) {
	port := n.config.RPCPort
	if port == 0 {
		port = n.params.RPCPort
	}
	binds := n.config.RPCBind
	if len(binds) == 0 {
		binds = []string{defaultRPCBind}
	}
	addrs := make([]string, 0, len(binds))
	for _, b := range binds {
		host, p, err := netutil.ParseService(b, port)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b, err)
		}
		addrs = append(addrs, net.JoinHostPort(host, strconv.Itoa(p)))
	}
	return addrs, nil
}

// obtainJWTSecret loads the hex encoded secret at path, generating a new
// one if the file does not exist.
func obtainJWTSecret(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		secret, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
		if err != nil || len(secret) != 32 {
			return nil, fmt.Errorf("invalid JWT secret in %s", path)
		}
		return secret, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}
