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
	"strings"
	"testing"

	"github.com/springbok/springbokd/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, set ...string) *Config {
	cfg := DefaultConfig
	cfg.DataDir = t.TempDir()
	cfg.Network = params.RegTestNet
	cfg.Set = nil
	for _, name := range set {
		cfg.MarkSet(name)
	}
	return &cfg
}

func TestInteractConnect(t *testing.T) {
	cfg := testConfig(t)
	cfg.Connect = []string{"127.0.0.1:1"}
	cfg.InteractParameters()
	assert.False(t, cfg.DNSSeed)
	assert.False(t, cfg.Listen)
	// -listen=0 cascades.
	assert.False(t, cfg.Discover)
	assert.False(t, cfg.ListenOnion)
}

func TestInteractExplicitWins(t *testing.T) {
	cfg := testConfig(t, "listen")
	cfg.Connect = []string{"127.0.0.1:1"}
	cfg.InteractParameters()
	assert.True(t, cfg.Listen)
	assert.False(t, cfg.DNSSeed)
	assert.True(t, cfg.Discover)
}

func TestInteractBindAndProxy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Listen = false
	cfg.Bind = []string{"127.0.0.1:0"}
	cfg.InteractParameters()
	assert.True(t, cfg.Listen)

	cfg = testConfig(t)
	cfg.Proxy = "127.0.0.1:9050"
	cfg.UPnP, cfg.NATPMP = true, true
	cfg.InteractParameters()
	assert.False(t, cfg.Listen)
	assert.False(t, cfg.UPnP)
	assert.False(t, cfg.NATPMP)
	assert.False(t, cfg.Discover)
}

func TestInteractRelayAndExternalIP(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlocksOnly = true
	cfg.ExternalIP = []string{"1.2.3.4"}
	cfg.InteractParameters()
	assert.False(t, cfg.WhitelistRelay)
	assert.False(t, cfg.Discover)

	cfg = testConfig(t)
	cfg.WhitelistRelay = false
	cfg.WhitelistForceRelay = true
	cfg.InteractParameters()
	assert.True(t, cfg.WhitelistRelay)
}

func TestInteractPrune(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prune = 600
	cfg.InteractParameters()
	assert.True(t, cfg.DisableGovernance)
	assert.False(t, cfg.TxIndex)
	require.NoError(t, cfg.Validate())

	cfg = testConfig(t, "txindex")
	cfg.Prune = 600
	cfg.InteractParameters()
	assert.EqualError(t, cfg.Validate(), "Prune mode is incompatible with -txindex.")

	cfg = testConfig(t)
	cfg.Prune = 10
	cfg.InteractParameters()
	assert.EqualError(t, cfg.Validate(), "Prune configured below the minimum of 550 MiB.  Please use a higher number.")

	cfg = testConfig(t)
	cfg.Prune = pruneManual
	cfg.InteractParameters()
	assert.NoError(t, cfg.Validate())

	cfg = testConfig(t)
	cfg.Prune = -1
	assert.EqualError(t, cfg.Validate(), "Prune cannot be configured with a negative value.")
}

func TestInteractIndexesCheckLevel(t *testing.T) {
	cfg := testConfig(t, "checklevel")
	cfg.CheckLevel = 1
	cfg.SpentIndex = true
	cfg.InteractParameters()
	assert.Equal(t, 4, cfg.CheckLevel)
}

func TestInteractMasternodeKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.MasternodeBLSPrivKey = "00"
	cfg.InteractParameters()
	assert.True(t, cfg.DisableWallet)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{"blocksdir", func(c *Config) { c.BlocksDir = "/does/not/exist" }, `Specified blocks directory "/does/not/exist" does not exist.`},
		{"filters", func(c *Config) { c.BlockFilterIndex = []string{"extended"} }, "Unknown -blockfilterindex value extended."},
		{"peerfilters", func(c *Config) { c.PeerBlockFilters = true }, "Cannot set -peerblockfilters without -blockfilterindex."},
		{"bind", func(c *Config) { c.Listen = false; c.Bind = []string{"127.0.0.1"} }, "Cannot set -bind or -whitebind together with -listen=0"},
		{"proxy", func(c *Config) { c.Proxy = "127.0.0.1:99999" }, "Invalid -proxy address or hostname: '127.0.0.1:99999'"},
		{"uacomment", func(c *Config) { c.UserAgentComments = []string{"bad<>"} }, "User Agent comment (bad<>) contains unsafe characters."},
		{"devnet", func(c *Config) { c.Network = params.DevNet; c.DevnetName = "x"; c.params = nil }, "-port must be specified when -devnet and -listen are specified"},
	}
	for _, tt := range tests {
		cfg := testConfig(t)
		tt.modify(cfg)
		err := cfg.Validate()
		var cerr *ConfigError
		require.True(t, errors.As(err, &cerr), tt.name)
		assert.Equal(t, tt.err, cerr.Msg, tt.name)
	}
	assert.NoError(t, testConfig(t).Validate())
}

func TestValidateMasternode(t *testing.T) {
	cfg := testConfig(t)
	cfg.MasternodeBLSPrivKey = "00"
	cfg.MaxConnections = 10
	p, _ := cfg.Params()
	assert.EqualError(t, cfg.validateMasternode(p), "Masternode must be able to handle at least 125 connections, set -maxconnections=125")

	cfg.MaxConnections = 125
	cfg.DisableGovernance = true
	assert.EqualError(t, cfg.validateMasternode(p), "You can not disable governance validation on a masternode.")

	cfg.DisableGovernance = false
	cfg.TxIndex = false
	assert.EqualError(t, cfg.validateMasternode(p), "Masternode must have transaction index enabled, set -txindex=1")

	cfg.TxIndex = true
	assert.NoError(t, cfg.validateMasternode(p))
	cfg.Listen = false
	assert.EqualError(t, cfg.validateMasternode(params.MainnetParams), "Masternode must accept connections from outside, set -listen=1")
}

func TestUserAgent(t *testing.T) {
	cfg := testConfig(t)
	cfg.UserAgentComments = []string{"pool-1", "ok (v2)"}
	ua, err := cfg.userAgent()
	require.NoError(t, err)
	assert.Contains(t, ua, "(pool-1; ok (v2))")

	cfg.UserAgentComments = []string{strings.Repeat("a", 300)}
	_, err = cfg.userAgent()
	assert.Error(t, err)
}

func TestFitConnections(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConnections = 125
	require.NoError(t, cfg.fitConnections(func(want uint64) (uint64, error) {
		assert.Equal(t, uint64(125+150+8+1), want)
		return 200, nil
	}))
	assert.Equal(t, 200-150-8-1, cfg.MaxConnections)

	cfg.MaxConnections = 10
	require.NoError(t, cfg.fitConnections(func(want uint64) (uint64, error) { return want, nil }))
	assert.Equal(t, 10, cfg.MaxConnections)

	err := cfg.fitConnections(func(uint64) (uint64, error) { return 100, nil })
	assert.EqualError(t, err, "Not enough file descriptors available.")
}
