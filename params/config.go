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

// Package params defines the per-network chain parameters.
package params

import (
	"errors"
	"fmt"

	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/core/types"
)

// Network names as accepted on the command line and in config file sections.
const (
	MainNet    = "main"
	TestNet    = "test"
	RegTestNet = "regtest"
	DevNet     = "devnet"
)

// ChainParams holds the read-only parameters the node consults for a network.
type ChainParams struct {
	Name string

	// DataSubdir is the per-network subdirectory below the data directory. The
	// main network uses the data directory itself.
	DataSubdir string

	NetMagic    [4]byte
	DefaultPort int
	RPCPort     int

	genesis *types.Block

	SporkAddresses []string
	MinSporkKeys   int

	// RequireRoutableExternalIP makes masternodes insist on -listen.
	RequireRoutableExternalIP bool

	// DefaultConsistencyChecks enables expensive internal checks.
	DefaultConsistencyChecks bool

	IsTestChain bool

	// PruneAfterHeight is the minimum height a pruned node keeps.
	PruneAfterHeight uint64

	// MinDiskSpaceForBlockFiles is the smallest -prune target in MiB.
	MinDiskSpaceForBlockFiles uint64
}

// Genesis returns the genesis block of the network.
func (p *ChainParams) Genesis() *types.Block {
	return p.genesis
}

// GenesisHash returns the hash of the genesis block.
func (p *ChainParams) GenesisHash() common.Hash {
	return p.genesis.Hash()
}

func (p *ChainParams) String() string {
	return p.Name
}

func genesisBlock(time, nonce, bits uint32, message string) *types.Block {
	return types.NewBlock(types.Header{
		Version: 1,
		Time:    time,
		Bits:    bits,
		Nonce:   nonce,
	}, []byte(message))
}

const genesisMessage = "Wired 09/Jan/2014 The Grand Experiment Goes Live: Overstock.com Is Now Accepting Bitcoins"

var (
	MainnetParams = &ChainParams{
		Name:                      MainNet,
		NetMagic:                  [4]byte{0xbf, 0x0c, 0x6b, 0xbd},
		DefaultPort:               9999,
		RPCPort:                   9998,
		genesis:                   genesisBlock(1390095618, 28917698, 0x1e0ffff0, genesisMessage),
		SporkAddresses:            []string{"Xgtyuk76vhuFW2iT7UAiHgNdWXCf3J34wh"},
		MinSporkKeys:              1,
		RequireRoutableExternalIP: true,
		PruneAfterHeight:          100000,
		MinDiskSpaceForBlockFiles: 945,
	}

	TestnetParams = &ChainParams{
		Name:                      TestNet,
		DataSubdir:                "testnet3",
		NetMagic:                  [4]byte{0xce, 0xe2, 0xca, 0xff},
		DefaultPort:               19999,
		RPCPort:                   19998,
		genesis:                   genesisBlock(1390666206, 3861367235, 0x1e0ffff0, genesisMessage),
		SporkAddresses:            []string{"yjPtiKh2uwk3bDutTEA2q9mCtXyiZRWn55"},
		MinSporkKeys:              1,
		RequireRoutableExternalIP: true,
		IsTestChain:               true,
		PruneAfterHeight:          1000,
		MinDiskSpaceForBlockFiles: 945,
	}

	RegtestParams = &ChainParams{
		Name:                      RegTestNet,
		DataSubdir:                "regtest",
		NetMagic:                  [4]byte{0xfc, 0xc1, 0xb7, 0xdc},
		DefaultPort:               19899,
		RPCPort:                   19898,
		genesis:                   genesisBlock(1417713337, 1096447, 0x207fffff, genesisMessage),
		SporkAddresses:            []string{"yj949n1UH6fDhw6HtVE5VMj2iSTaSWBMcW"},
		MinSporkKeys:              1,
		DefaultConsistencyChecks:  true,
		IsTestChain:               true,
		PruneAfterHeight:          1000,
		MinDiskSpaceForBlockFiles: 550,
	}
)

// NewDevnetParams derives the parameters of a named development network. The
// genesis block commits to the network name so distinct devnets never share a
// chain.
func NewDevnetParams(name string) *ChainParams {
	return &ChainParams{
		Name:                      DevNet,
		DataSubdir:                "devnet-" + name,
		NetMagic:                  [4]byte{0xe2, 0xca, 0xff, 0xce},
		DefaultPort:               19799,
		RPCPort:                   19798,
		genesis:                   genesisBlock(1417713337, 1096447, 0x207fffff, "devnet-"+name),
		SporkAddresses:            []string{"yjPtiKh2uwk3bDutTEA2q9mCtXyiZRWn55"},
		MinSporkKeys:              1,
		IsTestChain:               true,
		PruneAfterHeight:          1000,
		MinDiskSpaceForBlockFiles: 945,
	}
}

var errUnknownNetwork = errors.New("unknown network")

// Select returns the parameters for a network name. devnetName is only used
// for DevNet.
func Select(network, devnetName string) (*ChainParams, error) {
	switch network {
	case "", MainNet:
		return MainnetParams, nil
	case TestNet:
		return TestnetParams, nil
	case RegTestNet:
		return RegtestParams, nil
	case DevNet:
		if devnetName == "" {
			devnetName = "devnet"
		}
		return NewDevnetParams(devnetName), nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownNetwork, network)
}
