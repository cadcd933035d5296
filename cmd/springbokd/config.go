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

package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unicode"

	"github.com/naoina/toml"
	"github.com/naoina/toml/ast"
	"github.com/springbok/springbokd/cmd/utils"
	"github.com/springbok/springbokd/internal/flags"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/node"
	"github.com/springbok/springbokd/params"
	"github.com/urfave/cli/v2"
)

// defaultConfigFile is looked up in the data directory when --config is not
// given.
const defaultConfigFile = "springbokd.toml"

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file (default: <datadir>/" + defaultConfigFile + ")",
		Category: flags.NodeCategory,
	}

	dumpConfigCommand = &cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Export configuration values in a TOML format",
		ArgsUsage:   "<dumpfile (optional)>",
		Flags:       flags.Merge(utils.NodeFlags, utils.NetworkFlags, utils.RPCFlags, utils.MetricsFlags, []cli.Flag{configFileFlag}),
		Description: `Export configuration values in TOML format (to stdout by default).`,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// networkConfig holds the options that only apply to one network. Set in
// the [Node] section they are honoured on mainnet only.
type networkConfig struct {
	Port    int      `toml:",omitempty"`
	RPCPort int      `toml:",omitempty"`
	Bind    []string `toml:",omitempty"`
	RPCBind []string `toml:",omitempty"`
	Connect []string `toml:",omitempty"`
	AddNode []string `toml:",omitempty"`
}

type springbokConfig struct {
	Node    node.Config
	Main    networkConfig `toml:",omitempty"`
	Test    networkConfig `toml:",omitempty"`
	Regtest networkConfig `toml:",omitempty"`
	Devnet  networkConfig `toml:",omitempty"`
}

// networkOnly lists the networkConfig fields with their option names.
var networkOnly = []struct {
	field, option string
}{
	{"Port", "port"},
	{"RPCPort", "rpcport"},
	{"Bind", "bind"},
	{"RPCBind", "rpcbind"},
	{"Connect", "connect"},
	{"AddNode", "addnode"},
}

func (c *springbokConfig) section(network string) *networkConfig {
	switch network {
	case params.TestNet:
		return &c.Test
	case params.RegTestNet:
		return &c.Regtest
	case params.DevNet:
		return &c.Devnet
	}
	return &c.Main
}

// loadConfig decodes file into cfg. Every option present in the [Node] or
// in the active network section counts as explicitly set. An empty network
// selects the one named in the file.
func loadConfig(file, network string, cfg *springbokConfig) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	root, err := toml.Parse(data)
	if err != nil {
		return configFileError(file, err)
	}
	err = tomlSettings.NewDecoder(bufio.NewReader(bytes.NewReader(data))).Decode(cfg)
	if err != nil {
		return configFileError(file, err)
	}
	for key := range tableKeys(root, "Node") {
		cfg.Node.MarkSet(strings.ToLower(key))
	}
	if network == "" {
		network = cfg.Node.Network
	}
	if network == "" {
		network = params.MainNet
	}
	return applyNetworkSection(cfg, network, root)
}

// tableKeys returns the keys defined in the named top-level table.
func tableKeys(root *ast.Table, name string) map[string]bool {
	keys := make(map[string]bool)
	if sub, ok := root.Fields[name].(*ast.Table); ok {
		for key := range sub.Fields {
			keys[key] = true
		}
	}
	return keys
}

func configFileError(file string, err error) error {
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		return errors.New(file + ", " + err.Error())
	}
	return err
}

// applyNetworkSection moves the network-only options of the active network
// into the node config. Network-only options found in [Node] are dropped
// unless the node runs on mainnet.
func applyNetworkSection(cfg *springbokConfig, network string, root *ast.Table) error {
	sectionName := strings.ToUpper(network[:1]) + network[1:]
	if network == params.MainNet {
		sectionName = "Main"
	}
	nodeSection := tableKeys(root, "Node")
	netSection := tableKeys(root, sectionName)

	ncfg := reflect.ValueOf(&cfg.Node).Elem()
	sec := reflect.ValueOf(cfg.section(network)).Elem()
	for _, opt := range networkOnly {
		if nodeSection[opt.field] && network != params.MainNet {
			log.Warn(fmt.Sprintf("Config setting for -%s only applied on %s network when in [%s] section.", opt.option, network, sectionName))
			ncfg.FieldByName(opt.field).Set(reflect.Zero(ncfg.FieldByName(opt.field).Type()))
			delete(cfg.Node.Set, opt.option)
		}
		if netSection[opt.field] {
			ncfg.FieldByName(opt.field).Set(sec.FieldByName(opt.field))
			cfg.Node.MarkSet(opt.option)
		}
	}
	return nil
}

// loadBaseConfig loads the springbokConfig based on the given command line
// parameters and config file.
func loadBaseConfig(ctx *cli.Context) (springbokConfig, error) {
	cfg := springbokConfig{Node: node.DefaultConfig}
	cfg.Node.Set = nil

	network := utils.NetworkName(ctx)
	file := ctx.String(configFileFlag.Name)
	if file == "" {
		file = filepath.Join(ctx.String(utils.DataDirFlag.Name), defaultConfigFile)
		if _, err := os.Stat(file); err != nil {
			file = ""
		}
	}
	if file != "" {
		if err := loadConfig(file, network, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = node.DefaultDataDir()
	}
	utils.SetNodeConfig(ctx, &cfg.Node)
	return cfg, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)
	return nil
}
