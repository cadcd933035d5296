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

// springbokd is the Springbok Core full node daemon.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/springbok/springbokd/cmd/utils"
	"github.com/springbok/springbokd/internal/debug"
	"github.com/springbok/springbokd/internal/flags"
	iversion "github.com/springbok/springbokd/internal/version"
	"github.com/springbok/springbokd/internal/shutdown"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/node"
	"github.com/springbok/springbokd/version"
	"github.com/urfave/cli/v2"
)

const clientIdentifier = "springbokd" // Client identifier used in the version report

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "the Springbok Core full node daemon",
	Version: version.WithCommit(),
	Flags: flags.Merge(
		[]cli.Flag{configFileFlag},
		utils.NodeFlags,
		utils.NetworkFlags,
		utils.RPCFlags,
		utils.MetricsFlags,
		debug.Flags,
	),
	Before: func(ctx *cli.Context) error {
		return debug.Setup(ctx, ctx.String(utils.DataDirFlag.Name))
	},
	After: func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	},
	Action: springbokd,
}

func init() {
	app.Commands = []*cli.Command{
		dumpConfigCommand,
		versionCommand,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version numbers",
	Action: func(*cli.Context) error {
		fmt.Print(iversion.Info(clientIdentifier))
		return nil
	},
}

// springbokd is the main entry point into the system if no special subcommand
// is run. It creates a node based on the command line arguments and runs it
// in blocking mode, waiting for it to be shut down.
func springbokd(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %s", args[0])
	}
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	signal := shutdown.New()
	stack, err := node.New(&cfg.Node, signal)
	if err != nil {
		return err
	}
	stop := utils.HandleSignals(signal)
	defer stop()

	err = stack.Start()
	if err == nil {
		stack.Wait()
	}
	stack.Shutdown()
	if err != nil && !errors.Is(err, node.ErrShutdownRequested) {
		return err
	}
	log.Info("Exited cleanly")
	return nil
}
