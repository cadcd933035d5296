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

// Package flags holds the CLI flag categories and custom flag types shared by
// the springbokd command.
package flags

import "github.com/urfave/cli/v2"

const (
	NodeCategory       = "NODE"
	ChainCategory      = "CHAIN STATE"
	IndexCategory      = "INDEXES"
	PerfCategory       = "PERFORMANCE TUNING"
	NetworkingCategory = "NETWORKING"
	RPCCategory        = "RPC SERVER"
	MasternodeCategory = "MASTERNODE"
	MempoolCategory    = "MEMORY POOL"
	LoggingCategory    = "LOGGING AND DEBUGGING"
	MetricsCategory    = "METRICS AND STATS"
	MiscCategory       = "MISC"
	TestingCategory    = "TESTING"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
