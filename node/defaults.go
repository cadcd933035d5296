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
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/springbok/springbokd/p2p"
	"github.com/springbok/springbokd/params"
)

const (
	DefaultCheckLevel    = 3
	DefaultCheckBlocks   = 6
	DefaultBanTime       = 24 * time.Hour
	DefaultRPCWorkQueue  = 16
	DefaultMempoolExpiry = 336 * time.Hour

	// MasternodeMinConnections is the -maxconnections floor of a masternode.
	MasternodeMinConnections = 125
)

// DefaultConfig contains reasonable default settings.
var DefaultConfig = Config{
	DataDir:        DefaultDataDir(),
	Network:        params.MainNet,
	DBCache:        DefaultDBCache,
	TxIndex:        true,
	CheckLevel:     DefaultCheckLevel,
	CheckBlocks:    DefaultCheckBlocks,
	PersistMempool: true,
	MempoolExpiry:  DefaultMempoolExpiry,
	Listen:         true,
	MaxConnections: p2p.DefaultMaxConnections,
	DNSSeed:        true,
	Discover:       true,
	ListenOnion:    true,
	WhitelistRelay: true,
	BanTime:        DefaultBanTime,
	Server:         true,
	RPCWorkQueue:   DefaultRPCWorkQueue,
}

// DefaultDataDir is the default data directory to use for the databases and other
// persistence requirements.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := homeDir()
	if home != "" {
		switch runtime.GOOS {
		case "darwin":
			return filepath.Join(home, "Library", "Application Support", "Springbok")
		case "windows":
			// The roaming profile is kept when it already holds data,
			// otherwise %LOCALAPPDATA% is used.
			fallback := filepath.Join(home, "AppData", "Roaming", "Springbok")
			appdata := windowsAppData()
			if appdata == "" || isNonEmptyDir(fallback) {
				return fallback
			}
			return filepath.Join(appdata, "Springbok")
		default:
			return filepath.Join(home, ".springbokd")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

func windowsAppData() string {
	return os.Getenv("LOCALAPPDATA")
}

func isNonEmptyDir(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	names, _ := f.Readdir(1)
	f.Close()
	return len(names) > 0
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
