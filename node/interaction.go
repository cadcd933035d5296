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
	"fmt"
	"os"
	"strings"

	"github.com/springbok/springbokd/core/index"
	"github.com/springbok/springbokd/internal/sanity"
	"github.com/springbok/springbokd/log"
	"github.com/springbok/springbokd/p2p"
	"github.com/springbok/springbokd/p2p/netutil"
	"github.com/springbok/springbokd/params"
	"github.com/springbok/springbokd/version"
)

const (
	// minCoreFileDescriptors are kept for the databases and the RPC server.
	minCoreFileDescriptors = 150
	maxUserAgentLength     = 256
	pruneManual            = 1

	userAgentSafeChars = " .,;-_/:?@()"
)

func flagValue(v bool) int {
	if v {
		return 1
	}
	return 0
}

// softSet assigns value to an option that was not given explicitly.
func (c *Config) softSet(name string, field *bool, value bool, reason string) {
	if c.IsSet(name) {
		return
	}
	*field = value
	log.Info(fmt.Sprintf("parameter interaction: %s -> setting -%s=%d", reason, name, flagValue(value)))
}

// InteractParameters resolves options implied by others. Explicitly given
// options always win over implied ones.
func (c *Config) InteractParameters() {
	if len(c.Bind) > 0 {
		c.softSet("listen", &c.Listen, true, "-bind set")
	}
	if len(c.WhiteBind) > 0 {
		c.softSet("listen", &c.Listen, true, "-whitebind set")
	}
	if len(c.Connect) > 0 {
		c.softSet("dnsseed", &c.DNSSeed, false, "-connect set")
		c.softSet("listen", &c.Listen, false, "-connect set")
	}
	if c.Proxy != "" {
		c.softSet("listen", &c.Listen, false, "-proxy set")
		c.softSet("upnp", &c.UPnP, false, "-proxy set")
		c.softSet("natpmp", &c.NATPMP, false, "-proxy set")
		c.softSet("discover", &c.Discover, false, "-proxy set")
	}
	if !c.Listen {
		c.softSet("upnp", &c.UPnP, false, "-listen=0")
		c.softSet("natpmp", &c.NATPMP, false, "-listen=0")
		c.softSet("discover", &c.Discover, false, "-listen=0")
		c.softSet("listenonion", &c.ListenOnion, false, "-listen=0")
	}
	if len(c.ExternalIP) > 0 {
		c.softSet("discover", &c.Discover, false, "-externalip set")
	}
	if c.BlocksOnly {
		c.softSet("whitelistrelay", &c.WhitelistRelay, false, "-blocksonly=1")
	}
	if c.WhitelistForceRelay {
		c.softSet("whitelistrelay", &c.WhitelistRelay, true, "-whitelistforcerelay=1")
	}
	if c.Prune > 0 {
		reason := fmt.Sprintf("-prune=%d", c.Prune)
		c.softSet("disablegovernance", &c.DisableGovernance, true, reason)
		c.softSet("txindex", &c.TxIndex, false, reason)
	}
	// Reconnecting is needed to rebuild the additional indexes while verifying.
	if (c.AddressIndex || c.SpentIndex || c.TimestampIndex) && c.CheckLevel < 4 {
		c.CheckLevel = 4
		log.Info("parameter interaction: additional indexes -> setting -checklevel=4")
	}
	if c.MasternodeBLSPrivKey != "" {
		c.softSet("disablewallet", &c.DisableWallet, true, "-masternodeblsprivkey set")
	}
}

// Validate rejects invalid options and combinations of options. It runs
// after InteractParameters and before anything is touched on disk.
func (c *Config) Validate() error {
	p, err := c.Params()
	if err != nil {
		return err
	}
	if c.BlocksDir != "" {
		if fi, err := os.Stat(c.BlocksDir); err != nil || !fi.IsDir() {
			return configErrorf("Specified blocks directory \"%s\" does not exist.", c.BlocksDir)
		}
	}
	filters, err := index.ParseFilterTypes(c.BlockFilterIndex)
	if err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	if c.PeerBlockFilters && !filters.Contains(index.FilterTypeBasic) {
		return configErrorf("Cannot set -peerblockfilters without -blockfilterindex.")
	}
	if err := c.validatePrune(p, filters.Cardinality() > 0); err != nil {
		return err
	}
	if p.Name == params.DevNet {
		if c.Listen && !c.IsSet("port") {
			return configErrorf("-port must be specified when -devnet and -listen are specified")
		}
		if c.Server && !c.IsSet("rpcport") {
			return configErrorf("-rpcport must be specified when -devnet and -server are specified")
		}
	}
	if !c.Listen && (len(c.Bind) > 0 || len(c.WhiteBind) > 0) {
		return configErrorf("Cannot set -bind or -whitebind together with -listen=0")
	}
	if c.Proxy != "" {
		if _, _, err := netutil.ParseService(c.Proxy, 9050); err != nil {
			return configErrorf("Invalid -proxy address or hostname: '%s'", c.Proxy)
		}
	}
	if _, err := netutil.ParseNetlist(strings.Join(c.Whitelist, ",")); err != nil {
		return configErrorf("Invalid netmask specified in -whitelist: %v", err)
	}
	if _, err := c.userAgent(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePrune(p *params.ChainParams, filters bool) error {
	if c.Prune < 0 {
		return configErrorf("Prune cannot be configured with a negative value.")
	}
	if c.Prune == 0 {
		return nil
	}
	if c.TxIndex {
		return configErrorf("Prune mode is incompatible with -txindex.")
	}
	if !c.DisableGovernance {
		return configErrorf("Prune mode is incompatible with -disablegovernance=false.")
	}
	if filters {
		return configErrorf("Prune mode is incompatible with -blockfilterindex.")
	}
	if c.Prune != pruneManual && uint64(c.Prune) < p.MinDiskSpaceForBlockFiles {
		return configErrorf("Prune configured below the minimum of %d MiB.  Please use a higher number.", p.MinDiskSpaceForBlockFiles)
	}
	return nil
}

// validateMasternode checks the options a masternode cannot run without.
func (c *Config) validateMasternode(p *params.ChainParams) error {
	if c.MasternodeBLSPrivKey == "" {
		return nil
	}
	switch {
	case p.RequireRoutableExternalIP && !c.Listen:
		return configErrorf("Masternode must accept connections from outside, set -listen=1")
	case !c.TxIndex:
		return configErrorf("Masternode must have transaction index enabled, set -txindex=1")
	case c.Prune > 0:
		return configErrorf("Masternode must have no pruning enabled, set -prune=0")
	case c.MaxConnections < MasternodeMinConnections:
		return configErrorf("Masternode must be able to handle at least %d connections, set -maxconnections=%d", MasternodeMinConnections, MasternodeMinConnections)
	case c.DisableGovernance:
		return configErrorf("You can not disable governance validation on a masternode.")
	}
	return nil
}

// userAgent builds the advertised sub version from the user agent comments.
func (c *Config) userAgent() (string, error) {
	var comments []string
	if p, err := c.Params(); err == nil && p.Name == params.DevNet {
		comments = append(comments, "devnet."+c.DevnetName)
	}
	for _, comment := range c.UserAgentComments {
		if !userAgentCommentSafe(comment) {
			return "", configErrorf("User Agent comment (%s) contains unsafe characters.", comment)
		}
		comments = append(comments, comment)
	}
	ua := version.UserAgent(comments)
	if len(ua) > maxUserAgentLength {
		return "", configErrorf("Total length of network version string (%d) exceeds maximum length (%d). Reduce the number or size of uacomments.", len(ua), maxUserAgentLength)
	}
	return ua, nil
}

func userAgentCommentSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(userAgentSafeChars, r):
		default:
			return false
		}
	}
	return true
}

// fitConnections trims -maxconnections to what the descriptor limit can
// serve, after asking raise for enough descriptors.
func (c *Config) fitConnections(raise func(uint64) (uint64, error)) error {
	binds := max(len(c.Bind)+len(c.WhiteBind), 1)
	requested := max(c.MaxConnections, 0)
	reserved := minCoreFileDescriptors + p2p.MaxAddNodeConnections + binds

	have, err := raise(uint64(requested + reserved))
	if err != nil {
		return fmt.Errorf("failed to raise file descriptor limit: %v", err)
	}
	if have < minCoreFileDescriptors {
		return configErrorf("Not enough file descriptors available.")
	}
	fit := max(int(min(have, 1<<31))-reserved, 0)
	if fit < requested {
		c.MaxConnections = fit
		log.Warn(fmt.Sprintf("Reducing -maxconnections from %d to %d, because of system limitations.", requested, fit))
	} else {
		c.MaxConnections = requested
	}
	return nil
}

var raiseFdLimit = sanity.RaiseFdLimit
