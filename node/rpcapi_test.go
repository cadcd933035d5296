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
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/springbok/springbokd/params"
	"github.com/springbok/springbokd/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObtainJWTSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwtsecret")
	secret, err := obtainJWTSecret(path)
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	again, err := obtainJWTSecret(path)
	require.NoError(t, err)
	assert.Equal(t, secret, again)

	require.NoError(t, os.WriteFile(path, []byte("0x"+hex.EncodeToString(secret)+"\n"), 0o600))
	again, err = obtainJWTSecret(path)
	require.NoError(t, err)
	assert.Equal(t, secret, again)

	require.NoError(t, os.WriteFile(path, []byte("abcd"), 0o600))
	_, err = obtainJWTSecret(path)
	assert.Error(t, err)
}

func TestRPCAddrs(t *testing.T) {
	cfg := nodeConfig(t, t.TempDir())
	n, err := New(cfg, nil)
	require.NoError(t, err)
	addrs, err := n.rpcAddrs()
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:19898"}, addrs)
	assert.Equal(t, params.RegtestParams.RPCPort, 19898)

	n.config.RPCPort = 1234
	n.config.RPCBind = []string{"0.0.0.0", "[::1]:77"}
	addrs, err = n.rpcAddrs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0.0.0.0:1234", "[::1]:77"}, addrs)
}

func TestRPCServerWithCookie(t *testing.T) {
	cfg := nodeConfig(t, t.TempDir())
	cfg.Server = true
	cfg.RPCBind = []string{"127.0.0.1:0"}
	n := startNode(t, cfg)
	defer n.Shutdown()

	cookie := cfg.ResolvePath(rpc.CookieFile)
	data, err := os.ReadFile(cookie)
	require.NoError(t, err)
	user, pass, ok := strings.Cut(string(data), ":")
	require.True(t, ok)

	addrs := n.HTTPAddrs()
	require.Len(t, addrs, 1)
	req, err := http.NewRequest(http.MethodPost, "http://"+addrs[0], strings.NewReader(`{"id":1,"method":"getblockcount"}`))
	require.NoError(t, err)
	req.Header.Set("content-type", "application/json")
	req.SetBasicAuth(user, pass)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":1,"result":0}`, string(body))

	n.Shutdown()
	assert.NoFileExists(t, cookie)
}
