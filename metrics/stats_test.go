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

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const regtestBits = 0x207fffff

func buildChain(n int, spacing uint32) *chainstate.BlockIndexEntry {
	var tip *chainstate.BlockIndexEntry
	for i := 0; i < n; i++ {
		work := types.CalcWork(regtestBits)
		if tip != nil {
			work.Add(work, tip.ChainWork)
		}
		tip = &chainstate.BlockIndexEntry{
			Header:    types.Header{Time: 1000 + uint32(i)*spacing, Bits: regtestBits},
			Prev:      tip,
			Height:    uint64(i),
			ChainWork: work,
		}
	}
	return tip
}

type fakeChain struct {
	tip   *chainstate.BlockIndexEntry
	stats chainstate.UTXOStats
	err   error
}

func (c *fakeChain) Tip() *chainstate.BlockIndexEntry { return c.tip }
func (c *fakeChain) UTXOStats() (chainstate.UTXOStats, error) {
	return c.stats, c.err
}
func (c *fakeChain) CoinsMemoryUsage() uint64 { return 4096 }

type fakePool struct{}

func (fakePool) Size() int  { return 3 }
func (fakePool) Bytes() int { return 750 }

func TestClampPeriod(t *testing.T) {
	assert.Equal(t, DefaultPeriod, ClampPeriod(0))
	assert.Equal(t, DefaultPeriod, ClampPeriod(-4))
	assert.Equal(t, MinPeriod, ClampPeriod(1))
	assert.Equal(t, 30*time.Second, ClampPeriod(30))
	assert.Equal(t, MaxPeriod, ClampPeriod(100000))
}

func TestNetworkHashPS(t *testing.T) {
	tip := buildChain(10, 10)
	// Nine blocks of work 2 over 90 seconds.
	assert.InDelta(t, 0.2, NetworkHashPS(tip, hashRateWindow), 1e-9)
	// Three blocks of work 2 over 30 seconds.
	assert.InDelta(t, 0.2, NetworkHashPS(tip, 3), 1e-9)

	assert.Zero(t, NetworkHashPS(nil, hashRateWindow))
	assert.Zero(t, NetworkHashPS(buildChain(1, 10), hashRateWindow))
	assert.Zero(t, NetworkHashPS(buildChain(5, 0), hashRateWindow))
}

func TestDifficulty(t *testing.T) {
	assert.InDelta(t, 1.0, Difficulty(0x1d00ffff), 1e-12)
	assert.InDelta(t, 4.656542373906925e-10, Difficulty(regtestBits), 1e-20)
	assert.Zero(t, Difficulty(0x1d000000))
}

func TestCollect(t *testing.T) {
	chain := &fakeChain{
		tip:   buildChain(10, 10),
		stats: chainstate.UTXOStats{Outputs: 42, TotalAmount: 5000},
	}
	s := NewStats(Config{}, chain, fakePool{})
	require.NoError(t, s.Collect())

	assert.Equal(t, 42.0, testutil.ToFloat64(s.utxoOutputs))
	assert.Equal(t, 5000.0, testutil.ToFloat64(s.utxoAmount))
	assert.Equal(t, 9.0, testutil.ToFloat64(s.blockHeight))
	assert.Equal(t, 4096.0, testutil.ToFloat64(s.coinsCache))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.mempoolSize))
	assert.Equal(t, 750.0, testutil.ToFloat64(s.mempoolBytes))
	assert.InDelta(t, 0.2, testutil.ToFloat64(s.hashRate), 1e-9)

	chain.err = errors.New("disk gone")
	assert.Error(t, s.Collect())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.collectErrors))
}

func TestCollectBeforeGenesis(t *testing.T) {
	s := NewStats(Config{}, &fakeChain{}, nil)
	require.NoError(t, s.Collect())
	assert.Zero(t, testutil.ToFloat64(s.blockHeight))
}

func TestCollectPushes(t *testing.T) {
	var pushes atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if r.Method == http.MethodPut {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	chain := &fakeChain{tip: buildChain(3, 10)}
	s := NewStats(Config{PushURL: gw.URL, PushJob: "test"}, chain, fakePool{})
	require.NoError(t, s.Collect())
	require.NoError(t, s.Collect())
	assert.Equal(t, int32(2), pushes.Load())
}

func TestServer(t *testing.T) {
	chain := &fakeChain{tip: buildChain(3, 10)}
	s := NewStats(Config{}, chain, nil)
	require.NoError(t, s.Collect())

	srv, err := StartServer("127.0.0.1:0", s.Registry())
	require.NoError(t, err)
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr().String() + "/debug/metrics/prometheus")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "springbokd_utxoset_block_height 2")
	assert.Contains(t, string(body), "go_goroutines")
}
