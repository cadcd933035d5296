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

// Package metrics publishes periodic node statistics as prometheus gauges.
package metrics

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/springbok/springbokd/core/chainstate"
	"github.com/springbok/springbokd/log"
)

const (
	DefaultPeriod = 60 * time.Second
	MinPeriod     = 5 * time.Second
	MaxPeriod     = 3600 * time.Second

	// hashRateWindow is the number of blocks the network hash rate is
	// averaged over.
	hashRateWindow = 120

	namespace = "springbokd"
)

// ClampPeriod converts a statistics period in seconds into a duration within
// [MinPeriod, MaxPeriod]. Zero or negative values select DefaultPeriod.
func ClampPeriod(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultPeriod
	}
	d := time.Duration(seconds) * time.Second
	if d < MinPeriod {
		return MinPeriod
	}
	if d > MaxPeriod {
		return MaxPeriod
	}
	return d
}

// Chain is the chain state the collector samples.
type Chain interface {
	Tip() *chainstate.BlockIndexEntry
	UTXOStats() (chainstate.UTXOStats, error)
	CoinsMemoryUsage() uint64
}

// Mempool is the transaction pool the collector samples.
type Mempool interface {
	Size() int
	Bytes() int
}

// Config configures the statistics collector.
type Config struct {
	PushURL string // Optional push gateway endpoint
	PushJob string
}

// Stats samples the chain and mempool into a private registry.
type Stats struct {
	chain Chain
	pool  Mempool

	registry *prometheus.Registry
	pusher   *push.Pusher

	utxoOutputs   prometheus.Gauge
	utxoAmount    prometheus.Gauge
	blockHeight   prometheus.Gauge
	coinsCache    prometheus.Gauge
	hashRate      prometheus.Gauge
	difficulty    prometheus.Gauge
	mempoolSize   prometheus.Gauge
	mempoolBytes  prometheus.Gauge
	collectErrors prometheus.Counter

	log log.Logger
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewStats creates a collector. pool may be nil when no mempool is running.
func NewStats(cfg Config, chain Chain, pool Mempool) *Stats {
	s := &Stats{
		chain:        chain,
		pool:         pool,
		registry:     prometheus.NewRegistry(),
		utxoOutputs:  newGauge("utxoset", "tx_outputs", "Number of unspent transaction outputs."),
		utxoAmount:   newGauge("utxoset", "total_amount", "Sum of all unspent outputs in base units."),
		blockHeight:  newGauge("utxoset", "block_height", "Height of the active chain tip."),
		coinsCache:   newGauge("utxoset", "cache_bytes", "Memory used by the coin cache."),
		hashRate:     newGauge("network", "hashes_per_second", "Estimated network hash rate over the last 120 blocks."),
		difficulty:   newGauge("network", "difficulty", "Proof of work difficulty of the tip."),
		mempoolSize:  newGauge("mempool", "size", "Number of transactions in the mempool."),
		mempoolBytes: newGauge("mempool", "bytes", "Serialized size of the mempool."),
		collectErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_errors_total",
			Help:      "Failed statistics samples.",
		}),
		log: log.New("module", "stats"),
	}
	s.registry.MustRegister(
		s.utxoOutputs, s.utxoAmount, s.blockHeight, s.coinsCache,
		s.hashRate, s.difficulty, s.mempoolSize, s.mempoolBytes, s.collectErrors,
	)
	if cfg.PushURL != "" {
		job := cfg.PushJob
		if job == "" {
			job = namespace
		}
		s.pusher = push.New(cfg.PushURL, job).Gatherer(s.registry)
	}
	return s
}

// Registry returns the registry holding the node gauges.
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// Collect takes one sample. It is meant to run as a scheduled task.
func (s *Stats) Collect() error {
	if err := s.collect(); err != nil {
		s.collectErrors.Inc()
		return err
	}
	if s.pusher != nil {
		if err := s.pusher.Push(); err != nil {
			return fmt.Errorf("push gateway: %w", err)
		}
	}
	return nil
}

func (s *Stats) collect() error {
	tip := s.chain.Tip()
	if tip == nil {
		// Nothing to report before genesis is connected.
		return nil
	}
	stats, err := s.chain.UTXOStats()
	if err != nil {
		return fmt.Errorf("utxo stats: %w", err)
	}
	s.utxoOutputs.Set(float64(stats.Outputs))
	s.utxoAmount.Set(float64(stats.TotalAmount))
	s.blockHeight.Set(float64(tip.Height))
	s.coinsCache.Set(float64(s.chain.CoinsMemoryUsage()))
	s.hashRate.Set(NetworkHashPS(tip, hashRateWindow))
	s.difficulty.Set(Difficulty(tip.Header.Bits))

	if s.pool != nil {
		s.mempoolSize.Set(float64(s.pool.Size()))
		s.mempoolBytes.Set(float64(s.pool.Bytes()))
	}
	s.log.Trace("Collected node statistics", "height", tip.Height, "utxos", stats.Outputs)
	return nil
}

// NetworkHashPS estimates the hash rate from the work and time spanned by the
// last lookup blocks ending at tip.
func NetworkHashPS(tip *chainstate.BlockIndexEntry, lookup uint64) float64 {
	if tip == nil || tip.Height == 0 || lookup == 0 {
		return 0
	}
	if lookup > tip.Height {
		lookup = tip.Height
	}
	first := tip.Ancestor(tip.Height - lookup)
	if first == nil {
		return 0
	}
	minTime, maxTime := first.Header.Time, first.Header.Time
	for walk := tip; walk != first; walk = walk.Prev {
		t := walk.Header.Time
		if t < minTime {
			minTime = t
		}
		if t > maxTime {
			maxTime = t
		}
	}
	if minTime == maxTime {
		return 0
	}
	return workBetween(tip, first) / float64(maxTime-minTime)
}

// Difficulty expresses bits relative to the minimum difficulty target.
func Difficulty(bits uint32) float64 {
	mantissa := bits & 0x00ffffff
	if mantissa == 0 {
		return 0
	}
	shift := int(bits>>24) & 0xff
	diff := float64(0x0000ffff) / float64(mantissa)
	for shift < 29 {
		diff *= 256
		shift++
	}
	for shift > 29 {
		diff /= 256
		shift--
	}
	return diff
}

// workBetween returns the chain work added between from and to.
func workBetween(to, from *chainstate.BlockIndexEntry) float64 {
	if to.ChainWork == nil || from.ChainWork == nil || to.ChainWork.Lt(from.ChainWork) {
		return 0
	}
	diff := new(uint256.Int).Sub(to.ChainWork, from.ChainWork)
	f, _ := new(big.Float).SetInt(diff.ToBig()).Float64()
	return f
}
