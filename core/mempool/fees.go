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

package mempool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/springbok/springbokd/common"
)

// FeeEstimatesFileName is the fee estimator snapshot in the data directory.
const FeeEstimatesFileName = "fee_estimates.dat"

const (
	feeFileVersion = 1

	// MaxConfirmTarget is the largest confirmation target tracked.
	MaxConfirmTarget = 25

	// decay is applied to every bucket on each new block.
	decay = 0.998
)

var errFeeFileVersion = errors.New("up-version fee estimate file")

// FeeEstimator keeps a decaying average fee rate per confirmation target.
type FeeEstimator struct {
	mu          sync.Mutex
	bestHeight  uint32
	rates       [MaxConfirmTarget]float64 // fee per kB, index = blocks to confirm - 1
	weights     [MaxConfirmTarget]float64
	unconfirmed map[common.Hash]tracked
}

type tracked struct {
	height uint32
	rate   float64
}

// NewFeeEstimator creates an estimator without history.
func NewFeeEstimator() *FeeEstimator {
	return &FeeEstimator{unconfirmed: make(map[common.Hash]tracked)}
}

// Track starts following a pooled transaction.
func (fe *FeeEstimator) Track(id common.Hash, feePerKB float64, height uint32) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.unconfirmed[id] = tracked{height: height, rate: feePerKB}
}

// ProcessBlock records the confirmation of tracked transactions.
func (fe *FeeEstimator) ProcessBlock(height uint32, confirmed []common.Hash) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if height <= fe.bestHeight {
		return
	}
	fe.bestHeight = height
	for i := range fe.rates {
		fe.rates[i] *= decay
		fe.weights[i] *= decay
	}
	for _, id := range confirmed {
		tx, ok := fe.unconfirmed[id]
		if !ok {
			continue
		}
		delete(fe.unconfirmed, id)
		blocks := int(height - tx.height)
		if blocks < 1 || blocks > MaxConfirmTarget {
			continue
		}
		for target := blocks; target <= MaxConfirmTarget; target++ {
			fe.rates[target-1] += tx.rate
			fe.weights[target-1]++
		}
	}
}

// EstimateFee returns the average fee rate that confirmed within target
// blocks, or -1 without data.
func (fe *FeeEstimator) EstimateFee(target int) float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if target < 1 || target > MaxConfirmTarget || fe.weights[target-1] < 1e-9 {
		return -1
	}
	return fe.rates[target-1] / fe.weights[target-1]
}

// FlushUnconfirmed forgets every tracked transaction and returns how many
// there were.
func (fe *FeeEstimator) FlushUnconfirmed() int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	n := len(fe.unconfirmed)
	fe.unconfirmed = make(map[common.Hash]tracked)
	return n
}

// Write stores the estimator state.
func (fe *FeeEstimator) Write(w io.Writer) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	buf := binary.LittleEndian.AppendUint32(nil, feeFileVersion)
	buf = binary.LittleEndian.AppendUint32(buf, fe.bestHeight)
	for i := range fe.rates {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(fe.rates[i]))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(fe.weights[i]))
	}
	_, err := w.Write(buf)
	return err
}

// Read restores the estimator state.
func (fe *FeeEstimator) Read(r io.Reader) error {
	buf := make([]byte, 8+16*MaxConfirmTarget)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if v := binary.LittleEndian.Uint32(buf[:4]); v > feeFileVersion {
		return fmt.Errorf("%w: version %d", errFeeFileVersion, v)
	}
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.bestHeight = binary.LittleEndian.Uint32(buf[4:8])
	for i := range fe.rates {
		off := 8 + 16*i
		fe.rates[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		fe.weights[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off+8:]))
	}
	return nil
}

// ReadFile restores the estimator from path. A missing file is not an error.
func (fe *FeeEstimator) ReadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return fe.Read(f)
}

// WriteFile stores the estimator at path.
func (fe *FeeEstimator) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := fe.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
