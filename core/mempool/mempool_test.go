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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/springbok/springbokd/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DumpFileName)
	pool := New(0)
	now := time.Now().Unix()
	keep := pool.Add(&Entry{Raw: []byte("tx-1"), Time: now, FeeDelta: 5})
	reject := pool.Add(&Entry{Raw: []byte("tx-2"), Time: now})
	pool.Add(&Entry{Raw: []byte("tx-old"), Time: now - int64(DefaultExpiry/time.Second) - 60})
	require.NoError(t, pool.Dump(path))
	assert.NoFileExists(t, path+".new")

	loaded := New(0)
	assert.False(t, loaded.IsLoaded())
	stats, err := loaded.Load(path, func(e *Entry) error {
		if e.TxID() == reject {
			return errors.New("missing inputs")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, LoadStats{Succeeded: 1, Failed: 1, Expired: 1}, stats)
	assert.True(t, loaded.IsLoaded())
	assert.True(t, loaded.Has(keep))
	assert.Equal(t, 1, loaded.Size())
	assert.Equal(t, 4, loaded.Bytes())
}

func TestLoadMissingFile(t *testing.T) {
	pool := New(time.Hour)
	_, err := pool.Load(filepath.Join(t.TempDir(), DumpFileName), nil, nil)
	require.NoError(t, err)
	assert.True(t, pool.IsLoaded())
}

func TestLoadInterrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), DumpFileName)
	pool := New(0)
	pool.Add(&Entry{Raw: []byte("tx"), Time: time.Now().Unix()})
	require.NoError(t, pool.Dump(path))

	loaded := New(0)
	_, err := loaded.Load(path, nil, func() bool { return true })
	require.NoError(t, err)
	assert.False(t, loaded.IsLoaded())
}

func TestLoadBadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), DumpFileName)
	require.NoError(t, os.WriteFile(path, []byte{9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0600))
	_, err := New(0).Load(path, nil, nil)
	assert.ErrorIs(t, err, errBadVersion)
}

func TestFeeEstimator(t *testing.T) {
	fe := NewFeeEstimator()
	assert.Equal(t, float64(-1), fe.EstimateFee(2))

	a, b := common.Hash{1}, common.Hash{2}
	fe.Track(a, 1000, 10)
	fe.Track(b, 3000, 10)
	fe.Track(common.Hash{3}, 500, 10)
	fe.ProcessBlock(11, []common.Hash{a})
	fe.ProcessBlock(12, []common.Hash{b})

	assert.InDelta(t, 1000, fe.EstimateFee(1), 1)
	assert.InDelta(t, 2000, fe.EstimateFee(2), 5)
	assert.Equal(t, 1, fe.FlushUnconfirmed())

	var buf bytes.Buffer
	require.NoError(t, fe.Write(&buf))
	restored := NewFeeEstimator()
	require.NoError(t, restored.Read(&buf))
	assert.InDelta(t, fe.EstimateFee(2), restored.EstimateFee(2), 1e-9)

	path := filepath.Join(t.TempDir(), FeeEstimatesFileName)
	require.NoError(t, NewFeeEstimator().ReadFile(path))
	require.NoError(t, fe.WriteFile(path))
	require.NoError(t, NewFeeEstimator().ReadFile(path))

	future := []byte{2, 0, 0, 0}
	future = append(future, make([]byte, 4+16*MaxConfirmTarget)...)
	assert.ErrorIs(t, NewFeeEstimator().Read(bytes.NewReader(future)), errFeeFileVersion)
}
