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

package sanity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	require.NoError(t, Check())
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CheckWritable(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Error(t, CheckWritable(filepath.Join(dir, "missing")))
}

func TestCheckDiskSpace(t *testing.T) {
	ok, err := CheckDiskSpace(t.TempDir(), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckDiskSpace(t.TempDir(), 1<<62)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRaiseFdLimit(t *testing.T) {
	limit, err := RaiseFdLimit(64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, limit, uint64(64))
}
