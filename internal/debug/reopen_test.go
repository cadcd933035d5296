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

package debug

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReopenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug.log")
	w, err := openLogFile(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("one\n"))
	require.NoError(t, err)

	// Rotate the file away, the writer keeps the old descriptor.
	rotated := filepath.Join(dir, "debug.log.1")
	require.NoError(t, os.Rename(path, rotated))
	_, err = w.Write([]byte("two\n"))
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	RequestLogReopen()
	_, err = w.Write([]byte("three\n"))
	require.NoError(t, err)

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(old))
	fresh, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "three\n", string(fresh))
	assert.False(t, reopenRequested.Load())
}
