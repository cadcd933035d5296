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

package flags

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"
)

func TestPathExpansion(t *testing.T) {
	home := HomeDir()
	t.Setenv("SPRINGBOK_TEST_DIR", "/var/lib")
	tests := map[string]string{
		"/home/someuser/tmp":          "/home/someuser/tmp",
		"~/tmp":                       home + "/tmp",
		"~thisOtherUser/b/":           "~thisOtherUser/b",
		"$SPRINGBOK_TEST_DIR/data":    "/var/lib/data",
		"/a/b/../c":                   "/a/c",
		"$DOES_NOT_EXIST_SPRINGBOK/x": "/x",
	}
	for test, expected := range tests {
		assert.Equal(t, expected, expandPath(test), test)
	}
}

func TestDirectoryFlagFromEnv(t *testing.T) {
	t.Setenv("SPRINGBOK_DATADIR", "~/chain")
	f := &DirectoryFlag{Name: "datadir", EnvVars: []string{"SPRINGBOK_DATADIR"}}
	app := &cli.App{
		Flags: []cli.Flag{f},
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, HomeDir()+"/chain", ctx.String("datadir"))
			return nil
		},
	}
	assert.NoError(t, app.Run([]string{os.Args[0]}))
	assert.True(t, f.IsSet())
}

func TestMerge(t *testing.T) {
	a := []cli.Flag{&cli.BoolFlag{Name: "a"}}
	b := []cli.Flag{&cli.BoolFlag{Name: "b"}, &cli.BoolFlag{Name: "c"}}
	assert.Len(t, Merge(a, b), 3)
}
