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

// Package version reads the build version information of the running binary.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/springbok/springbokd/version"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const ourPath = "github.com/springbok/springbokd"

// WithCommit returns the release version followed by the commit and date
// of the build, when known.
func WithCommit(gitCommit, gitDate string) string {
	vsn := version.WithMeta
	if len(gitCommit) >= 8 {
		vsn += "-" + gitCommit[:8]
	}
	if version.Meta != "stable" && gitDate != "" {
		vsn += "-" + gitDate
	}
	return vsn
}

// Info returns the multi-line report printed by the version command.
func Info(name string) string {
	var b strings.Builder
	fmt.Fprintln(&b, version.ClientName, cases.Title(language.English).String(name))
	git, ok := VCS()
	fmt.Fprintln(&b, "Version:", WithCommit(git.Commit, git.Date))
	if ok {
		fmt.Fprintln(&b, "Git Commit:", git.Commit)
		fmt.Fprintln(&b, "Git Commit Date:", git.Date)
		if git.Dirty {
			fmt.Fprintln(&b, "Git Tree: dirty")
		}
	}
	fmt.Fprintln(&b, "Architecture:", runtime.GOARCH)
	fmt.Fprintln(&b, "Go Version:", runtime.Version())
	fmt.Fprintln(&b, "Operating System:", runtime.GOOS)
	return b.String()
}
