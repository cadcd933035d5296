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

// Package version holds the release version of springbokd.
package version

import "fmt"

const (
	Major = 0
	Minor = 17
	Patch = 1
	Meta  = "unstable"
)

// ClientName is reported in the user agent string.
const ClientName = "Springbok Core"

// gitCommit is set at link time with -ldflags "-X".
var gitCommit string

// Semantic holds the textual version string for major.minor.patch.
var Semantic = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)

// WithMeta holds the textual version string including the metadata.
var WithMeta = func() string {
	v := Semantic
	if Meta != "" {
		v += "-" + Meta
	}
	return v
}()

// WithCommit returns the version with the short form of the build commit.
func WithCommit() string {
	v := WithMeta
	if len(gitCommit) >= 8 {
		v += "-" + gitCommit[:8]
	}
	return v
}

// UserAgent formats the BIP14-style sub version string, e.g.
// "/Springbok Core:0.17.1(comment)/".
func UserAgent(comments []string) string {
	ua := "/" + ClientName + ":" + Semantic
	if len(comments) > 0 {
		ua += "("
		for i, c := range comments {
			if i > 0 {
				ua += "; "
			}
			ua += c
		}
		ua += ")"
	}
	return ua + "/"
}
