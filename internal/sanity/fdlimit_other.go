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

//go:build !linux && !darwin

package sanity

// hardLimit is the descriptor ceiling assumed where the OS has no rlimit.
const hardLimit = 16384

// RaiseFdLimit reports the descriptors available, capped at hardLimit.
func RaiseFdLimit(want uint64) (uint64, error) {
	if want > hardLimit {
		return hardLimit, nil
	}
	return want, nil
}
