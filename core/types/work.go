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

package types

import (
	"github.com/holiman/uint256"
)

// CompactToTarget expands the compact "bits" representation of a target.
// negative and overflow report encodings that cannot describe a valid target.
func CompactToTarget(bits uint32) (target *uint256.Int, negative, overflow bool) {
	exponent := uint(bits >> 24)
	mantissa := uint64(bits & 0x007fffff)

	target = new(uint256.Int)
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target.SetUint64(mantissa)
	} else {
		target.SetUint64(mantissa)
		if exponent-3 < 32 {
			target.Lsh(target, 8*(exponent-3))
		} else {
			target.Clear()
		}
	}
	negative = mantissa != 0 && bits&0x00800000 != 0
	overflow = mantissa != 0 && (exponent > 34 ||
		(mantissa > 0xff && exponent > 33) ||
		(mantissa > 0xffff && exponent > 32))
	return target, negative, overflow
}

// CalcWork returns the expected number of hashes needed to meet the target
// encoded by bits, i.e. 2**256 / (target+1). Invalid targets carry no work.
func CalcWork(bits uint32) *uint256.Int {
	target, negative, overflow := CompactToTarget(bits)
	if negative || overflow || target.IsZero() {
		return new(uint256.Int)
	}
	// 2**256 / (target+1) == ~target / (target+1) + 1, which avoids a 257 bit
	// intermediate.
	denom := new(uint256.Int).AddUint64(target, 1)
	work := new(uint256.Int).Not(target)
	work.Div(work, denom)
	return work.AddUint64(work, 1)
}
