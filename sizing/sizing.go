// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package sizing picks the narrowest unsigned integer width that can
// represent a given universe. Row counts in a bicluster pool can exceed
// 10^7, so storage density here is a deliberate choice, not an
// afterthought.
package sizing

import "github.com/lukeimhoff/obic/errs"

// ElemBits returns the smallest of {8,16,32,64} that can represent values
// in [0, dimSize), or InvalidArgument if dimSize is negative.
func ElemBits(dimSize int) (int, error) {
	if dimSize < 0 {
		return 0, errs.New(errs.InvalidArgument, "sizing.ElemBits")
	}
	for _, bits := range [...]int{8, 16, 32, 64} {
		if fitsInBits(dimSize, bits) {
			return bits, nil
		}
	}
	return 0, errs.New(errs.InvalidArgument, "sizing.ElemBits")
}

func fitsInBits(dimSize, bits int) bool {
	if bits >= 64 {
		return true
	}
	return dimSize <= (1 << uint(bits))
}

// WordsForUniverse returns the number of 64-bit words needed to hold a
// bitset over a universe of the given size.
func WordsForUniverse(universe int) int {
	if universe <= 0 {
		return 0
	}
	return (universe + 63) / 64
}
