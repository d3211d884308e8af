// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package rank is the matrix-ranking pre-processor: it turns
// a real-valued GEM into the per-row rank codes the core's seed step
// consumes. Out of the core's correctness boundary, but small enough, and
// load-bearing enough for the seed step's definition, to implement here.
package rank

import (
	"sort"

	"github.com/lukeimhoff/obic/errs"
	"github.com/lukeimhoff/obic/sizing"
)

// Code rank-codes raw (genes x conditions): for each row, an ascending
// stable sort of column indices by value yields a permutation whose
// inverse is the row's rank code. A single stable sort of the column
// indices already ties-breaks by column index (Go's sort.SliceStable
// preserves relative order of equal elements), so it produces exactly the
// same ranks as a literal argsort-then-argsort without building the
// intermediate permutation twice.
//
// Returns the coded matrix and the element width sizing.ElemBits chooses
// for the condition count.
func Code(raw [][]float64) ([][]uint32, int, error) {
	if len(raw) == 0 {
		return nil, 8, nil
	}
	nCols := len(raw[0])
	for _, row := range raw {
		if len(row) != nCols {
			return nil, 0, errs.New(errs.InvalidArgument, "rank.Code: ragged matrix")
		}
	}
	elemBits, err := sizing.ElemBits(nCols)
	if err != nil {
		return nil, 0, err
	}
	coded := make([][]uint32, len(raw))
	for g, row := range raw {
		idx := make([]int, nCols)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return row[idx[a]] < row[idx[b]]
		})
		ranks := make([]uint32, nCols)
		for r, col := range idx {
			ranks[col] = uint32(r)
		}
		coded[g] = ranks
	}
	return coded, elemBits, nil
}
