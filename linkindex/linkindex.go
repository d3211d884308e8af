// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package linkindex builds and queries the head/tail row-index mappings
// the chaining engine joins on: heads[w][c] is the set of width-w rows
// whose last condition is c, tails[w][c] is the set whose first condition
// is c.
package linkindex

import (
	"context"

	"github.com/lukeimhoff/obic/errs"
	"github.com/lukeimhoff/obic/pool"
	"github.com/lukeimhoff/obic/sizing"
)

// Index is the link index for a single width group, built by Build.
// Indices become stale if new rows are appended to the underlying store
// after Build; the caller (the driver) guarantees Build immediately
// precedes every chaining pass that consumes the width, and that the
// width receives no new rows during that pass.
type Index struct {
	condUniv int
	heads    [][]int
	tails    [][]int
}

// Build performs a single sequential scan: for every row r in store,
// append r to heads[order[-1]] and tails[order[0]]. The result is also
// persisted as the group's heads/tails var-arrays, so a handle reopened
// after eviction sees the same index; rebuilding after no new appends
// rewrites identical contents.
func Build(ctx context.Context, store *pool.Store, condUniv int) (*Index, error) {
	idx := &Index{
		condUniv: condUniv,
		heads:    make([][]int, condUniv),
		tails:    make([][]int, condUniv),
	}
	n := store.Depth(true)
	for r := 0; r < n; r++ {
		c, _, _, err := store.Get(ctx, r)
		if err != nil {
			return nil, err
		}
		if len(c.Order) == 0 {
			return nil, errs.New(errs.Corruption, "linkindex.Build empty order")
		}
		head := c.Order[len(c.Order)-1]
		tail := c.Order[0]
		idx.heads[head] = append(idx.heads[head], r)
		idx.tails[tail] = append(idx.tails[tail], r)
	}
	if err := persist(ctx, store, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func persist(ctx context.Context, store *pool.Store, idx *Index) error {
	rowBits, err := sizing.ElemBits(store.Depth(true))
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "linkindex.persist", err)
	}
	for name, lists := range map[string][][]int{"heads": idx.heads, "tails": idx.tails} {
		arr, err := store.Backing().CreateVarArray(ctx, store.Group(), name, rowBits)
		if err != nil {
			return err
		}
		for _, rows := range lists {
			packed := make([]uint64, len(rows))
			for i, r := range rows {
				packed[i] = uint64(r)
			}
			if _, err := arr.Append(ctx, packed); err != nil {
				return err
			}
		}
	}
	return nil
}

// Open reloads the index Build persisted for store's group, if any. The
// second return is false when the group has never been indexed; that is
// not an error, chaining treats a nil index as a PreconditionViolation and
// the widthcache simply leaves the handle unindexed.
func Open(ctx context.Context, store *pool.Store, condUniv int) (*Index, bool, error) {
	idx := &Index{condUniv: condUniv}
	for name, dst := range map[string]*[][]int{"heads": &idx.heads, "tails": &idx.tails} {
		arr, err := store.Backing().OpenVarArray(ctx, store.Group(), name)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		if arr.Len() != condUniv {
			return nil, false, errs.New(errs.Corruption, "linkindex.Open condition-count mismatch")
		}
		lists := make([][]int, condUniv)
		for c := 0; c < condUniv; c++ {
			packed, err := arr.Read(ctx, c)
			if err != nil {
				return nil, false, err
			}
			rows := make([]int, len(packed))
			for i, v := range packed {
				rows[i] = int(v)
			}
			lists[c] = rows
		}
		*dst = lists
	}
	return idx, true, nil
}

// Heads returns the immutable row-index sequence of rows ending in c.
func (idx *Index) Heads(c int) []int {
	if c < 0 || c >= idx.condUniv {
		return nil
	}
	return idx.heads[c]
}

// Tails returns the immutable row-index sequence of rows starting at c.
func (idx *Index) Tails(c int) []int {
	if c < 0 || c >= idx.condUniv {
		return nil
	}
	return idx.tails[c]
}
