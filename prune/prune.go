// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package prune implements the nested-subsumption pruner: a bicluster is
// nested when it is properly contained, both in gene set
// and in ordered condition sequence, inside some bicluster exactly one
// width wider. Checking only width+1 is sufficient because transitive
// containment across wider widths is covered by the driver's bottom-up
// sweep of widths 2, 3, ..., maxConditions-1 (every intermediate width is
// itself a product of the chaining engine).
package prune

import (
	"context"

	"github.com/lukeimhoff/obic/pool"
	"github.com/lukeimhoff/obic/progress"
	"github.com/lukeimhoff/obic/widthcache"
)

// IsNested checks row r of width w against every row of width w+1,
// caching the result in the nested flag. Flags only ever
// transition Unknown -> {Nested, NonNested}; a cached flag is returned
// immediately without rescanning.
func IsNested(ctx context.Context, cache *widthcache.Cache, store *pool.Store, w, r int) (bool, error) {
	c, g, flag, err := store.Get(ctx, r)
	if err != nil {
		return false, err
	}
	switch flag {
	case pool.Nested:
		return true, nil
	case pool.NonNested:
		return false, nil
	}

	exists, err := cache.Exists(ctx, w+1)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, store.SetNested(ctx, r, pool.NonNested)
	}

	outer, err := cache.GetOrCreate(ctx, w+1)
	if err != nil {
		return false, err
	}
	depth := outer.Store.Depth(true)
	for o := 0; o < depth; o++ {
		cOuter, gOuter, _, err := outer.Store.Get(ctx, o)
		if err != nil {
			return false, err
		}
		subsetGenes, err := g.Subset(gOuter)
		if err != nil {
			return false, err
		}
		if !subsetGenes {
			continue
		}
		orderedSubset, err := c.IsOrderedSubset(cOuter)
		if err != nil {
			return false, err
		}
		if orderedSubset {
			if err := store.SetNested(ctx, r, pool.Nested); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, store.SetNested(ctx, r, pool.NonNested)
}

// Sweep runs IsNested over every row of width w's store (the driver's
// bottom-up pass).
func Sweep(ctx context.Context, cache *widthcache.Cache, w int, hook progress.Hook) error {
	handle, err := cache.GetOrCreate(ctx, w)
	if err != nil {
		return err
	}
	n := handle.Store.Depth(true)
	if hook != nil {
		hook.Begin("prune", n)
	}
	for r := 0; r < n; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := IsNested(ctx, cache, handle.Store, w, r); err != nil {
			return err
		}
		if hook != nil {
			hook.Update("prune", r+1)
		}
	}
	if hook != nil {
		hook.End("prune")
	}
	return nil
}
