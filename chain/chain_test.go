// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeimhoff/obic/bitset"
	"github.com/lukeimhoff/obic/chain"
	"github.com/lukeimhoff/obic/errs"
	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/linkindex"
	"github.com/lukeimhoff/obic/pool"
	"github.com/lukeimhoff/obic/widthcache"
)

const (
	condUniv = 4
	geneUniv = 8
)

func addRow(t *testing.T, ctx context.Context, store *pool.Store, order, genes []int) int {
	t.Helper()
	o, err := bitset.NewOrderedBitSet(condUniv, order)
	require.NoError(t, err)
	g, err := bitset.FromMembers(geneUniv, genes)
	require.NoError(t, err)
	r, err := store.Append(ctx, o, g)
	require.NoError(t, err)
	return r
}

func TestRunStepModeGrowsWidth(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	cache := widthcache.New(3, backing, "biclusters", condUniv, geneUniv)

	h2, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	addRow(t, ctx, h2.Store, []int{0, 1}, []int{1, 2, 3})

	h2b, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	addRow(t, ctx, h2b.Store, []int{1, 2}, []int{2, 3, 4})

	idx2, err := linkindex.Build(ctx, h2.Store, condUniv)
	require.NoError(t, err)
	h2.Index = idx2

	var counters chain.Counters
	n, err := chain.Run(ctx, cache, 2, 2, 1, chain.Opts{
		MinGenes: 1, MaxConditions: condUniv, Mode: chain.Step, Counters: &counters,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h3, err := cache.GetOrCreate(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, h3.Store.Depth(true))
	c, g, _, err := h3.Store.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, c.Order)
	assert.Equal(t, []int{2, 3}, g.Members())
}

func TestRunOpportunisticPruning(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	cache := widthcache.New(3, backing, "biclusters", condUniv, geneUniv)

	h2, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	addRow(t, ctx, h2.Store, []int{0, 1}, []int{1, 2})
	addRow(t, ctx, h2.Store, []int{1, 2}, []int{1, 2})

	idx2, err := linkindex.Build(ctx, h2.Store, condUniv)
	require.NoError(t, err)
	h2.Index = idx2

	var counters chain.Counters
	n, err := chain.Run(ctx, cache, 2, 2, 1, chain.Opts{
		MinGenes: 1, MaxConditions: condUniv, Mode: chain.Step, Counters: &counters,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, flagHead, err := h2.Store.Get(ctx, 0)
	require.NoError(t, err)
	_, _, flagTail, err := h2.Store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pool.Nested, flagHead)
	assert.Equal(t, pool.Nested, flagTail)
}

func TestRunWithoutIndexFails(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	cache := widthcache.New(3, backing, "biclusters", condUniv, geneUniv)
	h2, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	addRow(t, ctx, h2.Store, []int{0, 1}, []int{1})

	var counters chain.Counters
	_, err = chain.Run(ctx, cache, 2, 2, 1, chain.Opts{
		MinGenes: 1, MaxConditions: condUniv, Mode: chain.Step, Counters: &counters,
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.PreconditionViolation))
}

func TestRunInsufficientGenesSkips(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	cache := widthcache.New(3, backing, "biclusters", condUniv, geneUniv)

	h2, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	addRow(t, ctx, h2.Store, []int{0, 1}, []int{1})
	addRow(t, ctx, h2.Store, []int{1, 2}, []int{2})

	idx2, err := linkindex.Build(ctx, h2.Store, condUniv)
	require.NoError(t, err)
	h2.Index = idx2

	var counters chain.Counters
	n, err := chain.Run(ctx, cache, 2, 2, 1, chain.Opts{
		MinGenes: 1, MaxConditions: condUniv, Mode: chain.Step, Counters: &counters,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), counters.InsufficientGenes)
}
