// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeimhoff/obic/bitset"
	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/pool"
)

func TestAppendGetDepth(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	store, err := pool.Create(ctx, backing, "biclusters", 2, 4, 8)
	require.NoError(t, err)

	order, err := bitset.NewOrderedBitSet(4, []int{0, 1})
	require.NoError(t, err)
	genes, err := bitset.FromMembers(8, []int{1, 2, 3})
	require.NoError(t, err)
	r, err := store.Append(ctx, order, genes)
	require.NoError(t, err)
	assert.Equal(t, 0, r)
	assert.Equal(t, 1, store.Depth(true))
	assert.Equal(t, 1, store.Depth(false))

	gotC, gotG, flag, err := store.Get(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, gotC.Order)
	assert.Equal(t, []int{1, 2, 3}, gotG.Members())
	assert.Equal(t, pool.Unknown, flag)
}

func TestSetNestedAffectsDepth(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	store, err := pool.Create(ctx, backing, "biclusters", 2, 4, 8)
	require.NoError(t, err)
	order, _ := bitset.NewOrderedBitSet(4, []int{0, 1})
	genes, _ := bitset.FromMembers(8, []int{1})
	r, err := store.Append(ctx, order, genes)
	require.NoError(t, err)

	require.NoError(t, store.SetNested(ctx, r, pool.Nested))
	assert.Equal(t, 1, store.Depth(true))
	assert.Equal(t, 0, store.Depth(false))

	_, _, flag, err := store.Get(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, pool.Nested, flag)
}

func TestOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	store, err := pool.Create(ctx, backing, "biclusters", 3, 5, 6)
	require.NoError(t, err)
	order, _ := bitset.NewOrderedBitSet(5, []int{0, 2, 4})
	genes, _ := bitset.FromMembers(6, []int{0, 5})
	_, err = store.Append(ctx, order, genes)
	require.NoError(t, err)

	reopened, found, err := pool.Open(ctx, backing, "biclusters", 3, 5, 6)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, reopened.Depth(true))
	gotC, gotG, _, err := reopened.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, gotC.Order)
	assert.Equal(t, []int{0, 5}, gotG.Members())
}

func TestDuplicatesGroupsBySignature(t *testing.T) {
	ctx := context.Background()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	store, err := pool.Create(ctx, backing, "biclusters", 2, 4, 8)
	require.NoError(t, err)
	order, _ := bitset.NewOrderedBitSet(4, []int{0, 1})
	genes, _ := bitset.FromMembers(8, []int{1, 2})
	_, err = store.Append(ctx, order, genes)
	require.NoError(t, err)
	_, err = store.Append(ctx, order, genes)
	require.NoError(t, err)

	dups := store.Duplicates()
	require.Len(t, dups, 1)
	assert.Len(t, dups[0], 2)
}
