// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package widthcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeimhoff/obic/bitset"
	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/linkindex"
	"github.com/lukeimhoff/obic/widthcache"
)

const (
	condUniv = 4
	geneUniv = 8
)

func newCache(t *testing.T, ctx context.Context, capacity int) *widthcache.Cache {
	t.Helper()
	backing := gemstore.NewMem()
	require.NoError(t, backing.CreateGroup(ctx, "", "biclusters"))
	return widthcache.New(capacity, backing, "biclusters", condUniv, geneUniv)
}

func appendRow(t *testing.T, ctx context.Context, h *widthcache.Handle, order []int) {
	t.Helper()
	c, err := bitset.NewOrderedBitSet(condUniv, order)
	require.NoError(t, err)
	g, err := bitset.FromMembers(geneUniv, []int{0, 1})
	require.NoError(t, err)
	_, err = h.Store.Append(ctx, c, g)
	require.NoError(t, err)
}

func TestEvictionReopensSameContents(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t, ctx, 2)

	h2, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	appendRow(t, ctx, h2, []int{0, 1})
	appendRow(t, ctx, h2, []int{1, 2})

	// Touch two more widths; capacity 2 evicts width 2.
	_, err = cache.GetOrCreate(ctx, 3)
	require.NoError(t, err)
	_, err = cache.GetOrCreate(ctx, 4)
	require.NoError(t, err)
	_, cached := cache.Peek(2)
	assert.False(t, cached, "width 2 should have been evicted")

	reopened, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Store.Depth(true))
}

func TestEvictionKeepsPersistedIndex(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t, ctx, 2)

	h2, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	appendRow(t, ctx, h2, []int{0, 1})
	appendRow(t, ctx, h2, []int{1, 2})
	idx, err := linkindex.Build(ctx, h2.Store, condUniv)
	require.NoError(t, err)
	h2.Index = idx

	_, err = cache.GetOrCreate(ctx, 3)
	require.NoError(t, err)
	_, err = cache.GetOrCreate(ctx, 4)
	require.NoError(t, err)

	reopened, err := cache.GetOrCreate(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, reopened.Index, "a built index must survive eviction via its persisted heads/tails")
	assert.Equal(t, []int{0}, reopened.Index.Heads(1))
	assert.Equal(t, []int{1}, reopened.Index.Tails(1))
}

func TestExistsDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t, ctx, 2)

	ok, err := cache.Exists(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cache.GetOrCreate(ctx, 5)
	require.NoError(t, err)
	ok, err = cache.Exists(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)
}
