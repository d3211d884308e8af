// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeimhoff/obic/gem"
	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/pool"
	"github.com/lukeimhoff/obic/progress"
	"github.com/lukeimhoff/obic/rank"
)

func newDriver(t *testing.T, maxConditions, maxGenes, minGenes int, doubling bool) *gem.Driver {
	t.Helper()
	backing := gemstore.NewMem()
	d, err := gem.NewDriver(context.Background(), backing, gem.Header{
		MaxConditions: maxConditions, MaxGenes: maxGenes, MinGenes: minGenes, Doubling: doubling,
	}, progress.Noop{})
	require.NoError(t, err)
	return d
}

// TestTinyExhaustive: maxConditions=3, minGenes=1, one gene per
// permutation of {0,1,2}; every permutation becomes its own width-3
// bicluster and every width-2 seed ends up nested.
func TestTinyExhaustive(t *testing.T) {
	ctx := context.Background()
	raw, err := gem.FullCoverageMatrix(3)
	require.NoError(t, err)
	require.Len(t, raw, 6)

	coded, _, err := rank.Code(raw)
	require.NoError(t, err)

	d := newDriver(t, 3, len(raw), 1, false)
	require.NoError(t, d.Seed(ctx, coded))
	require.NoError(t, d.Run(ctx))

	total3, err := d.Depth(ctx, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 6, total3)
	nonNested3, err := d.Depth(ctx, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 6, nonNested3)

	nonNested2, err := d.Depth(ctx, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 0, nonNested2, "every width-2 seed must be nested inside some width-3 permutation")
}

// TestMonotoneColumn: every row equal to [0,1,2,3]; expect exactly one
// non-nested width-4 bicluster covering all genes.
func TestMonotoneColumn(t *testing.T) {
	ctx := context.Background()
	raw := make([][]float64, 4)
	for g := range raw {
		raw[g] = []float64{0, 1, 2, 3}
	}
	coded, _, err := rank.Code(raw)
	require.NoError(t, err)

	d := newDriver(t, 4, 4, 1, false)
	require.NoError(t, d.Seed(ctx, coded))
	require.NoError(t, d.Run(ctx))

	nonNested4, err := d.Depth(ctx, 4, false)
	require.NoError(t, err)
	assert.Equal(t, 1, nonNested4)

	c, g, flag, err := d.Query(ctx, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, c.Order)
	assert.Equal(t, []int{0, 1, 2, 3}, g.Members())
	assert.Equal(t, pool.NonNested, flag)

	for w := 2; w < 4; w++ {
		nonNested, err := d.Depth(ctx, w, false)
		require.NoError(t, err)
		assert.Equal(t, 0, nonNested, "width %d should be fully nested under the width-4 bicluster", w)
	}
}

// TestDisjointGeneSets: two gene groups
// follow opposite orders across the same pair of conditions, giving two
// width-2 seeds with complementary gene sets; with only two conditions
// nothing wider exists, so neither is nested.
func TestDisjointGeneSets(t *testing.T) {
	ctx := context.Background()
	raw := [][]float64{
		{0, 1},
		{0, 1},
		{1, 0},
		{1, 0},
	}
	coded, _, err := rank.Code(raw)
	require.NoError(t, err)

	d := newDriver(t, 2, 4, 1, false)
	require.NoError(t, d.Seed(ctx, coded))
	require.NoError(t, d.Run(ctx))

	total, err := d.Depth(ctx, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	nonNested, err := d.Depth(ctx, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 2, nonNested)

	cInc, gInc, _, err := d.Query(ctx, 2, 0)
	require.NoError(t, err)
	cDec, gDec, _, err := d.Query(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, cInc.Order)
	assert.Equal(t, []int{1, 0}, cDec.Order)
	assert.Equal(t, []int{0, 1}, gInc.Members())
	assert.Equal(t, []int{2, 3}, gDec.Members())
	assert.Equal(t, 4, gInc.Len()+gDec.Len(), "gene sets must be complementary over maxGenes")
}

// TestOpenDriverReattaches runs the pipeline against a FileStore, then
// reopens the same directory in a fresh driver and checks the persisted
// results are byte-identical.
func TestOpenDriverReattaches(t *testing.T) {
	ctx := context.Background()
	raw := make([][]float64, 4)
	for g := range raw {
		raw[g] = []float64{0, 1, 2, 3}
	}
	coded, _, err := rank.Code(raw)
	require.NoError(t, err)

	dir := t.TempDir()
	store := gemstore.NewFileStore(dir)
	require.NoError(t, store.WriteRaw(ctx, raw))
	d, err := gem.NewDriver(ctx, store, gem.Header{
		MaxConditions: 4, MaxGenes: 4, MinGenes: 1,
	}, progress.Noop{})
	require.NoError(t, err)
	require.NoError(t, d.Seed(ctx, coded))
	require.NoError(t, d.Run(ctx))
	wantC, wantG, wantFlag, err := d.Query(ctx, 4, 0)
	require.NoError(t, err)

	reopened, err := gem.OpenDriver(ctx, gemstore.NewFileStore(dir), progress.Noop{})
	require.NoError(t, err)
	assert.Equal(t, d.Header.ID, reopened.Header.ID)
	assert.Equal(t, 4, reopened.Header.MaxConditions)
	assert.Equal(t, 1, reopened.Header.MinGenes)
	assert.Equal(t, d.ObservedMax(), reopened.ObservedMax())

	gotC, gotG, gotFlag, err := reopened.Query(ctx, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, wantC.Order, gotC.Order)
	assert.Equal(t, wantG.Members(), gotG.Members())
	assert.Equal(t, wantFlag, gotFlag)

	rawBack, err := gemstore.NewFileStore(dir).ReadRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, raw, rawBack)
}

// TestMinGenesThresholdYieldsNothing: when every column pair leaves fewer
// than minGenes genes on each side, seeding produces nothing at all.
func TestMinGenesThresholdYieldsNothing(t *testing.T) {
	ctx := context.Background()
	raw := [][]float64{
		{0, 1, 2},
		{2, 1, 0},
	}
	coded, _, err := rank.Code(raw)
	require.NoError(t, err)

	d := newDriver(t, 3, 2, 2, false)
	require.NoError(t, d.Seed(ctx, coded))
	require.NoError(t, d.Run(ctx))

	_, err = d.Depth(ctx, 2, true)
	assert.Error(t, err, "no width-2 group should have been created when every pair has fewer than minGenes increasing genes")
}

// TestDoublingEqualsStepping: doubling mode must converge on the same
// non-nested bicluster set as pure step mode.
func TestDoublingEqualsStepping(t *testing.T) {
	ctx := context.Background()
	raw := make([][]float64, 4)
	for g := range raw {
		raw[g] = []float64{0, 1, 2, 3}
	}
	coded, _, err := rank.Code(raw)
	require.NoError(t, err)

	stepOnly := newDriver(t, 4, 4, 1, false)
	require.NoError(t, stepOnly.Seed(ctx, coded))
	require.NoError(t, stepOnly.Run(ctx))

	doubling := newDriver(t, 4, 4, 1, true)
	require.NoError(t, doubling.Seed(ctx, coded))
	require.NoError(t, doubling.Run(ctx))

	n1, err := stepOnly.Depth(ctx, 4, false)
	require.NoError(t, err)
	n2, err := doubling.Depth(ctx, 4, false)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	_, g1, _, err := stepOnly.Query(ctx, 4, 0)
	require.NoError(t, err)
	_, g2, _, err := doubling.Query(ctx, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, g1.Members(), g2.Members())
}

func TestStatsReport(t *testing.T) {
	ctx := context.Background()
	raw := make([][]float64, 4)
	for g := range raw {
		raw[g] = []float64{0, 1, 2, 3}
	}
	coded, _, err := rank.Code(raw)
	require.NoError(t, err)

	d := newDriver(t, 4, 4, 1, false)
	require.NoError(t, d.Seed(ctx, coded))
	require.NoError(t, d.Run(ctx))

	report, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Contains(t, report, "(4): 1 T 1 NSUB")
	assert.Contains(t, report, "total:")
}
