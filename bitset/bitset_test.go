// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bitset_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeimhoff/obic/bitset"
	"github.com/lukeimhoff/obic/errs"
)

func TestFromMembersAndLen(t *testing.T) {
	b, err := bitset.FromMembers(10, []int{1, 3, 7})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Len())
	assert.True(t, b.Contains(3))
	assert.False(t, b.Contains(4))
}

func TestFromMembersOutOfRange(t *testing.T) {
	_, err := bitset.FromMembers(4, []int{5})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestUnionIntersect(t *testing.T) {
	a, _ := bitset.FromMembers(8, []int{0, 1, 2})
	b, _ := bitset.FromMembers(8, []int{2, 3})

	u, err := a.Union(b)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{0, 1, 2, 3}, u.Members()); diff != "" {
		t.Errorf("Union mismatch (-want +got):\n%s", diff)
	}

	i, err := a.Intersect(b)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, i.Members())
}

func TestSubset(t *testing.T) {
	a, _ := bitset.FromMembers(8, []int{1, 2})
	b, _ := bitset.FromMembers(8, []int{1, 2, 3})
	ok, err := a.Subset(b)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Subset(a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUniverseMismatch(t *testing.T) {
	a, _ := bitset.FromMembers(8, nil)
	b, _ := bitset.FromMembers(16, nil)
	_, err := a.Union(b)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestIsSingletonIntersection(t *testing.T) {
	a, _ := bitset.FromMembers(8, []int{1, 2, 3})
	b, _ := bitset.FromMembers(8, []int{3, 4})
	ok, err := a.IsSingletonIntersection(b, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	c, _ := bitset.FromMembers(8, []int{2, 3, 4})
	ok, err = a.IsSingletonIntersection(c, 3)
	require.NoError(t, err)
	assert.False(t, ok, "shared element 2 in addition to the singleton 3")
}

func TestWordBoundary(t *testing.T) {
	// universe spanning two words; verify tail bits stay clean through
	// Complement.
	a, _ := bitset.FromMembers(70, []int{69})
	comp := a.Complement()
	assert.False(t, comp.Contains(69))
	assert.Equal(t, 69, comp.Len())
}

func TestWhereNot(t *testing.T) {
	a, _ := bitset.FromMembers(8, []int{1})
	b, _ := bitset.FromMembers(8, []int{2})
	c, _ := bitset.FromMembers(8, []int{1, 2})
	idx := bitset.WhereNot([]bitset.BitSet{a, b, c}, 1)
	assert.Equal(t, []int{1}, idx)
}
