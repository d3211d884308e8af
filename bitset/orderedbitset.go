// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bitset

import (
	"golang.org/x/exp/slices"

	"github.com/lukeimhoff/obic/errs"
)

// OrderedBitSet pairs a duplicate-free, direction-carrying sequence (Order)
// with the BitSet of the same elements (Set). It is the representation of a
// bicluster's condition pattern: [3,1,4] and [4,1,3] are different
// OrderedBitSets over the same Set, encoding opposite monotonicity.
//
// Invariant: Set.Len() == len(Order), and every element of Order has its
// bit set in Set.
type OrderedBitSet struct {
	Order []int
	Set   BitSet
}

// NewOrderedBitSet builds an OrderedBitSet over [0, universe) from order,
// failing with InvalidArgument on duplicate or out-of-range elements.
func NewOrderedBitSet(universe int, order []int) (OrderedBitSet, error) {
	seen := make(map[int]bool, len(order))
	for _, e := range order {
		if seen[e] {
			return OrderedBitSet{}, errs.New(errs.InvalidArgument, "bitset.NewOrderedBitSet")
		}
		seen[e] = true
	}
	set, err := FromMembers(universe, order)
	if err != nil {
		return OrderedBitSet{}, errs.Wrap(errs.InvalidArgument, "bitset.NewOrderedBitSet", err)
	}
	return OrderedBitSet{Order: slices.Clone(order), Set: set}, nil
}

// Reverse returns a new OrderedBitSet with Order reversed; Set is shared
// with the receiver.
func (o OrderedBitSet) Reverse() OrderedBitSet {
	rev := make([]int, len(o.Order))
	for i, e := range o.Order {
		rev[len(o.Order)-1-i] = e
	}
	return OrderedBitSet{Order: rev, Set: o.Set}
}

// Chain produces the receiver extended by tail: given o.Order[-1] ==
// tail.Order[0] and o.Set ∩ tail.Set == {tail.Order[0]}, the result's
// Order is o.Order ++ tail.Order[1:] and its Set is o.Set ∪ tail.Set. Fails
// with PreconditionViolation if the linking element is not exactly the
// one shared element.
func (o OrderedBitSet) Chain(tail OrderedBitSet) (OrderedBitSet, error) {
	if len(o.Order) == 0 || len(tail.Order) == 0 {
		return OrderedBitSet{}, errs.New(errs.PreconditionViolation, "bitset.Chain")
	}
	link := tail.Order[0]
	if o.Order[len(o.Order)-1] != link {
		return OrderedBitSet{}, errs.New(errs.PreconditionViolation, "bitset.Chain")
	}
	singleton, err := o.Set.IsSingletonIntersection(tail.Set, link)
	if err != nil {
		return OrderedBitSet{}, errs.Wrap(errs.PreconditionViolation, "bitset.Chain", err)
	}
	if !singleton {
		return OrderedBitSet{}, errs.New(errs.PreconditionViolation, "bitset.Chain")
	}
	order := make([]int, 0, len(o.Order)+len(tail.Order)-1)
	order = append(order, o.Order...)
	order = append(order, tail.Order[1:]...)
	set, err := o.Set.Union(tail.Set)
	if err != nil {
		return OrderedBitSet{}, errs.Wrap(errs.InvalidArgument, "bitset.Chain", err)
	}
	return OrderedBitSet{Order: order, Set: set}, nil
}

// IsOrderedSubset reports whether o is an ordered subset of super: every
// element of o appears in super's Set, and o.Order is a (not
// necessarily contiguous) subsequence of super.Order. Runs in
// O(len(super.Order)) with a single forward cursor.
func (o OrderedBitSet) IsOrderedSubset(super OrderedBitSet) (bool, error) {
	subset, err := o.Set.Subset(super.Set)
	if err != nil {
		return false, err
	}
	if !subset {
		return false, nil
	}
	cursor := -1
	for _, cond := range o.Order {
		found := false
		for i := cursor + 1; i < len(super.Order); i++ {
			if super.Order[i] == cond {
				cursor = i
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// Width is the number of conditions, len(Order).
func (o OrderedBitSet) Width() int { return len(o.Order) }
