// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package bitset implements a fixed-universe bit-vector with union,
// intersection, subset, and singleton-intersection tests, and the ordered
// variant (OrderedBitSet) that pairs a BitSet with the sequence in which its
// members were added. These are the two leaf data structures the rest of
// the bicluster engine is built on.
package bitset

import (
	"golang.org/x/exp/slices"

	"github.com/lukeimhoff/obic/errs"
)

// BitsPerWord is the width of one storage word.
const BitsPerWord = 64

// BitSet is a set over a fixed universe {0, ..., Universe-1}, stored as
// ceil(Universe/64) uint64 words. Bits at positions >= Universe are always
// zero: FromMembers returns InvalidArgument for a member outside the
// universe, and FromWords clears such bits unless the caller vouches for a
// clean tail.
type BitSet struct {
	universe int
	words    []uint64
}

// New returns an empty BitSet over [0, universe).
func New(universe int) BitSet {
	return BitSet{universe: universe, words: make([]uint64, wordsForUniverse(universe))}
}

func wordsForUniverse(universe int) int {
	if universe <= 0 {
		return 0
	}
	return (universe + BitsPerWord - 1) / BitsPerWord
}

// FromMembers returns a BitSet over [0, universe) containing the given
// members. Returns InvalidArgument if any member is outside the universe.
func FromMembers(universe int, members []int) (BitSet, error) {
	b := New(universe)
	for _, m := range members {
		if m < 0 || m >= universe {
			return BitSet{}, errs.New(errs.InvalidArgument, "bitset.FromMembers")
		}
		b.words[m/BitsPerWord] |= 1 << uint(m%BitsPerWord)
	}
	return b, nil
}

// FromWords returns a BitSet over [0, universe) backed directly by words.
// If trust is false, bits at positions >= universe are cleared; if trust is
// true, the caller guarantees the tail is already clean and the words
// slice is used as-is (not copied).
func FromWords(universe int, words []uint64, trust bool) (BitSet, error) {
	want := wordsForUniverse(universe)
	if len(words) != want {
		return BitSet{}, errs.New(errs.InvalidArgument, "bitset.FromWords")
	}
	if !trust {
		cp := slices.Clone(words)
		clearTail(cp, universe)
		return BitSet{universe: universe, words: cp}, nil
	}
	return BitSet{universe: universe, words: words}, nil
}

func clearTail(words []uint64, universe int) {
	if universe <= 0 {
		for i := range words {
			words[i] = 0
		}
		return
	}
	lastBit := universe % BitsPerWord
	if lastBit == 0 {
		return
	}
	lastWord := universe / BitsPerWord
	if lastWord < len(words) {
		words[lastWord] &= (uint64(1) << uint(lastBit)) - 1
	}
}

// Universe returns the universe size this BitSet was constructed over.
func (b BitSet) Universe() int { return b.universe }

// Words returns the raw backing words. The caller must not mutate the
// returned slice in place unless it owns the only reference to it.
func (b BitSet) Words() []uint64 { return b.words }

// Len returns the population count (|S|).
func (b BitSet) Len() int {
	n := 0
	for _, w := range b.words {
		n += popcount(w)
	}
	return n
}

func popcount(w uint64) int {
	n := 0
	for w != 0 {
		w &= w - 1
		n++
	}
	return n
}

// Contains reports whether x is a member.
func (b BitSet) Contains(x int) bool {
	if x < 0 || x >= b.universe {
		return false
	}
	return b.words[x/BitsPerWord]&(1<<uint(x%BitsPerWord)) != 0
}

func sameUniverse(op string, a, b BitSet) error {
	if a.universe != b.universe {
		return errs.New(errs.InvalidArgument, op)
	}
	return nil
}

// Union returns a ∪ b.
func (a BitSet) Union(b BitSet) (BitSet, error) {
	if err := sameUniverse("bitset.Union", a, b); err != nil {
		return BitSet{}, err
	}
	out := New(a.universe)
	for i := range out.words {
		out.words[i] = a.words[i] | b.words[i]
	}
	return out, nil
}

// Intersect returns a ∩ b.
func (a BitSet) Intersect(b BitSet) (BitSet, error) {
	if err := sameUniverse("bitset.Intersect", a, b); err != nil {
		return BitSet{}, err
	}
	out := New(a.universe)
	for i := range out.words {
		out.words[i] = a.words[i] & b.words[i]
	}
	return out, nil
}

// Complement returns the universe-relative complement of a.
func (a BitSet) Complement() BitSet {
	out := New(a.universe)
	for i := range out.words {
		out.words[i] = ^a.words[i]
	}
	clearTail(out.words, out.universe)
	return out
}

// Subset reports whether a ⊆ b, i.e. (a &^ b) == 0 word-wise.
func (a BitSet) Subset(b BitSet) (bool, error) {
	if err := sameUniverse("bitset.Subset", a, b); err != nil {
		return false, err
	}
	for i := range a.words {
		if a.words[i]&^b.words[i] != 0 {
			return false, nil
		}
	}
	return true, nil
}

// Equal reports bitwise equality.
func (a BitSet) Equal(b BitSet) bool {
	if a.universe != b.universe {
		return false
	}
	for i := range a.words {
		if a.words[i] != b.words[i] {
			return false
		}
	}
	return true
}

// IsSingletonIntersection reports whether a ∩ b = {x}: x is a member of
// both, and exactly one word of the intersection is non-zero and equal to
// the single bit for x.
func (a BitSet) IsSingletonIntersection(b BitSet, x int) (bool, error) {
	if err := sameUniverse("bitset.IsSingletonIntersection", a, b); err != nil {
		return false, err
	}
	if !a.Contains(x) || !b.Contains(x) {
		return false, nil
	}
	xWord := x / BitsPerWord
	xBit := uint64(1) << uint(x%BitsPerWord)
	for i := range a.words {
		v := a.words[i] & b.words[i]
		if v == 0 {
			continue
		}
		if i != xWord || v != xBit {
			return false, nil
		}
	}
	return true, nil
}

// Members returns the sorted list of set members.
func (b BitSet) Members() []int {
	var out []int
	for wi, w := range b.words {
		for w != 0 {
			bit := w & -w
			idx := wi*BitsPerWord + trailingZeros(bit)
			out = append(out, idx)
			w &^= bit
		}
	}
	return out
}

func trailingZeros(w uint64) int {
	n := 0
	for w&1 == 0 {
		w >>= 1
		n++
	}
	return n
}

// WhereNot returns, over an array of BitSets sharing a universe, the
// indices whose set does not contain x. Used to filter many rows at once.
func WhereNot(sets []BitSet, x int) []int {
	var out []int
	for i, s := range sets {
		if !s.Contains(x) {
			out = append(out, i)
		}
	}
	return out
}
