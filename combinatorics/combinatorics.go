// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package combinatorics provides the generator-style enumerators the
// engine uses only during seeding and diagnostics: combinations,
// permutations, and selections. Each is a stateful iterator yielding a
// fixed-length integer tuple; the internal buffer is reused across Next()
// calls, so a caller that needs to retain a result must copy it. Each
// iterator advances an explicit odometer rather than running a goroutine
// generator.
package combinatorics

import "github.com/lukeimhoff/obic/errs"

// Combos enumerates all k-element subsets of [0, n), each in increasing
// order.
type Combos struct {
	n, k    int
	buf     []int
	started bool
	done    bool
}

// NewCombinations returns an iterator over all k-subsets of [0, n).
func NewCombinations(n, k int) (*Combos, error) {
	if n < k || k < 0 {
		return nil, errs.New(errs.InvalidArgument, "combinatorics.NewCombinations")
	}
	if k == 0 {
		return &Combos{n: n, k: k, done: true}, nil
	}
	buf := make([]int, k)
	for i := range buf {
		buf[i] = i
	}
	return &Combos{n: n, k: k, buf: buf}, nil
}

// Len returns C(n, k).
func (c *Combos) Len() int { return NChooseK(c.n, c.k) }

// Next fills and returns the shared buffer with the next combination, or
// returns ok=false when exhausted.
func (c *Combos) Next() (combo []int, ok bool) {
	if c.done {
		return nil, false
	}
	if !c.started {
		c.started = true
		return c.buf, true
	}
	i := c.k - 1
	for i >= 0 && c.buf[i] == c.n-c.k+i {
		i--
	}
	if i < 0 {
		c.done = true
		return nil, false
	}
	c.buf[i]++
	for j := i + 1; j < c.k; j++ {
		c.buf[j] = c.buf[j-1] + 1
	}
	return c.buf, true
}

// NChooseK returns C(n, k).
func NChooseK(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := 1
	for i := 0; i < k; i++ {
		result = result * (n - i) / (i + 1)
	}
	return result
}

// Perms enumerates all k-permutations of [0, n).
type Perms struct {
	n, k    int
	items   []int
	indices []int
	cycles  []int
	buf     []int
	started bool
	done    bool
}

// NewPermutations returns an iterator over all k-permutations of [0, n),
// using the standard "cycles" algorithm, which reuses O(n) state between
// yields.
func NewPermutations(n, k int) (*Perms, error) {
	if n < k || k < 0 {
		return nil, errs.New(errs.InvalidArgument, "combinatorics.NewPermutations")
	}
	items := make([]int, n)
	indices := make([]int, n)
	for i := range items {
		items[i] = i
		indices[i] = i
	}
	cycles := make([]int, k)
	for i := 0; i < k; i++ {
		cycles[i] = n - i
	}
	buf := make([]int, k)
	copy(buf, indices[:k])
	if k == 0 {
		return &Perms{n: n, k: k, done: true}, nil
	}
	return &Perms{n: n, k: k, items: items, indices: indices, cycles: cycles, buf: buf}, nil
}

// Len returns nPk.
func (p *Perms) Len() int { return NPermK(p.n, p.k) }

// NPermK returns n permute k.
func NPermK(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	result := 1
	for i := 0; i < k; i++ {
		result *= n - i
	}
	return result
}

// Next fills and returns the shared buffer with the next permutation, or
// returns ok=false when exhausted.
func (p *Perms) Next() (perm []int, ok bool) {
	if p.done {
		return nil, false
	}
	if !p.started {
		p.started = true
		for i, idx := range p.indices[:p.k] {
			p.buf[i] = p.items[idx]
		}
		return p.buf, true
	}
	n, k := p.n, p.k
	for i := k - 1; i >= 0; i-- {
		p.cycles[i]--
		if p.cycles[i] == 0 {
			// rotate indices[i:] left by one
			first := p.indices[i]
			copy(p.indices[i:n-1], p.indices[i+1:n])
			p.indices[n-1] = first
			p.cycles[i] = n - i
		} else {
			j := n - p.cycles[i]
			p.indices[i], p.indices[j] = p.indices[j], p.indices[i]
			for m, idx := range p.indices[:k] {
				p.buf[m] = p.items[idx]
			}
			return p.buf, true
		}
	}
	p.done = true
	return nil, false
}

// Sels enumerates all selections of one index from each of several sets,
// in lexicographic (odometer) order.
type Sels struct {
	sizes   []int
	buf     []int
	started bool
	done    bool
}

// NewSelections returns an iterator over the cartesian product of
// [0,sizes[0]) x [0,sizes[1]) x ...
func NewSelections(sizes []int) *Sels {
	for _, s := range sizes {
		if s <= 0 {
			return &Sels{done: true}
		}
	}
	return &Sels{sizes: sizes, buf: make([]int, len(sizes))}
}

// Len returns the product of the set sizes.
func (s *Sels) Len() int {
	n := 1
	for _, sz := range s.sizes {
		n *= sz
	}
	return n
}

// Next fills and returns the shared buffer with the next selection, or
// returns ok=false when exhausted.
func (s *Sels) Next() (sel []int, ok bool) {
	if s.done {
		return nil, false
	}
	if !s.started {
		s.started = true
		return s.buf, true
	}
	for i := len(s.buf) - 1; i >= 0; i-- {
		s.buf[i]++
		if s.buf[i] < s.sizes[i] {
			return s.buf, true
		}
		s.buf[i] = 0
	}
	s.done = true
	return nil, false
}
