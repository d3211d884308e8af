// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package pool is the per-width append-only triple-array store: three
// parallel arrays indexed by the same row index r, conditions[r] (an
// OrderedBitSet of width w), genes[r] (a BitSet), and nested[r] (a flag),
// backed by a gemstore.NodeStore group. Once
// appended, rows are never deleted or reordered; only nested[r] may
// mutate.
package pool

import (
	"context"
	"sync"

	farm "github.com/dgryski/go-farm"

	"github.com/lukeimhoff/obic/bitset"
	"github.com/lukeimhoff/obic/errs"
	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/sizing"
)

// Flag is a bicluster's nested-subsumption state. Flags only
// ever transition Unknown -> {Nested, NonNested}; once set, a flag is
// authoritative and never reset.
type Flag int

const (
	Unknown Flag = iota
	Nested
	NonNested
)

func (f Flag) String() string {
	switch f {
	case Nested:
		return "nested"
	case NonNested:
		return "nonnested"
	default:
		return "unknown"
	}
}

// Store is the width-w group of biclusters: append-only (conditions,
// genes, nested) triples, plus a signature index used only to find
// duplicate-candidate rows without an O(n^2) scan.
type Store struct {
	backing  gemstore.NodeStore
	group    string
	width    int
	condUniv int
	geneUniv int

	orders gemstore.Array // row = width condition ids, as uint64
	conds  gemstore.Array // row = BitSet words over condUniv
	genes  gemstore.Array // row = BitSet words over geneUniv
	nested gemstore.Array // row = single uint64 Flag value

	mu          sync.Mutex
	total       int
	nestedCount int
	sigIndex    map[uint64][]int
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// GroupName is the gemstore path segment for width w's group, e.g.
// "width3".
func GroupName(width int) string {
	return "width" + itoa(width)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Create makes a new, empty width-w group under parent in backing.
func Create(ctx context.Context, backing gemstore.NodeStore, parent string, width, condUniv, geneUniv int) (*Store, error) {
	group := joinPath(parent, GroupName(width))
	if err := backing.CreateGroup(ctx, parent, GroupName(width)); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "pool.Create", err)
	}
	condBits, err := sizing.ElemBits(condUniv)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "pool.Create", err)
	}
	orders, err := backing.CreateArray(ctx, group, "conditions/orders", condBits)
	if err != nil {
		return nil, err
	}
	conds, err := backing.CreateArray(ctx, group, "conditions/sets", 64)
	if err != nil {
		return nil, err
	}
	genes, err := backing.CreateArray(ctx, group, "genes", 64)
	if err != nil {
		return nil, err
	}
	nested, err := backing.CreateArray(ctx, group, "nested", 8)
	if err != nil {
		return nil, err
	}
	return &Store{
		backing: backing, group: group, width: width, condUniv: condUniv, geneUniv: geneUniv,
		orders: orders, conds: conds, genes: genes, nested: nested,
		sigIndex: map[uint64][]int{},
	}, nil
}

// Open reopens an existing width-w group.
func Open(ctx context.Context, backing gemstore.NodeStore, parent string, width, condUniv, geneUniv int) (*Store, bool, error) {
	group := joinPath(parent, GroupName(width))
	ok, err := backing.OpenGroup(ctx, parent, GroupName(width))
	if err != nil || !ok {
		return nil, false, err
	}
	orders, err := backing.OpenArray(ctx, group, "conditions/orders")
	if err != nil {
		return nil, false, err
	}
	conds, err := backing.OpenArray(ctx, group, "conditions/sets")
	if err != nil {
		return nil, false, err
	}
	genes, err := backing.OpenArray(ctx, group, "genes")
	if err != nil {
		return nil, false, err
	}
	nested, err := backing.OpenArray(ctx, group, "nested")
	if err != nil {
		return nil, false, err
	}
	s := &Store{
		backing: backing, group: group, width: width, condUniv: condUniv, geneUniv: geneUniv,
		orders: orders, conds: conds, genes: genes, nested: nested,
		sigIndex: map[uint64][]int{},
	}
	n := orders.Len()
	if conds.Len() != n || genes.Len() != n || nested.Len() != n {
		return nil, false, errs.New(errs.Corruption, "pool.Open row-array length mismatch")
	}
	for r := 0; r < n; r++ {
		c, g, _, err := s.Get(ctx, r)
		if err != nil {
			return nil, false, err
		}
		s.total++
		s.recordSignature(r, c, g)
	}
	for r := 0; r < n; r++ {
		row, err := nested.Read(ctx, r)
		if err != nil {
			return nil, false, err
		}
		if Flag(row[0]) == Nested {
			s.nestedCount++
		}
	}
	return s, true, nil
}

// Width returns w.
func (s *Store) Width() int { return s.width }

// Backing returns the NodeStore this group lives in.
func (s *Store) Backing() gemstore.NodeStore { return s.backing }

// Group returns this store's node path, e.g. "biclusters/width3".
func (s *Store) Group() string { return s.group }

// Signature returns a go-farm content hash of (conditions, genes), used
// only to find duplicate-candidate rows; it never participates in the
// nested-flag state machine.
func Signature(c bitset.OrderedBitSet, g bitset.BitSet) uint64 {
	buf := make([]byte, 0, 8*(len(c.Order)+len(g.Words())))
	for _, e := range c.Order {
		buf = appendUint64(buf, uint64(e))
	}
	for _, w := range g.Words() {
		buf = appendUint64(buf, w)
	}
	return farm.Hash64WithSeed(buf, 0)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

func (s *Store) recordSignature(row int, c bitset.OrderedBitSet, g bitset.BitSet) {
	sig := Signature(c, g)
	s.sigIndex[sig] = append(s.sigIndex[sig], row)
}

// Duplicates returns candidate row groups sharing a Signature, for a
// caller to verify byte-for-byte. Groups of size 1 are omitted.
func (s *Store) Duplicates() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]int
	for _, rows := range s.sigIndex {
		if len(rows) > 1 {
			cp := make([]int, len(rows))
			copy(cp, rows)
			out = append(out, cp)
		}
	}
	return out
}

// Append pushes (C, G, Unknown) and returns the new row index.
func (s *Store) Append(ctx context.Context, c bitset.OrderedBitSet, g bitset.BitSet) (int, error) {
	if len(c.Order) != s.width {
		return 0, errs.New(errs.InvalidArgument, "pool.Append width mismatch")
	}
	orderRow := make([]uint64, len(c.Order))
	for i, e := range c.Order {
		orderRow[i] = uint64(e)
	}
	r, err := s.orders.Append(ctx, orderRow)
	if err != nil {
		return 0, err
	}
	if _, err := s.conds.Append(ctx, c.Set.Words()); err != nil {
		return 0, err
	}
	if _, err := s.genes.Append(ctx, g.Words()); err != nil {
		return 0, err
	}
	if _, err := s.nested.Append(ctx, []uint64{uint64(Unknown)}); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.total++
	s.recordSignature(r, c, g)
	s.mu.Unlock()
	return r, nil
}

// Get reads row r back as (OrderedBitSet, BitSet, Flag).
func (s *Store) Get(ctx context.Context, r int) (bitset.OrderedBitSet, bitset.BitSet, Flag, error) {
	orderRow, err := s.orders.Read(ctx, r)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, Unknown, err
	}
	order := make([]int, len(orderRow))
	for i, v := range orderRow {
		order[i] = int(v)
	}
	condWords, err := s.conds.Read(ctx, r)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, Unknown, err
	}
	condSet, err := bitset.FromWords(s.condUniv, condWords, true)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, Unknown, errs.Wrap(errs.Corruption, "pool.Get", err)
	}
	c := bitset.OrderedBitSet{Order: order, Set: condSet}

	geneWords, err := s.genes.Read(ctx, r)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, Unknown, err
	}
	g, err := bitset.FromWords(s.geneUniv, geneWords, true)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, Unknown, errs.Wrap(errs.Corruption, "pool.Get", err)
	}

	nestedRow, err := s.nested.Read(ctx, r)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, Unknown, err
	}
	return c, g, Flag(nestedRow[0]), nil
}

// SetNested mutates only the nested flag for row r; no other mutation is
// permitted post-append.
func (s *Store) SetNested(ctx context.Context, r int, flag Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevRow, err := s.nested.Read(ctx, r)
	if err != nil {
		return err
	}
	prev := Flag(prevRow[0])
	if err := s.nested.SetRow(ctx, r, uint64(flag)); err != nil {
		return err
	}
	if prev != Nested && flag == Nested {
		s.nestedCount++
	}
	return nil
}

// Depth returns the row count, optionally excluding rows whose flag is
// Nested.
func (s *Store) Depth(includeNested bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if includeNested {
		return s.total
	}
	return s.total - s.nestedCount
}
