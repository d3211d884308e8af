// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gem is the pipeline driver: it seeds width-2 biclusters
// from a rank-coded Gene Expression Matrix, loops over widths chaining
// each into the next, then prunes nested biclusters in a bottom-up sweep.
package gem

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/samber/lo"

	"github.com/lukeimhoff/obic/bitset"
	"github.com/lukeimhoff/obic/chain"
	"github.com/lukeimhoff/obic/combinatorics"
	"github.com/lukeimhoff/obic/errs"
	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/linkindex"
	"github.com/lukeimhoff/obic/pool"
	"github.com/lukeimhoff/obic/progress"
	"github.com/lukeimhoff/obic/prune"
	"github.com/lukeimhoff/obic/widthcache"
)

// biclustersGroup is the gemstore group all width groups live under.
const biclustersGroup = "biclusters"

// Header is the GEM's top-level configuration, persisted as attributes on
// the biclusters group.
type Header struct {
	ID            uuid.UUID
	MaxConditions int
	MaxGenes      int
	MinGenes      int
	// Doubling enables the doubling chaining mode for widths >= 3 (the
	// driver never doubles width 2). When enabled, each pass both steps
	// (w, 2) -> w+1 and doubles (w, w) -> 2w-1; doubling only ever adds
	// biclusters the step path would eventually produce too, so the two
	// modes converge on the same non-nested set.
	Doubling bool
}

// Driver runs the full pipeline: seed, chain, prune, and answers stats/
// query requests against the result.
type Driver struct {
	Header  Header
	backing gemstore.NodeStore
	cache   *widthcache.Cache
	hook    progress.Hook

	Counters chain.Counters

	observedMax int
}

// NewDriver opens (or creates, on first use) the GEM rooted at backing.
func NewDriver(ctx context.Context, backing gemstore.NodeStore, header Header, hook progress.Hook) (*Driver, error) {
	if header.ID == uuid.Nil {
		header.ID = uuid.New()
	}
	if header.MaxConditions <= 0 || header.MaxGenes <= 0 {
		return nil, errs.New(errs.InvalidArgument, "gem.NewDriver")
	}
	exists, err := backing.OpenGroup(ctx, "", biclustersGroup)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := backing.CreateGroup(ctx, "", biclustersGroup); err != nil {
			return nil, err
		}
	}
	attrs := map[string][]byte{
		"minGenes":      encodeUint64(uint64(header.MinGenes)),
		"maxConditions": encodeUint64(uint64(header.MaxConditions)),
		"maxGenes":      encodeUint64(uint64(header.MaxGenes)),
		"doubling":      encodeBool(header.Doubling),
		"id":            []byte(header.ID.String()),
	}
	for k, v := range attrs {
		if err := backing.SetAttr(ctx, biclustersGroup, k, v); err != nil {
			return nil, err
		}
	}
	if hook == nil {
		hook = progress.Noop{}
	}
	cache := widthcache.New(widthcache.DefaultCapacity, backing, biclustersGroup, header.MaxConditions, header.MaxGenes)
	return &Driver{Header: header, backing: backing, cache: cache, hook: hook, observedMax: 2}, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// OpenDriver reattaches to a GEM previously written by NewDriver (and,
// typically, a completed Run): the header is reconstructed from the
// biclusters group's attributes. Returns NotFound if backing holds no GEM.
func OpenDriver(ctx context.Context, backing gemstore.NodeStore, hook progress.Hook) (*Driver, error) {
	exists, err := backing.OpenGroup(ctx, "", biclustersGroup)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.New(errs.NotFound, "gem.OpenDriver")
	}
	var header Header
	for key, dst := range map[string]*int{
		"minGenes":      &header.MinGenes,
		"maxConditions": &header.MaxConditions,
		"maxGenes":      &header.MaxGenes,
	} {
		v, ok, err := backing.Attr(ctx, biclustersGroup, key)
		if err != nil {
			return nil, err
		}
		if !ok || len(v) != 8 {
			return nil, errs.New(errs.Corruption, "gem.OpenDriver: missing attribute "+key)
		}
		*dst = int(binary.LittleEndian.Uint64(v))
	}
	if v, ok, err := backing.Attr(ctx, biclustersGroup, "doubling"); err != nil {
		return nil, err
	} else if ok && len(v) == 1 {
		header.Doubling = v[0] != 0
	}
	if v, ok, err := backing.Attr(ctx, biclustersGroup, "id"); err != nil {
		return nil, err
	} else if ok {
		if id, perr := uuid.Parse(string(v)); perr == nil {
			header.ID = id
		}
	}
	if hook == nil {
		hook = progress.Noop{}
	}
	cache := widthcache.New(widthcache.DefaultCapacity, backing, biclustersGroup, header.MaxConditions, header.MaxGenes)
	d := &Driver{Header: header, backing: backing, cache: cache, hook: hook, observedMax: 2}
	if err := d.detectObservedMax(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Seed pools every unordered pair {a, b} of conditions, a<b, as a width-2
// bicluster in each order that meets minGenes. coded is the rank-coded
// matrix: coded[g][c] in [0, MaxConditions), one permutation per row.
// The width-2 group is created on the first append, so a matrix that
// yields no seed leaves no width-2 group behind.
func (d *Driver) Seed(ctx context.Context, coded [][]uint32) error {
	if len(coded) > d.Header.MaxGenes {
		return errs.New(errs.InvalidArgument, "gem.Driver.Seed: matrix exceeds MaxGenes")
	}
	d.hook.Begin("seed", combinatorics.NChooseK(d.Header.MaxConditions, 2))
	pairs, err := combinatorics.NewCombinations(d.Header.MaxConditions, 2)
	if err != nil {
		return err
	}
	done, seeded := 0, 0
	for {
		pair, ok := pairs.Next()
		if !ok {
			break
		}
		a, b := pair[0], pair[1]
		var inc, dec []int
		for g, row := range coded {
			if row[a] < row[b] {
				inc = append(inc, g)
			} else {
				dec = append(dec, g)
			}
		}
		if len(inc) >= d.Header.MinGenes {
			if err := d.appendSeed(ctx, a, b, inc); err != nil {
				return err
			}
			seeded++
		}
		if len(dec) >= d.Header.MinGenes {
			if err := d.appendSeed(ctx, b, a, dec); err != nil {
				return err
			}
			seeded++
		}
		done++
		d.hook.Update("seed", done)
	}
	d.hook.End("seed")
	log.Debug.Printf("seed: %d width-2 rows from %d condition pairs", seeded, done)
	return d.backing.Flush(ctx)
}

func (d *Driver) appendSeed(ctx context.Context, first, second int, members []int) error {
	handle, err := d.cache.GetOrCreate(ctx, 2)
	if err != nil {
		return err
	}
	order, err := bitset.NewOrderedBitSet(d.Header.MaxConditions, []int{first, second})
	if err != nil {
		return err
	}
	genes, err := bitset.FromMembers(d.Header.MaxGenes, members)
	if err != nil {
		return err
	}
	_, err = handle.Store.Append(ctx, order, genes)
	return err
}

// Run executes the chain loop and then the bottom-up prune sweep. Seed
// must have been called first. On error the run aborts without further
// appends, but accumulated state is still flushed.
func (d *Driver) Run(ctx context.Context) error {
	e := errors.Once{}
	e.Set(d.chainLoop(ctx))
	if e.Err() == nil {
		e.Set(d.detectObservedMax(ctx))
	}
	if e.Err() == nil {
		for w := 2; w < d.observedMax; w++ {
			if err := ctx.Err(); err != nil {
				e.Set(errs.Wrap(errs.Cancelled, "gem.Driver.Run", err))
				break
			}
			if err := prune.Sweep(ctx, d.cache, w, d.hook); err != nil {
				e.Set(err)
				break
			}
		}
	}
	e.Set(d.backing.Flush(ctx))
	return e.Err()
}

func (d *Driver) chainLoop(ctx context.Context) error {
	maxW := d.Header.MaxConditions - 1
	for w := 2; w <= maxW; w++ {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.Cancelled, "gem.Driver.chainLoop", err)
		}
		// A width with no group (no seeds, or nothing chained into it) ends the loop.
		if exists, err := d.cache.Exists(ctx, w); err != nil || !exists {
			return err
		}
		handle, err := d.cache.GetOrCreate(ctx, w)
		if err != nil {
			return err
		}
		idx, err := linkindex.Build(ctx, handle.Store, d.Header.MaxConditions)
		if err != nil {
			return err
		}
		handle.Index = idx

		total := 0
		d.hook.Begin(fmt.Sprintf("chain w=%d", w), d.Header.MaxConditions)
		for c := 0; c < d.Header.MaxConditions; c++ {
			n, err := chain.Run(ctx, d.cache, w, 2, c, chain.Opts{
				MinGenes: d.Header.MinGenes, MaxConditions: d.Header.MaxConditions,
				Mode: chain.Step, Counters: &d.Counters,
			})
			if err != nil {
				return err
			}
			total += n
			d.hook.Update(fmt.Sprintf("chain w=%d", w), c+1)
		}
		d.hook.End(fmt.Sprintf("chain w=%d", w))

		if d.Header.Doubling && w >= 3 {
			for c := 0; c < d.Header.MaxConditions; c++ {
				n, err := chain.Run(ctx, d.cache, w, w, c, chain.Opts{
					MinGenes: d.Header.MinGenes, MaxConditions: d.Header.MaxConditions,
					Mode: chain.Doubling, Counters: &d.Counters,
				})
				if err != nil {
					return err
				}
				total += n
			}
		}

		if err := d.backing.Flush(ctx); err != nil {
			return err
		}
		log.Debug.Printf("chain w=%d: %d appended", w, total)
		if total == 0 {
			// No wider chain can exist.
			break
		}
	}
	return nil
}

func (d *Driver) detectObservedMax(ctx context.Context) error {
	observed := 2
	for w := 2; w <= d.Header.MaxConditions; w++ {
		exists, err := d.cache.Exists(ctx, w)
		if err != nil {
			return err
		}
		if !exists {
			break
		}
		handle, err := d.cache.GetOrCreate(ctx, w)
		if err != nil {
			return err
		}
		if handle.Store.Depth(true) == 0 {
			break
		}
		observed = w + 1
	}
	d.observedMax = observed
	return nil
}

// Depth returns the row count for width, optionally excluding nested
// rows. Returns NotFound if no group exists for width.
func (d *Driver) Depth(ctx context.Context, width int, includeNested bool) (int, error) {
	exists, err := d.cache.Exists(ctx, width)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errs.New(errs.NotFound, "gem.Driver.Depth")
	}
	handle, err := d.cache.GetOrCreate(ctx, width)
	if err != nil {
		return 0, err
	}
	return handle.Store.Depth(includeNested), nil
}

// Query looks up one bicluster by (width, row).
func (d *Driver) Query(ctx context.Context, width, row int) (bitset.OrderedBitSet, bitset.BitSet, pool.Flag, error) {
	exists, err := d.cache.Exists(ctx, width)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, pool.Unknown, err
	}
	if !exists {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, pool.Unknown, errs.New(errs.NotFound, "gem.Driver.Query")
	}
	handle, err := d.cache.GetOrCreate(ctx, width)
	if err != nil {
		return bitset.OrderedBitSet{}, bitset.BitSet{}, pool.Unknown, err
	}
	return handle.Store.Get(ctx, row)
}

// ObservedMax is the first width found empty after the chain loop (the
// upper bound, exclusive, the prune sweep walked).
func (d *Driver) ObservedMax() int { return d.observedMax }

type widthStat struct {
	width     int
	total     int
	nonNested int
}

// Stats renders the per-width textual report: total and non-nested counts
// for each width, plus a grand-total line.
func (d *Driver) Stats(ctx context.Context) (string, error) {
	rows := make([]widthStat, 0, d.observedMax-2)
	for w := 2; w < d.observedMax; w++ {
		handle, err := d.cache.GetOrCreate(ctx, w)
		if err != nil {
			return "", err
		}
		rows = append(rows, widthStat{w, handle.Store.Depth(true), handle.Store.Depth(false)})
	}
	totalAll := lo.SumBy(rows, func(r widthStat) int { return r.total })
	totalNon := lo.SumBy(rows, func(r widthStat) int { return r.nonNested })

	var sb strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&sb, "(%d): %d T %d NSUB\n", r.width, r.total, r.nonNested)
	}
	fmt.Fprintf(&sb, "total: %d T %d NSUB\n", totalAll, totalNon)
	return sb.String(), nil
}

// FullCoverageMatrix builds a GEM whose rows are every permutation of
// [0, conditions). Every condition ordering is represented by exactly one
// gene, which makes it a convenient worst-case fixture.
func FullCoverageMatrix(conditions int) ([][]float64, error) {
	perms, err := combinatorics.NewPermutations(conditions, conditions)
	if err != nil {
		return nil, err
	}
	var rows [][]float64
	for {
		p, ok := perms.Next()
		if !ok {
			break
		}
		row := make([]float64, len(p))
		for i, v := range p {
			row[i] = float64(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
