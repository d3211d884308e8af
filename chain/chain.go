// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package chain implements the chaining engine: growing width-(h+k-1)
// biclusters from width-h x width-k pairs sharing exactly
// one link condition. Two modes are supported: step (k=2, used by the
// main driver loop) and doubling (k=h, used where it beats step mode; the
// driver disables doubling for h=2).
package chain

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lukeimhoff/obic/bitset"
	"github.com/lukeimhoff/obic/errs"
	"github.com/lukeimhoff/obic/pool"
	"github.com/lukeimhoff/obic/progress"
	"github.com/lukeimhoff/obic/widthcache"
)

// Mode selects the redundant-conditions predicate. It is chosen once per
// chaining pass and pulled out of the inner loop, a tagged variant rather
// than per-row polymorphism.
type Mode int

const (
	// Step is k=2: grows any chain by one condition.
	Step Mode = iota
	// Doubling is k=h: grows a chain by roughly its own width each step.
	Doubling
)

// Counters are monotonic, non-negative diagnostic counters. They are
// observational only and must never influence control flow of subsequent
// runs.
type Counters struct {
	WidthTooBig        int64
	NoHeadWidth        int64
	NoHeadLink         int64
	NoTailWidth        int64
	NoTailLink         int64
	RedundantCondition int64
	InsufficientGenes  int64
}

// Reset zeroes every counter, for callers that print per-pass stats.
func (c *Counters) Reset() { *c = Counters{} }

// String renders the counters one "name: value" pair per line.
func (c *Counters) String() string {
	return fmt.Sprintf(
		"widthTooBig: %d\nnoHeadWidth: %d\nnoHeadLink: %d\nnoTailWidth: %d\nnoTailLink: %d\nredundantCondition: %d\ninsufficientGenes: %d",
		atomic.LoadInt64(&c.WidthTooBig), atomic.LoadInt64(&c.NoHeadWidth), atomic.LoadInt64(&c.NoHeadLink),
		atomic.LoadInt64(&c.NoTailWidth), atomic.LoadInt64(&c.NoTailLink),
		atomic.LoadInt64(&c.RedundantCondition), atomic.LoadInt64(&c.InsufficientGenes))
}

// Opts configures a single Run call. Counters is owned by the caller (the
// driver) and accumulates across every Run within a chaining pass; pass
// the same *Counters to every call in a pass.
type Opts struct {
	MinGenes      int
	MaxConditions int
	Mode          Mode
	// Parallel partitions the head rows across GOMAXPROCS goroutines.
	// Results are re-interleaved into head-index order before being
	// appended, so output is identical to the sequential path.
	Parallel bool
	Hook     progress.Hook
	Counters *Counters
}

// appended is one (C, G) pair produced by a single (r_h, r_t) match,
// tagged with the parents so nested-flagging can happen after the merge
// step preserves append order.
type appended struct {
	headRow, tailRow int
	totalHead        bool // |G| == |G_h|
	totalTail        bool // |G| == |G_k|
	cond             bitset.OrderedBitSet
	genes            bitset.BitSet
}

// Run grows width-(h+k-1) biclusters from width-h heads ending in link and
// width-k tails starting at link. It returns PreconditionViolation when
// width h or width k has no link index. An index built before later appends
// is not detected as stale; the caller rebuilds it before each pass. When
// h+k-1 > maxConditions it appends nothing, counts WidthTooBig and returns 0.
func Run(ctx context.Context, cache *widthcache.Cache, h, k, link int, opts Opts) (count int, err error) {
	destWidth := h + k - 1
	if destWidth > opts.MaxConditions {
		atomic.AddInt64(&opts.Counters.WidthTooBig, 1)
		return 0, nil
	}

	headHandle, err := cache.GetOrCreate(ctx, h)
	if err != nil {
		atomic.AddInt64(&opts.Counters.NoHeadWidth, 1)
		return 0, err
	}
	if headHandle.Index == nil {
		return 0, errs.New(errs.PreconditionViolation, "chain.Run: width h not indexed")
	}
	tailHandle, err := cache.GetOrCreate(ctx, k)
	if err != nil {
		atomic.AddInt64(&opts.Counters.NoTailWidth, 1)
		return 0, err
	}
	if tailHandle.Index == nil {
		return 0, errs.New(errs.PreconditionViolation, "chain.Run: width k not indexed")
	}

	H := headHandle.Index.Heads(link)
	if len(H) == 0 {
		atomic.AddInt64(&opts.Counters.NoHeadLink, 1)
		return 0, nil
	}
	T := tailHandle.Index.Tails(link)
	if len(T) == 0 {
		atomic.AddInt64(&opts.Counters.NoTailLink, 1)
		return 0, nil
	}

	destHandle, err := cache.GetOrCreate(ctx, destWidth)
	if err != nil {
		return 0, err
	}

	redundant := redundantPredicate(opts.Mode, link)

	rows := make([][]appended, len(H))
	group := new(errgroup.Group)
	parallelism := 1
	if opts.Parallel {
		parallelism = runtime.GOMAXPROCS(0)
	}
	chunks := partition(len(H), parallelism)
	for _, rng := range chunks {
		rng := rng
		group.Go(func() error {
			for i := rng.lo; i < rng.hi; i++ {
				if err := ctx.Err(); err != nil {
					return errs.Wrap(errs.Cancelled, "chain.Run", err)
				}
				rH := H[i]
				cH, gH, _, err := headHandle.Store.Get(ctx, rH)
				if err != nil {
					return err
				}
				var out []appended
				for _, rT := range T {
					cT, gT, _, err := tailHandle.Store.Get(ctx, rT)
					if err != nil {
						return err
					}
					skip, err := redundant(cH, cT)
					if err != nil {
						return err
					}
					if skip {
						atomic.AddInt64(&opts.Counters.RedundantCondition, 1)
						continue
					}
					g, err := gH.Intersect(gT)
					if err != nil {
						return err
					}
					if g.Len() < opts.MinGenes {
						atomic.AddInt64(&opts.Counters.InsufficientGenes, 1)
						continue
					}
					c, err := cH.Chain(cT)
					if err != nil {
						return err
					}
					out = append(out, appended{
						headRow: rH, tailRow: rT,
						totalHead: g.Len() == gH.Len(),
						totalTail: g.Len() == gT.Len(),
						cond:      c, genes: g,
					})
				}
				rows[i] = out
				if opts.Hook != nil {
					opts.Hook.Update("chain", i+1)
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}

	for i := range rows {
		for _, a := range rows[i] {
			if _, err := destHandle.Store.Append(ctx, a.cond, a.genes); err != nil {
				return count, err
			}
			count++
			if a.totalHead && a.totalTail {
				if err := headHandle.Store.SetNested(ctx, a.headRow, pool.Nested); err != nil {
					return count, err
				}
				if err := tailHandle.Store.SetNested(ctx, a.tailRow, pool.Nested); err != nil {
					return count, err
				}
			}
		}
	}
	return count, nil
}

type span struct{ lo, hi int }

func partition(n, parts int) []span {
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	if parts <= 1 {
		if n == 0 {
			return nil
		}
		return []span{{0, n}}
	}
	out := make([]span, 0, parts)
	base := n / parts
	rem := n % parts
	lo := 0
	for i := 0; i < parts; i++ {
		sz := base
		if i < rem {
			sz++
		}
		out = append(out, span{lo, lo + sz})
		lo += sz
	}
	return out
}

func redundantPredicate(mode Mode, link int) func(cH, cT bitset.OrderedBitSet) (bool, error) {
	switch mode {
	case Doubling:
		return func(cH, cT bitset.OrderedBitSet) (bool, error) {
			singleton, err := cH.Set.IsSingletonIntersection(cT.Set, link)
			if err != nil {
				return false, err
			}
			return !singleton, nil
		}
	default: // Step
		return func(cH, cT bitset.OrderedBitSet) (bool, error) {
			last := cT.Order[len(cT.Order)-1]
			return cH.Set.Contains(last), nil
		}
	}
}
