// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package annotation describes the downstream annotation layer's
// interface to the bicluster engine. No scoring, no lookup logic; callers
// that want significance scoring plug their own Annotator in.
package annotation

import "github.com/lukeimhoff/obic/bitset"

// Annotator exposes named groups of genes or conditions a caller can
// compare against a bicluster's Genes/Conditions sets. Grounded on the
// original's near-empty Annotation/annotate() stub.
type Annotator interface {
	// Categories lists the named groups this annotator knows about.
	Categories() []string
	// Group returns the member set for a category, or ok=false if the
	// category is unknown.
	Group(category string) (set bitset.BitSet, ok bool)
}

// Static is the simplest Annotator: a fixed map of category -> BitSet,
// useful for tests and for callers that precompute their groups.
type Static struct {
	Groups map[string]bitset.BitSet
}

func (s Static) Categories() []string {
	out := make([]string, 0, len(s.Groups))
	for k := range s.Groups {
		out = append(out, k)
	}
	return out
}

func (s Static) Group(category string) (bitset.BitSet, bool) {
	set, ok := s.Groups[category]
	return set, ok
}
