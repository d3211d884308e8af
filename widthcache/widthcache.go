// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package widthcache implements a fully-associative, fixed-capacity LRU
// over a few open width-group handles, so a chaining pass doesn't
// repeatedly reopen persistent node handles. It is not a correctness
// boundary: evicting a slot never loses data, since the underlying
// pool.Store rows are already durable in the backing gemstore.NodeStore;
// eviction only closes the in-process handle.
package widthcache

import (
	"context"
	"sync"

	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/linkindex"
	"github.com/lukeimhoff/obic/pool"
)

// DefaultCapacity is the default number of slots.
const DefaultCapacity = 3

// Handle is an open width-group: its pool.Store, plus its linkindex.Index
// once one has been built or reloaded (nil beforehand). Index is not
// cleared when rows are appended after it was built.
type Handle struct {
	Store *pool.Store
	Index *linkindex.Index
}

// Cache is a fully-associative LRU over width -> *Handle.
type Cache struct {
	capacity int
	backing  gemstore.NodeStore
	parent   string
	condUniv int
	geneUniv int

	mu      sync.Mutex
	age     []int // slot contents by width, age[0] = most recently used
	handles map[int]*Handle
}

// New returns a Cache with the given capacity over width groups stored
// under parent in backing.
func New(capacity int, backing gemstore.NodeStore, parent string, condUniv, geneUniv int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		backing:  backing,
		parent:   parent,
		condUniv: condUniv,
		geneUniv: geneUniv,
		handles:  map[int]*Handle{},
	}
}

// GetOrCreate returns the handle for width w, opening it from the backing
// store (or creating an empty group on first write) on a cache miss, and
// evicting the oldest slot if the cache is at capacity.
func (c *Cache) GetOrCreate(ctx context.Context, w int) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[w]; ok {
		c.touch(w)
		return h, nil
	}

	store, found, err := pool.Open(ctx, c.backing, c.parent, w, c.condUniv, c.geneUniv)
	if err != nil {
		return nil, err
	}
	h := &Handle{}
	if found {
		h.Store = store
		// A group indexed before its handle was evicted gets its
		// persisted heads/tails back, so eviction never downgrades an
		// indexed width to un-indexed (the driver indexes each width
		// once per pass and relies on the index staying visible).
		idx, ok, err := linkindex.Open(ctx, store, c.condUniv)
		if err != nil {
			return nil, err
		}
		if ok {
			h.Index = idx
		}
	} else {
		h.Store, err = pool.Create(ctx, c.backing, c.parent, w, c.condUniv, c.geneUniv)
		if err != nil {
			return nil, err
		}
	}
	c.evictIfFull()
	c.handles[w] = h
	c.age = append([]int{w}, c.age...)
	return h, nil
}

// Exists reports whether a width-w group has ever been created, without
// creating one as a side effect (unlike GetOrCreate). Used by the pruner
// to distinguish "W_{w+1} absent" from "W_{w+1} empty".
func (c *Cache) Exists(ctx context.Context, w int) (bool, error) {
	c.mu.Lock()
	if _, ok := c.handles[w]; ok {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()
	_, found, err := pool.Open(ctx, c.backing, c.parent, w, c.condUniv, c.geneUniv)
	return found, err
}

// Peek returns the handle for w if it is already cached, without opening
// or creating it.
func (c *Cache) Peek(w int) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[w]
	return h, ok
}

func (c *Cache) touch(w int) {
	for i, a := range c.age {
		if a == w {
			c.age = append(c.age[:i], c.age[i+1:]...)
			break
		}
	}
	c.age = append([]int{w}, c.age...)
}

func (c *Cache) evictIfFull() {
	if len(c.handles) < c.capacity {
		return
	}
	oldest := c.age[len(c.age)-1]
	c.age = c.age[:len(c.age)-1]
	delete(c.handles, oldest)
}
