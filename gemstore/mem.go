// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gemstore

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/lukeimhoff/obic/errs"
)

// Mem is an in-process NodeStore backed by Go slices and maps. It is used
// by tests and by small runs that never need to survive a process restart.
type Mem struct {
	mu      sync.Mutex
	groups  map[string]bool
	arrays  map[string]*memArray
	varArrs map[string]*memVarArray
	attrs   map[string][]byte
}

// NewMem returns an empty in-memory NodeStore.
func NewMem() *Mem {
	return &Mem{
		groups:  map[string]bool{"": true},
		arrays:  map[string]*memArray{},
		varArrs: map[string]*memVarArray{},
		attrs:   map[string][]byte{},
	}
}

func (m *Mem) CreateGroup(_ context.Context, parent, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.groups[parent] {
		return errs.New(errs.NotFound, "gemstore.Mem.CreateGroup")
	}
	m.groups[nodePath(parent, name)] = true
	return nil
}

func (m *Mem) OpenGroup(_ context.Context, parent, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[nodePath(parent, name)], nil
}

func (m *Mem) CreateArray(_ context.Context, group, name string, elemBits int) (Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := nodePath(group, name)
	a := &memArray{elemBits: elemBits}
	m.arrays[p] = a
	return a, nil
}

func (m *Mem) OpenArray(_ context.Context, group, name string) (Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.arrays[nodePath(group, name)]
	if !ok {
		return nil, errNotFound("gemstore.Mem.OpenArray")
	}
	return a, nil
}

func (m *Mem) CreateVarArray(_ context.Context, group, name string, elemBits int) (VarArray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := nodePath(group, name)
	a := &memVarArray{elemBits: elemBits}
	m.varArrs[p] = a
	return a, nil
}

func (m *Mem) OpenVarArray(_ context.Context, group, name string) (VarArray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.varArrs[nodePath(group, name)]
	if !ok {
		return nil, errNotFound("gemstore.Mem.OpenVarArray")
	}
	return a, nil
}

func (m *Mem) SetAttr(_ context.Context, node, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[nodePath(node, key)] = slices.Clone(value)
	return nil
}

func (m *Mem) Attr(_ context.Context, node, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.attrs[nodePath(node, key)]
	return v, ok, nil
}

func (m *Mem) Flush(_ context.Context) error { return nil }

type memArray struct {
	mu       sync.Mutex
	elemBits int
	rows     [][]uint64
}

func (a *memArray) Append(_ context.Context, row []uint64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, slices.Clone(row))
	return len(a.rows) - 1, nil
}

func (a *memArray) Read(_ context.Context, row int) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 0 || row >= len(a.rows) {
		return nil, errNotFound("gemstore.memArray.Read")
	}
	return a.rows[row], nil
}

func (a *memArray) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

func (a *memArray) SetRow(_ context.Context, row int, v uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 0 || row >= len(a.rows) {
		return errNotFound("gemstore.memArray.SetRow")
	}
	a.rows[row] = []uint64{v}
	return nil
}

func (a *memArray) ElemBits() int { return a.elemBits }

type memVarArray struct {
	mu       sync.Mutex
	elemBits int
	rows     [][]uint64
}

func (a *memVarArray) Append(_ context.Context, row []uint64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, slices.Clone(row))
	return len(a.rows) - 1, nil
}

func (a *memVarArray) Read(_ context.Context, row int) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 0 || row >= len(a.rows) {
		return nil, errNotFound("gemstore.memVarArray.Read")
	}
	return a.rows[row], nil
}

func (a *memVarArray) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}
