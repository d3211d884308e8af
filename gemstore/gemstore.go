// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gemstore defines the persistent node store the bicluster
// engine's storage layers are built on: named groups, typed append-only
// arrays (fixed-width and variable-length), and attributes. The engine never performs random deletion or in-place row
// rewrite, except for the one allowed mutation of the `nested` flag
// element.
//
// Two implementations are provided: Mem (in-process, used by tests and
// small runs) and FileStore (disk-backed).
package gemstore

import (
	"context"

	"github.com/lukeimhoff/obic/errs"
)

// Array is a fixed-width append-only typed array. Every row has the same
// number of uint64 words (callers pack sub-64-bit elements into words
// themselves, per sizing.ElemBits). SetRow is the one allowed mutation
// after append, used solely for the `nested` flag element.
type Array interface {
	Append(ctx context.Context, row []uint64) (int, error)
	Read(ctx context.Context, row int) ([]uint64, error)
	Len() int
	SetRow(ctx context.Context, row int, v uint64) error
	ElemBits() int
}

// VarArray is an append-only array whose elements are themselves
// variable-length vectors of a typed scalar, used for the
// heads[w][c]/tails[w][c] row-index lists.
type VarArray interface {
	Append(ctx context.Context, row []uint64) (int, error)
	Read(ctx context.Context, row int) ([]uint64, error)
	Len() int
}

// NodeStore is the hierarchical container the engine's storage layers are
// built on.
type NodeStore interface {
	CreateGroup(ctx context.Context, parent, name string) error
	OpenGroup(ctx context.Context, parent, name string) (bool, error)

	CreateArray(ctx context.Context, group, name string, elemBits int) (Array, error)
	OpenArray(ctx context.Context, group, name string) (Array, error)

	CreateVarArray(ctx context.Context, group, name string, elemBits int) (VarArray, error)
	OpenVarArray(ctx context.Context, group, name string) (VarArray, error)

	SetAttr(ctx context.Context, node, key string, value []byte) error
	Attr(ctx context.Context, node, key string) ([]byte, bool, error)

	Flush(ctx context.Context) error
}

func nodePath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func errNotFound(op string) error {
	return errs.New(errs.NotFound, op)
}
