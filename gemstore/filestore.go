// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gemstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/natefinch/atomic"
	"golang.org/x/crypto/blake2b"

	"github.com/lukeimhoff/obic/errs"
)

func init() {
	recordiozstd.Init()
}

// FileStore is a disk-backed NodeStore mirroring the node hierarchy as a
// `/biclusters/width<w>/...` directory tree: one recordio file per array,
// zstd compressed, attributes as small sidecar files written atomically so
// a crash mid-flush never leaves a torn node. Row contents are kept in
// memory between Flush calls and serialized to disk on Flush, so repeated
// Append calls within a single pass never perform I/O.
type FileStore struct {
	root string

	mu           sync.Mutex
	groups       map[string]bool
	groupsLoaded bool
	arrays       map[string]*fileArray
	varArrs      map[string]*fileVarArray
	attrs        map[string][]byte
}

// groupListFile records every group ever created, so a store reopened in a
// fresh process can answer OpenGroup without a directory walk.
const groupListFile = ".groups"

// NewFileStore returns a FileStore rooted at dir. dir is created lazily on
// first Flush.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		root:    dir,
		groups:  map[string]bool{"": true},
		arrays:  map[string]*fileArray{},
		varArrs: map[string]*fileVarArray{},
		attrs:   map[string][]byte{},
	}
}

func (s *FileStore) CreateGroup(_ context.Context, parent, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.groups[parent] {
		return errs.New(errs.NotFound, "gemstore.FileStore.CreateGroup")
	}
	s.groups[nodePath(parent, name)] = true
	return nil
}

func (s *FileStore) OpenGroup(ctx context.Context, parent, name string) (bool, error) {
	p := nodePath(parent, name)
	s.mu.Lock()
	if s.groups[p] || s.groupsLoaded {
		ok := s.groups[p]
		s.mu.Unlock()
		return ok, nil
	}
	s.mu.Unlock()
	data, err := readWhole(ctx, path.Join(s.root, groupListFile))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupsLoaded = true
	if err == nil {
		for _, g := range strings.Split(string(data), "\n") {
			if g != "" {
				s.groups[g] = true
			}
		}
	}
	return s.groups[p], nil
}

func (s *FileStore) CreateArray(_ context.Context, group, name string, elemBits int) (Array, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := nodePath(group, name)
	a := &fileArray{store: s, path: p, elemBits: elemBits}
	s.arrays[p] = a
	return a, nil
}

func (s *FileStore) OpenArray(ctx context.Context, group, name string) (Array, error) {
	s.mu.Lock()
	p := nodePath(group, name)
	a, ok := s.arrays[p]
	s.mu.Unlock()
	if ok {
		return a, nil
	}
	a = &fileArray{store: s, path: p}
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.arrays[p] = a
	s.mu.Unlock()
	return a, nil
}

func (s *FileStore) CreateVarArray(_ context.Context, group, name string, elemBits int) (VarArray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := nodePath(group, name)
	a := &fileVarArray{store: s, path: p, elemBits: elemBits}
	s.varArrs[p] = a
	return a, nil
}

func (s *FileStore) OpenVarArray(ctx context.Context, group, name string) (VarArray, error) {
	s.mu.Lock()
	p := nodePath(group, name)
	a, ok := s.varArrs[p]
	s.mu.Unlock()
	if ok {
		return a, nil
	}
	a = &fileVarArray{store: s, path: p}
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.varArrs[p] = a
	s.mu.Unlock()
	return a, nil
}

func (s *FileStore) SetAttr(_ context.Context, node, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.attrs[nodePath(node, key)] = cp
	return nil
}

func (s *FileStore) Attr(ctx context.Context, node, key string) ([]byte, bool, error) {
	p := nodePath(node, key)
	s.mu.Lock()
	v, ok := s.attrs[p]
	s.mu.Unlock()
	if ok {
		return v, true, nil
	}
	data, err := readWhole(ctx, s.attrPath(p))
	if err != nil {
		return nil, false, nil // absent attribute is not an error
	}
	s.mu.Lock()
	s.attrs[p] = data
	s.mu.Unlock()
	return data, true, nil
}

// Flush serializes every array, var-array and attribute to disk, computing
// a blake2b-256 checksum attribute for each array so a subsequent Open can
// detect Corruption.
func (s *FileStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	arrays := make([]*fileArray, 0, len(s.arrays))
	for _, a := range s.arrays {
		arrays = append(arrays, a)
	}
	varArrs := make([]*fileVarArray, 0, len(s.varArrs))
	for _, a := range s.varArrs {
		varArrs = append(varArrs, a)
	}
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		if g != "" {
			groups = append(groups, g)
		}
	}
	s.mu.Unlock()
	sort.Strings(groups)

	e := errors.Once{}
	e.Set(ensureParent(path.Join(s.root, groupListFile)))
	e.Set(atomic.WriteFile(path.Join(s.root, groupListFile), strings.NewReader(strings.Join(groups, "\n"))))
	for _, a := range arrays {
		e.Set(a.flush(ctx))
	}
	for _, a := range varArrs {
		e.Set(a.flush(ctx))
	}
	// Snapshot attributes after the arrays have flushed, so the checksums
	// they just set are the values written below.
	s.mu.Lock()
	attrs := make(map[string][]byte, len(s.attrs))
	for k, v := range s.attrs {
		attrs[k] = v
	}
	s.mu.Unlock()
	for k, v := range attrs {
		e.Set(ensureParent(s.attrPath(k)))
		e.Set(atomic.WriteFile(s.attrPath(k), bytes.NewReader(v)))
	}
	return e.Err()
}

func (s *FileStore) arrayPath(p string) string { return path.Join(s.root, p+".rio") }
func (s *FileStore) attrPath(p string) string  { return path.Join(s.root, p+".attr") }

func ensureParent(p string) error { return os.MkdirAll(path.Dir(p), 0777) }

func readWhole(ctx context.Context, p string) ([]byte, error) {
	f, err := file.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, f, &err)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f.Reader(ctx)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type fileArray struct {
	store    *FileStore
	path     string
	elemBits int

	mu   sync.Mutex
	rows [][]uint64
}

func encodeRow(row []uint64) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(row)
	return buf.Bytes()
}

func decodeRow(data []byte) ([]uint64, error) {
	var row []uint64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

func (a *fileArray) Append(_ context.Context, row []uint64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]uint64, len(row))
	copy(cp, row)
	a.rows = append(a.rows, cp)
	return len(a.rows) - 1, nil
}

func (a *fileArray) Read(_ context.Context, row int) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 0 || row >= len(a.rows) {
		return nil, errNotFound("gemstore.fileArray.Read")
	}
	return a.rows[row], nil
}

func (a *fileArray) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

func (a *fileArray) SetRow(_ context.Context, row int, v uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 0 || row >= len(a.rows) {
		return errNotFound("gemstore.fileArray.SetRow")
	}
	a.rows[row] = []uint64{v}
	return nil
}

func (a *fileArray) ElemBits() int { return a.elemBits }

func (a *fileArray) flush(ctx context.Context) (err error) {
	a.mu.Lock()
	rows := make([][]uint64, len(a.rows))
	copy(rows, a.rows)
	a.mu.Unlock()

	var body bytes.Buffer
	h, _ := blake2b.New256(nil)
	rio := recordio.NewWriter(&body, recordio.WriterOpts{Transformers: []string{recordiozstd.Name}})
	for _, row := range rows {
		data := encodeRow(row)
		rio.Append(data)
		_, _ = h.Write(data)
	}
	if err := rio.Finish(); err != nil {
		return errors.E(err, a.path)
	}
	sum := h.Sum(nil)

	if err := ensureParent(a.store.arrayPath(a.path)); err != nil {
		return errors.E(err, a.path)
	}
	out, err := file.Create(ctx, a.store.arrayPath(a.path))
	if err != nil {
		return errors.E(err, a.path)
	}
	if _, err := out.Writer(ctx).Write(body.Bytes()); err != nil {
		_ = out.Close(ctx)
		return errors.E(err, a.path)
	}
	if err := out.Close(ctx); err != nil {
		return errors.E(err, a.path)
	}
	if err := a.store.SetAttr(ctx, a.path, "checksum", sum); err != nil {
		return err
	}
	if err := a.store.SetAttr(ctx, a.path, "elembits", []byte{byte(a.elemBits)}); err != nil {
		return err
	}
	// Also written directly, not only by Flush's attribute sweep, so the
	// sidecars match the array file as soon as it has been written.
	if err := ensureParent(a.store.attrPath(nodePath(a.path, "checksum"))); err != nil {
		return errors.E(err, a.path)
	}
	if err := atomic.WriteFile(a.store.attrPath(nodePath(a.path, "elembits")), bytes.NewReader([]byte{byte(a.elemBits)})); err != nil {
		return errors.E(err, a.path)
	}
	return atomic.WriteFile(a.store.attrPath(nodePath(a.path, "checksum")), bytes.NewReader(sum))
}

func (a *fileArray) load(ctx context.Context) (err error) {
	data, err := readWhole(ctx, a.store.arrayPath(a.path))
	if err != nil {
		return errNotFound("gemstore.fileArray.load")
	}
	rio := recordio.NewScanner(bytes.NewReader(data), recordio.ScannerOpts{})
	h, _ := blake2b.New256(nil)
	var rows [][]uint64
	for rio.Scan() {
		raw := rio.Get().([]byte)
		row, derr := decodeRow(raw)
		if derr != nil {
			return errs.Wrap(errs.Corruption, "gemstore.fileArray.load", derr)
		}
		_, _ = h.Write(raw)
		rows = append(rows, row)
	}
	if rio.Err() != nil {
		return errs.Wrap(errs.Corruption, "gemstore.fileArray.load", rio.Err())
	}
	if want, ok, _ := a.store.Attr(ctx, a.path, "checksum"); ok {
		if !bytes.Equal(want, h.Sum(nil)) {
			return errs.New(errs.Corruption, "gemstore.fileArray.load checksum mismatch")
		}
	}
	if v, ok, _ := a.store.Attr(ctx, a.path, "elembits"); ok && len(v) == 1 {
		a.elemBits = int(v[0])
	}
	a.rows = rows
	return nil
}

type fileVarArray struct {
	store    *FileStore
	path     string
	elemBits int

	mu   sync.Mutex
	rows [][]uint64
}

func (a *fileVarArray) Append(_ context.Context, row []uint64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]uint64, len(row))
	copy(cp, row)
	a.rows = append(a.rows, cp)
	return len(a.rows) - 1, nil
}

func (a *fileVarArray) Read(_ context.Context, row int) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 0 || row >= len(a.rows) {
		return nil, errNotFound("gemstore.fileVarArray.Read")
	}
	return a.rows[row], nil
}

func (a *fileVarArray) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

func (a *fileVarArray) flush(ctx context.Context) error {
	a.mu.Lock()
	rows := make([][]uint64, len(a.rows))
	copy(rows, a.rows)
	a.mu.Unlock()

	var body bytes.Buffer
	rio := recordio.NewWriter(&body, recordio.WriterOpts{Transformers: []string{recordiozstd.Name}})
	for _, row := range rows {
		rio.Append(encodeRow(row))
	}
	if err := rio.Finish(); err != nil {
		return errors.E(err, a.path)
	}
	if err := ensureParent(a.store.arrayPath(a.path)); err != nil {
		return errors.E(err, a.path)
	}
	out, err := file.Create(ctx, a.store.arrayPath(a.path))
	if err != nil {
		return errors.E(err, a.path)
	}
	if _, err := out.Writer(ctx).Write(body.Bytes()); err != nil {
		_ = out.Close(ctx)
		return errors.E(err, a.path)
	}
	return out.Close(ctx)
}

func (a *fileVarArray) load(ctx context.Context) error {
	data, err := readWhole(ctx, a.store.arrayPath(a.path))
	if err != nil {
		return errNotFound("gemstore.fileVarArray.load")
	}
	rio := recordio.NewScanner(bytes.NewReader(data), recordio.ScannerOpts{})
	var rows [][]uint64
	for rio.Scan() {
		row, derr := decodeRow(rio.Get().([]byte))
		if derr != nil {
			return errs.Wrap(errs.Corruption, "gemstore.fileVarArray.load", derr)
		}
		rows = append(rows, row)
	}
	if rio.Err() != nil {
		return errs.Wrap(errs.Corruption, "gemstore.fileVarArray.load", rio.Err())
	}
	a.rows = rows
	return nil
}
