// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gemstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"path"

	"github.com/golang/snappy"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// rawBlobPath is the on-disk location of /gem/raw: the original,
// non-rank-coded matrix, opaque to the core engine. It is
// stored snappy-compressed rather than zstd-compressed like the width
// groups: it is written once and rarely reread, so snappy's faster decode
// wins over zstd's better ratio.
const rawBlobPath = "gem/raw.snappy"

// WriteRaw persists the original (pre-rank-coding) matrix.
func (s *FileStore) WriteRaw(ctx context.Context, raw [][]float64) (err error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(raw); err != nil {
		return errors.Wrap(err, "encode raw matrix")
	}
	p := path.Join(s.root, rawBlobPath)
	if err := ensureParent(p); err != nil {
		return errors.Wrap(err, p)
	}
	out, err := file.Create(ctx, p)
	if err != nil {
		return errors.Wrap(err, p)
	}
	defer file.CloseAndReport(ctx, out, &err)
	_, err = out.Writer(ctx).Write(snappy.Encode(nil, buf.Bytes()))
	return errors.Wrap(err, p)
}

// ReadRaw reads back the matrix written by WriteRaw.
func (s *FileStore) ReadRaw(ctx context.Context) (raw [][]float64, err error) {
	p := path.Join(s.root, rawBlobPath)
	data, err := readWhole(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, p)
	}
	plain, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, p)
	}
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, p)
	}
	return raw, nil
}
