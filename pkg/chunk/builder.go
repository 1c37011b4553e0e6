// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunk

import (
	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/errors"
)

// Builder accumulates rows into per-column Arrow array.Builder instances
// and seals them into a Chunk. It is the output side of the columnar copy
// primitives the probe engine delegates to: probe/build copiers call
// CopyRow/AppendNullAt against a Builder bound to the output vectors.
type Builder struct {
	mem      memory.Allocator
	schema   *arrow.Schema
	builders []array.Builder
}

// NewBuilder allocates one array.Builder per field of schema, backed by
// mem.
func NewBuilder(mem memory.Allocator, schema *arrow.Schema) *Builder {
	bs := make([]array.Builder, len(schema.Fields()))
	for i, f := range schema.Fields() {
		bs[i] = array.NewBuilder(mem, f.Type)
	}
	return &Builder{mem: mem, schema: schema, builders: bs}
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int {
	if len(b.builders) == 0 {
		return 0
	}
	return b.builders[0].Len()
}

// Release releases every column builder without sealing them into arrays.
func (b *Builder) Release() {
	for _, bb := range b.builders {
		bb.Release()
	}
}

// NewChunk seals the accumulated rows into a Chunk and resets the
// builders so the Builder can be reused for the next output batch.
func (b *Builder) NewChunk() *Chunk {
	cols := make([]arrow.Array, len(b.builders))
	for i, bb := range b.builders {
		cols[i] = bb.NewArray()
	}
	return New(b.schema, cols)
}

// AppendNullRow appends a NULL to every column. The probe copiers do not
// use it; they null only their own columns via AppendNullAt.
func (b *Builder) AppendNullRow() {
	for _, bb := range b.builders {
		bb.AppendNull()
	}
}

// AppendNullAt appends a NULL to only the destCol'th column. Used when a
// row's build side is missing (Skip) but its probe side was already
// copied separately.
func (b *Builder) AppendNullAt(destCol int) {
	b.builders[destCol].AppendNull()
}

// CopyRow copies row srcRow of src's srcCol'th column into this builder's
// destCol'th column.
func (b *Builder) CopyRow(destCol int, src *Chunk, srcCol, srcRow int) error {
	return copyValue(b.builders[destCol], src.Column(srcCol), srcRow)
}

// copyValue appends the value at src[srcRow] to dst, preserving
// nullability. It supports the fixed set of Arrow types the join operator
// needs for keys and payload columns; extending it to a new column type
// is a one-line type-switch addition, not a change to the probe engine.
func copyValue(dst array.Builder, src arrow.Array, srcRow int) error {
	if src.IsNull(srcRow) {
		dst.AppendNull()
		return nil
	}
	switch s := src.(type) {
	case *array.Int64:
		dst.(*array.Int64Builder).Append(s.Value(srcRow))
	case *array.Int32:
		dst.(*array.Int32Builder).Append(s.Value(srcRow))
	case *array.Float64:
		dst.(*array.Float64Builder).Append(s.Value(srcRow))
	case *array.String:
		dst.(*array.StringBuilder).Append(s.Value(srcRow))
	case *array.Boolean:
		dst.(*array.BooleanBuilder).Append(s.Value(srcRow))
	default:
		return errors.Errorf("chunk: unsupported column type %T for vectorized copy", src)
	}
	return nil
}
