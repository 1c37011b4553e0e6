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

// Package chunk is the columnar batch representation shared by the
// executors and the probe engine: a thin wrapper around Apache Arrow
// arrays standing in for the "externally-allocated columnar buffers" the
// probe engine treats as borrowed.
package chunk

import (
	"github.com/apache/arrow/go/v12/arrow"
)

// Chunk is one record batch: a fixed schema plus one Arrow array per
// column, all of equal length. Chunks are immutable once built; a new
// Chunk is produced by a Builder rather than mutated in place.
type Chunk struct {
	schema *arrow.Schema
	cols   []arrow.Array
}

// New wraps schema and cols (already the same length) into a Chunk. It
// does not retain additional references beyond cols; callers that built
// cols from a Builder already own the retain from NewArray.
func New(schema *arrow.Schema, cols []arrow.Array) *Chunk {
	return &Chunk{schema: schema, cols: cols}
}

// NumRows returns the chunk's row count, or 0 for a nil or columnless
// chunk.
func (c *Chunk) NumRows() int {
	if c == nil || len(c.cols) == 0 {
		return 0
	}
	return c.cols[0].Len()
}

// Schema returns the chunk's column schema.
func (c *Chunk) Schema() *arrow.Schema {
	return c.schema
}

// Column returns the i'th column's Arrow array.
func (c *Chunk) Column(i int) arrow.Array {
	return c.cols[i]
}

// NumCols returns the number of columns.
func (c *Chunk) NumCols() int {
	return len(c.cols)
}

// Release drops this chunk's reference to each underlying Arrow array.
func (c *Chunk) Release() {
	for _, col := range c.cols {
		col.Release()
	}
}
