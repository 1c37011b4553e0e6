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

// Package exec defines the minimal pull-based operator interface the join
// executor sits within: a Volcano-style Open/Next/Close tree, standing in
// for the surrounding planner-built operator tree a real execution engine
// would provide.
package exec

import (
	"context"

	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
)

// Executor is one node of a pull-based operator tree. Next returns a nil
// chunk (with a nil error) once the source is exhausted.
type Executor interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (*chunk.Chunk, error)
	Close() error
}

// SliceSource is a trivial Executor that replays a fixed slice of chunks,
// used in tests as a stand-in for a child operator (table scan, sort, a
// prior join) that the driver shell pulls from.
type SliceSource struct {
	Chunks []*chunk.Chunk
	pos    int
}

// NewSliceSource wraps chunks as a pull source.
func NewSliceSource(chunks []*chunk.Chunk) *SliceSource {
	return &SliceSource{Chunks: chunks}
}

// Open resets the source to its first chunk.
func (s *SliceSource) Open(ctx context.Context) error {
	s.pos = 0
	return nil
}

// Next returns the next chunk, or nil once exhausted.
func (s *SliceSource) Next(ctx context.Context) (*chunk.Chunk, error) {
	if s.pos >= len(s.Chunks) {
		return nil, nil
	}
	c := s.Chunks[s.pos]
	s.pos++
	return c, nil
}

// Close is a no-op; SliceSource owns no external resources.
func (s *SliceSource) Close() error {
	return nil
}
