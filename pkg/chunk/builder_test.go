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

package chunk_test

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
	"github.com/stretchr/testify/require"
)

func mixedSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
}

func TestBuilder_CopyRowAndNulls(t *testing.T) {
	mem := memory.NewGoAllocator()

	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	ib.Append(7)
	ib.AppendNull()

	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	sb.Append("a")
	sb.Append("b")

	src := chunk.New(mixedSchema(), []arrow.Array{ib.NewInt64Array(), sb.NewStringArray()})

	b := chunk.NewBuilder(mem, mixedSchema())
	require.NoError(t, b.CopyRow(0, src, 0, 0))
	require.NoError(t, b.CopyRow(1, src, 1, 0))
	require.NoError(t, b.CopyRow(0, src, 0, 1)) // null int64
	b.AppendNullAt(1)

	out := b.NewChunk()
	require.Equal(t, 2, out.NumRows())

	ints := out.Column(0).(*array.Int64)
	strs := out.Column(1).(*array.String)

	require.False(t, ints.IsNull(0))
	require.Equal(t, int64(7), ints.Value(0))
	require.False(t, strs.IsNull(0))
	require.Equal(t, "a", strs.Value(0))

	require.True(t, ints.IsNull(1))
	require.True(t, strs.IsNull(1))
}

func TestBuilder_AppendNullRow(t *testing.T) {
	mem := memory.NewGoAllocator()
	b := chunk.NewBuilder(mem, mixedSchema())
	b.AppendNullRow()
	b.AppendNullRow()

	out := b.NewChunk()
	require.Equal(t, 2, out.NumRows())
	require.True(t, out.Column(0).IsNull(0))
	require.True(t, out.Column(1).IsNull(1))
}

func TestChunk_NilAndEmpty(t *testing.T) {
	var c *chunk.Chunk
	require.Equal(t, 0, c.NumRows())

	empty := chunk.New(mixedSchema(), nil)
	require.Equal(t, 0, empty.NumRows())
}
