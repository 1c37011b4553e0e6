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

package probe_test

import (
	"encoding/binary"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
	"github.com/pingcap/tidb-vecjoin/pkg/probe"
	"github.com/stretchr/testify/require"
)

func int64Chunk(mem memory.Allocator, vals []int64) *chunk.Chunk {
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewInt64Builder(mem)
	defer b.Release()
	for _, v := range vals {
		b.Append(v)
	}
	return chunk.New(schema, []arrow.Array{b.NewInt64Array()})
}

func outputSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "p", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "b", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
}

// fixedFinder returns a pre-programmed HSID per probe row, standing in
// for a real hash table: the boundary scenarios in spec.md §8 are
// specified directly in terms of starts/links contents, not real keys.
type fixedFinder struct {
	slots []probe.HSID
}

func (f *fixedFinder) Find(pib []probe.HSID, n int) error {
	copy(pib[:n], f.slots[:n])
	return nil
}

func encodeLink(buf []byte, off int, batchIdx uint32, rowIdx uint16) {
	binary.LittleEndian.PutUint32(buf[off:], batchIdx)
	binary.LittleEndian.PutUint16(buf[off+4:], rowIdx)
}

func sentinelFill(buf []byte) {
	for i := range buf {
		buf[i] = 0xFF
	}
}

// Scenario 1: empty build side, INNER join.
func TestProbeBatch_EmptyBuildInner(t *testing.T) {
	mem := memory.NewGoAllocator()
	probeChk := int64Chunk(mem, []int64{1, 2, 3})

	e, err := probe.NewEngine(probe.EngineParams{
		Allocator:      mem,
		BuildBatches:   nil,
		ProbeBatch:     probeChk,
		ProbeOutCols:   []int{0},
		BuildOutCols:   []int{0},
		JoinType:       probe.InnerJoin,
		BuildInfo:      nil,
		Starts:         nil,
		HashTable:      &fixedFinder{slots: []probe.HSID{probe.NotFound, probe.NotFound, probe.NotFound}},
		OutputSchema:   outputSchema(),
		OutputCapacity: 16,
	})
	require.NoError(t, err)
	defer e.Close()

	n, err := e.ProbeBatch(3)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
	require.Equal(t, 0, e.Output().NumRows())
}

// Scenario 2: empty build side, LEFT join.
func TestProbeBatch_EmptyBuildLeft(t *testing.T) {
	mem := memory.NewGoAllocator()
	probeChk := int64Chunk(mem, []int64{10, 20, 30})

	e, err := probe.NewEngine(probe.EngineParams{
		Allocator:      mem,
		ProbeBatch:     probeChk,
		ProbeOutCols:   []int{0},
		BuildOutCols:   []int{0},
		JoinType:       probe.LeftOuterJoin,
		HashTable:      &fixedFinder{slots: []probe.HSID{probe.NotFound, probe.NotFound, probe.NotFound}},
		OutputSchema:   outputSchema(),
		OutputCapacity: 16,
	})
	require.NoError(t, err)
	defer e.Close()

	n, err := e.ProbeBatch(3)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	out := e.Output()
	require.Equal(t, 3, out.NumRows())
	probeCol := out.Column(0).(*array.Int64)
	buildCol := out.Column(1)
	for i := 0; i < 3; i++ {
		require.False(t, probeCol.IsNull(i))
		require.True(t, buildCol.IsNull(i))
	}
	require.Equal(t, []int64{10, 20, 30}, probeCol.Int64Values())
}

// Scenario 3: single chain of length 3, INNER join, B >= 3.
func TestProbeBatch_SingleChainNoSuspension(t *testing.T) {
	mem := memory.NewGoAllocator()
	probeChk := int64Chunk(mem, []int64{100})
	buildChk := int64Chunk(mem, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14})

	starts := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(starts)
	encodeLink(starts, 0*probe.BuildRecordLinkSize, 0, 10)

	links := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(links)
	encodeLink(links, 10*probe.BuildRecordLinkSize, 0, 11)
	encodeLink(links, 11*probe.BuildRecordLinkSize, 0, 12)
	// links[12] stays sentinel: end of chain.

	e, err := probe.NewEngine(probe.EngineParams{
		Allocator:    mem,
		BuildBatches: []*chunk.Chunk{buildChk},
		ProbeBatch:   probeChk,
		ProbeOutCols: []int{0},
		BuildOutCols: []int{0},
		JoinType:     probe.InnerJoin,
		BuildInfo: []probe.BuildInfo{
			{Links: links, PopulatedCount: 15},
		},
		Starts:         [][]byte{starts},
		HashTable:      &fixedFinder{slots: []probe.HSID{0}},
		OutputSchema:   outputSchema(),
		OutputCapacity: 16,
	})
	require.NoError(t, err)
	defer e.Close()

	n, err := e.ProbeBatch(1)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	out := e.Output()
	require.Equal(t, 3, out.NumRows())
	buildCol := out.Column(1).(*array.Int64)
	require.Equal(t, []int64{10, 11, 12}, buildCol.Int64Values())
}

// Scenario 4: chain longer than B forces suspension, then resumes.
func TestProbeBatch_ChainLongerThanB(t *testing.T) {
	mem := memory.NewGoAllocator()
	probeChk := int64Chunk(mem, []int64{100})
	buildChk := int64Chunk(mem, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14})

	starts := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(starts)
	encodeLink(starts, 0, 0, 10)

	links := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(links)
	encodeLink(links, 10*probe.BuildRecordLinkSize, 0, 11)
	encodeLink(links, 11*probe.BuildRecordLinkSize, 0, 12)
	encodeLink(links, 12*probe.BuildRecordLinkSize, 0, 13)
	encodeLink(links, 13*probe.BuildRecordLinkSize, 0, 14)
	// links[14] stays sentinel.

	e, err := probe.NewEngine(probe.EngineParams{
		Allocator:    mem,
		BuildBatches: []*chunk.Chunk{buildChk},
		ProbeBatch:   probeChk,
		ProbeOutCols: []int{0},
		BuildOutCols: []int{0},
		JoinType:     probe.InnerJoin,
		BuildInfo: []probe.BuildInfo{
			{Links: links, PopulatedCount: 15},
		},
		Starts:         [][]byte{starts},
		HashTable:      &fixedFinder{slots: []probe.HSID{0}},
		OutputSchema:   outputSchema(),
		OutputCapacity: 3,
	})
	require.NoError(t, err)
	defer e.Close()

	n1, err := e.ProbeBatch(1)
	require.NoError(t, err)
	require.EqualValues(t, -3, n1)
	out1 := e.Output()
	buildCol1 := out1.Column(1).(*array.Int64)
	require.Equal(t, []int64{10, 11, 12}, buildCol1.Int64Values())

	n2, err := e.ProbeBatch(1)
	require.NoError(t, err)
	require.EqualValues(t, 2, n2)
	out2 := e.Output()
	buildCol2 := out2.Column(1).(*array.Int64)
	require.Equal(t, []int64{13, 14}, buildCol2.Int64Values())
}

// Scenario 5: RIGHT join, one unmatched build row.
func TestProjectBuildNonMatches_RightOneUnmatched(t *testing.T) {
	mem := memory.NewGoAllocator()
	probeChk := int64Chunk(mem, []int64{100})
	buildChk := int64Chunk(mem, []int64{0, 1})

	starts := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(starts)
	encodeLink(starts, 0, 0, 0) // slot 0 -> build row (0,0)

	links := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(links)

	e, err := probe.NewEngine(probe.EngineParams{
		Allocator:    mem,
		BuildBatches: []*chunk.Chunk{buildChk},
		ProbeBatch:   probeChk,
		ProbeOutCols: []int{0},
		BuildOutCols: []int{0},
		JoinType:     probe.RightOuterJoin,
		BuildInfo: []probe.BuildInfo{
			{Links: links, PopulatedCount: 2, Matches: probe.NewMatchBitmap(2)},
		},
		Starts:         [][]byte{starts},
		HashTable:      &fixedFinder{slots: []probe.HSID{0}},
		OutputSchema:   outputSchema(),
		OutputCapacity: 16,
	})
	require.NoError(t, err)
	defer e.Close()

	n, err := e.ProbeBatch(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	un, err := e.ProjectBuildNonMatches()
	require.NoError(t, err)
	require.EqualValues(t, 1, un)

	out := e.Output()
	require.Equal(t, 1, out.NumRows())
	probeCol := out.Column(0)
	buildCol := out.Column(1).(*array.Int64)
	require.True(t, probeCol.IsNull(0))
	require.Equal(t, int64(1), buildCol.Value(0))
}

// Scenario 6: FULL join mixing matched, unmatched probe and unmatched
// build, modeled on two build rows: row 0 stands in for the spec's build
// row CBI(0,7) (never matched) and row 1 for CBI(0,3) (matched by p1).
func TestFullOuterJoin_MixedCase(t *testing.T) {
	mem := memory.NewGoAllocator()
	probeChk := int64Chunk(mem, []int64{0, 1, 2})
	buildChk := int64Chunk(mem, []int64{70, 30})

	starts := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(starts)
	encodeLink(starts, 1*probe.BuildRecordLinkSize, 0, 1) // slot 1 -> build row (0,1)

	links := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
	sentinelFill(links)

	e, err := probe.NewEngine(probe.EngineParams{
		Allocator:    mem,
		BuildBatches: []*chunk.Chunk{buildChk},
		ProbeBatch:   probeChk,
		ProbeOutCols: []int{0},
		BuildOutCols: []int{0},
		JoinType:     probe.FullOuterJoin,
		BuildInfo: []probe.BuildInfo{
			{Links: links, PopulatedCount: 2, Matches: probe.NewMatchBitmap(2)},
		},
		Starts: [][]byte{starts},
		HashTable: &fixedFinder{slots: []probe.HSID{
			probe.NotFound, // p0: no match
			1,              // p1: matches slot 1 -> build (0,1)
			probe.NotFound, // p2: no match
		}},
		OutputSchema:   outputSchema(),
		OutputCapacity: 16,
	})
	require.NoError(t, err)
	defer e.Close()

	n, err := e.ProbeBatch(3)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	out := e.Output()
	require.Equal(t, 3, out.NumRows())
	probeCol := out.Column(0).(*array.Int64)
	buildCol := out.Column(1)
	require.False(t, probeCol.IsNull(0))
	require.True(t, buildCol.IsNull(0))
	require.False(t, probeCol.IsNull(1))
	require.False(t, buildCol.IsNull(1))
	require.Equal(t, int64(30), buildCol.(*array.Int64).Value(1))
	require.False(t, probeCol.IsNull(2))
	require.True(t, buildCol.IsNull(2))

	un, err := e.ProjectBuildNonMatches()
	require.NoError(t, err)
	require.EqualValues(t, 1, un)
	unOut := e.Output()
	require.Equal(t, 1, unOut.NumRows())
	require.True(t, unOut.Column(0).IsNull(0))
	require.Equal(t, int64(70), unOut.Column(1).(*array.Int64).Value(0))
}

func TestClose_Idempotent(t *testing.T) {
	mem := memory.NewGoAllocator()
	e, err := probe.NewEngine(probe.EngineParams{
		Allocator:      mem,
		ProbeBatch:     int64Chunk(mem, nil),
		ProbeOutCols:   []int{0},
		BuildOutCols:   []int{0},
		JoinType:       probe.InnerJoin,
		HashTable:      &fixedFinder{},
		OutputSchema:   outputSchema(),
		OutputCapacity: 16,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.ProbeBatch(1)
	require.Error(t, err)
}
