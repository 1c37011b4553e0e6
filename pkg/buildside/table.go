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

// Package buildside constructs the in-memory chained hash table the probe
// engine (pkg/probe) probes against: it consumes build-side chunks row by
// row, hashes the configured key columns, and threads every row into its
// hash slot's chain via the starts/links tables described in the probe
// engine's data model. It is the one piece spec.md explicitly assumes is
// already built elsewhere; a standalone module has nowhere else to get it
// from, so it is grounded here in the same chaining design.
package buildside

import (
	"encoding/binary"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
	"github.com/pingcap/tidb-vecjoin/pkg/probe"
	"github.com/twmb/murmur3"
)

// allOnesRecord is one BuildRecordLinkSize-sized sentinel record, used to
// initialize both the starts and links tables to "empty chain".
var allOnesRecord = func() []byte {
	b := make([]byte, probe.BuildRecordLinkSize)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}()

func fillSentinel(buf []byte) {
	for off := 0; off < len(buf); off += probe.BuildRecordLinkSize {
		copy(buf[off:off+probe.BuildRecordLinkSize], allOnesRecord)
	}
}

func recordIsSentinel(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func encodeCBI(buf []byte, off int, batchIdx uint32, rowIdx uint16) {
	binary.LittleEndian.PutUint32(buf[off:], batchIdx)
	binary.LittleEndian.PutUint16(buf[off+4:], rowIdx)
}

// Table is the built hash table plus the chain tables and match bitmaps
// the probe engine reads. It satisfies probe.HashTableFinder; Find reads
// key values from the chunk most recently bound by BindProbe, mirroring
// the way probe.Engine itself is bound to a probe chunk via
// Engine.BindProbeBatch rather than carrying the chunk in the Find call.
type Table struct {
	totalSlots uint64
	starts     [][]byte

	batches   []*chunk.Chunk
	buildInfo []probe.BuildInfo

	probeBatch   *chunk.Chunk
	probeKeyCols []int
}

// Batches exposes the sealed build-side row batches, for
// probe.EngineParams.BuildBatches.
func (t *Table) Batches() []*chunk.Chunk { return t.batches }

// BuildInfo exposes the per-batch link tables and match bitmaps, for
// probe.EngineParams.BuildInfo.
func (t *Table) BuildInfo() []probe.BuildInfo { return t.buildInfo }

// Starts exposes the hash-slot start tables, for probe.EngineParams.Starts.
func (t *Table) Starts() [][]byte { return t.starts }

// BindProbe rebinds the table's Find calls to read key values from pb's
// keyCols columns.
func (t *Table) BindProbe(pb *chunk.Chunk, keyCols []int) {
	t.probeBatch = pb
	t.probeKeyCols = keyCols
}

// Find implements probe.HashTableFinder: it hashes the first n rows of the
// bound probe chunk and writes the matching hash-slot id (or
// probe.NotFound) into pib.
func (t *Table) Find(pib []probe.HSID, n int) error {
	for row := 0; row < n; row++ {
		h, err := hashRow(t.probeBatch, t.probeKeyCols, row)
		if err != nil {
			return err
		}
		slot := h % t.totalSlots
		startBatch := slot / probe.BatchSize
		startOff := (slot % probe.BatchSize) * probe.BuildRecordLinkSize
		if recordIsSentinel(t.starts[startBatch][startOff : startOff+probe.BuildRecordLinkSize]) {
			pib[row] = probe.NotFound
			continue
		}
		pib[row] = probe.HSID(uint32(startBatch)<<16 | uint32(slot%probe.BatchSize))
	}
	return nil
}

// Builder accumulates build-side chunks into row batches capped at
// probe.BatchSize rows, threading each row into the hash table as it
// arrives. Call Finish once all build-side chunks have been fed in to
// obtain the Table.
type Builder struct {
	mem     memory.Allocator
	schema  *arrow.Schema
	keyCols []int

	cur     *chunk.Builder
	batches []*chunk.Chunk
	links   [][]byte

	totalSlots uint64
	starts     [][]byte

	needsMatchBitmap bool
}

// NewBuilder creates a Builder over schema, hashing keyCols, sized for an
// estimated estRows build-side rows. joinType determines whether match
// bitmaps are allocated per batch (RIGHT, FULL).
func NewBuilder(mem memory.Allocator, schema *arrow.Schema, keyCols []int, estRows int, joinType probe.JoinType) *Builder {
	if estRows <= 0 {
		estRows = probe.BatchSize
	}
	// Size the slot space to roughly 2x the estimated row count to keep
	// chains short, rounded up to a whole number of BatchSize-sized
	// starts buffers.
	wantSlots := uint64(estRows) * 2
	numSlotBatches := int((wantSlots + probe.BatchSize - 1) / probe.BatchSize)
	if numSlotBatches < 1 {
		numSlotBatches = 1
	}
	starts := make([][]byte, numSlotBatches)
	for i := range starts {
		starts[i] = make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
		fillSentinel(starts[i])
	}

	return &Builder{
		mem:              mem,
		schema:           schema,
		keyCols:          keyCols,
		totalSlots:       uint64(numSlotBatches) * probe.BatchSize,
		starts:           starts,
		needsMatchBitmap: joinType.ProjectsUnmatchedBuild(),
	}
}

// PutChunk consumes every row of chk into the table, threading each row
// into its hash slot's chain.
func (b *Builder) PutChunk(chk *chunk.Chunk) error {
	if b.cur == nil {
		b.cur = chunk.NewBuilder(b.mem, b.schema)
	}
	for row := 0; row < chk.NumRows(); row++ {
		h, err := hashRow(chk, b.keyCols, row)
		if err != nil {
			return err
		}
		if err := b.putRow(chk, row, h); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) putRow(src *chunk.Chunk, srcRow int, h uint64) error {
	if b.cur.Len() == probe.BatchSize {
		b.sealCurrent()
		b.cur = chunk.NewBuilder(b.mem, b.schema)
	}

	dstRow := b.cur.Len()
	batchIdx := uint32(len(b.batches))
	for col := 0; col < src.NumCols(); col++ {
		if err := b.cur.CopyRow(col, src, col, srcRow); err != nil {
			return err
		}
	}

	links := b.curLinks()
	slot := h % b.totalSlots
	startBatch := slot / probe.BatchSize
	startOff := int((slot % probe.BatchSize)) * probe.BuildRecordLinkSize

	// Prepend: the new row's link cell becomes the chain's previous
	// head, and the slot's start now points at the new row.
	copy(links[dstRow*probe.BuildRecordLinkSize:], b.starts[startBatch][startOff:startOff+probe.BuildRecordLinkSize])
	encodeCBI(b.starts[startBatch], startOff, batchIdx, uint16(dstRow))

	return nil
}

// curLinks returns the link table for the in-progress row batch,
// allocating it lazily sized to one full row batch.
func (b *Builder) curLinks() []byte {
	idx := len(b.batches)
	for len(b.links) <= idx {
		buf := make([]byte, probe.BatchSize*probe.BuildRecordLinkSize)
		fillSentinel(buf)
		b.links = append(b.links, buf)
	}
	return b.links[idx]
}

func (b *Builder) sealCurrent() {
	if b.cur == nil || b.cur.Len() == 0 {
		return
	}
	b.batches = append(b.batches, b.cur.NewChunk())
	b.cur = nil
}

// Finish seals any partial in-progress row batch and returns the
// completed Table.
func (b *Builder) Finish() *Table {
	b.sealCurrent()

	buildInfo := make([]probe.BuildInfo, len(b.batches))
	for i, batch := range b.batches {
		n := batch.NumRows()
		var mb *probe.MatchBitmap
		if b.needsMatchBitmap {
			mb = probe.NewMatchBitmap(n)
		}
		buildInfo[i] = probe.BuildInfo{
			Links:          b.links[i][:n*probe.BuildRecordLinkSize],
			Matches:        mb,
			PopulatedCount: n,
		}
	}

	return &Table{
		totalSlots: b.totalSlots,
		starts:     b.starts,
		batches:    b.batches,
		buildInfo:  buildInfo,
	}
}

// hashRow hashes the configured key columns of row using murmur3, the
// same hash family the teacher's own (indirect) dependency set already
// carries for chunk-level checksums.
func hashRow(c *chunk.Chunk, keyCols []int, row int) (uint64, error) {
	h := murmur3.New64()
	for _, col := range keyCols {
		arr := c.Column(col)
		if arr.IsNull(row) {
			h.Write([]byte{0})
			continue
		}
		if err := writeKeyBytes(h, arr, row); err != nil {
			return 0, err
		}
	}
	return h.Sum64(), nil
}

// writeKeyBytes appends the encoded bytes of arr[row] to h. It supports
// the same fixed set of column types as chunk.copyValue.
func writeKeyBytes(h interface{ Write([]byte) (int, error) }, arr arrow.Array, row int) error {
	var buf [8]byte
	switch a := arr.(type) {
	case *array.Int64:
		binary.LittleEndian.PutUint64(buf[:], uint64(a.Value(row)))
		h.Write(buf[:8])
	case *array.Int32:
		binary.LittleEndian.PutUint32(buf[:4], uint32(a.Value(row)))
		h.Write(buf[:4])
	case *array.Float64:
		binary.LittleEndian.PutUint64(buf[:], uint64(a.Value(row)))
		h.Write(buf[:8])
	case *array.String:
		h.Write([]byte(a.Value(row)))
	case *array.Boolean:
		if a.Value(row) {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	default:
		return errors.Errorf("buildside: unsupported key column type %T", arr)
	}
	return nil
}
