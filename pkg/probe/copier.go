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

package probe

import "github.com/pingcap/tidb-vecjoin/pkg/chunk"

// ProbeCopier moves the selected probe-side columns into the output
// vectors, indexed by probeSv2. It is stateless with respect to the join;
// it captures its input/output vector references at construction.
type ProbeCopier interface {
	// Allocate preallocates n all-NULL probe-side output rows. Used only by
	// the unmatched-build emission phase, which never has real probe rows
	// to select from.
	Allocate(n int) error
	// Copy materializes n rows selected by sv2[:n] from the bound probe
	// input chunk.
	Copy(sv2 []uint16, n int) error
}

// BuildCopier moves the selected build-side columns (including the join
// keys, which live on the build side) into the output vectors, indexed by
// buildOffsetBuf. Two implementations exist because the treatment of Skip
// cells differs by join type (§4.1): the null-aware copier is required
// whenever unmatched probe rows may be emitted (LEFT/FULL), and the fast
// copier is used otherwise (INNER/RIGHT) on the assumption every cell is a
// real CBI.
type BuildCopier interface {
	Copy(offsetBuf []byte, n int) error
}

// probeRowCopier is the sole ProbeCopier implementation: a row-selection
// copy out of one probe input chunk.
type probeRowCopier struct {
	src     *chunk.Chunk
	outCols []int
	dst     *chunk.Builder
	dstBase int
}

func newProbeRowCopier(src *chunk.Chunk, outCols []int, dst *chunk.Builder, dstBase int) *probeRowCopier {
	return &probeRowCopier{src: src, outCols: outCols, dst: dst, dstBase: dstBase}
}

func (c *probeRowCopier) Allocate(n int) error {
	for i := 0; i < n; i++ {
		for destIdx := range c.outCols {
			c.dst.AppendNullAt(c.dstBase + destIdx)
		}
	}
	return nil
}

func (c *probeRowCopier) Copy(sv2 []uint16, n int) error {
	for i := 0; i < n; i++ {
		row := int(sv2[i])
		for destIdx, srcCol := range c.outCols {
			if err := c.dst.CopyRow(c.dstBase+destIdx, c.src, srcCol, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// fastBuildCopier assumes every cell of offsetBuf is a real CBI; used for
// INNER and RIGHT joins where a probe row either matches (and Skip never
// occurs) or is dropped before reaching the copier.
type fastBuildCopier struct {
	batches []*chunk.Chunk
	outCols []int
	dst     *chunk.Builder
	dstBase int
}

func newFastBuildCopier(batches []*chunk.Chunk, outCols []int, dst *chunk.Builder, dstBase int) *fastBuildCopier {
	return &fastBuildCopier{batches: batches, outCols: outCols, dst: dst, dstBase: dstBase}
}

func (c *fastBuildCopier) Copy(offsetBuf []byte, n int) error {
	for i := 0; i < n; i++ {
		cbi := decodeCBI(offsetBuf, i*BuildRecordLinkSize)
		batch := c.batches[cbi.BatchIdx()]
		row := int(cbi.RowIdx())
		for destIdx, srcCol := range c.outCols {
			if err := c.dst.CopyRow(c.dstBase+destIdx, batch, srcCol, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// nullAwareBuildCopier treats Skip cells as NULL; required whenever the
// join projects unmatched probe rows (LEFT/FULL).
type nullAwareBuildCopier struct {
	batches []*chunk.Chunk
	outCols []int
	dst     *chunk.Builder
	dstBase int
}

func newNullAwareBuildCopier(batches []*chunk.Chunk, outCols []int, dst *chunk.Builder, dstBase int) *nullAwareBuildCopier {
	return &nullAwareBuildCopier{batches: batches, outCols: outCols, dst: dst, dstBase: dstBase}
}

func (c *nullAwareBuildCopier) Copy(offsetBuf []byte, n int) error {
	for i := 0; i < n; i++ {
		cbi := decodeCBI(offsetBuf, i*BuildRecordLinkSize)
		if cbi == Skip {
			for destIdx := range c.outCols {
				c.dst.AppendNullAt(c.dstBase + destIdx)
			}
			continue
		}
		batch := c.batches[cbi.BatchIdx()]
		row := int(cbi.RowIdx())
		for destIdx, srcCol := range c.outCols {
			if err := c.dst.CopyRow(c.dstBase+destIdx, batch, srcCol, row); err != nil {
				return err
			}
		}
	}
	return nil
}
