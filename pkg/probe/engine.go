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

import (
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
	"github.com/pingcap/tidb-vecjoin/pkg/memtrack"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// EngineParams bundles everything an Engine needs at construction:
// borrowed build-side state, the output schema/capacity, and the objects
// the driver shell owns (allocator, hash table, logger). ProbeBatch itself
// may be nil at construction and bound per upstream chunk via
// BindProbeBatch; everything else is fixed for the engine's lifetime.
type EngineParams struct {
	Allocator memory.Allocator

	BuildBatches []*chunk.Chunk
	ProbeBatch   *chunk.Chunk

	ProbeOutCols []int
	BuildOutCols []int

	JoinType  JoinType
	BuildInfo []BuildInfo
	Starts    [][]byte
	HashTable HashTableFinder

	OutputSchema   *arrow.Schema
	OutputCapacity int

	Logger *zap.Logger
}

// Engine is the vectorized hash-join probe state machine. One Engine
// instance belongs to exactly one goroutine for its entire lifetime: the
// resumption cursors make concurrent use of ProbeBatch/ProjectBuildNonMatches
// on the same instance unsafe, mirroring the single-threaded, non-blocking
// contract of the core loop in hashJoinProber.exec.
type Engine struct {
	alloc     *memtrack.Tracker
	joinType  JoinType
	buildInfo []BuildInfo
	walker    chainWalker
	hashTable HashTableFinder

	probeOutCols []int
	buildOutCols []int
	buildBatches []*chunk.Chunk

	outBuilder  *chunk.Builder
	probeCopier *probeRowCopier
	buildCopier BuildCopier

	pib    probeIndexBuffer
	pibCap int
	asm    *outputAssembler

	curProbeBatch *chunk.Chunk
	curProbeN     int

	// probe-phase resumption cursors, see spec.md §3 "Resumption cursors".
	nextProbeIndex int
	remainderCBI   CBI

	// unmatched-build emission cursors.
	ubSetIdx  int
	ubElemIdx int
	ubDone    bool

	lastOutput *chunk.Chunk
	closed     bool

	logger *zap.Logger

	findTime      atomic.Int64
	probeCopyTime atomic.Int64
	buildCopyTime atomic.Int64
	projectTime   atomic.Int64
}

// NewEngine builds an Engine from p. It allocates the output assembler and
// the output column builders but performs no probing; the PIB is grown on
// the first ProbeBatch call.
func NewEngine(p EngineParams) (*Engine, error) {
	if p.OutputCapacity <= 0 || p.OutputCapacity > maxProbeBatchRows {
		return nil, ErrInvariant.GenWithStackByArgs("output capacity must be in (0, 1<<16]")
	}
	logger := p.Logger
	if logger == nil {
		logger = log.L()
	}

	e := &Engine{
		alloc:         memtrack.NewTracker("probe-engine", p.Allocator),
		joinType:      p.JoinType,
		buildInfo:     p.BuildInfo,
		walker:        chainWalker{starts: p.Starts, buildInfo: p.BuildInfo},
		hashTable:     p.HashTable,
		probeOutCols:  p.ProbeOutCols,
		buildOutCols:  p.BuildOutCols,
		buildBatches:  p.BuildBatches,
		curProbeBatch: p.ProbeBatch,
		asm:           newOutputAssembler(p.OutputCapacity),
		logger:        logger,
		remainderCBI:  noCBI,
	}

	e.outBuilder = chunk.NewBuilder(p.Allocator, p.OutputSchema)
	e.probeCopier = newProbeRowCopier(p.ProbeBatch, p.ProbeOutCols, e.outBuilder, 0)

	dstBase := len(p.ProbeOutCols)
	if p.JoinType.ProjectsUnmatchedProbe() {
		e.buildCopier = newNullAwareBuildCopier(p.BuildBatches, p.BuildOutCols, e.outBuilder, dstBase)
	} else {
		e.buildCopier = newFastBuildCopier(p.BuildBatches, p.BuildOutCols, e.outBuilder, dstBase)
	}

	logger.Debug("probe engine constructed",
		zap.String("joinType", p.JoinType.String()),
		zap.Int("outputCapacity", p.OutputCapacity),
		zap.Int("buildBatches", len(p.BuildBatches)))

	return e, nil
}

// BindProbeBatch rebinds the engine to a new upstream probe chunk. It must
// only be called when the engine is not mid-batch (nextProbeIndex == 0 and
// remainderCBI == noCBI); the driver calls it once per probe chunk pulled
// from upstream, before the first ProbeBatch call for that chunk.
func (e *Engine) BindProbeBatch(pb *chunk.Chunk) error {
	if e.nextProbeIndex != 0 || e.remainderCBI != noCBI {
		return ErrInvariant.GenWithStackByArgs("BindProbeBatch called mid-batch")
	}
	e.curProbeBatch = pb
	e.probeCopier.src = pb
	return nil
}

// allocateHSIDs satisfies the bytesAllocator interface consumed by
// probeIndexBuffer.ensure: it accounts n*4 bytes against the engine's
// tracker and returns a freshly sized slice.
func (e *Engine) allocateHSIDs(n int) ([]HSID, error) {
	failpoint.Inject("probeIndexBufferGrowOOM", func() {
		failpoint.Return(nil, errOOMInjected)
	})
	if err := e.alloc.Consume(int64(n) * 4); err != nil {
		return nil, err
	}
	if e.pibCap > 0 {
		e.alloc.Release(int64(e.pibCap) * 4)
	}
	e.pibCap = n
	return make([]HSID, n), nil
}

var errOOMInjected = ErrOOM.GenWithStackByArgs("injected by failpoint probeIndexBufferGrowOOM")

// Output returns the output chunk assembled by the most recent ProbeBatch
// or ProjectBuildNonMatches call. It is valid until the next such call.
func (e *Engine) Output() *chunk.Chunk {
	return e.lastOutput
}

// ProbeBatch runs the probe state machine over up to n rows of the
// currently bound probe batch, starting from the saved resumption cursors.
// It returns a negative count (magnitude = rows emitted) when the output
// batch filled before the probe batch was exhausted and further calls with
// the same bound batch are required; a non-negative count means the probe
// batch was fully consumed this call.
func (e *Engine) ProbeBatch(n int) (int32, error) {
	if e.closed {
		return 0, ErrInvariant.GenWithStackByArgs("ProbeBatch called after Close")
	}
	if n > maxProbeBatchRows {
		return 0, ErrInvariant.GenWithStackByArgs("probe batch too large")
	}

	e.asm.reset()

	freshBatch := e.nextProbeIndex == 0 && e.remainderCBI == noCBI
	if freshBatch {
		e.curProbeN = n
		if err := e.pib.ensure(e, n); err != nil {
			return 0, err
		}
		start := time.Now()
		if err := e.hashTable.Find(e.pib.slots[:n], n); err != nil {
			return 0, err
		}
		e.findTime.Add(int64(time.Since(start)))
	}

	cur := e.nextProbeIndex
	remainder := e.remainderCBI
	unmatchedProbe := e.joinType.ProjectsUnmatchedProbe()
	unmatchedBuild := e.joinType.ProjectsUnmatchedBuild()

	for {
		if e.asm.full() || cur == e.curProbeN {
			break
		}

		if remainder == noCBI {
			slot := e.pib.at(cur)
			if slot == NotFound {
				if unmatchedProbe {
					e.asm.emit(uint16(cur), Skip)
				}
				cur++
				continue
			}
			remainder = e.walker.first(slot)
			if remainder == noCBI {
				// A resolved slot whose chain is empty indicates build-side
				// corruption, but treating it as a miss keeps the state
				// machine total instead of panicking.
				if unmatchedProbe {
					e.asm.emit(uint16(cur), Skip)
				}
				cur++
			}
			continue
		}

		if unmatchedBuild {
			b := int(remainder.BatchIdx())
			if b >= len(e.buildInfo) {
				return 0, ErrInvariant.GenWithStackByArgs("chain walk batchIdx out of range")
			}
			e.buildInfo[b].Matches.Set(remainder.RowIdx())
		}
		e.asm.emit(uint16(cur), remainder)

		failpoint.Inject("chainWalkCorruption", func() {
			remainder = CBI(1 << 40)
		})

		next, err := e.walker.next(remainder)
		if err != nil {
			return 0, err
		}
		if next == noCBI {
			remainder = noCBI
			cur++
		} else {
			remainder = next
		}
	}

	suspended := cur < e.curProbeN

	if err := e.invokeCopiers(); err != nil {
		return 0, err
	}

	if suspended {
		e.nextProbeIndex = cur
		e.remainderCBI = remainder
		return int32(-e.asm.outputRecords), nil
	}

	e.nextProbeIndex = 0
	e.remainderCBI = noCBI
	return int32(e.asm.outputRecords), nil
}

// ProjectBuildNonMatches is the terminal RIGHT/FULL phase: it scans the
// match bitmaps for build rows never selected during probing and emits
// them with NULL probe columns, resuming across calls via (ubSetIdx,
// ubElemIdx) exactly as probing resumes via (nextProbeIndex, remainderCBI).
func (e *Engine) ProjectBuildNonMatches() (int32, error) {
	if e.closed {
		return 0, ErrInvariant.GenWithStackByArgs("ProjectBuildNonMatches called after Close")
	}
	if !e.joinType.ProjectsUnmatchedBuild() {
		return 0, ErrInvariant.GenWithStackByArgs("join type does not project unmatched build rows")
	}

	e.asm.reset()

	if len(e.buildInfo) == 0 {
		e.ubDone = true
	}

	for !e.ubDone && !e.asm.full() {
		if e.ubElemIdx == -1 {
			e.ubSetIdx++
			if e.ubSetIdx >= len(e.buildInfo) {
				e.ubDone = true
				break
			}
			e.ubElemIdx = 0
		}

		binfo := e.buildInfo[e.ubSetIdx]
		next := binfo.Matches.nextClearBit(e.ubElemIdx, binfo.PopulatedCount)
		if next < 0 {
			e.ubElemIdx = -1
			continue
		}
		e.asm.emit(0, NewCBI(uint32(e.ubSetIdx), uint16(next)))
		e.ubElemIdx = next + 1
	}

	start := time.Now()
	if err := e.probeCopier.Allocate(e.asm.outputRecords); err != nil {
		return 0, err
	}
	if err := e.buildCopier.Copy(e.asm.buildOffsetBuf, e.asm.outputRecords); err != nil {
		return 0, err
	}
	e.projectTime.Add(int64(time.Since(start)))
	e.lastOutput = e.outBuilder.NewChunk()

	if e.ubDone {
		return int32(e.asm.outputRecords), nil
	}
	return int32(-e.asm.outputRecords), nil
}

// invokeCopiers materializes the current assembler contents into the
// bound output builder and times both halves independently, matching the
// FindTime/ProbeCopyTime/BuildCopyTime/ProjectTime accessor contract.
func (e *Engine) invokeCopiers() error {
	start := time.Now()
	if err := e.probeCopier.Copy(e.asm.probeSv2, e.asm.outputRecords); err != nil {
		return err
	}
	e.probeCopyTime.Add(int64(time.Since(start)))

	start = time.Now()
	if err := e.buildCopier.Copy(e.asm.buildOffsetBuf, e.asm.outputRecords); err != nil {
		return err
	}
	e.buildCopyTime.Add(int64(time.Since(start)))

	e.lastOutput = e.outBuilder.NewChunk()
	return nil
}

// FindTime returns accumulated time spent in HashTable.Find calls.
func (e *Engine) FindTime() time.Duration { return time.Duration(e.findTime.Load()) }

// ProbeCopyTime returns accumulated time spent copying probe-side output columns.
func (e *Engine) ProbeCopyTime() time.Duration { return time.Duration(e.probeCopyTime.Load()) }

// BuildCopyTime returns accumulated time spent copying build-side output columns.
func (e *Engine) BuildCopyTime() time.Duration { return time.Duration(e.buildCopyTime.Load()) }

// ProjectTime returns accumulated time spent in ProjectBuildNonMatches.
func (e *Engine) ProjectTime() time.Duration { return time.Duration(e.projectTime.Load()) }

// Close releases the engine's owned buffers. It is idempotent: calling
// Close on an already-closed engine is a no-op.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.pibCap > 0 {
		e.alloc.Release(int64(e.pibCap) * 4)
		e.pibCap = 0
	}
	e.outBuilder.Release()
	e.logger.Debug("probe engine closed",
		zap.Int64("bytesConsumed", e.alloc.BytesConsumed()))
	return nil
}
