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

package join

import (
	"github.com/pingcap/tidb-vecjoin/pkg/buildside"
	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
	"github.com/pingcap/tidb-vecjoin/pkg/probe"
	"github.com/pingcap/tidb-vecjoin/pkg/probemetrics"
)

// probeWorker owns one *probe.Engine for the lifetime of the join: the
// engine's resumption cursors make it unsafe to share across goroutines,
// so each worker gets a private engine probing a disjoint partition of
// probe chunks against the shared, read-only build side (table.Find is
// read-only; only the per-batch match bitmaps are mutated, and today's
// default Concurrency of 1 is the only configuration this repository
// exercises end-to-end — see the concurrency design notes).
type probeWorker struct {
	workerIdx uint

	probeResultCh      <-chan *chunk.Chunk
	probeChkResourceCh chan<- *probeChkResource
	joinResultCh       chan<- *hashjoinWorkerResult

	engine       *probe.Engine
	table        *buildside.Table
	probeKeyCols []int

	isLastWorker      bool
	projectsUnmatched bool

	recorder *probemetrics.Recorder
}

// run is the join worker goroutine body: drain probeResultCh, probing
// each chunk to completion (handling mid-batch suspension), and, for the
// worker elected to run it, the terminal unmatched-build emission phase.
func (w *probeWorker) run(ctx *hashJoinCtx) {
	defer func() {
		if r := recover(); r != nil {
			ctx.joinResultCh <- &hashjoinWorkerResult{err: getRecoverError(r)}
		}
	}()

	for {
		var chk *chunk.Chunk
		var ok bool
		select {
		case <-ctx.closeCh:
			return
		case chk, ok = <-w.probeResultCh:
		}
		if !ok {
			break
		}

		if err := w.processChunk(ctx, chk); err != nil {
			ctx.joinResultCh <- &hashjoinWorkerResult{err: err}
			return
		}

		select {
		case <-ctx.closeCh:
			return
		case w.probeChkResourceCh <- &probeChkResource{workerIdx: w.workerIdx}:
		}
	}

	if w.isLastWorker && w.projectsUnmatched {
		if err := w.emitUnmatchedBuild(ctx); err != nil {
			ctx.joinResultCh <- &hashjoinWorkerResult{err: err}
		}
	}
}

// processChunk drives probe.Engine.ProbeBatch to completion for one
// probe-side chunk, forwarding every filled output batch (including
// partial ones produced by mid-batch suspension) to the result channel.
func (w *probeWorker) processChunk(ctx *hashJoinCtx, chk *chunk.Chunk) error {
	if err := w.engine.BindProbeBatch(chk); err != nil {
		return err
	}
	w.table.BindProbe(chk, w.probeKeyCols)

	n := chk.NumRows()
	for {
		count, err := w.engine.ProbeBatch(n)
		if err != nil {
			return err
		}
		w.recorder.Observe(w.engine)

		if out := w.engine.Output(); out != nil && out.NumRows() > 0 {
			probemetrics.ObserveOutputRows("probe_batch", out.NumRows())
			select {
			case <-ctx.closeCh:
				return nil
			case w.joinResultCh <- &hashjoinWorkerResult{chk: out}:
			}
		}

		if count >= 0 {
			return nil
		}
	}
}

// emitUnmatchedBuild drives probe.Engine.ProjectBuildNonMatches to
// completion, forwarding every filled output batch.
func (w *probeWorker) emitUnmatchedBuild(ctx *hashJoinCtx) error {
	for {
		count, err := w.engine.ProjectBuildNonMatches()
		if err != nil {
			return err
		}
		w.recorder.Observe(w.engine)

		if out := w.engine.Output(); out != nil && out.NumRows() > 0 {
			probemetrics.ObserveOutputRows("project_build_non_matches", out.NumRows())
			select {
			case <-ctx.closeCh:
				return nil
			case w.joinResultCh <- &hashjoinWorkerResult{chk: out}:
			}
		}

		if count >= 0 {
			return nil
		}
	}
}
