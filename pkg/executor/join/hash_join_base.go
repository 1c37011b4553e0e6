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

// Package join is the operator driver shell surrounding the vectorized
// probe engine (pkg/probe): a background build-side fetch goroutine, a
// background probe-side fetch goroutine fanning chunks out to concurrent
// join workers, and the result-channel plumbing a pull-based Executor
// exposes to its parent.
package join

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
	"github.com/pingcap/tidb-vecjoin/pkg/exec"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// hashjoinWorkerResult stores one output chunk produced by a join worker,
// or a terminal error. It carries no chunk-reuse channel back to the
// worker: pkg/chunk batches are immutable Arrow arrays sealed once by a
// Builder, so there is nothing to hand back for in-place reuse the way
// the teacher's mutable util/chunk.Chunk supports.
type hashjoinWorkerResult struct {
	chk *chunk.Chunk
	err error
}

// hashJoinCtx is shared state visible to every goroutine of one join
// execution: concurrency, the result/close channels, the finished flag,
// the build-finished channel and the logger. It is the direct
// generalization of hashJoinCtxBase, without the tidb-internal
// SessCtx/ChunkAllocPool/memory.Tracker fields; it carries no memory
// tracker.
type hashJoinCtx struct {
	Concurrency uint

	joinResultCh chan *hashjoinWorkerResult
	closeCh      chan struct{}
	finished     atomic.Bool

	buildFinished chan error

	logger *zap.Logger
}

// probeChkResource is the backpressure token the probe-side fetcher hands
// out and join workers return once they have drained the chunk routed to
// their worker index. Bounding outstanding tokens to Concurrency keeps the
// fetcher from running arbitrarily far ahead of the workers, the same
// role probeChkResource plays in the teacher package even though there it
// also carries a reusable chunk.
type probeChkResource struct {
	workerIdx uint
}

// probeSideTupleFetcher pulls chunks from the probe-side child executor
// in a background goroutine and fans them out to probeResultChs, one
// channel per join worker, each chunk going to the worker whose resource
// token the fetcher received next.
type probeSideTupleFetcher struct {
	ProbeSideExec exec.Executor

	probeChkResourceCh chan *probeChkResource
	probeResultChs     []chan *chunk.Chunk
	joinResultCh       chan *hashjoinWorkerResult
}

func (fetcher *probeSideTupleFetcher) initialize(concurrency uint, joinResultCh chan *hashjoinWorkerResult) {
	fetcher.probeResultChs = make([]chan *chunk.Chunk, concurrency)
	for i := range fetcher.probeResultChs {
		fetcher.probeResultChs[i] = make(chan *chunk.Chunk, 1)
	}
	fetcher.probeChkResourceCh = make(chan *probeChkResource, concurrency)
	for i := uint(0); i < concurrency; i++ {
		fetcher.probeChkResourceCh <- &probeChkResource{workerIdx: i}
	}
	fetcher.joinResultCh = joinResultCh
}

func (fetcher *probeSideTupleFetcher) handlePanic(r any) {
	for _, ch := range fetcher.probeResultChs {
		close(ch)
	}
	if r != nil {
		fetcher.joinResultCh <- &hashjoinWorkerResult{err: getRecoverError(r)}
	}
}

// wait4BuildSide blocks until the build side has finished (or the
// executor is closed), returning whether the probe phase can be skipped
// entirely: the build side errored, the executor closed first, or the
// build side is empty and the join type can never produce rows from an
// empty build side (INNER, RIGHT — LEFT and FULL must still emit
// unmatched probe rows).
func wait4BuildSide(hashJoinCtx *hashJoinCtx, buildEmpty func() bool, canSkipIfBuildEmpty bool) (skipProbe bool) {
	var err error
	select {
	case <-hashJoinCtx.closeCh:
		return true
	case err = <-hashJoinCtx.buildFinished:
	}
	if err != nil {
		hashJoinCtx.joinResultCh <- &hashjoinWorkerResult{err: err}
		return true
	}
	if canSkipIfBuildEmpty && buildEmpty() {
		return true
	}
	return false
}

// fetchProbeSideChunks is the probe-side fetch goroutine body: pull
// chunks from ProbeSideExec and hand each to the next free worker slot,
// respecting backpressure from probeChkResourceCh.
func (fetcher *probeSideTupleFetcher) fetchProbeSideChunks(ctx context.Context, hashJoinCtx *hashJoinCtx, buildEmpty func() bool, canSkipIfBuildEmpty bool) {
	defer func() {
		if r := recover(); r != nil {
			fetcher.handlePanic(r)
		}
	}()

	waitedForBuild := false
	for {
		var resource *probeChkResource
		var ok bool
		select {
		case <-hashJoinCtx.closeCh:
			for _, ch := range fetcher.probeResultChs {
				close(ch)
			}
			return
		case resource, ok = <-fetcher.probeChkResourceCh:
			if !ok {
				return
			}
		}

		chk, err := fetcher.ProbeSideExec.Next(ctx)
		failpoint.Inject("ConsumeRandomPanic", nil)
		if err != nil {
			hashJoinCtx.joinResultCh <- &hashjoinWorkerResult{err: err}
			for _, ch := range fetcher.probeResultChs {
				close(ch)
			}
			return
		}

		if !waitedForBuild {
			if wait4BuildSide(hashJoinCtx, buildEmpty, canSkipIfBuildEmpty) {
				for _, ch := range fetcher.probeResultChs {
					close(ch)
				}
				return
			}
			waitedForBuild = true
		}

		if chk == nil {
			for _, ch := range fetcher.probeResultChs {
				close(ch)
			}
			return
		}

		fetcher.probeResultChs[resource.workerIdx] <- chk
	}
}

// buildWorker pulls every chunk from the build-side executor and feeds it
// to chkCh; one background goroutine, matching the single build-fetch
// goroutine in the teacher package (buildside.Builder is not safe for
// concurrent PutChunk calls).
type buildWorker struct {
	BuildSideExec exec.Executor
}

func (w *buildWorker) fetchBuildSideRows(ctx context.Context, hashJoinCtx *hashJoinCtx, chkCh chan<- *chunk.Chunk, errCh chan<- error) {
	defer close(chkCh)
	defer func() {
		if r := recover(); r != nil {
			errCh <- getRecoverError(r)
		}
	}()

	failpoint.Inject("errorFetchBuildSideRowsMockOOMPanic", nil)

	for {
		if hashJoinCtx.finished.Load() {
			return
		}
		chk, err := w.BuildSideExec.Next(ctx)
		if err != nil {
			errCh <- errors.Trace(err)
			return
		}
		if chk == nil {
			return
		}
		select {
		case <-hashJoinCtx.closeCh:
			return
		case chkCh <- chk:
		}
	}
}

// getRecoverError adapts a recover() value into an error, the equivalent
// of util.GetRecoverError in the teacher package.
func getRecoverError(r any) error {
	if err, ok := r.(error); ok {
		return errors.Trace(err)
	}
	return errors.Errorf("join worker panic: %v", r)
}
