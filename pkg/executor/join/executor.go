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
	"context"
	"sync"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/log"
	"github.com/pingcap/tidb-vecjoin/pkg/buildside"
	"github.com/pingcap/tidb-vecjoin/pkg/chunk"
	"github.com/pingcap/tidb-vecjoin/pkg/exec"
	"github.com/pingcap/tidb-vecjoin/pkg/probe"
	"github.com/pingcap/tidb-vecjoin/pkg/probemetrics"
	"go.uber.org/zap"
)

// Config is the construction-time configuration for a HashJoinExec,
// generalizing the planner-derived fields a real logical-plan-to-executor
// build step would fill in (build/probe key columns, join type, output
// schema and column projection).
type Config struct {
	Allocator memory.Allocator

	BuildSideExec exec.Executor
	ProbeSideExec exec.Executor

	BuildKeyCols []int
	ProbeKeyCols []int

	ProbeOutCols []int
	BuildOutCols []int

	JoinType       probe.JoinType
	OutputSchema   *arrow.Schema
	OutputCapacity int

	Concurrency  int
	EstBuildRows int

	Logger *zap.Logger
}

// HashJoinExec is a pull-based Executor wrapping the probe engine: Open
// spins up the build and probe fetch goroutines plus Concurrency join
// workers, Next drains the result channel, Close tears everything down.
// It implements exec.Executor.
type HashJoinExec struct {
	cfg Config

	ctx hashJoinCtx

	table *buildside.Table

	fetcher      probeSideTupleFetcher
	buildWorkers buildWorker

	wg sync.WaitGroup

	recorders []*probemetrics.Recorder

	opened bool
	closed bool
}

// NewHashJoinExec fills in defaults for an unset Concurrency,
// OutputCapacity and Logger and returns an unopened executor.
func NewHashJoinExec(cfg Config) (*HashJoinExec, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.OutputCapacity <= 0 {
		cfg.OutputCapacity = probe.BatchSize / 16
	}
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}
	return &HashJoinExec{cfg: cfg}, nil
}

// Open builds the hash table from the build side synchronously (the
// teacher package does this asynchronously with a background goroutine
// feeding buildside.Builder; a single Builder instance is not safe for
// concurrent PutChunk calls either way, so the fetch goroutine here feeds
// a channel drained by this same call before Open returns) and then
// launches the probe-side fetch and join worker goroutines.
func (e *HashJoinExec) Open(ctx context.Context) error {
	if err := e.cfg.BuildSideExec.Open(ctx); err != nil {
		return err
	}
	if err := e.cfg.ProbeSideExec.Open(ctx); err != nil {
		return err
	}

	e.ctx = hashJoinCtx{
		Concurrency:   uint(e.cfg.Concurrency),
		joinResultCh:  make(chan *hashjoinWorkerResult, e.cfg.Concurrency),
		closeCh:       make(chan struct{}),
		buildFinished: make(chan error, 1),
		logger:        e.cfg.Logger,
	}

	e.buildWorkers = buildWorker{BuildSideExec: e.cfg.BuildSideExec}
	buildChkCh := make(chan *chunk.Chunk, 1)
	buildErrCh := make(chan error, 1)
	go e.buildWorkers.fetchBuildSideRows(ctx, &e.ctx, buildChkCh, buildErrCh)

	builder := buildside.NewBuilder(e.cfg.Allocator, nil, e.cfg.BuildKeyCols, e.cfg.EstBuildRows, e.cfg.JoinType)
	var schemaSet bool
	for chk := range buildChkCh {
		if !schemaSet {
			builder = buildside.NewBuilder(e.cfg.Allocator, chk.Schema(), e.cfg.BuildKeyCols, e.cfg.EstBuildRows, e.cfg.JoinType)
			schemaSet = true
		}
		if err := builder.PutChunk(chk); err != nil {
			e.ctx.buildFinished <- err
			return err
		}
	}
	select {
	case err := <-buildErrCh:
		if err != nil {
			e.ctx.buildFinished <- err
			return err
		}
	default:
	}
	e.table = builder.Finish()
	e.ctx.buildFinished <- nil

	e.fetcher = probeSideTupleFetcher{ProbeSideExec: e.cfg.ProbeSideExec}
	e.fetcher.initialize(uint(e.cfg.Concurrency), e.ctx.joinResultCh)

	buildEmpty := func() bool { return len(e.table.Batches()) == 0 }
	canSkipIfEmpty := e.cfg.JoinType == probe.InnerJoin || e.cfg.JoinType == probe.RightOuterJoin

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.fetcher.fetchProbeSideChunks(ctx, &e.ctx, buildEmpty, canSkipIfEmpty)
	}()

	e.recorders = make([]*probemetrics.Recorder, e.cfg.Concurrency)
	for i := 0; i < e.cfg.Concurrency; i++ {
		e.recorders[i] = probemetrics.NewRecorder()
		engine, err := probe.NewEngine(probe.EngineParams{
			Allocator:      e.cfg.Allocator,
			BuildBatches:   e.table.Batches(),
			ProbeOutCols:   e.cfg.ProbeOutCols,
			BuildOutCols:   e.cfg.BuildOutCols,
			JoinType:       e.cfg.JoinType,
			BuildInfo:      e.table.BuildInfo(),
			Starts:         e.table.Starts(),
			HashTable:      e.table,
			OutputSchema:   e.cfg.OutputSchema,
			OutputCapacity: e.cfg.OutputCapacity,
			Logger:         e.cfg.Logger,
		})
		if err != nil {
			close(e.ctx.closeCh)
			e.wg.Wait()
			return err
		}

		worker := probeWorker{
			workerIdx:          uint(i),
			probeResultCh:      e.fetcher.probeResultChs[i],
			probeChkResourceCh: e.fetcher.probeChkResourceCh,
			joinResultCh:       e.ctx.joinResultCh,
			engine:             engine,
			table:              e.table,
			probeKeyCols:       e.cfg.ProbeKeyCols,
			isLastWorker:       i == e.cfg.Concurrency-1,
			projectsUnmatched:  e.cfg.JoinType.ProjectsUnmatchedBuild(),
			recorder:           e.recorders[i],
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			worker.run(&e.ctx)
		}()
	}

	go func() {
		e.wg.Wait()
		close(e.ctx.joinResultCh)
	}()

	e.opened = true
	return nil
}

// Next returns the next output chunk, or nil once every worker has
// finished (including the unmatched-build phase, where applicable).
func (e *HashJoinExec) Next(ctx context.Context) (*chunk.Chunk, error) {
	select {
	case res, ok := <-e.ctx.joinResultCh:
		if !ok {
			return nil, nil
		}
		if res.err != nil {
			e.ctx.finished.Store(true)
			return nil, res.err
		}
		return res.chk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close signals every worker goroutine to stop and waits for them to
// exit, then releases the build and probe side executors.
func (e *HashJoinExec) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.opened {
		close(e.ctx.closeCh)
		e.wg.Wait()
	}
	buildErr := e.cfg.BuildSideExec.Close()
	probeErr := e.cfg.ProbeSideExec.Close()
	if buildErr != nil {
		return buildErr
	}
	return probeErr
}
