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

// Package probemetrics mirrors the probe engine's raw nanosecond
// accumulators (Engine.FindTime, ProbeCopyTime, BuildCopyTime,
// ProjectTime) into Prometheus histograms, so the four phases of the
// probe loop show up on the same dashboards as every other stage of the
// execution engine.
package probemetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var phaseDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tidb_vecjoin",
		Subsystem: "probe",
		Name:      "phase_duration_seconds",
		Help:      "Time spent in each phase of the vectorized hash-join probe engine.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 16),
	},
	[]string{"phase"},
)

var outputRows = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tidb_vecjoin",
		Subsystem: "probe",
		Name:      "output_rows_total",
		Help:      "Output rows emitted by the probe engine, by phase.",
	},
	[]string{"phase"},
)

func init() {
	prometheus.MustRegister(phaseDuration, outputRows)
}

// EngineSnapshot is the subset of *probe.Engine's accessor surface this
// package observes; declared locally so probemetrics does not need to
// import pkg/probe just to accept an *Engine by value.
type EngineSnapshot interface {
	FindTime() time.Duration
	ProbeCopyTime() time.Duration
	BuildCopyTime() time.Duration
	ProjectTime() time.Duration
}

// lastObserved tracks the cumulative accumulator values already reported,
// so Observe can be called repeatedly with the engine's monotonically
// growing totals and only report the deltas as histogram samples.
type lastObserved struct {
	find, probeCopy, buildCopy, project time.Duration
}

// Recorder wraps one engine's cumulative timings, reporting only the
// incremental time spent since the previous Observe call.
type Recorder struct {
	prev lastObserved
}

// NewRecorder creates a Recorder with a zeroed baseline.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Observe reports the incremental time spent in each phase since the last
// call. Output row counts are recorded separately by ObserveOutputRows.
func (r *Recorder) Observe(e EngineSnapshot) {
	observeDelta("find", e.FindTime(), &r.prev.find)
	observeDelta("probe_copy", e.ProbeCopyTime(), &r.prev.probeCopy)
	observeDelta("build_copy", e.BuildCopyTime(), &r.prev.buildCopy)
	observeDelta("project", e.ProjectTime(), &r.prev.project)
}

func observeDelta(phase string, total time.Duration, prev *time.Duration) {
	delta := total - *prev
	*prev = total
	if delta <= 0 {
		return
	}
	phaseDuration.WithLabelValues(phase).Observe(delta.Seconds())
}

// ObserveOutputRows records n output rows emitted during phase
// ("probe_batch" or "project_build_non_matches").
func ObserveOutputRows(phase string, n int) {
	if n <= 0 {
		return
	}
	outputRows.WithLabelValues(phase).Add(float64(n))
}
