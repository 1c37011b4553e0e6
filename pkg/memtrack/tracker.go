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

// Package memtrack provides byte-accurate memory accounting for borrowed
// arrow/memory.Allocator handles, in the spirit of the memTracker
// *memory.Tracker field already carried by hashJoinCtxBase in the teacher
// package.
package memtrack

import (
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Tracker accounts bytes consumed against an optional ceiling, and exposes
// the backing arrow.Allocator so owners can still perform real
// allocations. A zero limit means unlimited, the default for production
// use; tests set a limit to deterministically exercise the probe engine's
// resource-exhaustion error path.
type Tracker struct {
	label    string
	alloc    memory.Allocator
	consumed atomic.Int64
	limit    int64
}

// NewTracker creates a Tracker labeled label, delegating real allocations
// to alloc.
func NewTracker(label string, alloc memory.Allocator) *Tracker {
	return &Tracker{label: label, alloc: alloc}
}

// WithLimit caps the tracker at limit bytes; Consume fails once exceeded.
// Returns the receiver for chaining at construction time.
func (t *Tracker) WithLimit(limit int64) *Tracker {
	t.limit = limit
	return t
}

// Allocator returns the borrowed allocator backing this tracker.
func (t *Tracker) Allocator() memory.Allocator {
	return t.alloc
}

// Consume records bytes additional consumption, failing if it would push
// the tracker over its limit.
func (t *Tracker) Consume(bytes int64) error {
	if t.limit > 0 {
		if t.consumed.Load()+bytes > t.limit {
			return errors.Errorf("memtrack: %s exceeded limit: %d/%d bytes requested, already consumed %d",
				t.label, bytes, t.limit, t.consumed.Load())
		}
	}
	t.consumed.Add(bytes)
	return nil
}

// Release records bytes being freed.
func (t *Tracker) Release(bytes int64) {
	t.consumed.Sub(bytes)
}

// BytesConsumed reports the tracker's current accounted consumption.
func (t *Tracker) BytesConsumed() int64 {
	return t.consumed.Load()
}
