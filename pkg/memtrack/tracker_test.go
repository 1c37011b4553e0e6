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

package memtrack_test

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pingcap/tidb-vecjoin/pkg/memtrack"
	"github.com/stretchr/testify/require"
)

func TestTracker_ConsumeRelease(t *testing.T) {
	tr := memtrack.NewTracker("t", memory.NewGoAllocator())
	require.NoError(t, tr.Consume(100))
	require.EqualValues(t, 100, tr.BytesConsumed())
	tr.Release(40)
	require.EqualValues(t, 60, tr.BytesConsumed())
}

func TestTracker_WithLimit(t *testing.T) {
	tr := memtrack.NewTracker("t", memory.NewGoAllocator()).WithLimit(100)
	require.NoError(t, tr.Consume(80))
	require.Error(t, tr.Consume(30))
	require.EqualValues(t, 80, tr.BytesConsumed())
}

func TestTracker_Allocator(t *testing.T) {
	alloc := memory.NewGoAllocator()
	tr := memtrack.NewTracker("t", alloc)
	require.Same(t, alloc, tr.Allocator())
}
