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

import "github.com/bits-and-blooms/bitset"

// MatchBitmap is one bit per row of a single build batch, set the first
// time that row participates in an output match. Only maintained when the
// join type projects unmatched build rows (RIGHT, FULL). Mutated only
// during probing; read only by the unmatched-build emitter afterward.
type MatchBitmap struct {
	bits *bitset.BitSet
}

// NewMatchBitmap allocates a cleared bitmap with capacity for at least n
// bits.
func NewMatchBitmap(n int) *MatchBitmap {
	return &MatchBitmap{bits: bitset.New(uint(n))}
}

// Set marks build row idx as matched. Idempotent.
func (m *MatchBitmap) Set(idx uint16) {
	m.bits.Set(uint(idx))
}

// Test reports whether build row idx has been matched.
func (m *MatchBitmap) Test(idx uint16) bool {
	return m.bits.Test(uint(idx))
}

// nextClearBit returns the smallest index >= from that is clear, or -1 if
// no such index exists within [0, limit). This is the scan primitive the
// unmatched-build emitter uses to walk never-matched build rows without
// materializing the complement set.
func (m *MatchBitmap) nextClearBit(from, limit int) int {
	next, ok := m.bits.NextClear(uint(from))
	if !ok || int(next) >= limit {
		return -1
	}
	return int(next)
}
