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

// outputAssembler owns the two output index buffers and the running
// outputRecords count against the target batch size B. It never copies
// column data itself; at emit time the engine hands probeSv2 and
// buildOffsetBuf to the bound copiers.
type outputAssembler struct {
	// capacity is B, the target output records per batch.
	capacity int

	// probeSv2[i] is the probe-row index selected for output position i.
	probeSv2 []uint16

	// buildOffsetBuf holds capacity 6-byte cells; cell i is either Skip or
	// an encoded CBI.
	buildOffsetBuf []byte

	outputRecords int
}

func newOutputAssembler(capacity int) *outputAssembler {
	return &outputAssembler{
		capacity:       capacity,
		probeSv2:       make([]uint16, capacity),
		buildOffsetBuf: make([]byte, capacity*BuildRecordLinkSize),
	}
}

func (a *outputAssembler) full() bool {
	return a.outputRecords == a.capacity
}

func (a *outputAssembler) reset() {
	a.outputRecords = 0
}

// emit appends one output row pairing probe row probeIdx with build row
// build (Skip for "no build row; NULL-project build columns").
func (a *outputAssembler) emit(probeIdx uint16, build CBI) {
	i := a.outputRecords
	a.probeSv2[i] = probeIdx
	encodeCBI(a.buildOffsetBuf, i*BuildRecordLinkSize, build)
	a.outputRecords++
}
