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

// probeIndexBuffer is scratch storage holding, for each probe row of the
// current batch, the HSID the hash table found (or NotFound). It is grown
// on demand and never shrunk; whether to release it between probe batches
// is an operator-level policy decision, not a correctness concern (see
// design notes §9).
type probeIndexBuffer struct {
	slots []HSID
}

// ensure grows the buffer to at least n elements, preserving no content
// (the buffer is always fully rewritten by the next Find call). Returns
// ErrOOM if the tracker refuses the allocation.
func (p *probeIndexBuffer) ensure(tracker bytesAllocator, n int) error {
	if len(p.slots) >= n {
		return nil
	}
	buf, err := tracker.allocateHSIDs(n)
	if err != nil {
		return ErrOOM.GenWithStackByArgs(err.Error())
	}
	p.slots = buf
	return nil
}

func (p *probeIndexBuffer) at(i int) HSID {
	return p.slots[i]
}

// bytesAllocator is the one operation probeIndexBuffer needs to grow:
// allocating n HSIDs with their bytes accounted. *Engine implements it,
// accounting the bytes against its memtrack.Tracker.
type bytesAllocator interface {
	allocateHSIDs(n int) ([]HSID, error)
}
