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

import "github.com/pingcap/errors"

// The probe engine distinguishes three error classes (see design notes
// §7): resource exhaustion, contract violation, and no error (normal
// control flow, including NotFound/end-of-chain/empty build side).

var (
	// ErrOOM is returned when the allocator refuses a buffer request, e.g.
	// growing the probe index buffer to 4*N bytes.
	ErrOOM = errors.Normalize("probe engine: out of memory: %s", errors.RFCCodeText("PROBE:OOM"))

	// ErrInvariant is returned when the engine detects a contract
	// violation or internal state corruption: N too large, a call after
	// Close, or a chain walk decoding a CBI whose batchIdx is out of range.
	// A second Close is a no-op and returns nil.
	ErrInvariant = errors.Normalize("probe engine: invariant violation: %s", errors.RFCCodeText("PROBE:Invariant"))
)

// maxProbeBatchRows is the contract limit on N passed to ProbeBatch: probe
// row indices are stored as uint16 in probeSv2, so N is at most 1<<16.
const maxProbeBatchRows = 1 << 16
