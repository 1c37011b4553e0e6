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

import "encoding/binary"

// encodeCBI writes c into buf[off:off+BuildRecordLinkSize] as 4 bytes
// little-endian batchIdx followed by 2 bytes little-endian rowIdx. The
// all-ones sentinel is written as six 0xFF bytes.
func encodeCBI(buf []byte, off int, c CBI) {
	if c == noCBI {
		for i := 0; i < BuildRecordLinkSize; i++ {
			buf[off+i] = 0xFF
		}
		return
	}
	binary.LittleEndian.PutUint32(buf[off:], c.BatchIdx())
	binary.LittleEndian.PutUint16(buf[off+4:], c.RowIdx())
}

// decodeCBI reads a CBI from buf[off:off+BuildRecordLinkSize].
func decodeCBI(buf []byte, off int) CBI {
	batchIdx := binary.LittleEndian.Uint32(buf[off:])
	rowIdx := binary.LittleEndian.Uint16(buf[off+4:])
	if batchIdx == 0xFFFFFFFF && rowIdx == 0xFFFF {
		return noCBI
	}
	return NewCBI(batchIdx, rowIdx)
}

// chainWalker traverses a build-row chain starting from a hash slot,
// reading from the borrowed starts/links tables. It performs no
// allocation; each call to first/next reads exactly one BuildRecordLinkSize
// record.
type chainWalker struct {
	starts    [][]byte
	buildInfo []BuildInfo
}

// first returns the head CBI of the chain for hash slot s, or noCBI if the
// slot index falls outside the starts table (treated as "no matching
// key", matching the sentinel contract rather than panicking on a
// well-formed but otherwise-empty table).
func (w *chainWalker) first(s HSID) CBI {
	b := s.StartsBatchIdx()
	if b < 0 || b >= len(w.starts) {
		return noCBI
	}
	off := s.StartsOffset() * BuildRecordLinkSize
	buf := w.starts[b]
	if off+BuildRecordLinkSize > len(buf) {
		return noCBI
	}
	return decodeCBI(buf, off)
}

// next returns the CBI following cur in its chain, or noCBI at the end of
// the chain. It returns an invariant-violation error if cur's batchIdx
// does not index a valid build batch, which would indicate build-side /
// probe-engine state corruption (§7, contract violation class).
func (w *chainWalker) next(cur CBI) (CBI, error) {
	b := int(cur.BatchIdx())
	if b < 0 || b >= len(w.buildInfo) {
		return noCBI, ErrInvariant.GenWithStackByArgs("chain walk batchIdx out of range")
	}
	off := int(cur.RowIdx()) * BuildRecordLinkSize
	buf := w.buildInfo[b].Links
	if off+BuildRecordLinkSize > len(buf) {
		return noCBI, ErrInvariant.GenWithStackByArgs("chain walk rowIdx out of range")
	}
	return decodeCBI(buf, off), nil
}
