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

// HashTableFinder is the single operation the probe engine consumes from
// the external hash table: write n hash-slot ids into pib, one per probe
// row, with NotFound for rows whose key has no match. Key pivoting and
// null-key handling happen inside Find and never leak into this
// interface; the probe engine only ever sees HSID values and the NotFound
// sentinel.
type HashTableFinder interface {
	Find(pib []HSID, n int) error
}
