// Copyright 2026 The gVisor Authors.
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

package smmu

import "fmt"

// Geometry describes how a page table walk consumes VA bits for one
// translation granule.
type Geometry struct {
	// Granule is the translation granule size in bytes.
	Granule uint64

	// Levels is the number of lookup levels.
	Levels int

	// StartShift is the lowest VA bit indexing the first level.
	StartShift uint

	// Stride is the number of VA bits each level resolves.
	Stride uint
}

// indexMask is applied to the table index at every level.
//
// This is only correct for the 4K granule. With a 64K granule each level
// resolves 13 bits, so indices above 511 alias into the first 512 entries of
// the table. Treat 64K results whose IOVA has any of the
// upper index bits set as suspect.
const indexMask = 0x1ff

var geometries = []Geometry{
	{Granule: 0x1000, Levels: 4, StartShift: 39, Stride: 9},
	{Granule: 0x10000, Levels: 3, StartShift: 42, Stride: 13},
}

// GeometryFor returns the geometry for the given granule.
func GeometryFor(granule uint64) (Geometry, error) {
	for _, g := range geometries {
		if g.Granule == granule {
			return g, nil
		}
	}
	return Geometry{}, fmt.Errorf("unsupported translation granule %#x", granule)
}

// shift returns the VA bit indexing the given level.
func (g Geometry) shift(level int) uint {
	return g.StartShift - uint(level)*g.Stride
}

// index returns the table index for iova at level.
func (g Geometry) index(iova uint64, level int) uint64 {
	return (iova >> g.shift(level)) & indexMask
}
