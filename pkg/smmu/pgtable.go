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

// WalkOutcome is the result of a page table walk.
type WalkOutcome struct {
	// Kind is PTEBlock if the walk ended on a block descriptor, PTEInvalid
	// if it hit an invalid descriptor and PTETable if every level held a
	// table (or page) descriptor.
	Kind PTEKind

	// Level is the level of the last descriptor read.
	Level int

	// PTE is the last descriptor read.
	PTE PTE

	// Base is the output address for PTEBlock and PTETable. The IOVA's
	// offset within the block or page is not added.
	Base uint64

	// Shift is log2 of the size mapped by Base.
	Shift uint
}

// Size returns the number of bytes mapped by Base.
func (o WalkOutcome) Size() uint64 {
	if o.Kind == PTEInvalid {
		return 0
	}
	return 1 << o.Shift
}

// WalkPageTable walks the page table rooted at root for iova.
//
// The last level is not special-cased: a descriptor with bits [1:0] == 0b11
// is followed as a table at every level, and the walk ends after Levels such
// descriptors with Base set to the final address.
func (w *Walker) WalkPageTable(root, iova uint64) (WalkOutcome, error) {
	table := root
	var out WalkOutcome
	for level := 0; level < w.geo.Levels; level++ {
		shift := w.geo.shift(level)
		addr := table + w.geo.index(iova, level)*pteSize
		v, err := w.readU64(addr)
		if err != nil {
			return WalkOutcome{}, fmt.Errorf("level %d descriptor: %w", level, err)
		}
		pte := PTE(v)
		out = WalkOutcome{Kind: pte.Kind(), Level: level, PTE: pte}
		rec := Record{
			Stage:  StagePageTable,
			Event:  EventPTE,
			Addr:   addr,
			Words:  []uint64{v},
			Fields: []Field{{"level", uint64(level)}, {"table", table}},
			Note:   fmt.Sprintf("LVL%d PTE: %#x", level, v),
		}

		switch out.Kind {
		case PTEBlock:
			out.Base = pte.BlockAddress(shift)
			out.Shift = shift
			rec.Note += ", block"
			w.record(rec)
			return out, nil
		case PTETable:
			table = pte.TableAddress()
			out.Base = table
			// Meaningful only once the last level has been read.
			out.Shift = shift
			w.record(rec)
		default:
			rec.Note += ", invalid"
			w.record(rec)
			return out, nil
		}
	}
	return out, nil
}
