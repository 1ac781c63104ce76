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

import (
	"fmt"

	"gvisor.dev/smmuwalk/pkg/bits"
)

const (
	// steSize is the size of a Stream Table Entry in bytes.
	steSize = 64

	// l1DescSize is the size of a level-1 table descriptor in bytes.
	l1DescSize = 8
)

// StreamTableFormat is STRTAB_BASE_CFG.FMT.
type StreamTableFormat uint8

// Stream Table formats.
const (
	StreamTableLinear   StreamTableFormat = 0
	StreamTableTwoLevel StreamTableFormat = 1
)

// String implements fmt.Stringer.
func (f StreamTableFormat) String() string {
	switch f {
	case StreamTableLinear:
		return "linear"
	case StreamTableTwoLevel:
		return "2-level"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(f))
	}
}

// StreamTable describes the Stream Table configured in the SMMU.
type StreamTable struct {
	Base    uint64
	Format  StreamTableFormat
	Split   uint
	SIDBits uint
}

// LocateSTE returns the Stream Table Entry for sid. It does not look at the
// entry's contents; see InterpretSTE.
//
// Formats other than 2-level are walked as linear tables.
func (w *Walker) LocateSTE(st StreamTable, sid uint64) (STE, error) {
	if sid >= 1<<st.SIDBits {
		w.record(Record{
			Stage:  StageStreamTable,
			Event:  EventStop,
			Fields: []Field{{"SID", sid}, {"LOG2SIZE", uint64(st.SIDBits)}},
			Note:   fmt.Sprintf("sid is too large: max=%#x", uint64(1)<<st.SIDBits-1),
		})
		return STE{}, fmt.Errorf("%w: %#x >= 1<<%d (STRTAB_BASE_CFG.LOG2SIZE)", ErrStreamIDOutOfRange, sid, st.SIDBits)
	}

	var (
		table  = st.Base
		window = w.pageSize
		off    = sid * steSize
	)
	if st.Format == StreamTableTwoLevel {
		w.record(Record{
			Stage: StageStreamTable,
			Event: EventStreamTable,
			Addr:  st.Base,
			Fields: []Field{
				{"FMT", uint64(st.Format)},
				{"SPLIT", uint64(st.Split)},
				{"LOG2SIZE", uint64(st.SIDBits)},
			},
			Note: "Level 1 STE table base",
		})

		descAddr := st.Base + (sid>>st.Split)*l1DescSize
		desc, err := w.readU64(descAddr)
		if err != nil {
			return STE{}, fmt.Errorf("level 1 stream table descriptor: %w", err)
		}
		table = address(desc, 6)
		window = 1 << (st.Split + 6)
		off %= window
		w.record(Record{
			Stage:  StageStreamTable,
			Event:  EventL1StreamDesc,
			Addr:   descAddr,
			Words:  []uint64{desc},
			Fields: []Field{{"SPAN", bits.Field64(desc, 0, 5)}, {"L2PTR", table}},
		})
		w.record(Record{
			Stage: StageStreamTable,
			Event: EventL2StreamTable,
			Addr:  table,
			Note:  "Level 2 STE table base",
		})
	} else {
		w.record(Record{
			Stage: StageStreamTable,
			Event: EventStreamTable,
			Addr:  st.Base,
			Fields: []Field{
				{"FMT", uint64(st.Format)},
				{"LOG2SIZE", uint64(st.SIDBits)},
			},
			Note: "Linear STE table base",
		})
	}

	words, addr, err := w.readEntry(table, window, off)
	if err != nil {
		return STE{}, fmt.Errorf("stream table entry %#x: %w", sid, err)
	}
	ste := STE(words)
	w.record(Record{
		Stage: StageSTE,
		Event: EventSTE,
		Addr:  addr,
		Words: ste[:],
	})
	return ste, nil
}
