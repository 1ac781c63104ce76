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

// cdSize is the size of a Context Descriptor in bytes.
const cdSize = 64

// CDFormat is STE.S1Fmt.
type CDFormat uint8

// Context Descriptor table formats.
const (
	CDLinear      CDFormat = 0
	CDTwoLevel4K  CDFormat = 1
	CDTwoLevel64K CDFormat = 2
)

// String implements fmt.Stringer.
func (f CDFormat) String() string {
	switch f {
	case CDLinear:
		return "linear"
	case CDTwoLevel4K:
		return "2-level/4K"
	case CDTwoLevel64K:
		return "2-level/64K"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(f))
	}
}

// leafSpan returns the size in bytes of a level-2 table for two level
// formats, or 0 for a linear table.
func (f CDFormat) leafSpan() uint64 {
	switch f {
	case CDTwoLevel4K:
		return 0x1000
	case CDTwoLevel64K:
		return 0x10000
	default:
		return 0
	}
}

// ContextTable describes the Context Descriptor table of an STE.
type ContextTable struct {
	Base   uint64
	Format CDFormat
	CDMax  uint
}

// LocateCD returns the Context Descriptor for ssid and the SubstreamID that
// was actually used. When the table holds a single descriptor (CDMax == 0)
// the SubstreamID is forced to 0 whatever the caller asked for; the trace
// records the override.
//
// The reserved format 3 is walked as a linear table.
func (w *Walker) LocateCD(ct ContextTable, ssid uint64) (CD, uint64, error) {
	var (
		table  = ct.Base
		window = w.pageSize
		off    uint64
	)
	switch {
	case ct.CDMax == 0:
		w.record(Record{
			Stage: StageContextTable,
			Event: EventContextTable,
			Addr:  ct.Base,
			Note:  "One CD base",
		})
		if ssid != 0 {
			w.record(Record{
				Stage:  StageContextTable,
				Event:  EventSubstreamForced,
				Fields: []Field{{"SSID", ssid}},
				Note:   "S1CDMax=0, substream is disabled, force ssid to zero",
			})
			ssid = 0
		}

	case ssid >= 1<<ct.CDMax:
		w.record(Record{
			Stage:  StageContextTable,
			Event:  EventStop,
			Fields: []Field{{"SSID", ssid}, {"S1CDMax", uint64(ct.CDMax)}},
			Note:   fmt.Sprintf("ssid is too large: max=%#x", uint64(1)<<ct.CDMax-1),
		})
		return CD{}, ssid, fmt.Errorf("%w: %#x >= 1<<%d (STE.S1CDMax)", ErrSubstreamIDOutOfRange, ssid, ct.CDMax)

	case ct.Format.leafSpan() != 0:
		span := ct.Format.leafSpan()
		w.record(Record{
			Stage:  StageContextTable,
			Event:  EventContextTable,
			Addr:   ct.Base,
			Fields: []Field{{"S1Fmt", uint64(ct.Format)}, {"S1CDMax", uint64(ct.CDMax)}},
			Note:   "Level 1 CD table base",
		})
		descAddr := ct.Base + (ssid/(span/cdSize))*l1DescSize
		desc, err := w.readU64(descAddr)
		if err != nil {
			return CD{}, ssid, fmt.Errorf("level 1 context descriptor: %w", err)
		}
		table = address(desc, 12)
		window = span
		off = (ssid * cdSize) % span
		w.record(Record{
			Stage:  StageContextTable,
			Event:  EventL1ContextDesc,
			Addr:   descAddr,
			Words:  []uint64{desc},
			Fields: []Field{{"V", bits.Field64(desc, 0, 1)}, {"L2PTR", table}},
		})
		w.record(Record{
			Stage: StageContextTable,
			Event: EventL2ContextTable,
			Addr:  table,
			Note:  "Level 2 CD table base",
		})

	default:
		w.record(Record{
			Stage:  StageContextTable,
			Event:  EventContextTable,
			Addr:   ct.Base,
			Fields: []Field{{"S1Fmt", uint64(ct.Format)}, {"S1CDMax", uint64(ct.CDMax)}},
			Note:   "Linear CD table base",
		})
		off = ssid * cdSize
	}

	words, addr, err := w.readEntry(table, window, off)
	if err != nil {
		return CD{}, ssid, fmt.Errorf("context descriptor %#x: %w", ssid, err)
	}
	cd := CD(words)
	w.record(Record{
		Stage:  StageCD,
		Event:  EventCD,
		Addr:   addr,
		Words:  cd[:],
		Fields: []Field{{"SSID", ssid}},
	})
	return cd, ssid, nil
}
