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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/smmuwalk/pkg/physmem"
)

// Physical layout of the simulated system.
const (
	smmuBase  = 0x0905_0000
	strtab    = 0x4000_0000
	strtabL2  = 0x4001_0000
	cdTable   = 0x4010_0000
	cdTableL2 = 0x4012_0000
	ptRoot    = 0x4020_0000
	ptL1      = 0x4020_1000
	ptL2      = 0x4020_2000
	ptL3      = 0x4020_3000
	page      = 0x8_1234_5000

	// testIOVA selects index 1 at every level of a 4K walk.
	testIOVA = 1<<39 | 1<<30 | 1<<21 | 1<<12 | 0x123

	cdV    = 1 << 31
	cdEPD0 = 1 << 30
	cdEPD1 = 1 << 14

	pteTable = 0x3
	pteAttrs = 1<<54 | 0x700
)

// system builds SMMU structures in a simulated physical address space.
type system struct {
	t   *testing.T
	mem *physmem.Sparse
}

func newSystem(t *testing.T) *system {
	s := &system{t: t, mem: physmem.NewSparse()}
	s.setRegisters(16, 20, true)
	s.linearStreamTable(8)
	return s
}

func (s *system) setRegisters(sidBits, ssidBits uint32, enabled bool) {
	s.mem.SetU32(smmuBase+IDR1Offset, ssidBits<<6|sidBits)
	cr0 := uint32(0)
	if enabled {
		cr0 = 1
	}
	s.mem.SetU32(smmuBase+CR0Offset, cr0)
	s.mem.SetU32(smmuBase+GBPAOffset, 1<<20)
}

func (s *system) linearStreamTable(log2Size uint32) {
	// RA set in STRTAB_BASE must be ignored.
	s.mem.SetU64(smmuBase+StrtabBaseOffset, 1<<62|strtab)
	s.mem.SetU32(smmuBase+StrtabBaseCfgOffset, log2Size)
}

func (s *system) twoLevelStreamTable(split, log2Size uint32) {
	s.mem.SetU64(smmuBase+StrtabBaseOffset, strtab)
	s.mem.SetU32(smmuBase+StrtabBaseCfgOffset, 1<<16|split<<6|log2Size)
}

func (s *system) setSTE(addr uint64, ste STE) {
	s.mem.SetWords(addr, ste[:]...)
}

func stage1STE(fmt CDFormat, cdMax uint, ctx uint64) STE {
	return STE{1 | uint64(STEConfigS1Translate)<<1 | uint64(fmt)<<4 | ctx | uint64(cdMax)<<59}
}

// mapPage installs a 4-level 4K mapping of testIOVA onto page.
func (s *system) mapPage() {
	s.mem.SetU64(ptRoot+8, ptL1|pteTable)
	s.mem.SetU64(ptL1+8, ptL2|pteTable)
	s.mem.SetU64(ptL2+8, ptL3|pteTable)
	s.mem.SetU64(ptL3+8, pteAttrs|page|pteTable)
}

func (s *system) translate(req Request) (*Result, *physmem.Counting) {
	s.t.Helper()
	c := &physmem.Counting{Reader: s.mem}
	res, err := Translate(c, 0x1000, smmuBase, req)
	if err != nil {
		s.t.Fatalf("Translate(%+v) failed: %v", req, err)
	}
	if c.Open != 0 {
		s.t.Errorf("%d windows left open", c.Open)
	}
	return res, c
}

func touched(c *physmem.Counting, start, end uint64) bool {
	for _, w := range c.Windows {
		if w.Addr < end && start < w.Addr+w.Size {
			return true
		}
	}
	return false
}

func TestRoundTrip(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab+5*steSize, stage1STE(CDLinear, 0, cdTable))
	s.mem.SetWords(cdTable, cdV|16, ptRoot|0x1, 0)
	s.mapPage()

	res, _ := s.translate(Request{StreamID: 5, IOVA: testIOVA})
	if res.Stop != StopNone {
		t.Fatalf("Stop = %v, want %v; trace: %+v", res.Stop, StopNone, res.Trace)
	}
	if res.Base != page || res.Size != 0x1000 || res.Level != 3 {
		t.Errorf("got base %#x size %#x level %d, want %#x 0x1000 3", res.Base, res.Size, res.Level, uint64(page))
	}

	want := []Event{
		EventRegisters,
		EventStreamTable,
		EventSTE,
		EventSTEConfig,
		EventContextTable,
		EventCD,
		EventTTB,
		EventPTE, EventPTE, EventPTE, EventPTE,
		EventResolved,
	}
	if diff := cmp.Diff(want, res.Trace.Events()); diff != "" {
		t.Errorf("trace events mismatch (-want +got):\n%s", diff)
	}
	if r, _ := res.Trace.Find(EventSTE); r.Addr != strtab+5*steSize {
		t.Errorf("STE read at %#x, want %#x", r.Addr, uint64(strtab+5*steSize))
	}
}

// Scenario C: a fully populated 4-level walk reports the last table
// descriptor's address with the low 12 bits cleared.
func TestFourLevelWalk(t *testing.T) {
	s := newSystem(t)
	s.mapPage()
	// Page offset bits in the leaf must not leak into the result.
	s.mem.SetU64(ptL3+8, pteAttrs|page|0xabc|pteTable)

	w, err := NewWalker(s.mem, 0x1000)
	if err != nil {
		t.Fatalf("NewWalker failed: %v", err)
	}
	out, err := w.WalkPageTable(ptRoot, testIOVA)
	if err != nil {
		t.Fatalf("WalkPageTable failed: %v", err)
	}
	want := WalkOutcome{Kind: PTETable, Level: 3, PTE: PTE(pteAttrs | page | 0xabc | pteTable), Base: page, Shift: 12}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("WalkPageTable mismatch (-want +got):\n%s", diff)
	}
}

func TestBlockTerminatesWalk(t *testing.T) {
	for _, tc := range []struct {
		name  string
		level int
		setup func(*physmem.Sparse)
		base  uint64
		size  uint64
		stop  uint64 // first table never read
	}{
		{
			name:  "1G block",
			level: 1,
			setup: func(m *physmem.Sparse) {
				m.SetU64(ptRoot+8, ptL1|pteTable)
				m.SetU64(ptL1+8, pteAttrs|0xc000_0000|0x10_0000|0x1)
			},
			base: 0xc000_0000,
			size: 1 << 30,
			stop: ptL2,
		},
		{
			name:  "2M block",
			level: 2,
			setup: func(m *physmem.Sparse) {
				m.SetU64(ptRoot+8, ptL1|pteTable)
				m.SetU64(ptL1+8, ptL2|pteTable)
				m.SetU64(ptL2+8, pteAttrs|0x8_0020_0000|0x1f_f000|0x1)
			},
			base: 0x8_0020_0000,
			size: 1 << 21,
			stop: ptL3,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newSystem(t)
			s.setSTE(strtab, stage1STE(CDLinear, 0, cdTable))
			s.mem.SetWords(cdTable, cdV, ptRoot)
			tc.setup(s.mem)
			// Poison the next level so descending would be noticed.
			s.mem.SetU64(tc.stop+8, ptL3|pteTable)

			res, c := s.translate(Request{IOVA: testIOVA})
			if res.Stop != StopBlock || res.Level != tc.level {
				t.Fatalf("got stop %v level %d, want %v level %d", res.Stop, res.Level, StopBlock, tc.level)
			}
			if res.Base != tc.base || res.Size != tc.size {
				t.Errorf("got base %#x size %#x, want %#x %#x", res.Base, res.Size, tc.base, tc.size)
			}
			if touched(c, tc.stop, tc.stop+0x1000) {
				t.Errorf("walk read table %#x below a block descriptor", tc.stop)
			}
		})
	}
}

func TestInvalidPTE(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab, stage1STE(CDLinear, 0, cdTable))
	s.mem.SetWords(cdTable, cdV, ptRoot)
	s.mem.SetU64(ptRoot+8, ptL1|pteTable)
	s.mem.SetU64(ptL1+8, ptL2|0x2)

	res, _ := s.translate(Request{IOVA: testIOVA})
	if res.Stop != StopPTEInvalid || res.Level != 1 {
		t.Errorf("got stop %v level %d, want %v level 1", res.Stop, res.Level, StopPTEInvalid)
	}
	if res.Stop.Resolved() {
		t.Errorf("invalid descriptor reported as resolved")
	}
}

// Scenario A.
func TestBypassSTE(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab+3*steSize, STE{1 | uint64(STEConfigBypass)<<1 | cdTable})
	s.mem.SetWords(cdTable, cdV, ptRoot)
	s.mapPage()

	res, c := s.translate(Request{StreamID: 3, IOVA: testIOVA})
	if res.Stop != StopBypass {
		t.Errorf("Stop = %v, want %v", res.Stop, StopBypass)
	}
	want := []physmem.WindowRecord{{Addr: smmuBase, Size: registerWindow}, {Addr: strtab, Size: 0x1000}}
	if diff := cmp.Diff(want, c.Windows); diff != "" {
		t.Errorf("windows mismatch (-want +got):\n%s", diff)
	}
}

// Scenario B.
func TestInvalidSTE(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab+3*steSize, stage1STE(CDLinear, 0, cdTable))
	s.mem.SetU64(strtab+3*steSize, stage1STE(CDLinear, 0, cdTable)[0]&^1)

	res, c := s.translate(Request{StreamID: 3, IOVA: testIOVA})
	if res.Stop != StopSTEInvalid {
		t.Errorf("Stop = %v, want %v", res.Stop, StopSTEInvalid)
	}
	if touched(c, cdTable, cdTable+0x1000) {
		t.Errorf("CD table read after invalid STE")
	}
}

func TestUnknownConfig(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab, STE{1 | 0b111<<1})

	res, _ := s.translate(Request{})
	if res.Stop != StopUnknownConfig {
		t.Errorf("Stop = %v, want %v", res.Stop, StopUnknownConfig)
	}
}

// Scenario D.
func TestBothTTBDisabled(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab, stage1STE(CDLinear, 0, cdTable))
	s.mem.SetWords(cdTable, cdV|cdEPD0|cdEPD1, ptRoot, ptRoot)
	s.mapPage()

	res, c := s.translate(Request{IOVA: testIOVA})
	if res.Stop != StopBothTTBDisabled {
		t.Errorf("Stop = %v, want %v", res.Stop, StopBothTTBDisabled)
	}
	if touched(c, ptRoot, ptL3+0x1000) {
		t.Errorf("page table read after both TTBs disabled: %+v", c.Windows)
	}
}

func TestInvalidCD(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab, stage1STE(CDLinear, 0, cdTable))
	s.mem.SetWords(cdTable, cdEPD1, ptRoot)

	res, c := s.translate(Request{IOVA: testIOVA})
	if res.Stop != StopCDInvalid {
		t.Errorf("Stop = %v, want %v", res.Stop, StopCDInvalid)
	}
	if touched(c, ptRoot, ptRoot+0x1000) {
		t.Errorf("page table read after invalid CD")
	}
}

func TestTTB1Selected(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab, stage1STE(CDLinear, 0, cdTable))
	// TTB0 points at garbage; only TTB1 leads to the mapping.
	s.mem.SetWords(cdTable, cdV|cdEPD0, 0x7000_0000, ptRoot|0xf)
	s.mapPage()

	res, _ := s.translate(Request{IOVA: testIOVA})
	if res.Stop != StopNone || res.Base != page {
		t.Errorf("got stop %v base %#x, want %v %#x", res.Stop, res.Base, StopNone, uint64(page))
	}
	if r, ok := res.Trace.Find(EventTTB); !ok || r.Addr != ptRoot {
		t.Errorf("TTB record %+v, want root %#x", r, uint64(ptRoot))
	}
}

func TestStage2(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab+7*steSize, STE{1 | uint64(STEConfigS2Translate)<<1 | cdTable, 0, 0, ptRoot | 0x5})
	s.mapPage()

	res, c := s.translate(Request{StreamID: 7, SubstreamID: 9, IOVA: testIOVA})
	if res.Stop != StopNone || res.Base != page {
		t.Errorf("got stop %v base %#x, want %v %#x", res.Stop, res.Base, StopNone, uint64(page))
	}
	if touched(c, cdTable, cdTable+0x1000) {
		t.Errorf("CD table read for stage-2 STE")
	}
	if _, ok := res.Trace.Find(EventCD); ok {
		t.Errorf("trace has a CD record for stage-2 STE")
	}
}

func TestSMMUDisabled(t *testing.T) {
	s := newSystem(t)
	s.setRegisters(16, 20, false)

	res, c := s.translate(Request{IOVA: testIOVA})
	if res.Stop != StopSMMUDisabled {
		t.Fatalf("Stop = %v, want %v", res.Stop, StopSMMUDisabled)
	}
	r, ok := res.Trace.Find(EventSMMUDisabled)
	if !ok {
		t.Fatalf("no %s record in trace", EventSMMUDisabled)
	}
	if gbpa, _ := r.Field("GBPA"); gbpa != 1<<20 {
		t.Errorf("GBPA = %#x, want %#x", gbpa, 1<<20)
	}
	if len(c.Windows) != 1 {
		t.Errorf("got %d windows, want only the register window", len(c.Windows))
	}
}

func TestStreamIDOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		name    string
		sidBits uint32
		log2    uint32
		sid     uint64
	}{
		{"IDR1", 8, 16, 0x100},
		{"STRTAB_BASE_CFG", 16, 8, 0x100},
		{"STRTAB_BASE_CFG max", 16, 8, 0xffff},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newSystem(t)
			s.setRegisters(tc.sidBits, 20, true)
			s.linearStreamTable(tc.log2)

			res, c := s.translate(Request{StreamID: tc.sid})
			if res.Stop != StopStreamIDOutOfRange {
				t.Errorf("Stop = %v, want %v", res.Stop, StopStreamIDOutOfRange)
			}
			if len(c.Windows) != 1 {
				t.Errorf("got windows %+v, want only the register window", c.Windows)
			}
		})
	}
}

func TestSubstreamIDOutOfRange(t *testing.T) {
	s := newSystem(t)
	s.setRegisters(16, 4, true)
	res, _ := s.translate(Request{SubstreamID: 0x10})
	if res.Stop != StopSubstreamIDOutOfRange {
		t.Errorf("IDR1 limit: Stop = %v, want %v", res.Stop, StopSubstreamIDOutOfRange)
	}

	s = newSystem(t)
	s.setSTE(strtab, stage1STE(CDLinear, 4, cdTable))
	res, c := s.translate(Request{SubstreamID: 0x10})
	if res.Stop != StopSubstreamIDOutOfRange {
		t.Errorf("S1CDMax limit: Stop = %v, want %v", res.Stop, StopSubstreamIDOutOfRange)
	}
	if touched(c, cdTable, cdTable+0x1000) {
		t.Errorf("CD table read for out of range SubstreamID")
	}
}

func TestSingleCDForcesSubstreamZero(t *testing.T) {
	for _, ssid := range []uint64{0, 1, 0x55, 0xfffff} {
		s := newSystem(t)
		s.setSTE(strtab, stage1STE(CDLinear, 0, cdTable))
		s.mem.SetWords(cdTable, cdV, ptRoot)
		// A CD at the requested SubstreamID must never be used.
		s.mem.SetWords(cdTable+0x40, cdV|cdEPD0|cdEPD1)
		s.mapPage()

		res, _ := s.translate(Request{SubstreamID: ssid, IOVA: testIOVA})
		if res.Stop != StopNone || res.SubstreamID != 0 || res.Base != page {
			t.Errorf("ssid %#x: got stop %v ssid %#x base %#x, want %v 0 %#x", ssid, res.Stop, res.SubstreamID, res.Base, StopNone, uint64(page))
		}
		if r, _ := res.Trace.Find(EventCD); r.Addr != cdTable {
			t.Errorf("ssid %#x: CD read at %#x, want %#x", ssid, r.Addr, uint64(cdTable))
		}
		if _, forced := res.Trace.Find(EventSubstreamForced); forced != (ssid != 0) {
			t.Errorf("ssid %#x: substream-forced record present = %t", ssid, forced)
		}
	}
}

func TestContextTableFormats(t *testing.T) {
	for _, tc := range []struct {
		name   string
		fmt    CDFormat
		cdMax  uint
		ssid   uint64
		l1     uint64 // level 1 descriptor address, 0 for linear
		cdAddr uint64
	}{
		{"linear", CDLinear, 4, 3, 0, cdTable + 3*cdSize},
		{"linear second page", CDLinear, 8, 0x47, 0, cdTable + 0x47*cdSize},
		{"reserved format is linear", 3, 8, 0x47, 0, cdTable + 0x47*cdSize},
		{"2-level 4K", CDTwoLevel4K, 8, 0x47, cdTable + 8, cdTableL2 + 0x1c0},
		{"2-level 64K", CDTwoLevel64K, 16, 0x4a5, cdTable + 8, cdTableL2 + 0x2940},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newSystem(t)
			s.setSTE(strtab, stage1STE(tc.fmt, tc.cdMax, cdTable))
			if tc.l1 != 0 {
				s.mem.SetU64(tc.l1, cdTableL2|0x1)
			}
			s.mem.SetWords(tc.cdAddr, cdV, ptRoot)
			s.mapPage()

			res, _ := s.translate(Request{SubstreamID: tc.ssid, IOVA: testIOVA})
			if res.Stop != StopNone || res.Base != page {
				t.Fatalf("got stop %v base %#x, want %v %#x; trace %+v", res.Stop, res.Base, StopNone, uint64(page), res.Trace)
			}
			if r, _ := res.Trace.Find(EventCD); r.Addr != tc.cdAddr {
				t.Errorf("CD read at %#x, want %#x", r.Addr, tc.cdAddr)
			}
			if r, ok := res.Trace.Find(EventL2ContextTable); ok != (tc.l1 != 0) || (ok && r.Addr != cdTableL2) {
				t.Errorf("level 2 CD table record %+v, want present=%t", r, tc.l1 != 0)
			}
		})
	}
}

// Linear and 2-level Stream Tables holding the same entry for a StreamID
// must decode identically.
func TestStreamTableFormatsAgree(t *testing.T) {
	const sid = 0x85
	ste := stage1STE(CDLinear, 0, cdTable)

	linear := newSystem(t)
	linear.setSTE(strtab+sid*steSize, ste)

	twoLevel := newSystem(t)
	twoLevel.twoLevelStreamTable(6, 16)
	twoLevel.mem.SetU64(strtab+(sid>>6)*8, strtabL2|7)
	twoLevel.setSTE(strtabL2+(sid*steSize)%(1<<12), ste)

	var outcomes []STEOutcome
	for _, s := range []*system{linear, twoLevel} {
		w, err := NewWalker(s.mem, 0x1000)
		if err != nil {
			t.Fatalf("NewWalker failed: %v", err)
		}
		regs, err := w.Probe(smmuBase)
		if err != nil {
			t.Fatalf("Probe failed: %v", err)
		}
		got, err := w.LocateSTE(regs.StreamTable(), sid)
		if err != nil {
			t.Fatalf("LocateSTE failed: %v", err)
		}
		if got != ste {
			t.Errorf("LocateSTE = %#x, want %#x", got, ste)
		}
		outcomes = append(outcomes, InterpretSTE(got))
	}
	if diff := cmp.Diff(outcomes[0], outcomes[1]); diff != "" {
		t.Errorf("linear and 2-level outcomes differ (-linear +2-level):\n%s", diff)
	}

	res, _ := twoLevel.translate(Request{StreamID: sid})
	if r, ok := res.Trace.Find(EventL2StreamTable); !ok || r.Addr != strtabL2 {
		t.Errorf("level 2 stream table record %+v, want addr %#x", r, uint64(strtabL2))
	}
}

func TestGranule64K(t *testing.T) {
	mem := physmem.NewSparse()
	const (
		root = 0x5000_0000
		l1   = 0x5001_0000
		l2   = 0x5002_0000
		pg   = 0x9_0000_0000
	)
	iova := uint64(1<<42 | 1<<29 | 1<<16)
	mem.SetU64(root+8, l1|pteTable)
	mem.SetU64(l1+8, l2|pteTable)
	mem.SetU64(l2+8, pg|pteTable)

	w, err := NewWalker(mem, 0x10000)
	if err != nil {
		t.Fatalf("NewWalker failed: %v", err)
	}
	out, err := w.WalkPageTable(root, iova)
	if err != nil {
		t.Fatalf("WalkPageTable failed: %v", err)
	}
	if out.Kind != PTETable || out.Level != 2 || out.Base != pg || out.Size() != 0x10000 {
		t.Errorf("got %+v, want level 2 page %#x of 64K", out, uint64(pg))
	}

	// Index bits above the 9-bit mask are dropped, so this IOVA aliases
	// the one above.
	alias, err := w.WalkPageTable(root, iova|1<<38)
	if err != nil {
		t.Fatalf("WalkPageTable failed: %v", err)
	}
	if alias.Base != out.Base {
		t.Errorf("aliased IOVA resolved to %#x, want %#x", alias.Base, out.Base)
	}
}

func TestMapFailureIsFatal(t *testing.T) {
	s := newSystem(t)
	s.setSTE(strtab, stage1STE(CDLinear, 0, cdTable))
	s.mem.SetWords(cdTable, cdV, ptRoot)
	s.mapPage()
	s.mem.AddHole(ptL2, 0x1000)

	if _, err := Translate(s.mem, 0x1000, smmuBase, Request{IOVA: testIOVA}); !errors.Is(err, physmem.ErrMapFailed) {
		t.Errorf("Translate err = %v, want ErrMapFailed", err)
	}

	s.mem.AddHole(smmuBase, 0x10)
	if _, err := Translate(s.mem, 0x1000, smmuBase, Request{}); !errors.Is(err, physmem.ErrMapFailed) {
		t.Errorf("Translate err = %v, want ErrMapFailed", err)
	}
}
