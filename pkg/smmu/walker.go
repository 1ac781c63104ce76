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
	"fmt"

	"gvisor.dev/smmuwalk/pkg/hostarch"
	"gvisor.dev/smmuwalk/pkg/log"
	"gvisor.dev/smmuwalk/pkg/physmem"
)

// Reasons a walk stops before or after reaching the page table. These are
// not failures of the tool; they describe the state of the SMMU.
var (
	ErrSMMUDisabled          = errors.New("SMMU is disabled")
	ErrStreamIDOutOfRange    = errors.New("StreamID out of range")
	ErrSubstreamIDOutOfRange = errors.New("SubstreamID out of range")
)

// Walker reads SMMU structures for a single translation request. It is not
// safe for concurrent use and keeps no state beyond the trace.
type Walker struct {
	mem      physmem.Reader
	pageSize uint64
	geo      Geometry
	trace    Trace
}

// NewWalker returns a Walker reading from mem. pageSize is both the window
// size used for table reads and the translation granule assumed for page
// tables.
func NewWalker(mem physmem.Reader, pageSize uint64) (*Walker, error) {
	geo, err := GeometryFor(pageSize)
	if err != nil {
		return nil, err
	}
	return &Walker{mem: mem, pageSize: pageSize, geo: geo}, nil
}

// Trace returns the records collected so far.
func (w *Walker) Trace() Trace {
	return w.trace
}

// Geometry returns the page table geometry in use.
func (w *Walker) Geometry() Geometry {
	return w.geo
}

func (w *Walker) record(r Record) {
	log.Debugf("%s/%s addr=%#x words=%#x %s", r.Stage, r.Event, r.Addr, r.Words, r.Note)
	w.trace = append(w.trace, r)
}

// readU64 reads the 64-bit value at addr through a page window.
func (w *Walker) readU64(addr uint64) (uint64, error) {
	base := hostarch.PageRoundDown(addr, w.pageSize)
	v, err := physmem.ReadU64At(w.mem, base, w.pageSize, addr-base)
	if err != nil {
		return 0, fmt.Errorf("reading %#x: %w", addr, err)
	}
	return v, nil
}

// readEntry reads a 4 word structure at offset off of a table at base. The
// table is mapped in window sized chunks; the chunk containing off is
// mapped.
func (w *Walker) readEntry(base, window, off uint64) ([4]uint64, uint64, error) {
	var e [4]uint64
	chunk := base + hostarch.PageRoundDown(off, window)
	in := hostarch.PageOffset(off, window)
	words, err := physmem.ReadWordsAt(w.mem, chunk, window, in, len(e))
	if err != nil {
		return e, 0, fmt.Errorf("reading entry at %#x: %w", chunk+in, err)
	}
	copy(e[:], words)
	return e, chunk + in, nil
}

// Probe reads the global registers at base, the physical address of SMMU
// register page 0. If the SMMU is disabled, the returned Registers hold
// IDR1, CR0 and GBPA only and the error is ErrSMMUDisabled.
func (w *Walker) Probe(base uint64) (regs *Registers, err error) {
	win, err := w.mem.OpenWindow(base, registerWindow)
	if err != nil {
		return nil, fmt.Errorf("mapping SMMU registers: %w", err)
	}
	defer func() {
		if cerr := win.Close(); cerr != nil && (err == nil || errors.Is(err, ErrSMMUDisabled)) {
			regs, err = nil, fmt.Errorf("unmapping SMMU registers: %w", cerr)
		}
	}()

	regs = &Registers{Base: base}
	idr1, err := win.ReadU32(IDR1Offset)
	if err != nil {
		return nil, fmt.Errorf("reading SMMU_IDR1: %w", err)
	}
	regs.IDR1 = IDR1(idr1)
	cr0, err := win.ReadU32(CR0Offset)
	if err != nil {
		return nil, fmt.Errorf("reading SMMU_CR0: %w", err)
	}
	regs.CR0 = CR0(cr0)

	if !regs.Enabled() {
		gbpa, err := win.ReadU32(GBPAOffset)
		if err != nil {
			return nil, fmt.Errorf("reading SMMU_GBPA: %w", err)
		}
		regs.GBPA = GBPA(gbpa)
		w.record(Record{
			Stage: StageRegisters,
			Event: EventSMMUDisabled,
			Addr:  base,
			Fields: []Field{
				{"IDR1", uint64(regs.IDR1)},
				{"CR0", uint64(regs.CR0)},
				{"GBPA", uint64(regs.GBPA)},
			},
			Note: fmt.Sprintf("smmu is disabled: SMMU_GBPA=%#08x", uint32(regs.GBPA)),
		})
		return regs, ErrSMMUDisabled
	}

	strtab, err := win.ReadU64(StrtabBaseOffset)
	if err != nil {
		return nil, fmt.Errorf("reading SMMU_STRTAB_BASE: %w", err)
	}
	regs.StrtabBase = StrtabBase(strtab)
	cfg, err := win.ReadU32(StrtabBaseCfgOffset)
	if err != nil {
		return nil, fmt.Errorf("reading SMMU_STRTAB_BASE_CFG: %w", err)
	}
	regs.StrtabBaseCfg = StrtabBaseCfg(cfg)

	w.record(Record{
		Stage: StageRegisters,
		Event: EventRegisters,
		Addr:  base,
		Fields: []Field{
			{"IDR1", uint64(regs.IDR1)},
			{"CR0", uint64(regs.CR0)},
			{"STRTAB_BASE", uint64(regs.StrtabBase)},
			{"STRTAB_BASE_CFG", uint64(regs.StrtabBaseCfg)},
		},
	})
	return regs, nil
}
