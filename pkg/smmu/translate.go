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

	"gvisor.dev/smmuwalk/pkg/bits"
	"gvisor.dev/smmuwalk/pkg/physmem"
)

// Request identifies the transaction to translate.
type Request struct {
	StreamID    uint64 `json:"sid" yaml:"sid"`
	SubstreamID uint64 `json:"ssid" yaml:"ssid"`
	IOVA        uint64 `json:"iova" yaml:"iova"`
}

// StopReason explains why a translation ended where it did.
type StopReason int

// Stop reasons. StopNone means the walk went through every page table level.
const (
	StopNone StopReason = iota
	StopSMMUDisabled
	StopStreamIDOutOfRange
	StopSubstreamIDOutOfRange
	StopSTEInvalid
	StopBypass
	StopUnknownConfig
	StopCDInvalid
	StopBothTTBDisabled
	StopPTEInvalid
	StopBlock
)

var stopNames = [...]string{
	StopNone:                  "none",
	StopSMMUDisabled:          "smmu-disabled",
	StopStreamIDOutOfRange:    "sid-out-of-range",
	StopSubstreamIDOutOfRange: "ssid-out-of-range",
	StopSTEInvalid:            "ste-invalid",
	StopBypass:                "bypass",
	StopUnknownConfig:         "unknown-config",
	StopCDInvalid:             "cd-invalid",
	StopBothTTBDisabled:       "both-ttb-disabled",
	StopPTEInvalid:            "pte-invalid",
	StopBlock:                 "block",
}

// String implements fmt.Stringer.
func (s StopReason) String() string {
	if s >= 0 && int(s) < len(stopNames) {
		return stopNames[s]
	}
	return fmt.Sprintf("StopReason(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s StopReason) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resolved reports whether the walk produced an output address.
func (s StopReason) Resolved() bool {
	return s == StopNone || s == StopBlock
}

// Result is the outcome of Translate.
type Result struct {
	Request Request    `json:"request" yaml:"request"`
	Stop    StopReason `json:"stop" yaml:"stop"`

	// SubstreamID is the SubstreamID actually used, which differs from the
	// request when the CD table holds a single descriptor.
	SubstreamID uint64 `json:"effective_ssid" yaml:"effective_ssid"`

	// Base and Size describe the resolved block or page when
	// Stop.Resolved().
	Base  uint64 `json:"base,omitempty" yaml:"base,omitempty"`
	Size  uint64 `json:"size,omitempty" yaml:"size,omitempty"`
	Level int    `json:"level" yaml:"level"`

	Trace Trace `json:"trace" yaml:"trace"`
}

// Translate is a convenience wrapper that walks req with a fresh Walker.
func Translate(mem physmem.Reader, pageSize, smmuBase uint64, req Request) (*Result, error) {
	w, err := NewWalker(mem, pageSize)
	if err != nil {
		return nil, err
	}
	return w.Translate(smmuBase, req)
}

// Translate resolves req against the SMMU whose register page 0 is at
// smmuBase. Conditions found in the SMMU structures end the walk with a
// StopReason; an error is returned only if memory could not be read.
func (w *Walker) Translate(smmuBase uint64, req Request) (*Result, error) {
	res := &Result{Request: req, SubstreamID: req.SubstreamID, Level: -1}
	stop := func(reason StopReason, stage Stage, note string) (*Result, error) {
		w.record(Record{Stage: stage, Event: EventStop, Note: note})
		res.Stop = reason
		res.Trace = w.trace
		return res, nil
	}

	regs, err := w.Probe(smmuBase)
	if err != nil && !errors.Is(err, ErrSMMUDisabled) {
		return nil, err
	}
	limits := regs.Limits()
	if !limits.AllowsStreamID(req.StreamID) {
		return stop(StopStreamIDOutOfRange, StageRegisters,
			fmt.Sprintf("sid is too large: max=%#x", uint64(1)<<limits.StreamIDBits-1))
	}
	if !limits.AllowsSubstreamID(req.SubstreamID) {
		return stop(StopSubstreamIDOutOfRange, StageRegisters,
			fmt.Sprintf("ssid is too large: max=%#x", uint64(1)<<limits.SubstreamIDBits-1))
	}
	if err != nil {
		return stop(StopSMMUDisabled, StageRegisters, err.Error())
	}

	ste, err := w.LocateSTE(regs.StreamTable(), req.StreamID)
	if errors.Is(err, ErrStreamIDOutOfRange) {
		res.Stop = StopStreamIDOutOfRange
		res.Trace = w.trace
		return res, nil
	} else if err != nil {
		return nil, err
	}

	steOut := InterpretSTE(ste)
	w.record(Record{
		Stage: StageSTE,
		Event: EventSTEConfig,
		Words: ste[:],
		Fields: []Field{
			{"V", bits.Field64(ste[0], 0, 1)},
			{"Config", uint64(steOut.Config)},
		},
		Note: steOut.Config.String(),
	})

	var root uint64
	switch steOut.Kind {
	case STEInvalid:
		return stop(StopSTEInvalid, StageSTE, fmt.Sprintf("ste is invalid: ste[0]=%#x", ste[0]))
	case STEBypass:
		return stop(StopBypass, StageSTE, "both s1 and s2 are bypass")
	case STEUnknownConfig:
		return stop(StopUnknownConfig, StageSTE, fmt.Sprintf("unknown configuration: ste[0]=%#x", ste[0]))
	case STEStage2:
		root = steOut.S2TTB
		w.record(Record{
			Stage: StageSTE,
			Event: EventTTB,
			Addr:  root,
			Note:  "S2TTB selected",
		})
	case STEStage1:
		cd, ssid, err := w.LocateCD(steOut.Context, req.SubstreamID)
		res.SubstreamID = ssid
		if errors.Is(err, ErrSubstreamIDOutOfRange) {
			res.Stop = StopSubstreamIDOutOfRange
			res.Trace = w.trace
			return res, nil
		} else if err != nil {
			return nil, err
		}

		cdOut := InterpretCD(cd)
		switch cdOut.Kind {
		case CDInvalid:
			return stop(StopCDInvalid, StageCD, "cde is invalid")
		case CDBothTTBDisabled:
			return stop(StopBothTTBDisabled, StageCD, "both TTB0 and TTB1 are disabled")
		}
		root = cdOut.Root
		w.record(Record{
			Stage:  StageCD,
			Event:  EventTTB,
			Addr:   root,
			Fields: []Field{{"TTB", uint64(cdOut.TTB)}},
			Note:   fmt.Sprintf("TTB%d selected", cdOut.TTB),
		})
	}

	walk, err := w.WalkPageTable(root, req.IOVA)
	if err != nil {
		return nil, err
	}
	res.Level = walk.Level
	switch walk.Kind {
	case PTEInvalid:
		return stop(StopPTEInvalid, StagePageTable, fmt.Sprintf("level %d descriptor is invalid", walk.Level))
	case PTEBlock:
		res.Stop = StopBlock
	}
	res.Base = walk.Base
	res.Size = walk.Size()
	w.record(Record{
		Stage:  StageResult,
		Event:  EventResolved,
		Addr:   walk.Base,
		Fields: []Field{{"level", uint64(walk.Level)}, {"size", walk.Size()}},
		Note:   fmt.Sprintf("%s at level %d", walk.Kind, walk.Level),
	})
	res.Trace = w.trace
	return res, nil
}
