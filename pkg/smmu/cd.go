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

// CD is a stage-1 Context Descriptor.
type CD [4]uint64

// Valid returns CD.V.
func (c CD) Valid() bool {
	return bits.IsAnyOn64(c[0], bits.MaskOf64(31))
}

// EPD0 reports whether walks through TTB0 are disabled.
func (c CD) EPD0() bool {
	return bits.IsAnyOn64(c[0], bits.MaskOf64(30))
}

// EPD1 reports whether walks through TTB1 are disabled.
func (c CD) EPD1() bool {
	return bits.IsAnyOn64(c[0], bits.MaskOf64(14))
}

// TTB0 returns the translation table base for the lower VA range.
func (c CD) TTB0() uint64 {
	return address(c[1], 4)
}

// TTB1 returns the translation table base for the upper VA range.
func (c CD) TTB1() uint64 {
	return address(c[2], 4)
}

// CDKind classifies a decoded CD.
type CDKind int

// CD outcomes.
const (
	CDInvalid CDKind = iota
	CDBothTTBDisabled
	CDTranslate
)

// String implements fmt.Stringer.
func (k CDKind) String() string {
	switch k {
	case CDInvalid:
		return "invalid"
	case CDBothTTBDisabled:
		return "both-ttb-disabled"
	case CDTranslate:
		return "translate"
	default:
		return fmt.Sprintf("CDKind(%d)", int(k))
	}
}

// CDOutcome is the decoded meaning of a CD.
type CDOutcome struct {
	Kind CDKind

	// TTB is 0 or 1, naming the selected translation table base.
	TTB int

	// Root is the page table root for CDTranslate.
	Root uint64
}

// InterpretCD decodes cd. TTB0 is preferred; TTB1 is used only when TTB0
// walks are disabled.
func InterpretCD(cd CD) CDOutcome {
	switch {
	case !cd.Valid():
		return CDOutcome{Kind: CDInvalid}
	case cd.EPD0() && cd.EPD1():
		return CDOutcome{Kind: CDBothTTBDisabled}
	case !cd.EPD0():
		return CDOutcome{Kind: CDTranslate, TTB: 0, Root: cd.TTB0()}
	default:
		return CDOutcome{Kind: CDTranslate, TTB: 1, Root: cd.TTB1()}
	}
}
