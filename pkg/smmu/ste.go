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

// STE is a Stream Table Entry.
type STE [4]uint64

// Valid returns STE.V.
func (s STE) Valid() bool {
	return bits.IsAnyOn64(s[0], bits.MaskOf64(0))
}

// Config returns STE.Config.
func (s STE) Config() STEConfig {
	return STEConfig(bits.Field64(s[0], 1, 3))
}

// S1Fmt returns STE.S1Fmt, the Context Descriptor table format.
func (s STE) S1Fmt() CDFormat {
	return CDFormat(bits.Field64(s[0], 4, 2))
}

// S1ContextPtr returns the Context Descriptor table base.
func (s STE) S1ContextPtr() uint64 {
	return address(s[0], 6)
}

// S1CDMax returns STE.S1CDMax, the number of SubstreamID bits covered by
// the Context Descriptor table.
func (s STE) S1CDMax() uint {
	return uint(bits.Field64(s[0], 59, 5))
}

// S2TTB returns the stage-2 translation table base.
func (s STE) S2TTB() uint64 {
	return address(s[3], 4)
}

// STEConfig is the STE.Config field.
type STEConfig uint8

// STE configurations understood by the walker.
const (
	STEConfigBypass      STEConfig = 0b100
	STEConfigS1Translate STEConfig = 0b101
	STEConfigS2Translate STEConfig = 0b110
)

// String implements fmt.Stringer.
func (c STEConfig) String() string {
	switch c {
	case STEConfigBypass:
		return "s1 bypass + s2 bypass"
	case STEConfigS1Translate:
		return "s1 translate + s2 bypass"
	case STEConfigS2Translate:
		return "s1 bypass + s2 translate"
	default:
		return fmt.Sprintf("unknown(%#03b)", uint8(c))
	}
}

// STEKind classifies a decoded STE.
type STEKind int

// STE outcomes.
const (
	STEInvalid STEKind = iota
	STEBypass
	STEStage1
	STEStage2
	STEUnknownConfig
)

// String implements fmt.Stringer.
func (k STEKind) String() string {
	switch k {
	case STEInvalid:
		return "invalid"
	case STEBypass:
		return "bypass"
	case STEStage1:
		return "stage-1"
	case STEStage2:
		return "stage-2"
	case STEUnknownConfig:
		return "unknown-config"
	default:
		return fmt.Sprintf("STEKind(%d)", int(k))
	}
}

// STEOutcome is the decoded meaning of an STE.
type STEOutcome struct {
	Kind   STEKind
	Config STEConfig

	// Context is the stage-1 Context Descriptor table. Only set for
	// STEStage1.
	Context ContextTable

	// S2TTB is the stage-2 table root. Only set for STEStage2.
	S2TTB uint64
}

// InterpretSTE decodes ste.
func InterpretSTE(ste STE) STEOutcome {
	if !ste.Valid() {
		return STEOutcome{Kind: STEInvalid}
	}
	out := STEOutcome{Config: ste.Config()}
	switch out.Config {
	case STEConfigBypass:
		out.Kind = STEBypass
	case STEConfigS1Translate:
		out.Kind = STEStage1
		out.Context = ContextTable{
			Base:   ste.S1ContextPtr(),
			Format: ste.S1Fmt(),
			CDMax:  ste.S1CDMax(),
		}
	case STEConfigS2Translate:
		out.Kind = STEStage2
		out.S2TTB = ste.S2TTB()
	default:
		out.Kind = STEUnknownConfig
	}
	return out
}
