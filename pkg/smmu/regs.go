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

import "gvisor.dev/smmuwalk/pkg/bits"

// Offsets of the global registers consumed by the walker, relative to the
// SMMU register page 0.
const (
	IDR1Offset          = 0x04
	CR0Offset           = 0x20
	GBPAOffset          = 0x44
	StrtabBaseOffset    = 0x80
	StrtabBaseCfgOffset = 0x88

	// registerWindow covers every register above.
	registerWindow = 0x1000
)

// IDR1 is SMMU_IDR1.
type IDR1 uint32

// SIDSize returns the number of StreamID bits implemented.
func (r IDR1) SIDSize() uint {
	return uint(bits.Field64(uint64(r), 0, 6))
}

// SSIDSize returns the number of SubstreamID bits implemented.
func (r IDR1) SSIDSize() uint {
	return uint(bits.Field64(uint64(r), 6, 5))
}

// CR0 is SMMU_CR0.
type CR0 uint32

// SMMUEnabled reports whether translation is enabled (CR0.SMMUEN).
func (r CR0) SMMUEnabled() bool {
	return bits.IsAnyOn64(uint64(r), bits.MaskOf64(0))
}

// GBPA is SMMU_GBPA, the attributes applied to incoming transactions while
// the SMMU is disabled.
type GBPA uint32

// Abort reports whether transactions are terminated rather than bypassed.
func (r GBPA) Abort() bool {
	return bits.IsAnyOn64(uint64(r), bits.MaskOf64(20))
}

// Update reports whether a GBPA update is still in progress.
func (r GBPA) Update() bool {
	return bits.IsAnyOn64(uint64(r), bits.MaskOf64(31))
}

// StrtabBase is SMMU_STRTAB_BASE.
type StrtabBase uint64

// Address returns the Stream Table base address.
func (r StrtabBase) Address() uint64 {
	return address(uint64(r), 6)
}

// StrtabBaseCfg is SMMU_STRTAB_BASE_CFG.
type StrtabBaseCfg uint32

// Format returns the Stream Table format (FMT).
func (r StrtabBaseCfg) Format() StreamTableFormat {
	return StreamTableFormat(bits.Field64(uint64(r), 16, 2))
}

// Split returns the StreamID bit that divides level-1 and level-2 indices.
func (r StrtabBaseCfg) Split() uint {
	return uint(bits.Field64(uint64(r), 6, 5))
}

// Log2Size returns the number of StreamID bits covered by the table.
func (r StrtabBaseCfg) Log2Size() uint {
	return uint(bits.Field64(uint64(r), 0, 6))
}

// IDLimits are the StreamID and SubstreamID widths the SMMU implements.
type IDLimits struct {
	StreamIDBits    uint
	SubstreamIDBits uint
}

// AllowsStreamID reports whether sid fits in StreamIDBits.
func (l IDLimits) AllowsStreamID(sid uint64) bool {
	return sid < 1<<l.StreamIDBits
}

// AllowsSubstreamID reports whether ssid fits in SubstreamIDBits.
func (l IDLimits) AllowsSubstreamID(ssid uint64) bool {
	return ssid < 1<<l.SubstreamIDBits
}

// Registers holds the global register values read by Probe.
type Registers struct {
	Base          uint64
	IDR1          IDR1
	CR0           CR0
	GBPA          GBPA
	StrtabBase    StrtabBase
	StrtabBaseCfg StrtabBaseCfg
}

// Limits returns the ID widths from IDR1.
func (r *Registers) Limits() IDLimits {
	return IDLimits{
		StreamIDBits:    r.IDR1.SIDSize(),
		SubstreamIDBits: r.IDR1.SSIDSize(),
	}
}

// Enabled reports whether the SMMU is translating.
func (r *Registers) Enabled() bool {
	return r.CR0.SMMUEnabled()
}

// StreamTable returns the Stream Table described by STRTAB_BASE and
// STRTAB_BASE_CFG.
func (r *Registers) StreamTable() StreamTable {
	return StreamTable{
		Base:    r.StrtabBase.Address(),
		Format:  r.StrtabBaseCfg.Format(),
		Split:   r.StrtabBaseCfg.Split(),
		SIDBits: r.StrtabBaseCfg.Log2Size(),
	}
}
