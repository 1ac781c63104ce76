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

// Package smmu decodes the in-memory translation structures of an ARM SMMUv3.
//
// Given the SMMU register block and a way to read physical memory, a Walker
// follows the same path the hardware takes for one transaction: Stream Table
// Entry, Context Descriptor, then the stage-1 (or stage-2) page table. Every
// structure visited is appended to a Trace so an operator can see exactly
// where a translation stops.
//
// All structures are read once and never written. The SMMU may update them
// concurrently; no attempt is made to obtain a consistent snapshot.
package smmu

import "gvisor.dev/smmuwalk/pkg/bits"

// addrMask keeps the 52 physical address bits of a descriptor or register.
const addrMask = 1<<52 - 1

// address returns the physical address held in v with the low align bits
// cleared.
func address(v uint64, align uint) uint64 {
	return bits.ClearLow64(v&addrMask, align)
}
