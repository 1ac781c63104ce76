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

// pteSize is the size of a page table entry in bytes.
const pteSize = 8

// PTE is a VMSAv8-64 translation table descriptor.
type PTE uint64

// PTEKind is the descriptor type encoded in bits [1:0].
type PTEKind int

// Descriptor types.
const (
	PTEInvalid PTEKind = iota
	PTEBlock
	PTETable
)

// String implements fmt.Stringer.
func (k PTEKind) String() string {
	switch k {
	case PTEInvalid:
		return "invalid"
	case PTEBlock:
		return "block"
	case PTETable:
		return "table"
	default:
		return fmt.Sprintf("PTEKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k PTEKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Kind returns the descriptor type. A last level page descriptor shares the
// table encoding and is reported as PTETable.
func (p PTE) Kind() PTEKind {
	switch p & 0x3 {
	case 0x1:
		return PTEBlock
	case 0x3:
		return PTETable
	default:
		return PTEInvalid
	}
}

// TableAddress returns the next level table (or page) address.
func (p PTE) TableAddress() uint64 {
	return address(uint64(p), 12)
}

// BlockAddress returns the output address of a block descriptor at a level
// indexed by VA bit shift.
func (p PTE) BlockAddress(shift uint) uint64 {
	return address(uint64(p), shift)
}
