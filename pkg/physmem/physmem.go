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

// Package physmem provides read-only windows onto physical memory.
//
// A Reader hands out short-lived Windows covering a physical address range.
// Callers open a window, issue 4 or 8 byte reads at offsets relative to the
// window base, and close it again before touching the next structure.
package physmem

import (
	"errors"
	"fmt"
)

// DefaultDevMem is the character device exposing host physical memory.
const DefaultDevMem = "/dev/mem"

var (
	// ErrMapFailed is returned when a physical range cannot be mapped.
	ErrMapFailed = errors.New("physical memory window could not be mapped")

	// ErrOutOfWindow is returned for reads that fall outside the window.
	ErrOutOfWindow = errors.New("read outside of mapped window")

	// ErrClosed is returned when a closed window is used.
	ErrClosed = errors.New("window is closed")
)

// Reader opens windows onto physical memory.
type Reader interface {
	// OpenWindow maps size bytes of physical memory starting at addr.
	OpenWindow(addr, size uint64) (Window, error)
}

// Window is a mapped view of a physical address range. Offsets are relative
// to the address passed to OpenWindow.
type Window interface {
	ReadU32(off uint64) (uint32, error)
	ReadU64(off uint64) (uint64, error)
	Close() error
}

// checkRange validates that [off, off+n) lies within a window of the given
// size.
func checkRange(off, n, size uint64) error {
	if off > size || size-off < n {
		return fmt.Errorf("%w: offset %#x width %d, window size %#x", ErrOutOfWindow, off, n, size)
	}
	return nil
}

// mapError wraps err with ErrMapFailed and the failing range.
func mapError(addr, size uint64, err error) error {
	return fmt.Errorf("%w: [%#x, %#x): %v", ErrMapFailed, addr, addr+size, err)
}
