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

// Package hostarch describes properties of the host the tool runs on.
package hostarch

import (
	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"
)

// PageSize returns the host page size in bytes, as reported by
// sysconf(_SC_PAGESIZE).
func PageSize() uint64 {
	if sz, err := sysconf.Sysconf(sysconf.SC_PAGESIZE); err == nil && sz > 0 {
		return uint64(sz)
	}
	return uint64(unix.Getpagesize())
}

// PageRoundDown rounds addr down to a multiple of size, which must be a power
// of two.
func PageRoundDown(addr, size uint64) uint64 {
	return addr &^ (size - 1)
}

// PageOffset returns the offset of addr within its size-aligned block.
func PageOffset(addr, size uint64) uint64 {
	return addr & (size - 1)
}
