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

package physmem

import (
	"encoding/binary"
	"fmt"
)

const sparseChunk = 0x1000

// Sparse is a simulated physical address space. Memory that was never
// written reads as zero. It is used to build translation structures in
// tests and to replay captured descriptors.
//
// Sparse is not safe for concurrent use.
type Sparse struct {
	chunks map[uint64]*[sparseChunk]byte
	holes  []addrRange
}

type addrRange struct {
	start, end uint64
}

var _ Reader = (*Sparse)(nil)

// NewSparse returns an empty address space.
func NewSparse() *Sparse {
	return &Sparse{chunks: make(map[uint64]*[sparseChunk]byte)}
}

// AddHole marks [addr, addr+size) as unmappable; any window overlapping it
// fails to open.
func (s *Sparse) AddHole(addr, size uint64) {
	s.holes = append(s.holes, addrRange{addr, addr + size})
}

// SetU64 stores a little-endian 64-bit value at addr.
func (s *Sparse) SetU64(addr, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.write(addr, b[:])
}

// SetU32 stores a little-endian 32-bit value at addr.
func (s *Sparse) SetU32(addr uint64, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.write(addr, b[:])
}

// SetWords stores consecutive 64-bit words starting at addr.
func (s *Sparse) SetWords(addr uint64, words ...uint64) {
	for i, w := range words {
		s.SetU64(addr+uint64(i)*8, w)
	}
}

func (s *Sparse) write(addr uint64, b []byte) {
	for i, c := range b {
		a := addr + uint64(i)
		chunk, ok := s.chunks[a/sparseChunk]
		if !ok {
			chunk = new([sparseChunk]byte)
			s.chunks[a/sparseChunk] = chunk
		}
		chunk[a%sparseChunk] = c
	}
}

func (s *Sparse) read(addr uint64, b []byte) {
	for i := range b {
		a := addr + uint64(i)
		if chunk, ok := s.chunks[a/sparseChunk]; ok {
			b[i] = chunk[a%sparseChunk]
		} else {
			b[i] = 0
		}
	}
}

// OpenWindow implements Reader.OpenWindow.
func (s *Sparse) OpenWindow(addr, size uint64) (Window, error) {
	if size == 0 || addr+size < addr {
		return nil, mapError(addr, size, fmt.Errorf("bad window size %#x", size))
	}
	for _, h := range s.holes {
		if addr < h.end && h.start < addr+size {
			return nil, mapError(addr, size, fmt.Errorf("overlaps hole [%#x, %#x)", h.start, h.end))
		}
	}
	return &sparseWindow{mem: s, base: addr, size: size}, nil
}

type sparseWindow struct {
	mem    *Sparse
	base   uint64
	size   uint64
	closed bool
}

// ReadU32 implements Window.ReadU32.
func (w *sparseWindow) ReadU32(off uint64) (uint32, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, 4, w.size); err != nil {
		return 0, err
	}
	var b [4]byte
	w.mem.read(w.base+off, b[:])
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadU64 implements Window.ReadU64.
func (w *sparseWindow) ReadU64(off uint64) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, 8, w.size); err != nil {
		return 0, err
	}
	var b [8]byte
	w.mem.read(w.base+off, b[:])
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Close implements Window.Close.
func (w *sparseWindow) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return nil
}
