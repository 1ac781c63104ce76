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
	"os"

	"github.com/edsrzf/mmap-go"
	"gvisor.dev/smmuwalk/pkg/cleanup"
)

// Image serves physical memory out of a raw dump file. Byte 0 of the file
// holds physical address Base.
type Image struct {
	Base uint64

	file *os.File
	mm   mmap.MMap
}

var _ Reader = (*Image)(nil)

// OpenImage maps the dump at path read-only.
func OpenImage(path string, base uint64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { f.Close() })
	defer cu.Clean()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("image %q is empty", path)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("error mapping image %q: %w", path, err)
	}
	cu.Release()
	return &Image{Base: base, file: f, mm: mm}, nil
}

// Close unmaps the dump.
func (m *Image) Close() error {
	if err := m.mm.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// OpenWindow implements Reader.OpenWindow.
func (m *Image) OpenWindow(addr, size uint64) (Window, error) {
	end := addr + size
	if addr < m.Base || end < addr || end-m.Base > uint64(len(m.mm)) {
		return nil, mapError(addr, size, fmt.Errorf("outside image [%#x, %#x)", m.Base, m.Base+uint64(len(m.mm))))
	}
	start := addr - m.Base
	return &sliceWindow{data: m.mm[start : start+size]}, nil
}

// sliceWindow is a window over memory already resident in the process.
type sliceWindow struct {
	data   []byte
	closed bool
}

// ReadU32 implements Window.ReadU32.
func (w *sliceWindow) ReadU32(off uint64) (uint32, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, 4, uint64(len(w.data))); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(w.data[off:]), nil
}

// ReadU64 implements Window.ReadU64.
func (w *sliceWindow) ReadU64(off uint64) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, 8, uint64(len(w.data))); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(w.data[off:]), nil
}

// Close implements Window.Close.
func (w *sliceWindow) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return nil
}
