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

//go:build linux

package physmem

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/smmuwalk/pkg/hostarch"
	"gvisor.dev/smmuwalk/pkg/log"
)

// DevMem maps windows of host physical memory from a /dev/mem style device.
type DevMem struct {
	fd       int
	path     string
	pageSize uint64
}

var _ Reader = (*DevMem)(nil)

// OpenDevMem opens the physical memory device at path for reading.
func OpenDevMem(path string) (*DevMem, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &DevMem{
		fd:       fd,
		path:     path,
		pageSize: hostarch.PageSize(),
	}, nil
}

// Close releases the device.
func (d *DevMem) Close() error {
	return unix.Close(d.fd)
}

// OpenWindow implements Reader.OpenWindow.
//
// mmap(2) requires a page aligned file offset, so the mapping starts at addr
// rounded down to a page and the window remembers the sub-page delta.
func (d *DevMem) OpenWindow(addr, size uint64) (Window, error) {
	if size == 0 {
		return nil, mapError(addr, size, fmt.Errorf("empty window"))
	}
	start := hostarch.PageRoundDown(addr, d.pageSize)
	delta := addr - start
	length := hostarch.PageRoundDown(delta+size+d.pageSize-1, d.pageSize)
	data, err := unix.Mmap(d.fd, int64(start), int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, mapError(addr, size, err)
	}
	log.Debugf("Mapped %s [%#x, %#x)", d.path, start, start+length)
	return &devMemWindow{data: data, delta: delta, size: size}, nil
}

type devMemWindow struct {
	data  []byte
	delta uint64
	size  uint64
}

// ReadU32 implements Window.ReadU32.
func (w *devMemWindow) ReadU32(off uint64) (uint32, error) {
	if w.data == nil {
		return 0, ErrClosed
	}
	if err := checkRange(off, 4, w.size); err != nil {
		return 0, err
	}
	p := w.delta + off
	if p%4 != 0 {
		return binary.LittleEndian.Uint32(w.data[p:]), nil
	}
	// Device registers must be read with a single access of the
	// register's width.
	return *(*uint32)(unsafe.Pointer(&w.data[p])), nil
}

// ReadU64 implements Window.ReadU64.
func (w *devMemWindow) ReadU64(off uint64) (uint64, error) {
	if w.data == nil {
		return 0, ErrClosed
	}
	if err := checkRange(off, 8, w.size); err != nil {
		return 0, err
	}
	p := w.delta + off
	if p%8 != 0 {
		return binary.LittleEndian.Uint64(w.data[p:]), nil
	}
	return *(*uint64)(unsafe.Pointer(&w.data[p])), nil
}

// Close implements Window.Close.
func (w *devMemWindow) Close() error {
	if w.data == nil {
		return ErrClosed
	}
	data := w.data
	w.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
