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

// ReadU64At opens a window of size bytes at addr, reads the 64-bit value at
// off and closes the window again.
func ReadU64At(r Reader, addr, size, off uint64) (v uint64, err error) {
	w, err := r.OpenWindow(addr, size)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	return w.ReadU64(off)
}

// ReadWordsAt is like ReadU64At but reads n consecutive 64-bit words.
func ReadWordsAt(r Reader, addr, size, off uint64, n int) (words []uint64, err error) {
	w, err := r.OpenWindow(addr, size)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	words = make([]uint64, n)
	for i := range words {
		if words[i], err = w.ReadU64(off + uint64(i)*8); err != nil {
			return nil, err
		}
	}
	return words, nil
}
