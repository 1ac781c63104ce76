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

// WindowRecord describes one window opened through a Counting reader.
type WindowRecord struct {
	Addr uint64
	Size uint64
}

// Counting wraps a Reader and remembers every window it opens.
type Counting struct {
	Reader

	// Windows lists opened windows, oldest first.
	Windows []WindowRecord

	// Open is the number of windows not yet closed.
	Open int
}

// OpenWindow implements Reader.OpenWindow.
func (c *Counting) OpenWindow(addr, size uint64) (Window, error) {
	w, err := c.Reader.OpenWindow(addr, size)
	if err != nil {
		return nil, err
	}
	c.Windows = append(c.Windows, WindowRecord{Addr: addr, Size: size})
	c.Open++
	return &countingWindow{Window: w, c: c}, nil
}

type countingWindow struct {
	Window
	c *Counting
}

// Close implements Window.Close.
func (w *countingWindow) Close() error {
	w.c.Open--
	return w.Window.Close()
}
