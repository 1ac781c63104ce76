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


// Package cmd holds implementations of the smmuwalk commands.
package cmd

import (
	"fmt"
	"os"
	"strconv"

	"gvisor.dev/smmuwalk/pkg/log"
	"gvisor.dev/smmuwalk/pkg/physmem"
	"gvisor.dev/smmuwalk/smmuwalk/config"
)

// parseNumber parses a command line number in any base accepted by
// strconv.ParseUint, e.g. 0x9050000, 0o17 or 42.
func parseNumber(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

// parseNumbers parses args positionally, naming each value after names.
// Only len(names) arguments are accepted, and all but the trailing optional
// ones are required.
func parseNumbers(args []string, names []string, optional int) ([]uint64, error) {
	if required := len(names) - optional; len(args) < required || len(args) > len(names) {
		if optional == 0 {
			return nil, fmt.Errorf("expected %d arguments, got %d", len(names), len(args))
		}
		return nil, fmt.Errorf("expected %d to %d arguments, got %d", required, len(names), len(args))
	}
	vals := make([]uint64, len(names))
	for i, arg := range args {
		v, err := parseNumber(names[i], arg)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// openMemory opens the physical memory source named by conf.MemPath. Regular
// files are treated as dumps starting at conf.ImageBase; anything else is
// mapped as a /dev/mem style device.
func openMemory(conf *config.Config) (physmem.Reader, func() error, error) {
	fi, err := os.Stat(conf.MemPath)
	if err != nil {
		return nil, nil, fmt.Errorf("physical memory source: %w", err)
	}
	if fi.Mode().IsRegular() {
		log.Infof("Reading physical memory from dump %q at %#x", conf.MemPath, conf.ImageBase)
		img, err := physmem.OpenImage(conf.MemPath, conf.ImageBase)
		if err != nil {
			return nil, nil, err
		}
		return img, img.Close, nil
	}
	log.Infof("Reading physical memory from %q", conf.MemPath)
	mem, err := physmem.OpenDevMem(conf.MemPath)
	if err != nil {
		return nil, nil, err
	}
	return mem, mem.Close, nil
}

// setup opens the memory source and resolves the walk granule for a command.
func setup(conf *config.Config) (physmem.Reader, uint64, func() error, error) {
	pageSize, err := conf.PageSize()
	if err != nil {
		return nil, 0, nil, err
	}
	mem, closer, err := openMemory(conf)
	if err != nil {
		return nil, 0, nil, err
	}
	log.Debugf("Walking with a %#x byte granule", pageSize)
	return mem, pageSize, closer, nil
}
