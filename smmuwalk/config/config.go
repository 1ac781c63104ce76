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


// Package config provides basic infrastructure to set configuration settings
// for smmuwalk. Each setting that can be changed from the command line must
// be added to Config and a corresponding flag registered in flags.go.
package config

import (
	"fmt"
	"reflect"

	"gvisor.dev/smmuwalk/pkg/hostarch"
	"gvisor.dev/smmuwalk/pkg/log"
)

// Config holds configuration that is not part of the request itself.
type Config struct {
	// ConfigFile is a TOML file providing defaults for the other fields.
	// Flags set on the command line take precedence over its content.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// MemPath is the physical memory source. It is either a character device
	// exposing physical memory (/dev/mem) or a regular file holding a dump.
	MemPath string `flag:"mem" toml:"mem"`

	// ImageBase is the physical address of the first byte of a dump file.
	// Ignored when MemPath is a device.
	ImageBase uint64 `flag:"image-base" toml:"image_base"`

	// Granule selects the translation granule used for window sizes and the
	// page table geometry.
	Granule Granule `flag:"granule" toml:"granule"`

	// Output is the trace output format.
	Output Output `flag:"output" toml:"output"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.MemPath == "" {
		return fmt.Errorf("--mem cannot be empty")
	}
	if _, err := c.Granule.PageSize(); err != nil {
		return err
	}
	return nil
}

// PageSize returns the window and granule size to walk with.
func (c *Config) PageSize() (uint64, error) {
	return c.Granule.PageSize()
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Debugf("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Debugf("\t%s: %v", name, obj.Field(i).Interface())
	}
}

// Granule is the translation granule selection.
type Granule string

const (
	// GranuleAuto uses the host page size.
	GranuleAuto Granule = "auto"

	// Granule4K walks with 4KiB windows and the 4-level geometry.
	Granule4K Granule = "4k"

	// Granule64K walks with 64KiB windows and the 3-level geometry.
	Granule64K Granule = "64k"
)

// Set implements flag.Value.
func (g *Granule) Set(v string) error {
	switch Granule(v) {
	case GranuleAuto, Granule4K, Granule64K:
		*g = Granule(v)
	default:
		return fmt.Errorf("invalid granule %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (g *Granule) Get() any {
	return *g
}

// String implements flag.Value.
func (g Granule) String() string {
	return string(g)
}

// UnmarshalText implements encoding.TextUnmarshaler so config files go
// through the same checks as flags.
func (g *Granule) UnmarshalText(b []byte) error {
	return g.Set(string(b))
}

// PageSize returns the granule size in bytes.
func (g Granule) PageSize() (uint64, error) {
	switch g {
	case GranuleAuto, "":
		return hostarch.PageSize(), nil
	case Granule4K:
		return 0x1000, nil
	case Granule64K:
		return 0x10000, nil
	default:
		return 0, fmt.Errorf("invalid granule %q", string(g))
	}
}

// Output is the trace output format.
type Output string

const (
	// OutputAuto prints text on a terminal and JSON otherwise.
	OutputAuto Output = "auto"

	// OutputText prints one line per trace record.
	OutputText Output = "text"

	// OutputJSON prints the result as a JSON document.
	OutputJSON Output = "json"

	// OutputYAML prints the result as a YAML document.
	OutputYAML Output = "yaml"
)

// Set implements flag.Value.
func (o *Output) Set(v string) error {
	switch Output(v) {
	case OutputAuto, OutputText, OutputJSON, OutputYAML:
		*o = Output(v)
	default:
		return fmt.Errorf("invalid output format %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (o *Output) Get() any {
	return *o
}

// String implements flag.Value.
func (o Output) String() string {
	return string(o)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Output) UnmarshalText(b []byte) error {
	return o.Set(string(b))
}
