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


package config

import (
	"flag"
	"fmt"
	"reflect"

	"github.com/BurntSushi/toml"
	"gvisor.dev/smmuwalk/pkg/physmem"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file with default values for the flags below.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Memory source flags.
	flagSet.String("mem", physmem.DefaultDevMem, "physical memory device, or a regular file holding a physical memory dump.")
	flagSet.Uint64("image-base", 0, "physical address of the first byte of the dump given to --mem.")

	granule := GranuleAuto
	flagSet.Var(&granule, "granule", "translation granule: auto (host page size), 4k, or 64k.")
	output := OutputAuto
	flagSet.Var(&output, "output", "trace output format: auto, text, json, or yaml.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags. When --config names a file, its values replace the flag defaults
// and flags set explicitly on the command line are applied on top.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	fields := flagFields(conf)
	for name, field := range fields {
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		field.Set(reflect.ValueOf(get(fl.Value)))
	}

	if conf.ConfigFile != "" {
		if _, err := toml.DecodeFile(conf.ConfigFile, conf); err != nil {
			return nil, fmt.Errorf("failed to load config file %q: %w", conf.ConfigFile, err)
		}
		flagSet.Visit(func(fl *flag.Flag) {
			if field, ok := fields[fl.Name]; ok {
				field.Set(reflect.ValueOf(get(fl.Value)))
			}
		})
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// flagFields maps flag names to the corresponding settable fields of conf.
func flagFields(conf *Config) map[string]reflect.Value {
	fields := make(map[string]reflect.Value)
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fields[name] = obj.Field(i)
	}
	return fields
}

func get(v flag.Value) any {
	if g, ok := v.(flag.Getter); ok {
		return g.Get()
	}
	panic(fmt.Sprintf("flag value %T does not implement flag.Getter", v))
}
