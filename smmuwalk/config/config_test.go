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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		LogFormat: "text",
		MemPath:   "/dev/mem",
		Granule:   GranuleAuto,
		Output:    OutputAuto,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{
		"--debug",
		"--mem=/tmp/dump.bin",
		"--image-base=0x80000000",
		"--granule=64k",
		"--output", "yaml",
	}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		LogFormat: "text",
		Debug:     true,
		MemPath:   "/tmp/dump.bin",
		ImageBase: 0x80000000,
		Granule:   Granule64K,
		Output:    OutputYAML,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if got, err := c.PageSize(); err != nil || got != 0x10000 {
		t.Errorf("PageSize() = %#x, %v, want 0x10000", got, err)
	}
}

// TestInvalidFlags checks that enum flags fail when value is not in enum set.
func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value string
		error string
	}{
		{
			name:  "granule",
			value: "16k",
			error: "invalid granule",
		},
		{
			name:  "output",
			value: "xml",
			error: "invalid output format",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Lookup(tc.name).Value.Set(tc.value); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("flag.Value.Set(invalid) wrong error reported: %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		args  []string
		error string
	}{
		{
			name:  "log-format",
			args:  []string{"--log-format=json-k8s"},
			error: "invalid log format",
		},
		{
			name:  "mem",
			args:  []string{"--mem="},
			error: "--mem cannot be empty",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Parse(tc.args); err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() wrong error reported: %v", err)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smmuwalk.toml")
	content := `
mem = "/var/dumps/host.bin"
image_base = 0x40000000
granule = "4k"
output = "json"
log_format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	// --output is set explicitly and must win over the file.
	if err := testFlags.Parse([]string{"--config", path, "--output=text"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile: path,
		LogFormat:  "json",
		MemPath:    "/var/dumps/host.bin",
		ImageBase:  0x40000000,
		Granule:    Granule4K,
		Output:     OutputText,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte(`granule = "16k"`), 0644); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		name  string
		path  string
		error string
	}{
		{
			name:  "missing",
			path:  filepath.Join(dir, "missing.toml"),
			error: "failed to load config file",
		},
		{
			name:  "bad-granule",
			path:  bad,
			error: "invalid granule",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Set("config", tc.path); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() wrong error reported: %v", err)
			}
		})
	}
}
