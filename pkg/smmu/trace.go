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

package smmu

import "fmt"

// Stage identifies the part of the walk that produced a Record.
type Stage int

// Walk stages, in pipeline order.
const (
	StageRegisters Stage = iota
	StageStreamTable
	StageSTE
	StageContextTable
	StageCD
	StagePageTable
	StageResult
)

var stageNames = [...]string{
	StageRegisters:    "registers",
	StageStreamTable:  "stream-table",
	StageSTE:          "ste",
	StageContextTable: "context-table",
	StageCD:           "cd",
	StagePageTable:    "page-table",
	StageResult:       "result",
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event names what a Record describes.
type Event string

// Events emitted by the walker.
const (
	EventRegisters       Event = "registers"
	EventSMMUDisabled    Event = "smmu-disabled"
	EventStreamTable     Event = "stream-table"
	EventL1StreamDesc    Event = "l1-stream-descriptor"
	EventL2StreamTable   Event = "l2-stream-table"
	EventSTE             Event = "ste"
	EventSTEConfig       Event = "ste-config"
	EventContextTable    Event = "context-table"
	EventSubstreamForced Event = "substream-forced"
	EventL1ContextDesc   Event = "l1-context-descriptor"
	EventL2ContextTable  Event = "l2-context-table"
	EventCD              Event = "cd"
	EventTTB             Event = "ttb"
	EventPTE             Event = "pte"
	EventResolved        Event = "resolved"
	EventStop            Event = "stop"
)

// Field is a named value decoded from a structure.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Value uint64 `json:"value" yaml:"value"`
}

// Record is one fact observed during a walk.
type Record struct {
	Stage Stage `json:"stage" yaml:"stage"`
	Event Event `json:"event" yaml:"event"`

	// Addr is the physical address of the structure, if any.
	Addr uint64 `json:"addr,omitempty" yaml:"addr,omitempty"`

	// Words are the raw values read at Addr.
	Words []uint64 `json:"words,omitempty" yaml:"words,omitempty"`

	// Fields are decoded values of interest.
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`

	// Note is a human readable explanation.
	Note string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Field returns the value of the named field.
func (r *Record) Field(name string) (uint64, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Trace is the ordered list of records produced by a walk.
type Trace []Record

// Events returns the event of every record, in order.
func (t Trace) Events() []Event {
	events := make([]Event, len(t))
	for i, r := range t {
		events[i] = r.Event
	}
	return events
}

// Find returns the first record with the given event.
func (t Trace) Find(e Event) (*Record, bool) {
	for i := range t {
		if t[i].Event == e {
			return &t[i], true
		}
	}
	return nil, false
}
