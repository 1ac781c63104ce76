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


package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
	"gvisor.dev/smmuwalk/pkg/smmu"
	"gvisor.dev/smmuwalk/smmuwalk/config"
)

// report is the rendered form of a walk. Numbers are kept as hex strings so
// every output format shows the same values.
type report struct {
	Command string       `json:"command" yaml:"command"`
	Request *requestView `json:"request,omitempty" yaml:"request,omitempty"`
	Stop    string       `json:"stop,omitempty" yaml:"stop,omitempty"`

	// SubstreamID is the SubstreamID used for the CD lookup.
	SubstreamID string `json:"effective_ssid,omitempty" yaml:"effective_ssid,omitempty"`

	Base  string `json:"base,omitempty" yaml:"base,omitempty"`
	Size  string `json:"size,omitempty" yaml:"size,omitempty"`
	Level *int   `json:"level,omitempty" yaml:"level,omitempty"`

	// Summary is a one line description of the outcome.
	Summary string `json:"summary" yaml:"summary"`

	Trace []recordView `json:"trace" yaml:"trace"`
}

type requestView struct {
	SMMUBase    string `json:"smmu_base" yaml:"smmu_base"`
	StreamID    string `json:"sid" yaml:"sid"`
	SubstreamID string `json:"ssid,omitempty" yaml:"ssid,omitempty"`
	IOVA        string `json:"iova,omitempty" yaml:"iova,omitempty"`
}

type fieldView struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type recordView struct {
	Stage  string      `json:"stage" yaml:"stage"`
	Event  string      `json:"event" yaml:"event"`
	Addr   string      `json:"addr,omitempty" yaml:"addr,omitempty"`
	Words  []string    `json:"words,omitempty" yaml:"words,omitempty"`
	Fields []fieldView `json:"fields,omitempty" yaml:"fields,omitempty"`
	Note   string      `json:"note,omitempty" yaml:"note,omitempty"`
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

func newTraceViews(trace smmu.Trace) []recordView {
	views := make([]recordView, 0, len(trace))
	for _, r := range trace {
		v := recordView{
			Stage: r.Stage.String(),
			Event: string(r.Event),
			Note:  r.Note,
		}
		if r.Addr != 0 {
			v.Addr = hex(r.Addr)
		}
		for _, w := range r.Words {
			v.Words = append(v.Words, hex(w))
		}
		for _, f := range r.Fields {
			v.Fields = append(v.Fields, fieldView{Name: f.Name, Value: hex(f.Value)})
		}
		views = append(views, v)
	}
	return views
}

// newTranslateReport renders the result of a full translation.
func newTranslateReport(smmuBase uint64, res *smmu.Result) *report {
	rep := &report{
		Command: "translate",
		Request: &requestView{
			SMMUBase:    hex(smmuBase),
			StreamID:    hex(res.Request.StreamID),
			SubstreamID: hex(res.Request.SubstreamID),
			IOVA:        hex(res.Request.IOVA),
		},
		Stop:        res.Stop.String(),
		SubstreamID: hex(res.SubstreamID),
		Trace:       newTraceViews(res.Trace),
	}
	if res.Level >= 0 {
		level := res.Level
		rep.Level = &level
	}
	if !res.Stop.Resolved() {
		rep.Summary = fmt.Sprintf("translation stopped: %s", res.Stop)
		return rep
	}
	rep.Base = hex(res.Base)
	rep.Size = hex(res.Size)
	kind := "page"
	if res.Stop == smmu.StopBlock {
		kind = "block"
	}
	rep.Summary = fmt.Sprintf("iova %#x is backed by the %s %s %#x at level %d",
		res.Request.IOVA, humanize.IBytes(res.Size), kind, res.Base, res.Level)
	return rep
}

// outputFunc writes a report in one format.
type outputFunc func(io.Writer, *report) error

var outputMap = map[config.Output]outputFunc{
	config.OutputText: outputText,
	config.OutputJSON: outputJSON,
	config.OutputYAML: outputYAML,
}

// render writes rep to w in the requested format. OutputAuto picks text
// when w is a terminal and JSON otherwise.
func render(w io.Writer, format config.Output, rep *report) error {
	if format == config.OutputAuto {
		format = config.OutputJSON
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = config.OutputText
		}
	}
	out, ok := outputMap[format]
	if !ok {
		return fmt.Errorf("unsupported output format %q", format)
	}
	return out(w, rep)
}

func outputText(w io.Writer, rep *report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rep.Trace {
		var detail []string
		if len(r.Words) > 0 {
			detail = append(detail, "words="+strings.Join(r.Words, ","))
		}
		for _, f := range r.Fields {
			detail = append(detail, f.Name+"="+f.Value)
		}
		fmt.Fprintf(tw, "[%s]\t%s\t%s\t%s\t%s\n", r.Stage, r.Event, r.Addr, strings.Join(detail, " "), r.Note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n", rep.Summary)
	return err
}

func outputJSON(w io.Writer, rep *report) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(rep)
}

func outputYAML(w io.Writer, rep *report) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(rep); err != nil {
		return err
	}
	return e.Close()
}
