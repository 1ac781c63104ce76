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
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/smmuwalk/pkg/physmem"
	"gvisor.dev/smmuwalk/pkg/smmu"
	"gvisor.dev/smmuwalk/smmuwalk/cmd/util"
	"gvisor.dev/smmuwalk/smmuwalk/config"
)

// STE implements subcommands.Command for the "ste" command.
type STE struct{}

// Name implements subcommands.Command.Name.
func (*STE) Name() string {
	return "ste"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*STE) Synopsis() string {
	return "locate and decode the Stream Table Entry of a device"
}

// Usage implements subcommands.Command.Usage.
func (*STE) Usage() string {
	return `ste [flags] <smmu_base> <sid> - print the STE for StreamID sid.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*STE) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*STE) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	vals, err := parseNumbers(f.Args(), []string{"smmu_base", "sid"}, 0)
	if err != nil {
		return util.UsageErrorf(f.Usage, "%v", err)
	}
	conf := args[0].(*config.Config)

	mem, pageSize, closer, err := setup(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer closer()

	rep, err := steReport(mem, pageSize, vals[0], vals[1])
	if err != nil {
		util.Fatalf("reading STE failed: %v", err)
	}
	if err := render(os.Stdout, conf.Output, rep); err != nil {
		util.Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func steReport(mem physmem.Reader, pageSize, smmuBase, sid uint64) (*report, error) {
	w, err := smmu.NewWalker(mem, pageSize)
	if err != nil {
		return nil, err
	}
	rep := &report{
		Command: "ste",
		Request: &requestView{SMMUBase: hex(smmuBase), StreamID: hex(sid)},
	}
	finish := func(stop smmu.StopReason, summary string) (*report, error) {
		if stop != smmu.StopNone {
			rep.Stop = stop.String()
		}
		rep.Summary = summary
		rep.Trace = newTraceViews(w.Trace())
		return rep, nil
	}

	regs, err := w.Probe(smmuBase)
	if errors.Is(err, smmu.ErrSMMUDisabled) {
		return finish(smmu.StopSMMUDisabled, "SMMU is disabled")
	} else if err != nil {
		return nil, err
	}
	if limits := regs.Limits(); !limits.AllowsStreamID(sid) {
		return finish(smmu.StopStreamIDOutOfRange, fmt.Sprintf("sid %#x exceeds the %d bit StreamIDs of the SMMU", sid, limits.StreamIDBits))
	}

	ste, err := w.LocateSTE(regs.StreamTable(), sid)
	if errors.Is(err, smmu.ErrStreamIDOutOfRange) {
		return finish(smmu.StopStreamIDOutOfRange, fmt.Sprintf("sid %#x is beyond the end of the stream table", sid))
	} else if err != nil {
		return nil, err
	}

	out := smmu.InterpretSTE(ste)
	switch out.Kind {
	case smmu.STEInvalid:
		return finish(smmu.StopSTEInvalid, "STE is invalid")
	case smmu.STEBypass:
		return finish(smmu.StopBypass, "STE bypasses translation")
	case smmu.STEUnknownConfig:
		return finish(smmu.StopUnknownConfig, fmt.Sprintf("STE has unknown config %s", out.Config))
	case smmu.STEStage2:
		return finish(smmu.StopNone, fmt.Sprintf("STE translates with stage 2 tables at %#x", out.S2TTB))
	default:
		ct := out.Context
		return finish(smmu.StopNone, fmt.Sprintf("STE translates with stage 1: %s CD table at %#x, CDMax %d",
			ct.Format, ct.Base, ct.CDMax))
	}
}
