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

// Probe implements subcommands.Command for the "probe" command.
type Probe struct{}

// Name implements subcommands.Command.Name.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Probe) Synopsis() string {
	return "dump the global registers of an SMMU"
}

// Usage implements subcommands.Command.Usage.
func (*Probe) Usage() string {
	return `probe [flags] <smmu_base> - read IDR1, CR0, GBPA and the Stream Table registers.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Probe) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Probe) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	vals, err := parseNumbers(f.Args(), []string{"smmu_base"}, 0)
	if err != nil {
		return util.UsageErrorf(f.Usage, "%v", err)
	}
	conf := args[0].(*config.Config)

	mem, pageSize, closer, err := setup(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer closer()

	rep, err := probeReport(mem, pageSize, vals[0])
	if err != nil {
		util.Fatalf("probe failed: %v", err)
	}
	if err := render(os.Stdout, conf.Output, rep); err != nil {
		util.Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func probeReport(mem physmem.Reader, pageSize, smmuBase uint64) (*report, error) {
	w, err := smmu.NewWalker(mem, pageSize)
	if err != nil {
		return nil, err
	}
	rep := &report{
		Command: "probe",
		Request: &requestView{SMMUBase: hex(smmuBase)},
	}
	regs, err := w.Probe(smmuBase)
	switch {
	case errors.Is(err, smmu.ErrSMMUDisabled):
		rep.Stop = smmu.StopSMMUDisabled.String()
		rep.Summary = fmt.Sprintf("SMMU is disabled, incoming transactions %s", gbpaAction(regs.GBPA))
	case err != nil:
		return nil, err
	default:
		st := regs.StreamTable()
		limits := regs.Limits()
		rep.Summary = fmt.Sprintf("SMMU is enabled: %s stream table at %#x with %d entries, %d bit StreamIDs, %d bit SubstreamIDs",
			st.Format, st.Base, uint64(1)<<st.SIDBits, limits.StreamIDBits, limits.SubstreamIDBits)
	}
	rep.Trace = newTraceViews(w.Trace())
	return rep, nil
}

func gbpaAction(gbpa smmu.GBPA) string {
	if gbpa.Abort() {
		return "abort"
	}
	return "bypass"
}
