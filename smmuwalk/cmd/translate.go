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
	"flag"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/smmuwalk/pkg/log"
	"gvisor.dev/smmuwalk/pkg/physmem"
	"gvisor.dev/smmuwalk/pkg/smmu"
	"gvisor.dev/smmuwalk/smmuwalk/cmd/util"
	"gvisor.dev/smmuwalk/smmuwalk/config"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "resolve a device IOVA by walking the SMMU stream, context and page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [flags] <smmu_base> <sid> <iova> [ssid] - resolve iova for the device with StreamID sid.

Numbers may be given in any base understood by Go, e.g. 0x9050000. ssid
defaults to 0.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	vals, err := parseNumbers(f.Args(), []string{"smmu_base", "sid", "iova", "ssid"}, 1)
	if err != nil {
		return util.UsageErrorf(f.Usage, "%v", err)
	}
	conf := args[0].(*config.Config)
	smmuBase := vals[0]
	req := smmu.Request{StreamID: vals[1], IOVA: vals[2], SubstreamID: vals[3]}

	mem, pageSize, closer, err := setup(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer closer()

	rep, err := translateReport(mem, pageSize, smmuBase, req)
	if err != nil {
		util.Fatalf("translation aborted: %v", err)
	}
	if err := render(os.Stdout, conf.Output, rep); err != nil {
		util.Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func translateReport(mem physmem.Reader, pageSize, smmuBase uint64, req smmu.Request) (*report, error) {
	log.Debugf("Translating sid=%#x ssid=%#x iova=%#x via SMMU at %#x", req.StreamID, req.SubstreamID, req.IOVA, smmuBase)
	res, err := smmu.Translate(mem, pageSize, smmuBase, req)
	if err != nil {
		return nil, err
	}
	log.Infof("Translation of iova %#x finished: %s", req.IOVA, res.Stop)
	return newTranslateReport(smmuBase, res), nil
}
