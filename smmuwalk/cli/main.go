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


// Package cli is the main entrypoint for smmuwalk.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/smmuwalk/pkg/log"
	"gvisor.dev/smmuwalk/smmuwalk/cmd"
	"gvisor.dev/smmuwalk/smmuwalk/cmd/util"
	"gvisor.dev/smmuwalk/smmuwalk/config"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing. Help and
	// malformed flags are usage errors.
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		os.Exit(int(subcommands.ExitUsageError))
	}

	// "smmuwalk <smmu_base> <sid> <iova> [ssid]" is short for translate.
	if defaultsToTranslate(flag.Args()) {
		if err := flag.CommandLine.Parse(append([]string{"translate"}, flag.Args()...)); err != nil {
			util.Fatalf("%v", err)
		}
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	var logFile io.Writer = os.Stderr
	toStderr := conf.LogFilename == ""
	if !toStderr {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile = f
		util.ErrorLogger = f
	}

	// Set up logging. Without a log file only warnings reach stderr unless
	// more is asked for, since stdout carries the walk itself.
	switch {
	case conf.Debug:
		log.SetLevel(log.Debug)
	case toStderr && !conf.AlsoLogToStderr:
		log.SetLevel(log.Warning)
	}

	var emitters log.MultiEmitter
	emitters = append(emitters, newEmitter(conf.LogFormat, logFile))
	if conf.AlsoLogToStderr && !toStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}
	if len(emitters) == 1 {
		log.SetTarget(emitters[0])
	} else {
		log.SetTarget(&emitters)
	}

	log.Infof("***************************")
	log.Infof("Args: %s", os.Args)
	log.Infof("PID: %d", os.Getpid())
	log.Infof("UID: %d, GID: %d", os.Getuid(), os.Getgid())
	conf.Log()
	log.Infof("***************************")

	// Call the subcommand and pass in the configuration.
	ws := subcommands.Execute(context.Background(), conf)
	log.Infof("Exiting with status: %v", ws)
	os.Exit(int(ws))
}

// forEachCmd invokes the passed callback for each command supported by
// smmuwalk.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Translate), "")

	const inspectGroup = "inspect"
	cb(new(cmd.Probe), inspectGroup)
	cb(new(cmd.STE), inspectGroup)
}

// defaultsToTranslate reports whether args name no command but start with a
// number, i.e. the arguments of translate.
func defaultsToTranslate(args []string) bool {
	if len(args) == 0 {
		return false
	}
	_, err := strconv.ParseUint(args[0], 0, 64)
	return err == nil
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	util.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
