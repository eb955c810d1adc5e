// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"golang.org/x/exp/slices"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/command"
	"go.chromium.org/testsched/internal/config"
	"go.chromium.org/testsched/internal/run"
)

// orderCmd implements subcommands.Command to print the preferred start order.
type orderCmd struct {
	cfg     *config.MutableConfig
	stdout  io.Writer
	stderr  io.Writer
	logTime *bool
}

var _ = subcommands.Command(&orderCmd{})

func newOrderCmd(stdout, stderr io.Writer, logTime *bool) *orderCmd {
	return &orderCmd{
		cfg:     config.NewMutableConfig(),
		stdout:  stdout,
		stderr:  stderr,
		logTime: logTime,
	}
}

func (*orderCmd) Name() string     { return "order" }
func (*orderCmd) Synopsis() string { return "print the order tests would be started in" }
func (*orderCmd) Usage() string {
	return `Usage: order [flag]...

Description:
    Prints the order in which a run with the same flags would prefer to start
    tests, with the costs the order was computed from. Tests that failed in the
    previous run are marked and come first.

Flag:
`
}

func (oc *orderCmd) SetFlags(f *flag.FlagSet) {
	oc.cfg.SetFlags(f)
}

func (oc *orderCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) != 0 {
		command.WriteError(oc.stderr, errors.Errorf("Unexpected arguments %q\n\n%s", f.Args(), oc.Usage()))
		return subcommands.ExitUsageError
	}
	_, _, plan, err := prepare(ctx, oc.cfg, oc.stderr, *oc.logTime)
	if err != nil {
		return subcommands.ExitStatus(command.WriteError(oc.stderr, err))
	}
	if err := writeOrder(oc.stdout, plan); err != nil {
		return subcommands.ExitStatus(command.WriteError(oc.stderr, err))
	}
	return subcommands.ExitSuccess
}

// writeOrder writes the preferred start order of plan to w.
func writeOrder(w io.Writer, plan *run.Plan) error {
	byIndex := make(map[int]*catalog.Test, len(plan.Tests))
	for _, t := range plan.Tests {
		byIndex[t.Index] = t
	}
	for i, idx := range plan.Order {
		t := byIndex[idx]
		line := fmt.Sprintf("%3d: Test #%d: %s (cost %g)", i+1, t.Index, t.Name, t.Cost)
		if slices.Contains(plan.LastFailed, t.Name) {
			line += " (failed last time)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
