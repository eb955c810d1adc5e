// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/subcommands"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/command"
	"go.chromium.org/testsched/internal/config"
	"go.chromium.org/testsched/internal/run"
)

// listCmd implements subcommands.Command to support listing tests.
type listCmd struct {
	cfg     *config.MutableConfig
	stdout  io.Writer // where to write tests
	stderr  io.Writer
	logTime *bool
}

var _ = subcommands.Command(&listCmd{})

func newListCmd(stdout, stderr io.Writer, logTime *bool) *listCmd {
	return &listCmd{
		cfg:     config.NewMutableConfig(),
		stdout:  stdout,
		stderr:  stderr,
		logTime: logTime,
	}
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list tests" }
func (*listCmd) Usage() string {
	return `Usage: list [flag]...

Description:
    Lists the tests a run with the same flags would run, including setup and
    cleanup tests pulled in by fixtures, without running them.

Flag:
`
}

func (lc *listCmd) SetFlags(f *flag.FlagSet) {
	lc.cfg.SetFlags(f)
}

func (lc *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) != 0 {
		command.WriteError(lc.stderr, errors.Errorf("Unexpected arguments %q\n\n%s", f.Args(), lc.Usage()))
		return subcommands.ExitUsageError
	}
	_, _, plan, err := prepare(ctx, lc.cfg, lc.stderr, *lc.logTime)
	if err != nil {
		return subcommands.ExitStatus(command.WriteError(lc.stderr, err))
	}
	if err := writeTests(lc.stdout, plan); err != nil {
		return subcommands.ExitStatus(command.WriteError(lc.stderr, err))
	}
	return subcommands.ExitSuccess
}

// writeTests writes the tests of plan to w in index order.
func writeTests(w io.Writer, plan *run.Plan) error {
	for _, t := range plan.Tests {
		line := fmt.Sprintf("  Test #%d: %s", t.Index, t.Name)
		if len(t.Labels) > 0 {
			line += " [" + strings.Join(t.Labels, " ") + "]"
		}
		if t.Disabled {
			line += " (Disabled)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\nTotal Tests: %d\n", len(plan.Tests))
	return err
}
