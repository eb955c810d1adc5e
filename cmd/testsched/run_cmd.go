// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"io"

	"github.com/docker/go-units"
	"github.com/google/subcommands"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/command"
	"go.chromium.org/testsched/internal/config"
	"go.chromium.org/testsched/internal/execrunner"
	"go.chromium.org/testsched/internal/logging"
	"go.chromium.org/testsched/internal/run"
)

// runCmd implements subcommands.Command to support running tests.
type runCmd struct {
	cfg         *config.MutableConfig
	outputLimit string // per-test output limit, e.g. "1MiB"
	stdout      io.Writer
	stderr      io.Writer
	logTime     *bool
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd(stdout, stderr io.Writer, logTime *bool) *runCmd {
	return &runCmd{
		cfg:     config.NewMutableConfig(),
		stdout:  stdout,
		stderr:  stderr,
		logTime: logTime,
	}
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run tests" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]...

Description:
    Runs the tests declared in the catalog, honoring their dependencies,
    fixtures, resource locks and processor counts.
    Exits with 0 if all tests passed and 8 if any test failed or did not run.

    An interrupted run leaves a checkpoint behind. Run again with -resume to
    skip the tests that already finished:

        $ testsched run -j 8 -stoptime 06:00:00
        $ testsched run -j 8 -resume

Flag:
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.outputLimit, "outputlimit", units.BytesSize(execrunner.DefaultOutputLimit), "output kept per test run")
	r.cfg.SetFlags(f)
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) != 0 {
		command.WriteError(r.stderr, errors.Errorf("Unexpected arguments %q\n\n%s", f.Args(), r.Usage()))
		return subcommands.ExitUsageError
	}
	if err := r.run(ctx); err != nil {
		return subcommands.ExitStatus(command.WriteError(r.stderr, err))
	}
	return subcommands.ExitSuccess
}

func (r *runCmd) run(ctx context.Context) error {
	limit, err := units.RAMInBytes(r.outputLimit)
	if err != nil {
		return command.NewStatusErrorf(statusUsage, "Bad -outputlimit: %v", err)
	}
	ctx, cfg, plan, err := prepare(ctx, r.cfg, r.stdout, *r.logTime)
	if err != nil {
		return err
	}
	if len(plan.Tests) == 0 {
		logging.Info(ctx, "No tests were found")
		return nil
	}

	runner := execrunner.New(int(limit))
	defer runner.Close()

	sum, runErr := run.Execute(ctx, cfg, plan, &run.Env{Runner: runner})
	if sum != nil {
		writeSummary(r.stdout, sum)
	}
	if runErr != nil {
		return errors.Wrap(runErr, "run did not finish")
	}
	if len(sum.Failed) > 0 {
		return command.NewStatusErrorf(statusTestsFailed, "Errors while running tests")
	}
	return nil
}
