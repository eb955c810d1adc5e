// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/subcommands"

	"go.chromium.org/testsched/internal/loadavg"
	"go.chromium.org/testsched/testutil"
)

const catalogYAML = `
tests:
  - name: setup
    command: [/bin/sh, -c, "exit 0"]
    fixtures_setup: [db]
  - name: good
    command: [/bin/sh, -c, "exit 0"]
    fixtures_required: [db]
    labels: [fast]
  - name: bad
    command: [/bin/sh, -c, "exit 1"]
  - name: off
    command: [/bin/sh, -c, "exit 0"]
    disabled: true
`

// writeCatalog writes catalogYAML to a new temporary directory and returns
// the directory.
func writeCatalog(t *testing.T) string {
	td := testutil.TempDir(t)
	if err := testutil.WriteFiles(td, map[string]string{"tests.yaml": catalogYAML}); err != nil {
		t.Fatal(err)
	}
	return td
}

type newCmdFunc func(stdout, stderr io.Writer, logTime *bool) subcommands.Command

// executeCmd creates a command with newCmd and executes it with args. Catalog
// and state flags pointing into td are prepended to args.
func executeCmd(t *testing.T, newCmd newCmdFunc, td string, args ...string) (status subcommands.ExitStatus, stdout, stderr string) {
	t.Helper()
	t.Setenv(loadavg.FakeLoadEnv, "")
	var outBuf, errBuf bytes.Buffer
	logTime := false
	cmd := newCmd(&outBuf, &errBuf, &logTime)

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	cmd.SetFlags(flags)
	args = append([]string{
		"-catalog", filepath.Join(td, "tests.yaml"),
		"-statedir", filepath.Join(td, "state"),
	}, args...)
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	status = cmd.Execute(context.Background(), flags)
	return status, outBuf.String(), errBuf.String()
}

func listCmdFunc(stdout, stderr io.Writer, logTime *bool) subcommands.Command {
	return newListCmd(stdout, stderr, logTime)
}

func runCmdFunc(stdout, stderr io.Writer, logTime *bool) subcommands.Command {
	return newRunCmd(stdout, stderr, logTime)
}

func orderCmdFunc(stdout, stderr io.Writer, logTime *bool) subcommands.Command {
	return newOrderCmd(stdout, stderr, logTime)
}
