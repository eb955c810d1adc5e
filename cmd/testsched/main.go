// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the testsched executable, which schedules and runs
// the tests declared in a catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/crypto/ssh/terminal"

	"go.chromium.org/testsched/internal/command"
)

// Exit statuses of subcommands.
const (
	statusSuccess     = 0
	statusError       = 1
	statusUsage       = 2
	statusTestsFailed = 8
)

// Version is the version info of this command. It is filled in at build time.
var Version = "<unknown>"

// installSignalHandler cancels the run on the first SIGINT or SIGTERM,
// restoring the terminal state first. A second signal exits immediately.
func installSignalHandler(cancel context.CancelFunc) {
	var st *terminal.State
	fd := int(os.Stdin.Fd())
	if terminal.IsTerminal(fd) {
		var err error
		if st, err = terminal.GetState(fd); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to get terminal state: ", err)
		}
	}
	command.InstallSignalHandler(os.Stderr, func(os.Signal) {
		if st != nil {
			terminal.Restore(fd, st)
		}
		cancel()
	})
}

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	version := flag.Bool("version", false, "print version and exit")
	logTime := flag.Bool("logtime", false, "include date/time headers in logs")

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newRunCmd(os.Stdout, os.Stderr, logTime), "")
	subcommands.Register(newListCmd(os.Stdout, os.Stderr, logTime), "")
	subcommands.Register(newOrderCmd(os.Stdout, os.Stderr, logTime), "")
	flag.Parse()

	if *version {
		fmt.Printf("testsched version %s\n", Version)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(cancel)

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
