// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var selfName = filepath.Base(os.Args[0])

// InstallSignalHandler handles SIGINT and SIGTERM in two stages. The first
// signal calls stop, which should let running tests wind down and keep the
// checkpoint. The second kills the process groups of all children and exits
// with status 1; for SIGTERM, which usually comes from a supervisor giving
// up, goroutine stacks are dumped to out first.
func InstallSignalHandler(out io.Writer, stop func(sig os.Signal)) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	go func() {
		sig := <-ch
		fmt.Fprintf(out, "\n%s: Caught %v; waiting for running tests (repeat to abort)\n", selfName, sig)
		stop(sig)

		sig = <-ch
		fmt.Fprintf(out, "\n%s: Caught %v again; aborting\n", selfName, sig)
		if sig == unix.SIGTERM {
			fmt.Fprintf(out, "\n%s: Goroutines:\n\n", selfName)
			if p := pprof.Lookup("goroutine"); p != nil {
				p.WriteTo(out, 2)
			}
		}
		if n, err := KillChildGroups(context.Background()); err != nil {
			fmt.Fprintf(out, "%s: Failed to kill tests: %v\n", selfName, err)
		} else if n > 0 {
			fmt.Fprintf(out, "%s: Killed %d running tests\n", selfName, n)
		}
		os.Exit(1)
	}()
}

// KillChildGroups sends SIGKILL to the process group of every direct child
// of this process and returns how many children it found. Tests run as
// process group leaders, so this also reaches the processes they spawned.
func KillChildGroups(ctx context.Context) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}
	self := int32(os.Getpid())
	n := 0
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil || ppid != self {
			continue
		}
		n++
		pid := int(p.Pid)
		if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
			unix.Kill(-pid, unix.SIGKILL)
		} else {
			unix.Kill(pid, unix.SIGKILL)
		}
	}
	return n, nil
}
