// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package execrunner runs tests as local processes on behalf of the
// dispatcher.
package execrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/dispatch"
	"go.chromium.org/testsched/internal/logging"
	"go.chromium.org/testsched/shutil"
)

// DefaultOutputLimit is the number of output bytes kept per test run.
const DefaultOutputLimit = 1 << 20

const waitDelay = 5 * time.Second

// Runner starts each test as a process in its own process group and reports
// its completion once the process exits. It implements dispatch.Runner.
type Runner struct {
	outputLimit int
	ch          chan *dispatch.Completion
	eg          errgroup.Group
	closed      chan struct{}
	closeOnce   sync.Once
}

var _ dispatch.Runner = (*Runner)(nil)

// New creates a Runner keeping at most outputLimit bytes of output per run.
// outputLimit <= 0 selects DefaultOutputLimit.
func New(outputLimit int) *Runner {
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	return &Runner{
		outputLimit: outputLimit,
		ch:          make(chan *dispatch.Completion, 64),
		closed:      make(chan struct{}),
	}
}

// Completions implements dispatch.Runner.
func (r *Runner) Completions() <-chan *dispatch.Completion {
	return r.ch
}

// Close kills the processes still running and waits for every started
// process to be reaped. Their completions are still delivered.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return r.eg.Wait()
}

// Start implements dispatch.Runner. Cancelling ctx kills the process group
// of the test.
func (r *Runner) Start(ctx context.Context, req *dispatch.StartRequest) error {
	t := req.Test
	if len(t.Command) == 0 {
		return errors.Errorf("%s has no command", t.Name)
	}

	cmd := exec.Command(t.Command[0], t.Command[1:]...)
	cmd.Dir = t.WorkingDir
	cmd.Env = append(os.Environ(), t.Environment...)
	out := newLimitBuffer(r.outputLimit)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Descendants left holding the output pipes must not stall the run.
	cmd.WaitDelay = waitDelay

	logging.Debugf(ctx, "Starting %s: %s", t.Name, shutil.CommandLine(t.WorkingDir, t.Environment, t.Command))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start %s", shutil.EscapeSlice(t.Command))
	}
	if len(req.Affinity) > 0 {
		if err := pin(cmd.Process.Pid, req.Affinity); err != nil {
			logging.Infof(ctx, "Failed to pin %s to processors %v: %v", t.Name, req.Affinity, err)
		}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	r.eg.Go(func() error {
		defer cancel()
		waited := make(chan error, 1)
		go func() { waited <- cmd.Wait() }()

		var err error
		killed, closed := false, false
		select {
		case err = <-waited:
		case <-runCtx.Done():
			killed = true
		case <-r.closed:
			killed, closed = true, true
		}
		if killed {
			// Negative pid signals the whole process group.
			unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
			err = <-waited
		}

		c := &dispatch.Completion{
			Index:    t.Index,
			Duration: time.Since(start),
			Output:   out.String(),
			ExitCode: -1,
		}
		if cmd.ProcessState != nil {
			c.ExitCode = cmd.ProcessState.ExitCode()
		}
		switch {
		case closed:
			c.Status = dispatch.StatusException
			c.Reason = "Interrupted"
		case killed:
			classifyKilled(ctx, req, c)
		default:
			classifyExit(req, err, cmd.ProcessState, c)
		}
		r.ch <- c
		return nil
	})
	return nil
}

// classifyKilled fills in the status of a run that was killed because its
// context ended.
func classifyKilled(ctx context.Context, req *dispatch.StartRequest, c *dispatch.Completion) {
	switch {
	case errors.Is(ctx.Err(), dispatch.ErrStopTimePassed):
		c.Status = dispatch.StatusTimeout
		c.Reason = "Killed because the stop time passed"
		c.StopTimeout = true
	case ctx.Err() != nil:
		c.Status = dispatch.StatusException
		c.Reason = "Interrupted"
	case req.TimeoutIsForStopTime:
		c.Status = dispatch.StatusTimeout
		c.Reason = "Killed because the stop time passed"
		c.StopTimeout = true
	default:
		c.Status = dispatch.StatusTimeout
		c.Reason = fmt.Sprintf("Timeout after %v", req.Timeout)
	}
}

// classifyExit fills in the status of a process that exited on its own.
func classifyExit(req *dispatch.StartRequest, err error, ps *os.ProcessState, c *dispatch.Completion) {
	t := req.Test
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		c.Status = dispatch.StatusBadCommand
		c.Reason = err.Error()
		return
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		c.Status = dispatch.StatusException
		c.Reason = fmt.Sprintf("Exception: %v", ws.Signal())
		return
	}
	code := ps.ExitCode()
	if t.SkipReturnCode >= 0 && code == t.SkipReturnCode {
		c.Status = dispatch.StatusSkipped
		c.Reason = fmt.Sprintf("Skipped with return code %d", code)
		return
	}
	passed := code == 0
	if t.WillFail {
		passed = !passed
	}
	switch {
	case passed:
		c.Status = dispatch.StatusPassed
	case t.WillFail:
		c.Status = dispatch.StatusFailed
		c.Reason = "Expected to fail but exited with 0"
	default:
		c.Status = dispatch.StatusFailed
		c.Reason = fmt.Sprintf("Exited with %d", code)
	}
}

func pin(pid int, ids []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, id := range ids {
		set.Set(id)
	}
	return unix.SchedSetaffinity(pid, &set)
}

// limitBuffer keeps the first limit bytes written to it. Stdout and stderr
// share one limitBuffer, so os/exec serializes the writes.
type limitBuffer struct {
	limit   int
	buf     []byte
	dropped int64
}

func newLimitBuffer(limit int) *limitBuffer {
	return &limitBuffer{limit: limit}
}

func (b *limitBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - len(b.buf); room < len(p) {
		if room < 0 {
			room = 0
		}
		b.dropped += int64(len(p) - room)
		p = p[:room]
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *limitBuffer) String() string {
	if b.dropped == 0 {
		return string(b.buf)
	}
	return fmt.Sprintf("%s\n[output truncated after %s, %s dropped]\n", b.buf,
		units.BytesSize(float64(b.limit)), units.BytesSize(float64(b.dropped)))
}
