// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dispatch runs a set of tests through a Runner, honoring
// dependencies, locked resources, serial tests, processor slots and the
// system load.
//
// A single goroutine owns all scheduling state. The Runner may run tests
// concurrently but reports every outcome through one channel that the
// dispatcher consumes serially.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/arbiter"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/checkpoint"
	"go.chromium.org/testsched/internal/costdata"
	"go.chromium.org/testsched/internal/graph"
	"go.chromium.org/testsched/internal/loadavg"
	"go.chromium.org/testsched/internal/logging"
	"go.chromium.org/testsched/internal/xcontext"
)

// ErrStopTimePassed is the error of the context passed to Runner.Start once
// the stop time has passed.
var ErrStopTimePassed = errors.New("stop time passed")

// Config contains parameters of a dispatch.
type Config struct {
	// Parallel is the number of processor slots tests may occupy at once.
	Parallel int
	// Affinity holds processors that tests wanting affinity are pinned to.
	// It may be nil.
	Affinity *arbiter.AffinityPool
	// Monitor gates admission on the system load. It may be nil.
	Monitor *loadavg.Monitor
	// StopTime stops admission of new tests once passed. The zero value
	// means no stop time.
	StopTime time.Time
	Repeat   Repeat
	// Clock defaults to the real clock.
	Clock clock.Clock
	// Checkpoint records finished test indices. It may be nil.
	Checkpoint *checkpoint.Store
	// Resumed lists indices that finished in a previous run.
	Resumed []int
}

type testState struct {
	test      *catalog.Test
	state     State
	remaining graph.IndexSet
	acquired  bool
	affinity  []int
	runs      int
}

type dispatcher struct {
	cfg    *Config
	clk    clock.Clock
	runner Runner
	runCtx context.Context
	arb    *arbiter.Arbiter

	order   []int
	states  map[int]*testState
	resumed map[int]struct{}
	failed  map[string]struct{}
	left    int

	sum        *Summary
	stopPassed bool
	progressed bool
}

// Run dispatches tests until each of them finished, the stop time passed or
// ctx was canceled. g holds the dependencies of tests and order is the
// preferred start order of their indices.
//
// Tests still waiting when the stop time passes or ctx is canceled finish
// as StatusNotRun. Running tests are always waited for. A canceled ctx is
// reported as an error together with the summary so far.
func Run(ctx context.Context, cfg *Config, g *graph.Graph, tests []*catalog.Test, order []int, runner Runner) (*Summary, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	start := clk.Now()

	var runCtx context.Context
	var cancel xcontext.CancelFunc
	if cfg.StopTime.IsZero() {
		runCtx, cancel = xcontext.WithCancel(ctx)
	} else {
		runCtx, cancel = xcontext.WithDeadlineClock(ctx, clk, cfg.StopTime, ErrStopTimePassed)
	}
	defer cancel(context.Canceled)

	d := &dispatcher{
		cfg:     cfg,
		clk:     clk,
		runner:  runner,
		runCtx:  runCtx,
		arb:     arbiter.New(cfg.Parallel, cfg.Affinity),
		states:  make(map[int]*testState, len(tests)),
		resumed: make(map[int]struct{}),
		failed:  make(map[string]struct{}),
		left:    len(tests),
		sum:     &Summary{},
	}
	for _, t := range tests {
		d.states[t.Index] = &testState{test: t, remaining: g.Dependencies(t.Index).Clone()}
	}
	d.order = completeOrder(order, tests, d.states)
	d.resume(ctx)
	for _, st := range d.states {
		if st.state == StatePending && len(st.remaining) == 0 {
			st.state = StateReady
		}
	}

	err := d.loop(ctx)

	d.sum.Elapsed = clk.Now().Sub(start)
	for _, t := range tests {
		if _, ok := d.resumed[t.Index]; ok {
			continue
		}
		d.sum.Costs = append(d.sum.Costs, costdata.Entry{Name: t.Name, PreviousRuns: t.PreviousRuns, Cost: t.Cost})
	}
	return d.sum, err
}

// completeOrder drops unknown and duplicate indices from order and appends
// tests it misses in catalog order.
func completeOrder(order []int, tests []*catalog.Test, states map[int]*testState) []int {
	seen := make(map[int]struct{}, len(tests))
	var out []int
	for _, i := range order {
		if _, ok := states[i]; !ok {
			continue
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	for _, t := range tests {
		if _, ok := seen[t.Index]; !ok {
			seen[t.Index] = struct{}{}
			out = append(out, t.Index)
		}
	}
	return out
}

// resume marks tests recorded by an interrupted run as finished.
func (d *dispatcher) resume(ctx context.Context) {
	if len(d.cfg.Resumed) == 0 {
		return
	}
	logging.Info(ctx, "Resuming previously interrupted test set")
	for _, i := range d.cfg.Resumed {
		st, ok := d.states[i]
		if !ok {
			logging.Debugf(ctx, "Ignoring checkpointed test #%d, which is not part of this run", i)
			continue
		}
		if st.state == StateDone {
			continue
		}
		st.state = StateDone
		d.left--
		d.resumed[i] = struct{}{}
		d.sum.Resumed = append(d.sum.Resumed, st.test.Name)
		d.release(i)
	}
}

// release removes a finished index from the remaining dependencies of every
// test.
func (d *dispatcher) release(index int) {
	for _, st := range d.states {
		if _, ok := st.remaining[index]; !ok {
			continue
		}
		delete(st.remaining, index)
		if st.state == StatePending && len(st.remaining) == 0 {
			st.state = StateReady
		}
	}
}

func (d *dispatcher) loop(ctx context.Context) error {
	done := d.runCtx.Done()
	canceled := false
	for d.left > 0 {
		if done != nil {
			err := ctx.Err()
			if err == nil {
				err = d.runCtx.Err()
			}
			if err != nil {
				if errors.Is(err, ErrStopTimePassed) {
					d.setStopTimePassed(ctx)
				} else {
					canceled = true
					logging.Info(ctx, "Run canceled; waiting for running tests")
				}
				done = nil
			} else if d.stopPassed || d.stopTimeReached() {
				d.setStopTimePassed(ctx)
				done = nil
			}
		}

		var retry <-chan time.Time
		var tm clock.Timer
		if done != nil {
			d.progressed = false
			if wait := d.startNext(ctx); wait > 0 {
				tm = d.clk.NewTimer(wait)
				retry = tm.C()
			}
		} else {
			reason := "The stop time has been passed"
			if canceled {
				reason = "The run was canceled"
			}
			d.abandonPending(ctx, reason)
		}
		if d.left == 0 {
			break
		}
		if d.arb.Running() == 0 && retry == nil {
			if d.progressed {
				continue
			}
			d.abandonPending(ctx, "Dependencies could not be satisfied")
			break
		}

		select {
		case c := <-d.runner.Completions():
			d.complete(ctx, c)
		case <-retry:
		case <-done:
		}
		if tm != nil {
			tm.Stop()
		}
	}
	if canceled {
		return errors.Wrap(ctx.Err(), "run canceled")
	}
	return nil
}

func (d *dispatcher) stopTimeReached() bool {
	return !d.cfg.StopTime.IsZero() && !d.clk.Now().Before(d.cfg.StopTime)
}

func (d *dispatcher) setStopTimePassed(ctx context.Context) {
	if d.stopPassed {
		return
	}
	d.stopPassed = true
	d.sum.StopTimePassed = true
	logging.Info(ctx, "The stop time has been passed. Stopping all tests.")
}

// startNext starts as many tests as slots, load and locks allow. It returns
// how long to wait before trying again when the load blocked every
// candidate, or 0.
func (d *dispatcher) startNext(ctx context.Context) time.Duration {
	numToStart := d.arb.FreeSlots()
	if numToStart == 0 || d.arb.SerialRunning() {
		return 0
	}
	var candidates []*testState
	for _, i := range d.order {
		if st := d.states[i]; st.state == StatePending || st.state == StateReady {
			candidates = append(candidates, st)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	mon := d.cfg.Monitor
	allFailedLoad := false
	var load, spare int
	if mon.Enabled() {
		allFailedLoad = true
		load, spare = mon.Sample(ctx)
		if numToStart > spare {
			numToStart = spare
		}
	}

	// Only tests that could start now count toward the load verdict.
	runnable := false
	minProcs := d.arb.Parallel()
	minName := ""
	for _, st := range candidates {
		if d.arb.SerialRunning() {
			break
		}
		t := st.test
		if st.state != StateReady || !d.arb.CanStart(t) {
			continue
		}
		runnable = true
		procs := d.arb.ProcessorsUsed(t)
		loadOK := true
		if mon.Enabled() {
			if procs <= spare {
				logging.Debugf(ctx, "OK to run %s, it requires %d procs & system load is: %d", t.Name, procs, load)
				allFailedLoad = false
			} else {
				loadOK = false
			}
		}
		if procs <= minProcs {
			minProcs = procs
			minName = t.Name
		}
		if loadOK && procs <= numToStart && d.tryStart(ctx, st) {
			numToStart -= procs
		} else if numToStart == 0 {
			break
		}
	}

	if !allFailedLoad || !runnable {
		return 0
	}
	onlySerialLeft := true
	for _, st := range candidates {
		if !st.test.RunSerial {
			onlySerialLeft = false
		}
	}
	var msg string
	switch {
	case d.arb.SerialRunning():
		msg = "Waiting for RUN_SERIAL test to finish."
	case onlySerialLeft:
		msg = "Only RUN_SERIAL tests remain, awaiting available slot."
	default:
		msg = fmt.Sprintf("System Load: %d, Max Allowed Load: %d, Smallest test %s requires %d", load, mon.Max(), minName, minProcs)
	}
	logging.Infof(ctx, "***** WAITING, %s *****", msg)
	return mon.Backoff()
}

// tryStart starts st if it is ready and admitted. Disabled tests and tests
// whose required dependencies failed finish here without reaching the
// runner. It reports whether the runner took the test.
func (d *dispatcher) tryStart(ctx context.Context, st *testState) bool {
	t := st.test
	if st.state != StateReady || !d.arb.CanStart(t) {
		return false
	}
	if t.Disabled {
		d.finish(ctx, st, &Result{Status: StatusDisabled, Reason: "Disabled"})
		return false
	}
	if failed := d.failedDependencies(t); len(failed) > 0 {
		msg := "Failed test dependencies: " + strings.Join(failed, " ")
		logging.Info(ctx, msg)
		d.finish(ctx, st, &Result{Status: StatusFailed, Reason: msg})
		return false
	}

	st.affinity = d.arb.Acquire(t)
	st.acquired = true
	st.state = StateRunning
	if err := d.launch(ctx, st); err != nil {
		d.finish(ctx, st, &Result{Status: StatusBadCommand, Reason: err.Error(), Runs: st.runs})
		return false
	}
	return true
}

func (d *dispatcher) failedDependencies(t *catalog.Test) []string {
	var failed []string
	for _, name := range t.RequireSuccessDepends {
		if _, ok := d.failed[name]; ok {
			failed = append(failed, name)
		}
	}
	return failed
}

// launch hands one more run of st to the runner. Logs emitted for the run,
// including those of the runner, are prefixed with the test index.
func (d *dispatcher) launch(ctx context.Context, st *testState) error {
	st.runs++
	req := &StartRequest{
		Test:     st.test,
		Affinity: st.affinity,
		Run:      st.runs,
	}
	req.Timeout, req.TimeoutIsForStopTime = d.effectiveTimeout(st.test)
	prefix := fmt.Sprintf("[#%d] ", st.test.Index)
	ctx = logging.SetLogPrefix(ctx, prefix)
	logging.Debugf(ctx, "Starting %s (run %d)", st.test.Name, st.runs)
	if err := d.runner.Start(logging.SetLogPrefix(d.runCtx, prefix), req); err != nil {
		logging.Infof(ctx, "Failed to start %s: %v", st.test.Name, err)
		return err
	}
	return nil
}

// effectiveTimeout returns the smaller of the test timeout and the time left
// until the stop time, and whether the latter was chosen.
func (d *dispatcher) effectiveTimeout(t *catalog.Test) (time.Duration, bool) {
	if d.cfg.StopTime.IsZero() {
		return t.Timeout, false
	}
	left := d.cfg.StopTime.Sub(d.clk.Now())
	if left < 0 {
		left = 0
	}
	if t.Timeout == 0 || left < t.Timeout {
		return left, true
	}
	return t.Timeout, false
}

// complete handles a completion from the runner.
func (d *dispatcher) complete(ctx context.Context, c *Completion) {
	st, ok := d.states[c.Index]
	if !ok || st.state != StateRunning {
		logging.Infof(ctx, "Ignoring unexpected completion of test #%d", c.Index)
		return
	}
	if c.StopTimeout {
		d.setStopTimePassed(ctx)
	}
	if c.Status == StatusPassed {
		costdata.Update(st.test, c.Duration.Seconds())
	}
	if !d.stopPassed && d.runCtx.Err() == nil && d.cfg.Repeat.again(c.Status, st.runs) {
		logging.Infof(ctx, "%s: %s on run %d; running again", st.test.Name, c.Status, st.runs)
		err := d.launch(ctx, st)
		if err == nil {
			return
		}
		c = &Completion{Index: c.Index, Status: StatusBadCommand, Reason: err.Error()}
	}
	d.finish(ctx, st, &Result{
		Status:   c.Status,
		Reason:   c.Reason,
		Output:   c.Output,
		Duration: c.Duration,
		ExitCode: c.ExitCode,
		Runs:     st.runs,
	})
}

// finish records the terminal result of st and releases what it holds.
func (d *dispatcher) finish(ctx context.Context, st *testState, res *Result) {
	t := st.test
	res.Index = t.Index
	res.Name = t.Name
	st.state = StateDone
	d.left--
	d.progressed = true

	d.sum.Results = append(d.sum.Results, res)
	switch {
	case res.Status.Failed():
		d.sum.Failed = append(d.sum.Failed, t.Name)
		d.failed[t.Name] = struct{}{}
	case res.Status != StatusDisabled:
		d.sum.Passed = append(d.sum.Passed, t.Name)
	}

	d.release(t.Index)
	if err := d.cfg.Checkpoint.Append(t.Index); err != nil {
		logging.Infof(ctx, "Failed to update checkpoint: %v", err)
	}
	if st.acquired {
		d.arb.Release(t, st.affinity)
		st.acquired = false
		st.affinity = nil
	}

	logging.Infof(ctx, "%3d/%d Test #%d: %s ... %s %.2f sec",
		len(d.sum.Results)+len(d.sum.Resumed), len(d.states), t.Index, t.Name, res.Status, res.Duration.Seconds())
	if res.Reason != "" && res.Status != StatusDisabled {
		logging.Debugf(ctx, "%s: %s", t.Name, res.Reason)
	}
}

// abandonPending finishes every test that has not started as NotRun.
func (d *dispatcher) abandonPending(ctx context.Context, reason string) {
	for _, i := range d.order {
		st := d.states[i]
		if st.state != StatePending && st.state != StateReady {
			continue
		}
		res := &Result{Index: i, Name: st.test.Name, Status: StatusNotRun, Reason: reason}
		st.state = StateDone
		d.left--
		d.sum.Results = append(d.sum.Results, res)
		d.sum.Failed = append(d.sum.Failed, st.test.Name)
		d.failed[st.test.Name] = struct{}{}
		logging.Debugf(ctx, "%s not run: %s", st.test.Name, reason)
	}
}
