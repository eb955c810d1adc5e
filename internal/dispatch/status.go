// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"go.chromium.org/testsched/errors"
)

// Status is the terminal outcome of a test.
type Status int

const (
	// StatusPassed means the command succeeded.
	StatusPassed Status = iota
	// StatusFailed means the command failed, or a test it requires success
	// of failed and it was never started.
	StatusFailed
	// StatusTimeout means the command exceeded its timeout.
	StatusTimeout
	// StatusException means the command was killed by a signal.
	StatusException
	// StatusBadCommand means the command could not be started.
	StatusBadCommand
	// StatusNotRun means the stop time passed before the test could start.
	StatusNotRun
	// StatusSkipped means the command exited with its skip return code, or
	// the test finished in a previous run.
	StatusSkipped
	// StatusDisabled means the test is disabled and was never started.
	StatusDisabled
)

var statusNames = map[Status]string{
	StatusPassed:     "Passed",
	StatusFailed:     "Failed",
	StatusTimeout:    "Timeout",
	StatusException:  "Exception",
	StatusBadCommand: "BadCommand",
	StatusNotRun:     "NotRun",
	StatusSkipped:    "Skipped",
	StatusDisabled:   "Disabled",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Failed reports whether s counts as a failure.
func (s Status) Failed() bool {
	switch s {
	case StatusFailed, StatusTimeout, StatusException, StatusBadCommand, StatusNotRun:
		return true
	}
	return false
}

// State is the scheduling state of a test during a run.
type State int

const (
	// StatePending means some dependencies have not finished.
	StatePending State = iota
	// StateReady means all dependencies have finished.
	StateReady
	// StateRunning means the test was handed to the runner.
	StateRunning
	// StateDone means the test reached a terminal status.
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateDone:
		return "Done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// RepeatMode selects which outcomes cause a test to run again.
type RepeatMode int

const (
	// RepeatNone runs every test once.
	RepeatNone RepeatMode = iota
	// RepeatUntilFail runs a test again while it passes.
	RepeatUntilFail
	// RepeatUntilPass runs a test again while it fails.
	RepeatUntilPass
	// RepeatAfterTimeout runs a test again while it times out.
	RepeatAfterTimeout
)

var repeatModeNames = map[string]RepeatMode{
	"until-fail":    RepeatUntilFail,
	"until-pass":    RepeatUntilPass,
	"after-timeout": RepeatAfterTimeout,
}

// Repeat limits how many times a test may run.
type Repeat struct {
	Mode RepeatMode
	// Count is the maximum number of runs of a test, including the first.
	Count int
}

// ParseRepeat parses "<mode>:<count>" where mode is one of until-fail,
// until-pass or after-timeout. An empty string means no repeat.
func ParseRepeat(s string) (Repeat, error) {
	if s == "" {
		return Repeat{}, nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Repeat{}, errors.Errorf("repeat %q is not <mode>:<n>", s)
	}
	mode, ok := repeatModeNames[parts[0]]
	if !ok {
		return Repeat{}, errors.Errorf("unknown repeat mode %q", parts[0])
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 {
		return Repeat{}, errors.Errorf("repeat count %q is not a positive integer", parts[1])
	}
	return Repeat{Mode: mode, Count: n}, nil
}

// again reports whether a test that has run runs times with last status st
// should run once more.
func (r Repeat) again(st Status, runs int) bool {
	if runs >= r.Count {
		return false
	}
	switch r.Mode {
	case RepeatUntilFail:
		return st == StatusPassed
	case RepeatUntilPass:
		return st.Failed()
	case RepeatAfterTimeout:
		return st == StatusTimeout
	}
	return false
}
