// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dispatch

import (
	"context"
	"time"

	"go.chromium.org/testsched/internal/catalog"
)

// StartRequest asks a Runner to run a test once.
type StartRequest struct {
	Test *catalog.Test
	// Timeout is the effective timeout of this run, 0 for none. It is the
	// smaller of the test's timeout and the time left until the stop time.
	Timeout time.Duration
	// TimeoutIsForStopTime is set when Timeout comes from the stop time.
	TimeoutIsForStopTime bool
	// Affinity lists processor ids the test is pinned to, if any.
	Affinity []int
	// Run is the 1-based number of this run of the test.
	Run int
}

// Completion reports the outcome of one run of a test.
type Completion struct {
	Index    int
	Status   Status
	Reason   string
	Output   string
	Duration time.Duration
	ExitCode int
	// StopTimeout is set when the run was killed because the stop time
	// passed.
	StopTimeout bool
}

// Runner executes tests on behalf of the dispatcher.
//
// Start must not block on the test itself. Every successful Start must be
// followed by exactly one Completion for the test on the Completions
// channel, including when ctx is canceled. A Start error is taken as a
// failure to spawn the test and no Completion may follow.
type Runner interface {
	Start(ctx context.Context, req *StartRequest) error
	Completions() <-chan *Completion
}
