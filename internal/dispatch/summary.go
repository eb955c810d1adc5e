// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dispatch

import (
	"math"
	"time"

	"go.chromium.org/testsched/internal/costdata"
)

// Result is the final outcome of a test in a run.
type Result struct {
	Index    int
	Name     string
	Status   Status
	Reason   string
	Output   string
	Duration time.Duration
	ExitCode int
	// Runs counts how many times the runner ran the test.
	Runs int
}

// Summary aggregates the results of a run.
type Summary struct {
	// Results holds tests dispatched in this run, in the order they
	// finished.
	Results []*Result
	// Passed names tests that passed or were skipped.
	Passed []string
	// Failed names tests whose status is a failure. It is what the cost
	// data file records for the next run.
	Failed []string
	// Resumed names tests that finished in a previous run.
	Resumed []string
	// StopTimePassed is set when the stop time cut the run short.
	StopTimePassed bool
	Elapsed        time.Duration
	// Costs holds updated cost records of tests dispatched in this run.
	Costs []costdata.Entry
}

// Total returns the number of tests that passed or failed. Disabled tests are
// not counted.
func (s *Summary) Total() int {
	return len(s.Passed) + len(s.Failed)
}

// FailedResults returns the results whose status is a failure.
func (s *Summary) FailedResults() []*Result {
	return s.filter(func(r *Result) bool { return r.Status.Failed() })
}

// UnrunResults returns the results of disabled and skipped tests.
func (s *Summary) UnrunResults() []*Result {
	return s.filter(func(r *Result) bool { return r.Status == StatusDisabled || r.Status == StatusSkipped })
}

func (s *Summary) filter(keep func(r *Result) bool) []*Result {
	var rs []*Result
	for _, r := range s.Results {
		if keep(r) {
			rs = append(rs, r)
		}
	}
	return rs
}

// PassedPercent returns the rounded percentage of counted tests that passed.
// It never reports 100 while a test failed. An empty run counts as fully
// passed.
func (s *Summary) PassedPercent() int {
	total := s.Total()
	if total == 0 {
		return 100
	}
	p := int(math.Round(float64(len(s.Passed)) * 100 / float64(total)))
	if len(s.Failed) > 0 && p > 99 {
		p = 99
	}
	return p
}
