// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package catalog defines declared test records and the catalog holding them.
package catalog

import (
	"time"

	"golang.org/x/exp/slices"
)

// Test is a declared test.
//
// Fields other than Cost and PreviousRuns are fixed once the run starts.
// Cost and PreviousRuns are seeded from the cost data file before
// scheduling.
type Test struct {
	// Index is the 1-based position of the test in the full catalog. It is
	// stable for the whole run and is what checkpoints record.
	Index int
	// Name identifies the test in DEPENDS lists and in the cost data file.
	Name string

	// Command is the command line to run. Command[0] is the executable.
	Command []string
	// WorkingDir is the directory the command runs in.
	WorkingDir string
	// Environment holds extra "KEY=value" entries.
	Environment []string
	// Labels are free-form tags used for selection.
	Labels []string

	// Depends names tests that must finish before this one starts.
	Depends []string
	// RequireSuccessDepends names tests whose failure fails this test
	// without running it.
	RequireSuccessDepends []string
	// LockedResources are resource names this test holds while running.
	LockedResources []string
	// RunSerial requests that no other test runs alongside this one.
	RunSerial bool

	FixturesRequired []string
	FixturesSetup    []string
	FixturesCleanup  []string

	// Processors is the number of parallel slots the test occupies.
	Processors int
	// WantAffinity requests pinning to dedicated processors.
	WantAffinity bool

	// Cost is the historical execution time in seconds, 0 if unknown.
	Cost float64
	// PreviousRuns counts the runs folded into Cost.
	PreviousRuns int

	// Timeout is the per-test timeout; 0 means none.
	Timeout time.Duration
	// Disabled tests are reported but never run.
	Disabled bool
	// WillFail inverts the pass/fail result of the command.
	WillFail bool
	// SkipReturnCode is an exit code marking the test as skipped, or -1.
	SkipReturnCode int
}

// Clone returns a deep copy of t.
func (t *Test) Clone() *Test {
	c := *t
	c.Command = slices.Clone(t.Command)
	c.Environment = slices.Clone(t.Environment)
	c.Labels = slices.Clone(t.Labels)
	c.Depends = slices.Clone(t.Depends)
	c.RequireSuccessDepends = slices.Clone(t.RequireSuccessDepends)
	c.LockedResources = slices.Clone(t.LockedResources)
	c.FixturesRequired = slices.Clone(t.FixturesRequired)
	c.FixturesSetup = slices.Clone(t.FixturesSetup)
	c.FixturesCleanup = slices.Clone(t.FixturesCleanup)
	return &c
}

// RequiresSuccessOf reports whether a failure of the named test must fail t.
func (t *Test) RequiresSuccessOf(name string) bool {
	return slices.Contains(t.RequireSuccessDepends, name)
}

// Catalog is the ordered, immutable list of all declared tests.
type Catalog struct {
	tests  []*Test
	byName map[string]*Test
}

// New creates a Catalog. Indices are assigned from the position in tests,
// starting at 1.
func New(tests []*Test) *Catalog {
	c := &Catalog{byName: make(map[string]*Test)}
	for i, t := range tests {
		t.Index = i + 1
		c.tests = append(c.tests, t)
		c.byName[t.Name] = t
	}
	return c
}

// Tests returns all tests in catalog order. Callers must not modify them;
// use Clone to get a modifiable copy.
func (c *Catalog) Tests() []*Test {
	return append([]*Test(nil), c.tests...)
}

// Len returns the number of tests.
func (c *Catalog) Len() int {
	return len(c.tests)
}

// Lookup returns the test named name.
func (c *Catalog) Lookup(name string) (*Test, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// CloneAll deep-copies tests.
func CloneAll(tests []*Test) []*Test {
	out := make([]*Test, len(tests))
	for i, t := range tests {
		out[i] = t.Clone()
	}
	return out
}
