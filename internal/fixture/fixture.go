// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fixture expands a selected test list with the setup and cleanup
// tests of the fixtures it requires.
//
// A test requiring fixture F depends on, and requires the success of, every
// test providing F as setup. Every test providing F as cleanup depends on
// every test requiring F and on every setup test of F, so cleanup runs last
// even when nothing in the run requires F.
package fixture

import (
	"context"
	"regexp"

	"golang.org/x/exp/slices"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/logging"
)

// Excludes holds the fixture-name patterns whose setup or cleanup tests must
// not be added to a run. A nil pattern excludes nothing.
type Excludes struct {
	Setup   *regexp.Regexp
	Cleanup *regexp.Regexp
}

// NewExcludes compiles exclusion patterns. both applies to setup and
// cleanup tests; setup and cleanup apply only to their kind. Empty strings
// are ignored.
func NewExcludes(both, setup, cleanup string) (*Excludes, error) {
	combine := func(kind, specific string) (*regexp.Regexp, error) {
		expr := both
		switch {
		case expr == "":
			expr = specific
		case specific != "":
			expr = "(" + both + ")|(" + specific + ")"
		}
		if expr == "" {
			return nil, nil
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.Wrapf(err, "bad fixture %s exclusion pattern", kind)
		}
		return re, nil
	}
	s, err := combine("setup", setup)
	if err != nil {
		return nil, err
	}
	c, err := combine("cleanup", cleanup)
	if err != nil {
		return nil, err
	}
	return &Excludes{Setup: s, Cleanup: c}, nil
}

func excluded(re *regexp.Regexp, fixture string) bool {
	return re != nil && re.MatchString(fixture)
}

// Expand returns a copy of selected with fixture setup and cleanup tests
// from all appended and with fixture dependency edges added. Appended tests
// keep their catalog index. ex may be nil.
func Expand(ctx context.Context, selected, all []*catalog.Test, ex *Excludes) []*catalog.Test {
	if ex == nil {
		ex = &Excludes{}
	}

	setups := make(map[string][]*catalog.Test)
	cleanups := make(map[string][]*catalog.Test)
	for _, t := range all {
		for _, f := range t.FixturesSetup {
			setups[f] = append(setups[f], t)
		}
		for _, f := range t.FixturesCleanup {
			cleanups[f] = append(cleanups[f], t)
		}
	}

	tests := catalog.CloneAll(selected)
	inRun := make(map[string]struct{})
	for _, t := range tests {
		inRun[t.Name] = struct{}{}
	}
	add := func(t *catalog.Test, kind, fixture string) {
		if _, ok := inRun[t.Name]; ok {
			return
		}
		inRun[t.Name] = struct{}{}
		tests = append(tests, t.Clone())
		logging.Debugf(ctx, "Added %s test %s required by fixture %s", kind, t.Name, fixture)
	}

	// Positions in tests of tests requiring, or setting up, each fixture.
	requirers := make(map[string][]int)
	setupsInRun := make(map[string][]int)
	seen := make(map[string]struct{})
	added := 0

	// tests grows while iterating, so newly added setup tests are scanned
	// for their own requirements too.
	for i := 0; i < len(tests); i++ {
		if tests[i].Disabled {
			continue
		}
		for _, name := range slices.Clone(tests[i].FixturesRequired) {
			if name == "" {
				continue
			}
			requirers[name] = append(requirers[name], i)

			for _, s := range setups[name] {
				t := tests[i]
				if !slices.Contains(t.RequireSuccessDepends, s.Name) {
					t.RequireSuccessDepends = append(t.RequireSuccessDepends, s.Name)
				}
				if !slices.Contains(t.Depends, s.Name) {
					t.Depends = append(t.Depends, s.Name)
				}
			}

			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}

			before := len(tests)
			if !excluded(ex.Setup, name) {
				for _, s := range setups[name] {
					add(s, "setup", name)
				}
			}
			if !excluded(ex.Cleanup, name) {
				for _, c := range cleanups[name] {
					add(c, "cleanup", name)
				}
			}
			added += len(tests) - before
		}

		for _, name := range tests[i].FixturesSetup {
			if name != "" {
				setupsInRun[name] = append(setupsInRun[name], i)
			}
		}
	}

	for _, t := range tests {
		for _, name := range t.FixturesCleanup {
			for _, i := range requirers[name] {
				addDepend(t, tests[i].Name)
			}
			for _, i := range setupsInRun[name] {
				addDepend(t, tests[i].Name)
			}
		}
	}

	logging.Debugf(ctx, "Added %d tests to meet fixture requirements", added)
	return tests
}

func addDepend(t *catalog.Test, name string) {
	if name == t.Name || slices.Contains(t.Depends, name) {
		return
	}
	t.Depends = append(t.Depends, name)
}
