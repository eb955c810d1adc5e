// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package catalog

import (
	"io"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"go.chromium.org/testsched/errors"
)

// file is the YAML layout of a catalog file.
type file struct {
	Tests []*testEntry `yaml:"tests"`
}

type testEntry struct {
	Name                  string   `yaml:"name"`
	Command               []string `yaml:"command"`
	WorkingDir            string   `yaml:"working_directory"`
	Environment           []string `yaml:"environment"`
	Labels                []string `yaml:"labels"`
	Depends               []string `yaml:"depends"`
	RequireSuccessDepends []string `yaml:"require_success_depends"`
	ResourceLock          []string `yaml:"resource_lock"`
	RunSerial             bool     `yaml:"run_serial"`
	FixturesRequired      []string `yaml:"fixtures_required"`
	FixturesSetup         []string `yaml:"fixtures_setup"`
	FixturesCleanup       []string `yaml:"fixtures_cleanup"`
	Processors            int      `yaml:"processors"`
	ProcessorAffinity     bool     `yaml:"processor_affinity"`
	Cost                  float64  `yaml:"cost"`
	TimeoutSeconds        float64  `yaml:"timeout"`
	Disabled              bool     `yaml:"disabled"`
	WillFail              bool     `yaml:"will_fail"`
	SkipReturnCode        *int     `yaml:"skip_return_code"`
}

// Load reads a YAML catalog:
//
//	tests:
//	  - name: db_setup
//	    command: [./setup_db]
//	    fixtures_setup: [db]
//	  - name: query
//	    command: [./query_test, --fast]
//	    fixtures_required: [db]
//	    resource_lock: [port-8080]
//	    timeout: 30
//
// Test names must be unique and non-empty.
func Load(r io.Reader) (*Catalog, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog")
	}
	var f file
	if err := yaml.UnmarshalStrict(b, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog")
	}

	seen := make(map[string]struct{})
	var tests []*Test
	for i, e := range f.Tests {
		if e.Name == "" {
			return nil, errors.Errorf("test #%d has no name", i+1)
		}
		if _, ok := seen[e.Name]; ok {
			return nil, errors.Errorf("duplicate test name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if e.Processors < 0 {
			return nil, errors.Errorf("test %q: negative processors %d", e.Name, e.Processors)
		}
		if e.TimeoutSeconds < 0 {
			return nil, errors.Errorf("test %q: negative timeout", e.Name)
		}
		tests = append(tests, e.toTest())
	}
	return New(tests), nil
}

func (e *testEntry) toTest() *Test {
	t := &Test{
		Name:                  e.Name,
		Command:               e.Command,
		WorkingDir:            e.WorkingDir,
		Environment:           e.Environment,
		Labels:                e.Labels,
		Depends:               e.Depends,
		RequireSuccessDepends: e.RequireSuccessDepends,
		LockedResources:       e.ResourceLock,
		RunSerial:             e.RunSerial,
		FixturesRequired:      e.FixturesRequired,
		FixturesSetup:         e.FixturesSetup,
		FixturesCleanup:       e.FixturesCleanup,
		Processors:            e.Processors,
		WantAffinity:          e.ProcessorAffinity,
		Cost:                  e.Cost,
		Timeout:               time.Duration(e.TimeoutSeconds * float64(time.Second)),
		Disabled:              e.Disabled,
		WillFail:              e.WillFail,
		SkipReturnCode:        -1,
	}
	if t.Processors == 0 {
		t.Processors = 1
	}
	if e.SkipReturnCode != nil {
		t.SkipReturnCode = *e.SkipReturnCode
	}
	return t
}
