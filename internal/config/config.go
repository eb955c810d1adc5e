// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config defines the configuration of a scheduling run.
package config

import (
	"context"
	"flag"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/command"
	"go.chromium.org/testsched/internal/dispatch"
	"go.chromium.org/testsched/internal/fixture"
	"go.chromium.org/testsched/internal/loadavg"
)

const (
	defaultStateDir       = ".testsched"
	defaultCostDataFile   = "CostData.txt"
	defaultCheckpointFile = "Checkpoint.txt"
)

// MutableConfig is similar to Config, but its fields are mutable.
// Call Freeze to obtain a Config from MutableConfig.
type MutableConfig struct {
	// See Config for descriptions of these fields.

	CatalogFile    string
	StateDir       string
	CostDataFile   string
	CheckpointFile string

	Parallel int
	TestLoad int
	FakeLoad int

	StopTimeSpec string
	StopTime     time.Time
	Resume       bool
	RepeatSpec   string
	Repeat       dispatch.Repeat

	Names         []string
	Include       string
	Exclude       string
	IncludeLabels []string
	ExcludeLabel  string
	IndexSpec     string

	DefaultTimeout time.Duration
	Env            []string

	ExcludeFixture        string
	ExcludeFixtureSetup   string
	ExcludeFixtureCleanup string

	TotalShards    int
	ShardIndex     int
	ScheduleRandom bool
	Verbose        bool

	filter   *catalog.Filter
	excludes *fixture.Excludes
}

// Config contains the configuration of a run. It is immutable.
type Config struct {
	m *MutableConfig
}

// NewMutableConfig returns a MutableConfig with default values.
func NewMutableConfig() *MutableConfig {
	return &MutableConfig{Parallel: 1, TotalShards: 1}
}

// SetFlags adds common run-related flags to f that store values in c.
func (c *MutableConfig) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.CatalogFile, "catalog", "tests.yaml", "YAML file declaring the tests")
	f.StringVar(&c.StateDir, "statedir", defaultStateDir, "directory holding cost data and the checkpoint")
	f.StringVar(&c.CostDataFile, "costdata", "", "cost data file (default <statedir>/"+defaultCostDataFile+")")
	f.StringVar(&c.CheckpointFile, "checkpoint", "", "checkpoint file (default <statedir>/"+defaultCheckpointFile+")")

	f.IntVar(&c.Parallel, "j", 1, "number of processor slots tests may use at once (0 for the number of logical CPUs)")
	f.IntVar(&c.TestLoad, "testload", 0, "do not start tests while the system load average exceeds this (0 for no limit)")

	f.StringVar(&c.StopTimeSpec, "stoptime", "", `stop starting tests at this time ("HH:MM:SS" or RFC 3339)`)
	f.BoolVar(&c.Resume, "resume", false, "resume an interrupted run from its checkpoint")
	f.StringVar(&c.RepeatSpec, "repeat", "", `run tests again: "until-fail:N", "until-pass:N" or "after-timeout:N"`)

	f.StringVar(&c.Include, "R", "", "run only tests whose names match this regexp")
	f.StringVar(&c.Exclude, "E", "", "skip tests whose names match this regexp")
	f.Var(command.NewListFlag(",", func(v []string) { c.Names = v }, nil), "tests", "comma-separated names of tests to run")
	lf := command.RepeatedFlag(func(v string) error {
		c.IncludeLabels = append(c.IncludeLabels, v)
		return nil
	})
	f.Var(&lf, "L", "run only tests with a label matching this regexp; may be repeated to require several")
	f.StringVar(&c.ExcludeLabel, "LE", "", "skip tests with a label matching this regexp")
	f.StringVar(&c.IndexSpec, "I", "", `run tests by index: "start,end,stride,extra,..."`)

	f.StringVar(&c.ExcludeFixture, "FA", "", "do not add setup or cleanup tests of fixtures matching this regexp")
	f.StringVar(&c.ExcludeFixtureSetup, "FS", "", "do not add setup tests of fixtures matching this regexp")
	f.StringVar(&c.ExcludeFixtureCleanup, "FC", "", "do not add cleanup tests of fixtures matching this regexp")

	f.IntVar(&c.TotalShards, "totalshards", 1, "total number of shards to be used in a test run")
	f.IntVar(&c.ShardIndex, "shardindex", 0, "the index of shard to used in the current run")
	f.BoolVar(&c.ScheduleRandom, "schedulerandom", false, "start tests in random order")

	f.Var(command.NewDurationFlag(time.Second, &c.DefaultTimeout, 0), "timeout", "timeout in seconds for tests declaring none (0 for no timeout)")
	ef := command.RepeatedFlag(func(v string) error {
		if !strings.Contains(v, "=") {
			return errors.Errorf("environment entry %q is not KEY=value", v)
		}
		c.Env = append(c.Env, v)
		return nil
	})
	f.Var(&ef, "env", `"KEY=value" added to the environment of every test; may be repeated`)

	vals := map[string]int{"info": 0, "debug": 1}
	vf := command.NewEnumFlag(vals, func(v int) { c.Verbose = v == 1 }, "info")
	f.Var(vf, "loglevel", "log level ("+vf.QuotedValues()+")")
}

// DeriveDefaults sets default values for unset members and parses
// string-valued settings. now is the current time.
func (c *MutableConfig) DeriveDefaults(ctx context.Context, now time.Time) error {
	if c.CostDataFile == "" {
		c.CostDataFile = filepath.Join(c.StateDir, defaultCostDataFile)
	}
	if c.CheckpointFile == "" {
		c.CheckpointFile = filepath.Join(c.StateDir, defaultCheckpointFile)
	}

	if c.Parallel < 0 {
		return errors.Errorf("-j must not be negative: %d", c.Parallel)
	}
	if c.Parallel == 0 {
		n, err := cpu.CountsWithContext(ctx, true)
		if err != nil || n < 1 {
			n = 1
		}
		c.Parallel = n
	}
	if c.TestLoad < 0 {
		return errors.Errorf("-testload must not be negative: %d", c.TestLoad)
	}

	fake, err := loadavg.FakeLoadFromEnv()
	if err != nil {
		return err
	}
	c.FakeLoad = fake

	if c.StopTimeSpec != "" {
		st, err := ParseStopTime(c.StopTimeSpec, now)
		if err != nil {
			return err
		}
		c.StopTime = st
	}
	if c.Repeat, err = dispatch.ParseRepeat(c.RepeatSpec); err != nil {
		return err
	}

	c.filter = &catalog.Filter{Names: c.Names}
	for _, p := range []struct {
		name string
		expr string
		dst  **regexp.Regexp
	}{
		{"-R", c.Include, &c.filter.Include},
		{"-E", c.Exclude, &c.filter.Exclude},
		{"-LE", c.ExcludeLabel, &c.filter.ExcludeLabel},
	} {
		if p.expr == "" {
			continue
		}
		re, err := regexp.Compile(p.expr)
		if err != nil {
			return errors.Wrapf(err, "bad %s pattern", p.name)
		}
		*p.dst = re
	}
	for _, expr := range c.IncludeLabels {
		re, err := regexp.Compile(expr)
		if err != nil {
			return errors.Wrap(err, "bad -L pattern")
		}
		c.filter.IncludeLabels = append(c.filter.IncludeLabels, re)
	}
	if c.IndexSpec != "" {
		spec, err := catalog.ParseIndexSpec(c.IndexSpec)
		if err != nil {
			return err
		}
		c.filter.Indices = spec
	}

	if c.excludes, err = fixture.NewExcludes(c.ExcludeFixture, c.ExcludeFixtureSetup, c.ExcludeFixtureCleanup); err != nil {
		return err
	}

	if c.TotalShards < 1 {
		return errors.Errorf("-totalshards must be at least 1: %d", c.TotalShards)
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.TotalShards {
		return errors.Errorf("-shardindex %d out of range [0, %d)", c.ShardIndex, c.TotalShards)
	}
	return nil
}

// ParseStopTime parses s as an RFC 3339 time or as a "HH:MM:SS" wall-clock
// time in the local zone. A wall-clock time already passed today refers to
// tomorrow.
func ParseStopTime(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	clk, err := time.ParseInLocation("15:04:05", strings.TrimSpace(s), now.Location())
	if err != nil {
		return time.Time{}, errors.Errorf("bad stop time %q; want HH:MM:SS or RFC 3339", s)
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), clk.Hour(), clk.Minute(), clk.Second(), 0, now.Location())
	if t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// Freeze returns a frozen configuration object. DeriveDefaults must have
// succeeded first.
func (c *MutableConfig) Freeze() *Config {
	return &Config{m: c}
}

// CatalogFile is the YAML file declaring the tests.
func (c *Config) CatalogFile() string { return c.m.CatalogFile }

// CostDataFile is the file carrying test costs between runs.
func (c *Config) CostDataFile() string { return c.m.CostDataFile }

// CheckpointFile is the file recording finished test indices.
func (c *Config) CheckpointFile() string { return c.m.CheckpointFile }

// Parallel is the number of processor slots tests may occupy at once.
func (c *Config) Parallel() int { return c.m.Parallel }

// TestLoad is the maximum tolerable system load, 0 for no limit.
func (c *Config) TestLoad() int { return c.m.TestLoad }

// FakeLoad replaces the first load sample when positive.
func (c *Config) FakeLoad() int { return c.m.FakeLoad }

// StopTime is when admission of new tests stops; zero for never.
func (c *Config) StopTime() time.Time { return c.m.StopTime }

// Resume requests resuming an interrupted run from the checkpoint.
func (c *Config) Resume() bool { return c.m.Resume }

// Repeat controls running tests more than once.
func (c *Config) Repeat() dispatch.Repeat { return c.m.Repeat }

// Filter selects the tests of the run from the catalog.
func (c *Config) Filter() *catalog.Filter { return c.m.filter }

// FixtureExcludes holds the fixture exclusion patterns.
func (c *Config) FixtureExcludes() *fixture.Excludes { return c.m.excludes }

// TotalShards is the number of shards the run is split into.
func (c *Config) TotalShards() int { return c.m.TotalShards }

// ShardIndex is the shard this invocation runs.
func (c *Config) ShardIndex() int { return c.m.ShardIndex }

// ScheduleRandom replaces costs with random values to shuffle the order.
func (c *Config) ScheduleRandom() bool { return c.m.ScheduleRandom }

// Verbose enables debug logs.
func (c *Config) Verbose() bool { return c.m.Verbose }

// DefaultTimeout is the timeout of tests declaring none, 0 for none.
func (c *Config) DefaultTimeout() time.Duration { return c.m.DefaultTimeout }

// Env holds "KEY=value" entries added to the environment of every test.
func (c *Config) Env() []string { return append([]string(nil), c.m.Env...) }
