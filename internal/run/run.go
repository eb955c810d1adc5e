// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package run prepares and executes a scheduling run: it selects tests from
// the catalog, expands fixtures, checks dependencies, orders tests by cost
// and dispatches them, persisting cost data and checkpoints around the
// dispatch.
package run

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/exp/slices"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/arbiter"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/checkpoint"
	"go.chromium.org/testsched/internal/config"
	"go.chromium.org/testsched/internal/costdata"
	"go.chromium.org/testsched/internal/costsched"
	"go.chromium.org/testsched/internal/dispatch"
	"go.chromium.org/testsched/internal/fixture"
	"go.chromium.org/testsched/internal/graph"
	"go.chromium.org/testsched/internal/loadavg"
	"go.chromium.org/testsched/internal/logging"
	"go.chromium.org/testsched/internal/sharding"
)

// Plan is a prepared run.
type Plan struct {
	// Tests holds the tests of the run, fixtures included, in index order.
	Tests []*catalog.Test
	Graph *graph.Graph
	// Order is the preferred start order of test indices.
	Order []int
	// LastFailed names tests that failed in the previous run.
	LastFailed []string
}

// Prepare computes the plan of a run from the catalog. It fails with a
// *graph.CycleError if the dependencies of the selected tests form a cycle.
func Prepare(ctx context.Context, cfg *config.Config, cat *catalog.Catalog) (*Plan, error) {
	selected := catalog.Select(cat, cfg.Filter())
	shard, err := sharding.Compute(selected, cfg.ShardIndex(), cfg.TotalShards())
	if err != nil {
		return nil, err
	}
	if cfg.TotalShards() > 1 {
		logging.Infof(ctx, "Shard %d of %d: %d of %d selected tests", cfg.ShardIndex(), cfg.TotalShards(), len(shard.Included), len(selected))
	}

	tests := fixture.Expand(ctx, shard.Included, cat.Tests(), cfg.FixtureExcludes())
	slices.SortFunc(tests, func(a, b *catalog.Test) int { return a.Index - b.Index })
	env := cfg.Env()
	for _, t := range tests {
		if t.Timeout == 0 {
			t.Timeout = cfg.DefaultTimeout()
		}
		t.Environment = append(t.Environment, env...)
	}

	g := graph.Build(ctx, tests)
	if err := g.CheckCycles(ctx); err != nil {
		return nil, err
	}

	data, err := costdata.Read(ctx, cfg.CostDataFile())
	if err != nil {
		logging.Infof(ctx, "Ignoring cost data: %v", err)
		data = &costdata.Data{}
	}
	data.Apply(tests, cfg.Parallel())

	orderBy := tests
	if cfg.ScheduleRandom() {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		orderBy = catalog.CloneAll(tests)
		for _, t := range orderBy {
			t.Cost = r.Float64()
		}
	}
	return &Plan{
		Tests:      tests,
		Graph:      g,
		Order:      costsched.Order(orderBy, g, cfg.Parallel(), data.LastFailed),
		LastFailed: data.LastFailed,
	}, nil
}

// Env holds the collaborators of a run.
type Env struct {
	Runner dispatch.Runner
	// Telemetry defaults to the system load average.
	Telemetry loadavg.Telemetry
	// Clock defaults to the real clock.
	Clock clock.Clock
	// Affinity defaults to the processors this process may run on, and is
	// only looked up when a test wants affinity.
	Affinity *arbiter.AffinityPool
}

// Execute dispatches the tests of plan. On success the cost data file is
// updated and the checkpoint removed. If ctx is canceled the checkpoint is
// kept so that the run can be resumed.
func Execute(ctx context.Context, cfg *config.Config, plan *Plan, env *Env) (*dispatch.Summary, error) {
	for _, p := range []string{cfg.CheckpointFile(), cfg.CostDataFile()} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create state directory")
		}
	}

	store := checkpoint.New(cfg.CheckpointFile())
	var resumed []int
	if cfg.Resume() {
		var err error
		if resumed, err = store.Read(ctx); err != nil {
			return nil, err
		}
	} else if err := store.Remove(); err != nil {
		return nil, err
	}

	var mon *loadavg.Monitor
	if cfg.TestLoad() > 0 {
		mon = loadavg.NewMonitor(cfg.TestLoad(), env.Telemetry, cfg.FakeLoad())
	}

	aff := env.Affinity
	if aff == nil && wantsAffinity(plan.Tests) {
		var err error
		if aff, err = arbiter.SystemAffinityPool(); err != nil {
			logging.Infof(ctx, "Running without processor affinity: %v", err)
		}
	}

	dcfg := &dispatch.Config{
		Parallel:   cfg.Parallel(),
		Affinity:   aff,
		Monitor:    mon,
		StopTime:   cfg.StopTime(),
		Repeat:     cfg.Repeat(),
		Clock:      env.Clock,
		Checkpoint: store,
		Resumed:    resumed,
	}
	sum, err := dispatch.Run(ctx, dcfg, plan.Graph, plan.Tests, plan.Order, env.Runner)
	if err != nil {
		return sum, err
	}

	if err := costdata.Write(ctx, cfg.CostDataFile(), sum.Costs, sum.Failed); err != nil {
		return sum, err
	}
	if err := store.Remove(); err != nil {
		return sum, err
	}
	return sum, nil
}

func wantsAffinity(tests []*catalog.Test) bool {
	for _, t := range tests {
		if t.WantAffinity {
			return true
		}
	}
	return false
}
