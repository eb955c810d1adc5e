// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/config"
	"go.chromium.org/testsched/internal/dispatch"
	"go.chromium.org/testsched/internal/dispatch/fakerunner"
	"go.chromium.org/testsched/internal/graph"
	"go.chromium.org/testsched/internal/loadavg"
	"go.chromium.org/testsched/internal/logging"
	"go.chromium.org/testsched/internal/logging/loggingtest"
	"go.chromium.org/testsched/internal/run"
	"go.chromium.org/testsched/testutil"
)

const fixtureYAML = `
tests:
  - name: S
    fixtures_setup: [db]
  - name: X
    fixtures_required: [db]
  - name: C
    fixtures_cleanup: [db]
  - name: other
`

func loadCatalog(t *testing.T, src string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load(strings.NewReader(src))
	if err != nil {
		t.Fatal("Load: ", err)
	}
	return c
}

func newConfig(t *testing.T, stateDir string, mutate func(m *config.MutableConfig)) *config.Config {
	t.Helper()
	t.Setenv(loadavg.FakeLoadEnv, "")
	m := config.NewMutableConfig()
	m.StateDir = stateDir
	if mutate != nil {
		mutate(m)
	}
	if err := m.DeriveDefaults(context.Background(), time.Now()); err != nil {
		t.Fatal("DeriveDefaults: ", err)
	}
	return m.Freeze()
}

func testContext(t *testing.T) context.Context {
	return logging.AttachLogger(context.Background(), loggingtest.NewLogger(t, logging.LevelInfo))
}

func names(plan *run.Plan, indices []int) []string {
	byIndex := make(map[int]string)
	for _, t := range plan.Tests {
		byIndex[t.Index] = t.Name
	}
	var out []string
	for _, i := range indices {
		out = append(out, byIndex[i])
	}
	return out
}

func TestPrepareCycle(t *testing.T) {
	ctx := testContext(t)
	cat := loadCatalog(t, `
tests:
  - name: A
    depends: [C]
  - name: B
    depends: [A]
  - name: C
    depends: [B]
`)
	cfg := newConfig(t, testutil.TempDir(t), nil)
	plan, err := run.Prepare(ctx, cfg, cat)
	if err == nil {
		t.Fatalf("Prepare succeeded with plan %+v", plan)
	}
	var ce *graph.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("Prepare error %v is not a CycleError", err)
	}
	if ce.Name != "A" && ce.Name != "B" && ce.Name != "C" {
		t.Errorf("Cycle reported for %q; want one of A, B, C", ce.Name)
	}
}

func TestFixtureOrdering(t *testing.T) {
	for _, parallel := range []int{1, 4} {
		ctx := testContext(t)
		cfg := newConfig(t, testutil.TempDir(t), func(m *config.MutableConfig) {
			m.Include = "^X$"
			m.Parallel = parallel
		})
		plan, err := run.Prepare(ctx, cfg, loadCatalog(t, fixtureYAML))
		if err != nil {
			t.Fatal("Prepare: ", err)
		}
		var got []string
		for _, tst := range plan.Tests {
			got = append(got, tst.Name)
		}
		if diff := cmp.Diff(got, []string{"S", "X", "C"}); diff != "" {
			t.Errorf("-j %d: tests mismatch (-got +want):\n%s", parallel, diff)
		}

		r := fakerunner.New(nil)
		if _, err := run.Execute(ctx, cfg, plan, &run.Env{Runner: r}); err != nil {
			t.Fatal("Execute: ", err)
		}
		if diff := cmp.Diff(names(plan, r.Started()), []string{"S", "X", "C"}); diff != "" {
			t.Errorf("-j %d: start order mismatch (-got +want):\n%s", parallel, diff)
		}
	}
}

func TestFixtureCleanupWithoutRequirers(t *testing.T) {
	ctx := testContext(t)
	cfg := newConfig(t, testutil.TempDir(t), func(m *config.MutableConfig) {
		m.Include = "^(S|C)$"
		m.Parallel = 4
	})
	plan, err := run.Prepare(ctx, cfg, loadCatalog(t, fixtureYAML))
	if err != nil {
		t.Fatal("Prepare: ", err)
	}
	r := fakerunner.New(nil)
	if _, err := run.Execute(ctx, cfg, plan, &run.Env{Runner: r}); err != nil {
		t.Fatal("Execute: ", err)
	}
	for _, s := range r.Starts() {
		if s.Req.Test.Name != "C" {
			continue
		}
		if diff := cmp.Diff(names(plan, s.Finished), []string{"S"}); diff != "" {
			t.Errorf("Finished before C mismatch (-got +want):\n%s", diff)
		}
	}
}

func TestExecutePersistsState(t *testing.T) {
	ctx := testContext(t)
	dir := testutil.TempDir(t)
	cfg := newConfig(t, dir, func(m *config.MutableConfig) { m.Parallel = 2 })
	plan, err := run.Prepare(ctx, cfg, loadCatalog(t, `
tests:
  - name: ok
  - name: broken
`))
	if err != nil {
		t.Fatal("Prepare: ", err)
	}
	r := fakerunner.New(func(req *dispatch.StartRequest) (*dispatch.Completion, error) {
		if req.Test.Name == "broken" {
			return &dispatch.Completion{Status: dispatch.StatusFailed, Duration: time.Second}, nil
		}
		return &dispatch.Completion{Status: dispatch.StatusPassed, Duration: 2 * time.Second}, nil
	})
	sum, err := run.Execute(ctx, cfg, plan, &run.Env{Runner: r})
	if err != nil {
		t.Fatal("Execute: ", err)
	}
	if diff := cmp.Diff(sum.Failed, []string{"broken"}); diff != "" {
		t.Errorf("Failed mismatch (-got +want):\n%s", diff)
	}

	files, err := testutil.ReadFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"CostData.txt": "ok 1 2\nbroken 0 0\n---\nbroken\n"}
	if diff := cmp.Diff(files, want); diff != "" {
		t.Errorf("State files mismatch (-got +want):\n%s", diff)
	}
}

func TestPrepareUsesCostData(t *testing.T) {
	ctx := testContext(t)
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{
		"CostData.txt": "a 2 1\nb 2 9\nc 1 0.5\n---\nc\n",
	}); err != nil {
		t.Fatal(err)
	}
	cfg := newConfig(t, dir, func(m *config.MutableConfig) { m.Parallel = 2 })
	plan, err := run.Prepare(ctx, cfg, loadCatalog(t, `
tests:
  - name: a
  - name: b
  - name: c
`))
	if err != nil {
		t.Fatal("Prepare: ", err)
	}
	if diff := cmp.Diff(names(plan, plan.Order), []string{"c", "b", "a"}); diff != "" {
		t.Errorf("Order mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(plan.LastFailed, []string{"c"}); diff != "" {
		t.Errorf("LastFailed mismatch (-got +want):\n%s", diff)
	}
}

func TestExecuteResume(t *testing.T) {
	ctx := testContext(t)
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{"Checkpoint.txt": "2\n5\n"}); err != nil {
		t.Fatal(err)
	}
	cfg := newConfig(t, dir, func(m *config.MutableConfig) {
		m.Resume = true
		m.Parallel = 3
	})
	plan, err := run.Prepare(ctx, cfg, loadCatalog(t, `
tests:
  - name: t1
  - name: t2
  - name: t3
    depends: [t2]
  - name: t4
  - name: t5
`))
	if err != nil {
		t.Fatal("Prepare: ", err)
	}
	r := fakerunner.New(nil)
	sum, err := run.Execute(ctx, cfg, plan, &run.Env{Runner: r})
	if err != nil {
		t.Fatal("Execute: ", err)
	}
	for _, i := range r.Started() {
		if i == 2 || i == 5 {
			t.Errorf("Resumed test #%d was run again", i)
		}
	}
	if diff := cmp.Diff(sum.Resumed, []string{"t2", "t5"}); diff != "" {
		t.Errorf("Resumed mismatch (-got +want):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dir, "Checkpoint.txt")); !os.IsNotExist(err) {
		t.Errorf("Checkpoint still exists after a clean run: %v", err)
	}
}

func TestExecuteDiscardsStaleCheckpoint(t *testing.T) {
	ctx := testContext(t)
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{"Checkpoint.txt": "1\n"}); err != nil {
		t.Fatal(err)
	}
	cfg := newConfig(t, dir, nil)
	plan, err := run.Prepare(ctx, cfg, loadCatalog(t, "tests:\n  - name: only\n"))
	if err != nil {
		t.Fatal("Prepare: ", err)
	}
	r := fakerunner.New(nil)
	if _, err := run.Execute(ctx, cfg, plan, &run.Env{Runner: r}); err != nil {
		t.Fatal("Execute: ", err)
	}
	if diff := cmp.Diff(r.Started(), []int{1}); diff != "" {
		t.Errorf("Started mismatch (-got +want):\n%s", diff)
	}
}

type idleTelemetry struct{}

func (idleTelemetry) LoadAverage(ctx context.Context) (float64, error) { return 0.2, nil }

func TestExecuteWithTestLoad(t *testing.T) {
	ctx := testContext(t)
	cfg := newConfig(t, testutil.TempDir(t), func(m *config.MutableConfig) {
		m.Parallel = 4
		m.TestLoad = 2
	})
	plan, err := run.Prepare(ctx, cfg, loadCatalog(t, `
tests:
  - name: a
  - name: b
  - name: c
`))
	if err != nil {
		t.Fatal("Prepare: ", err)
	}
	r := fakerunner.New(nil)
	sum, err := run.Execute(ctx, cfg, plan, &run.Env{Runner: r, Telemetry: idleTelemetry{}})
	if err != nil {
		t.Fatal("Execute: ", err)
	}
	if len(sum.Passed) != 3 {
		t.Errorf("Passed = %v; want all tests", sum.Passed)
	}
	if got := r.MaxConcurrency(); got > 2 {
		t.Errorf("MaxConcurrency = %d; want at most the spare load 2", got)
	}
}

func TestPrepareAppliesDefaults(t *testing.T) {
	ctx := testContext(t)
	cfg := newConfig(t, testutil.TempDir(t), func(m *config.MutableConfig) {
		m.DefaultTimeout = time.Minute
		m.Env = []string{"LANG=C"}
	})
	plan, err := run.Prepare(ctx, cfg, loadCatalog(t, `
tests:
  - name: own
    timeout: 5
    environment: [A=1]
  - name: plain
`))
	if err != nil {
		t.Fatal("Prepare: ", err)
	}
	type settings struct {
		Timeout time.Duration
		Env     []string
	}
	var got []settings
	for _, tst := range plan.Tests {
		got = append(got, settings{tst.Timeout, tst.Environment})
	}
	want := []settings{
		{5 * time.Second, []string{"A=1", "LANG=C"}},
		{time.Minute, []string{"LANG=C"}},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Test settings mismatch (-got +want):\n%s", diff)
	}
}
