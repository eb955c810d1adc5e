// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package arbiter_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/testsched/internal/arbiter"
	"go.chromium.org/testsched/internal/catalog"
)

func TestResourceLocks(t *testing.T) {
	a := arbiter.New(4, nil)
	t1 := &catalog.Test{Name: "t1", LockedResources: []string{"db", "port"}}
	t2 := &catalog.Test{Name: "t2", LockedResources: []string{"port"}}
	t3 := &catalog.Test{Name: "t3", LockedResources: []string{"disk"}}

	if !a.CanStart(t1) {
		t.Fatal("CanStart(t1) = false on idle arbiter")
	}
	a.Acquire(t1)
	if a.CanStart(t2) {
		t.Error("CanStart(t2) = true while port is held")
	}
	if !a.ResourcesLocked(t2) {
		t.Error("ResourcesLocked(t2) = false while port is held")
	}
	if !a.CanStart(t3) {
		t.Error("CanStart(t3) = false for a disjoint resource")
	}
	a.Release(t1, nil)
	if !a.CanStart(t2) {
		t.Error("CanStart(t2) = false after release")
	}
}

func TestRunSerial(t *testing.T) {
	a := arbiter.New(4, nil)
	serial := &catalog.Test{Name: "s", RunSerial: true}
	plain := &catalog.Test{Name: "p"}

	a.Acquire(plain)
	if a.CanStart(serial) {
		t.Error("Serial test may start while another test runs")
	}
	a.Release(plain, nil)

	if !a.CanStart(serial) {
		t.Fatal("Serial test may not start on idle arbiter")
	}
	a.Acquire(serial)
	if !a.SerialRunning() {
		t.Error("SerialRunning = false after acquiring serial test")
	}
	if a.CanStart(plain) {
		t.Error("Plain test may start while serial test runs")
	}
	a.Release(serial, nil)
	if a.SerialRunning() || !a.CanStart(plain) {
		t.Error("Serial flag not cleared on release")
	}
}

func TestSlots(t *testing.T) {
	a := arbiter.New(4, nil)
	big := &catalog.Test{Name: "big", Processors: 3}
	a.Acquire(big)
	if got := a.RunningSlots(); got != 3 {
		t.Errorf("RunningSlots = %d; want 3", got)
	}
	if got := a.FreeSlots(); got != 1 {
		t.Errorf("FreeSlots = %d; want 1", got)
	}
	if got := a.Running(); got != 1 {
		t.Errorf("Running = %d; want 1", got)
	}
	a.Release(big, nil)
	if got := a.FreeSlots(); got != 4 {
		t.Errorf("FreeSlots after release = %d; want 4", got)
	}
}

func TestProcessorsUsed(t *testing.T) {
	pool := arbiter.NewAffinityPool([]int{0, 1})
	for _, tc := range []struct {
		name     string
		parallel int
		pool     *arbiter.AffinityPool
		test     *catalog.Test
		want     int
	}{
		{"default", 4, nil, &catalog.Test{}, 1},
		{"requested", 4, nil, &catalog.Test{Processors: 3}, 3},
		{"capped by parallel", 2, nil, &catalog.Test{Processors: 8}, 2},
		{"capped by affinity", 8, pool, &catalog.Test{Processors: 4, WantAffinity: true}, 2},
		{"affinity not wanted", 8, pool, &catalog.Test{Processors: 4}, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := arbiter.New(tc.parallel, tc.pool)
			if got := a.ProcessorsUsed(tc.test); got != tc.want {
				t.Errorf("ProcessorsUsed = %d; want %d", got, tc.want)
			}
		})
	}
}

func TestAffinity(t *testing.T) {
	pool := arbiter.NewAffinityPool([]int{3, 1, 2, 0})
	a := arbiter.New(4, pool)
	t1 := &catalog.Test{Name: "t1", Processors: 3, WantAffinity: true}
	t2 := &catalog.Test{Name: "t2", Processors: 2, WantAffinity: true}

	ids := a.Acquire(t1)
	if diff := cmp.Diff(ids, []int{0, 1, 2}); diff != "" {
		t.Errorf("Pinned processors mismatch (-got +want):\n%s", diff)
	}
	if a.CanStart(t2) {
		t.Error("CanStart(t2) = true with one free processor")
	}
	a.Release(t1, ids)
	if got := pool.Available(); got != 4 {
		t.Errorf("Available after release = %d; want 4", got)
	}
	if !a.CanStart(t2) {
		t.Error("CanStart(t2) = false after release")
	}
}

func TestAffinityPoolTake(t *testing.T) {
	p := arbiter.NewAffinityPool([]int{5, 7})
	if _, ok := p.Take(3); ok {
		t.Error("Take(3) succeeded with 2 processors")
	}
	ids, ok := p.Take(1)
	if !ok || len(ids) != 1 || ids[0] != 5 {
		t.Errorf("Take(1) = %v, %v; want [5], true", ids, ok)
	}
	p.Put(ids)
	if got := p.Available(); got != 2 {
		t.Errorf("Available = %d; want 2", got)
	}
	if got := p.Total(); got != 2 {
		t.Errorf("Total = %d; want 2", got)
	}
}
