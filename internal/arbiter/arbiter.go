// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package arbiter decides whether a test may start given the resources and
// processors held by running tests.
//
// An Arbiter is owned by the dispatcher goroutine and is not safe for
// concurrent use.
package arbiter

import (
	"go.chromium.org/testsched/internal/catalog"
)

// Arbiter tracks locked resource names, the serial-exclusivity flag,
// processor slots and pinned processors of running tests.
type Arbiter struct {
	parallel int
	affinity *AffinityPool

	locked        map[string]struct{}
	serialRunning bool
	running       int
	slots         int
}

// New creates an Arbiter for a parallelism level. affinity may be nil when
// processor pinning is unavailable.
func New(parallel int, affinity *AffinityPool) *Arbiter {
	if parallel < 1 {
		parallel = 1
	}
	return &Arbiter{
		parallel: parallel,
		affinity: affinity,
		locked:   make(map[string]struct{}),
	}
}

// Parallel returns the parallelism level.
func (a *Arbiter) Parallel() int {
	return a.parallel
}

// ProcessorsUsed returns the slots t occupies: its requested processors
// capped at the parallelism level and, for tests wanting affinity, at the
// number of pinnable processors.
func (a *Arbiter) ProcessorsUsed(t *catalog.Test) int {
	n := t.Processors
	if n < 1 {
		n = 1
	}
	if n > a.parallel {
		n = a.parallel
	}
	if total := a.affinity.Total(); t.WantAffinity && total > 0 && n > total {
		n = total
	}
	return n
}

// ResourcesLocked reports whether any resource of t is held.
func (a *Arbiter) ResourcesLocked(t *catalog.Test) bool {
	for _, r := range t.LockedResources {
		if _, ok := a.locked[r]; ok {
			return true
		}
	}
	return false
}

// CanStart reports whether t may start now.
func (a *Arbiter) CanStart(t *catalog.Test) bool {
	if a.ResourcesLocked(t) || a.serialRunning {
		return false
	}
	if t.RunSerial && a.running > 0 {
		return false
	}
	if a.wantsAffinity(t) && a.affinity.Available() < a.ProcessorsUsed(t) {
		return false
	}
	return true
}

func (a *Arbiter) wantsAffinity(t *catalog.Test) bool {
	return t.WantAffinity && a.affinity.Total() > 0
}

// Acquire records t as running and returns the processors it is pinned to,
// if any. The caller must have checked CanStart.
func (a *Arbiter) Acquire(t *catalog.Test) []int {
	for _, r := range t.LockedResources {
		a.locked[r] = struct{}{}
	}
	if t.RunSerial {
		a.serialRunning = true
	}
	a.running++
	a.slots += a.ProcessorsUsed(t)
	if !a.wantsAffinity(t) {
		return nil
	}
	ids, _ := a.affinity.Take(a.ProcessorsUsed(t))
	return ids
}

// Release undoes Acquire for t, returning its pinned processors.
func (a *Arbiter) Release(t *catalog.Test, pinned []int) {
	for _, r := range t.LockedResources {
		delete(a.locked, r)
	}
	if t.RunSerial {
		a.serialRunning = false
	}
	a.running--
	a.slots -= a.ProcessorsUsed(t)
	if a.affinity != nil {
		a.affinity.Put(pinned)
	}
}

// SerialRunning reports whether a RunSerial test is running.
func (a *Arbiter) SerialRunning() bool {
	return a.serialRunning
}

// Running returns the number of running tests.
func (a *Arbiter) Running() int {
	return a.running
}

// RunningSlots returns the processor slots occupied by running tests.
func (a *Arbiter) RunningSlots() int {
	return a.slots
}

// FreeSlots returns how many more slots the parallelism level allows.
func (a *Arbiter) FreeSlots() int {
	used := a.RunningSlots()
	if used >= a.parallel {
		return 0
	}
	return a.parallel - used
}
