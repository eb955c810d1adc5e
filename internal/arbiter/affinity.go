// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package arbiter

import (
	"sort"

	"golang.org/x/sys/unix"

	"go.chromium.org/testsched/errors"
)

// AffinityPool tracks the processor ids tests can be pinned to.
type AffinityPool struct {
	total int
	free  []int // ascending
}

// NewAffinityPool creates a pool of the given processor ids.
func NewAffinityPool(ids []int) *AffinityPool {
	free := append([]int(nil), ids...)
	sort.Ints(free)
	return &AffinityPool{total: len(free), free: free}
}

// SystemAffinityPool creates a pool of the processors this process may run
// on.
func SystemAffinityPool() (*AffinityPool, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, errors.Wrap(err, "failed to get processor affinity")
	}
	var ids []int
	for i := 0; len(ids) < set.Count(); i++ {
		if set.IsSet(i) {
			ids = append(ids, i)
		}
	}
	return NewAffinityPool(ids), nil
}

// Total returns the number of processors in the pool, taken or not.
func (p *AffinityPool) Total() int {
	if p == nil {
		return 0
	}
	return p.total
}

// Available returns the number of free processors.
func (p *AffinityPool) Available() int {
	if p == nil {
		return 0
	}
	return len(p.free)
}

// Take removes and returns the n lowest free ids. It returns false and takes
// nothing if fewer than n are free.
func (p *AffinityPool) Take(n int) ([]int, bool) {
	if n > p.Available() {
		return nil, false
	}
	ids := append([]int(nil), p.free[:n]...)
	p.free = p.free[n:]
	return ids, true
}

// Put returns ids to the pool.
func (p *AffinityPool) Put(ids []int) {
	if len(ids) == 0 {
		return
	}
	p.free = append(p.free, ids...)
	sort.Ints(p.free)
}
