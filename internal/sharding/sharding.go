// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sharding splits a selected test list across several invocations.
package sharding

import (
	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/catalog"
)

// Shard is the part of a test list assigned to one invocation.
type Shard struct {
	// Included tests run in this shard.
	Included []*catalog.Test
	// Excluded tests run in other shards.
	Excluded []*catalog.Test
}

// Compute returns the shard shardIndex of totalShards. Disabled tests are
// reported, not run, so they all go to shard 0 to be reported exactly once.
func Compute(tests []*catalog.Test, shardIndex, totalShards int) (*Shard, error) {
	if totalShards < 1 || shardIndex < 0 || shardIndex >= totalShards {
		return nil, errors.Errorf("invalid shard %d of %d", shardIndex, totalShards)
	}

	var runs, disabled []*catalog.Test
	for _, t := range tests {
		if t.Disabled {
			disabled = append(disabled, t)
		} else {
			runs = append(runs, t)
		}
	}

	start, end := shardIndices(len(runs), shardIndex, totalShards)

	var included, excluded []*catalog.Test
	if shardIndex == 0 {
		included = disabled
	} else {
		excluded = disabled
	}
	included = append(included, runs[start:end]...)
	excluded = append(append(excluded, runs[:start]...), runs[end:]...)
	return &Shard{Included: included, Excluded: excluded}, nil
}

func shardIndices(numTests, shardIndex, totalShards int) (start, end int) {
	perShard := numTests / totalShards
	extra := numTests % totalShards

	// The first extra shards get one more test.
	if shardIndex < extra {
		perShard++
		start = shardIndex * perShard
	} else {
		start = shardIndex*perShard + extra
	}
	return start, start + perShard
}
