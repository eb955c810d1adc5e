// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package costsched computes the preferred run order of tests from their
// dependencies and historical costs.
//
// The order is a hint. The dispatcher walks it on every iteration and still
// checks dependency readiness and admission for each candidate, but among
// tests free to start it prefers the earlier ones, which tend to be the
// expensive ones.
package costsched

import (
	"golang.org/x/exp/slices"

	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/graph"
)

// Order returns test indices in preferred run order. The parallel strategy
// is used when parallel > 1. lastFailed names tests that failed in the
// previous run; only the parallel strategy uses it.
func Order(tests []*catalog.Test, g *graph.Graph, parallel int, lastFailed []string) []int {
	costs := make(map[int]float64, len(tests))
	names := make(map[int]string, len(tests))
	for _, t := range tests {
		costs[t.Index] = t.Cost
		names[t.Index] = t.Name
	}
	if parallel > 1 {
		return parallelOrder(g, costs, names, lastFailed)
	}
	return serialOrder(g, costs)
}

// sortByCost sorts indices by descending cost, keeping the existing order
// of ties.
func sortByCost(indices []int, costs map[int]float64) {
	slices.SortStableFunc(indices, func(a, b int) int {
		switch ca, cb := costs[a], costs[b]; {
		case ca > cb:
			return -1
		case ca < cb:
			return 1
		default:
			return 0
		}
	})
}

// serialOrder places tests by descending cost, each preceded by whatever of
// its transitive dependencies has not been placed yet.
func serialOrder(g *graph.Graph, costs map[int]float64) []int {
	presorted := g.Indices()
	sortByCost(presorted, costs)

	var order []int
	placed := make(graph.IndexSet)
	place := func(i int) {
		if _, ok := placed[i]; ok {
			return
		}
		placed[i] = struct{}{}
		order = append(order, i)
	}
	for _, t := range presorted {
		if _, ok := placed[t]; ok {
			continue
		}
		for _, d := range g.Closure(t) {
			place(d)
		}
		place(t)
	}
	return order
}

// parallelOrder places tests that failed last time first, then levels the
// rest by dependency depth and emits the levels deepest first, each sorted
// by descending cost.
func parallelOrder(g *graph.Graph, costs map[int]float64, names map[int]string, lastFailed []string) []int {
	var order []int
	placed := make(graph.IndexSet)

	top := make(graph.IndexSet)
	for _, i := range g.Indices() {
		if slices.Contains(lastFailed, names[i]) {
			order = append(order, i)
			placed[i] = struct{}{}
		} else {
			top[i] = struct{}{}
		}
	}

	// Each level holds the dependencies of the previous one. A test that is
	// a dependency of the next level is moved down out of the current one.
	levels := []graph.IndexSet{top}
	for len(levels[len(levels)-1]) > 0 {
		prev := levels[len(levels)-1]
		cur := make(graph.IndexSet)
		for i := range prev {
			for d := range g.Dependencies(i) {
				cur[d] = struct{}{}
			}
		}
		for i := range cur {
			delete(prev, i)
		}
		levels = append(levels, cur)
	}
	levels = levels[:len(levels)-1]

	for l := len(levels) - 1; l >= 0; l-- {
		level := levels[l].Sorted()
		sortByCost(level, costs)
		for _, i := range level {
			if _, ok := placed[i]; ok {
				continue
			}
			placed[i] = struct{}{}
			order = append(order, i)
		}
	}
	return order
}
