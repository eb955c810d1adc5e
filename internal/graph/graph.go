// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package graph builds the test dependency graph and checks it for cycles.
package graph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/logging"
)

// IndexSet is a set of test indices.
type IndexSet map[int]struct{}

// Sorted returns the members of s in ascending order.
func (s IndexSet) Sorted() []int {
	keys := maps.Keys(s)
	sort.Ints(keys)
	return keys
}

// Clone returns a copy of s.
func (s IndexSet) Clone() IndexSet {
	return maps.Clone(s)
}

// Graph maps every test index to the set of indices it depends on.
type Graph struct {
	deps  map[int]IndexSet
	names map[int]string
}

// Build resolves the Depends names of tests into index edges. Names that do
// not refer to a test in tests are dropped.
func Build(ctx context.Context, tests []*catalog.Test) *Graph {
	g := &Graph{
		deps:  make(map[int]IndexSet, len(tests)),
		names: make(map[int]string, len(tests)),
	}
	byName := make(map[string]int, len(tests))
	for _, t := range tests {
		byName[t.Name] = t.Index
		g.names[t.Index] = t.Name
		g.deps[t.Index] = make(IndexSet)
	}
	for _, t := range tests {
		for _, d := range t.Depends {
			i, ok := byName[d]
			if !ok {
				logging.Debugf(ctx, "Ignoring dependency of %s on %s, which is not part of this run", t.Name, d)
				continue
			}
			g.deps[t.Index][i] = struct{}{}
		}
	}
	return g
}

// Indices returns all test indices in ascending order.
func (g *Graph) Indices() []int {
	keys := maps.Keys(g.deps)
	sort.Ints(keys)
	return keys
}

// Dependencies returns the direct dependencies of index.
func (g *Graph) Dependencies(index int) IndexSet {
	return g.deps[index]
}

// Name returns the name of the test at index.
func (g *Graph) Name(index int) string {
	return g.names[index]
}

// CycleError reports a cycle in the dependency graph.
type CycleError struct {
	// Index and Name identify the test the cycle was found from.
	Index int
	Name  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("a cycle exists in the test dependency graph for the test %q", e.Name)
}

// CheckCycles returns a *CycleError if any test transitively depends on
// itself. Tests are tried in ascending index order.
func (g *Graph) CheckCycles(ctx context.Context) error {
	logging.Debug(ctx, "Checking test dependency graph")
	for _, root := range g.Indices() {
		visited := make(IndexSet)
		stack := []int{root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			for _, d := range g.deps[n].Sorted() {
				if d == root {
					return &CycleError{Index: root, Name: g.names[root]}
				}
				stack = append(stack, d)
			}
		}
	}
	logging.Debug(ctx, "Checking test dependency graph end")
	return nil
}

// Closure returns every test index reaches through dependency edges,
// excluding index itself, ordered so that each test comes after all of its
// own dependencies. Siblings are visited in ascending index order. The
// graph must be acyclic.
func (g *Graph) Closure(index int) []int {
	type frame struct {
		node int
		deps []int
		next int
	}
	var out []int
	done := IndexSet{index: {}}
	stack := []*frame{{node: index, deps: g.deps[index].Sorted()}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == len(top.deps) {
			stack = stack[:len(stack)-1]
			if top.node != index {
				out = append(out, top.node)
			}
			continue
		}
		d := top.deps[top.next]
		top.next++
		if _, ok := done[d]; ok {
			continue
		}
		done[d] = struct{}{}
		stack = append(stack, &frame{node: d, deps: g.deps[d].Sorted()})
	}
	return out
}
