// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fakerunner provides a dispatch.Runner that completes tests without
// running anything, for simulated runs in unit tests.
package fakerunner

import (
	"context"
	"sync"

	"go.chromium.org/testsched/internal/dispatch"
)

// Func decides the outcome of a started test. Returning a nil Completion
// means the test passed. Returning an error makes Start fail, as if the test
// could not be spawned.
type Func func(req *dispatch.StartRequest) (*dispatch.Completion, error)

// Start records a call to Runner.Start.
type Start struct {
	Req *dispatch.StartRequest
	// Running lists indices of tests that were running when this one
	// started, in start order.
	Running []int
	// Finished lists indices of tests whose completions the dispatcher had
	// consumed when this one started, in completion order.
	Finished []int
}

// Runner completes every started test immediately. Completions are delivered
// in start order, so a test counts as running from its Start until the
// dispatcher receives its completion.
type Runner struct {
	f  Func
	ch chan *dispatch.Completion

	mu      sync.Mutex
	pushed  []int // indices in the order their completions were queued
	starts  []*Start
	maxRuns int
}

var _ dispatch.Runner = (*Runner)(nil)

const queueSize = 4096

// New creates a Runner. f may be nil, in which case every test passes.
func New(f Func) *Runner {
	return &Runner{f: f, ch: make(chan *dispatch.Completion, queueSize)}
}

// Start implements dispatch.Runner.
func (r *Runner) Start(ctx context.Context, req *dispatch.StartRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	consumed := len(r.pushed) - len(r.ch)
	s := &Start{
		Req:      req,
		Running:  append([]int(nil), r.pushed[consumed:]...),
		Finished: append([]int(nil), r.pushed[:consumed]...),
	}
	r.starts = append(r.starts, s)

	var c *dispatch.Completion
	if r.f != nil {
		var err error
		if c, err = r.f(req); err != nil {
			return err
		}
	}
	if c == nil {
		c = &dispatch.Completion{Status: dispatch.StatusPassed}
	}
	if c.Index == 0 {
		c.Index = req.Test.Index
	}
	if n := len(s.Running) + 1; n > r.maxRuns {
		r.maxRuns = n
	}
	r.pushed = append(r.pushed, req.Test.Index)
	r.ch <- c
	return nil
}

// Completions implements dispatch.Runner.
func (r *Runner) Completions() <-chan *dispatch.Completion {
	return r.ch
}

// Starts returns all recorded starts in order.
func (r *Runner) Starts() []*Start {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Start(nil), r.starts...)
}

// Started returns the indices passed to successful Start calls, in order.
func (r *Runner) Started() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.pushed...)
}

// MaxConcurrency returns the largest number of tests seen running at once.
func (r *Runner) MaxConcurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRuns
}
