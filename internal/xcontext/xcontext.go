// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package xcontext provides contexts canceled with caller-chosen errors.
//
// The dispatcher uses it to express the global stop-time as a deadline whose
// Err is a dedicated error, so collaborators can tell a stop-time kill from
// an ordinary cancellation.
package xcontext

import (
	"context"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
)

var defaultClock = clock.NewClock()

// CancelFunc cancels a context with err. Calls after the first have no
// effect. It panics if err is nil. When it returns, the context is canceled.
type CancelFunc func(err error)

type contextImpl struct {
	parent context.Context

	hasDeadline bool
	deadline    time.Time

	done chan struct{}
	// req carries the cancellation error; capacity 1 so the first send never
	// blocks.
	req chan error

	errValue atomic.Value
}

func newContext(parent context.Context, clk clock.Clock, deadlineErr error, reqDeadline time.Time) (context.Context, CancelFunc) {
	newDeadline := false
	deadline, hasDeadline := parent.Deadline()
	if deadlineErr != nil && (!hasDeadline || reqDeadline.Before(deadline)) {
		deadline = reqDeadline
		hasDeadline = true
		newDeadline = true
	}

	ctx := &contextImpl{
		parent:      parent,
		hasDeadline: hasDeadline,
		deadline:    deadline,
		done:        make(chan struct{}),
		req:         make(chan error, 1),
	}

	var initErr error
	if err := parent.Err(); err != nil {
		initErr = err
	} else if newDeadline && !deadline.After(clk.Now()) {
		initErr = deadlineErr
	}
	if initErr != nil {
		ctx.errValue.Store(initErr)
		close(ctx.done)
		return ctx, ctx.cancel
	}

	go func() {
		var dl <-chan time.Time
		if newDeadline {
			tm := clk.NewTimer(deadline.Sub(clk.Now()))
			defer tm.Stop()
			dl = tm.C()
		}

		var err error
		select {
		case <-parent.Done():
			err = parent.Err()
		case <-dl:
			err = deadlineErr
		case err = <-ctx.req:
		}
		ctx.errValue.Store(err)
		close(ctx.done)
	}()

	return ctx, ctx.cancel
}

// Deadline returns the deadline of the context.
func (c *contextImpl) Deadline() (time.Time, bool) {
	return c.deadline, c.hasDeadline
}

// Done returns a channel closed on cancellation.
func (c *contextImpl) Done() <-chan struct{} {
	return c.done
}

// Err returns the cancellation error, which may differ from
// context.Canceled and context.DeadlineExceeded.
func (c *contextImpl) Err() error {
	if v := c.errValue.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Value returns the parent's value for key.
func (c *contextImpl) Value(key interface{}) interface{} {
	return c.parent.Value(key)
}

func (c *contextImpl) cancel(err error) {
	if err == nil {
		panic("xcontext: cancel called with nil error")
	}
	select {
	case c.req <- err:
	default:
	}
	<-c.done
}

// WithCancel returns a context that can be canceled with any error.
func WithCancel(parent context.Context) (context.Context, CancelFunc) {
	return newContext(parent, defaultClock, nil, time.Time{})
}

// WithDeadline returns a context canceled with err at t. It panics if err
// is nil.
func WithDeadline(parent context.Context, t time.Time, err error) (context.Context, CancelFunc) {
	return WithDeadlineClock(parent, defaultClock, t, err)
}

// WithDeadlineClock is like WithDeadline but measures time with clk.
func WithDeadlineClock(parent context.Context, clk clock.Clock, t time.Time, err error) (context.Context, CancelFunc) {
	if err == nil {
		panic("xcontext: WithDeadline called with nil error")
	}
	return newContext(parent, clk, err, t)
}

// WithTimeout returns a context canceled with err after d. It panics if err
// is nil.
func WithTimeout(parent context.Context, d time.Duration, err error) (context.Context, CancelFunc) {
	return WithDeadline(parent, defaultClock.Now().Add(d), err)
}
