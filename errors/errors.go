// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors constructs errors that carry a short stack trace.
//
// Scheduler code uses this package instead of the standard errors.New and
// fmt.Errorf so that fatal run errors (a dependency cycle, an unreadable
// checkpoint) can be printed together with the location that produced
// them.
//
//	errors.New("dependency graph is empty")
//	errors.Errorf("test %q not found", name)
//	errors.Wrap(err, "failed to read cost data")
//	errors.Wrapf(err, "failed to start test %d", index)
//
// Formatting an error with "%+v" prints the whole chain with traces. Errors
// created here implement Unwrap, so the standard errors.Is and errors.As
// see through them; Is and As are re-exported for convenience.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"go.chromium.org/testsched/errors/stack"
)

type impl struct {
	msg   string
	stk   stack.Stack
	cause error
}

// Error implements the error interface.
func (e *impl) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap returns the wrapped error, or nil.
func (e *impl) Unwrap() error {
	return e.cause
}

func formatChain(err error) string {
	var chain []string
	for err != nil {
		e, ok := err.(*impl)
		if !ok {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			break
		}
		chain = append(chain, fmt.Sprintf("%s\n%v", e.msg, e.stk))
		err = e.cause
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter. "%+v" prints the chain with traces.
func (e *impl) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
		return
	}
	io.WriteString(s, e.Error())
}

// New creates an error with msg, recording the caller's location.
func New(msg string) error {
	return &impl{msg, stack.New(1), nil}
}

// Errorf is like New but formats its arguments with fmt.Sprintf.
func Errorf(format string, args ...interface{}) error {
	return &impl{fmt.Sprintf(format, args...), stack.New(1), nil}
}

// Wrap creates an error with msg wrapping cause.
// If cause is nil, this is the same as New.
func Wrap(cause error, msg string) error {
	return &impl{msg, stack.New(1), cause}
}

// Wrapf is like Wrap but formats its arguments with fmt.Sprintf.
func Wrapf(cause error, format string, args ...interface{}) error {
	return &impl{fmt.Sprintf(format, args...), stack.New(1), cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
