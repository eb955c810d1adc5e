// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command_test

import (
	"bytes"
	"testing"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/command"
)

func TestWriteErrorStatusError(t *testing.T) {
	const (
		status = 8
		msg    = "a cycle exists"
	)

	err := command.NewStatusErrorf(status, msg)
	b := bytes.Buffer{}
	if ret := command.WriteError(&b, err); ret != status {
		t.Errorf("WriteError(%v) = %v; want %v", err, ret, status)
	}
	if b.String() != msg+"\n" {
		t.Errorf("WriteError(%v) wrote %q; want %q", err, b.String(), msg+"\n")
	}

	// Wrapped status errors keep their status.
	wrapped := errors.Wrap(err, "run failed")
	if ret := command.WriteError(&bytes.Buffer{}, wrapped); ret != status {
		t.Errorf("WriteError(%v) = %v; want %v", wrapped, ret, status)
	}
}

func TestWriteErrorGenericError(t *testing.T) {
	const msg = "this is the error message"

	err := errors.New(msg)
	b := bytes.Buffer{}
	if ret := command.WriteError(&b, err); ret != 1 {
		t.Errorf("WriteError(%v) = %v; want 1", err, ret)
	}
	if b.String() != msg+"\n" {
		t.Errorf("WriteError(%v) wrote %q; want %q", err, b.String(), msg+"\n")
	}
}
