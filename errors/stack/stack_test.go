// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package stack

import (
	"regexp"
	"strings"
	"testing"
)

func recurse(n int) Stack {
	if n == 0 {
		return New(0)
	}
	return recurse(n - 1)
}

func TestStringFormat(t *testing.T) {
	s := New(0).String()
	re := regexp.MustCompile(`^\tat go\.chromium\.org/testsched/errors/stack\.TestStringFormat \(stack_test\.go:\d+\)`)
	if !re.MatchString(s) {
		t.Errorf("String() = %q; want match for %q", s, re)
	}
}

func TestStringTruncated(t *testing.T) {
	lines := strings.Split(recurse(2*maxDepth).String(), "\n")
	if len(lines) != maxDepth+1 {
		t.Fatalf("Got %d lines; want %d", len(lines), maxDepth+1)
	}
	if last := lines[len(lines)-1]; last != ellipsis {
		t.Errorf("Last line = %q; want %q", last, ellipsis)
	}
}
