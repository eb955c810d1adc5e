// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package shutil formats test command lines for logs.
package shutil

import (
	"fmt"
	"regexp"
	"strings"
)

// Characters that never need quoting. A leading "=" is unsafe in zsh.
const (
	leadingSafe  = `-\w@%+:,./`
	trailingSafe = leadingSafe + "="
)

var safeRE = regexp.MustCompile(fmt.Sprintf("^[%s][%s]*$", leadingSafe, trailingSafe))

// Escape quotes s for a POSIX shell unless it is already safe as a single
// word.
func Escape(s string) string {
	if safeRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// EscapeSlice escapes each of args and joins them with spaces.
func EscapeSlice(args []string) string {
	escaped := make([]string, len(args))
	for i, arg := range args {
		escaped[i] = Escape(arg)
	}
	return strings.Join(escaped, " ")
}

// CommandLine renders a test command as a line that can be pasted into a
// shell to reproduce it. dir and env may be empty. Each env entry has the
// form "KEY=value"; only the value is escaped.
func CommandLine(dir string, env, args []string) string {
	var parts []string
	if dir != "" {
		parts = append(parts, "cd", Escape(dir), "&&")
	}
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			parts = append(parts, Escape(kv))
			continue
		}
		parts = append(parts, k+"="+Escape(v))
	}
	if len(args) > 0 {
		parts = append(parts, EscapeSlice(args))
	}
	return strings.Join(parts, " ")
}
