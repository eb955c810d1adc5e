// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package loggingtest provides a logger for unit tests.
package loggingtest

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.chromium.org/testsched/internal/logging"
)

// Logger records logs at or above a level in memory and mirrors every log
// to the test log.
type Logger struct {
	t      *testing.T
	record *logging.SinkLogger

	mu   sync.Mutex
	logs []string
}

// NewLogger creates a Logger.
func NewLogger(t *testing.T, level logging.Level) *Logger {
	l := &Logger{t: t}
	// Called with mu held.
	l.record = logging.NewSinkLogger(level, false, logging.FuncSink(func(msg string) {
		l.logs = append(l.logs, msg)
	}))
	return l
}

// Log records a log.
func (l *Logger) Log(level logging.Level, ts time.Time, msg string) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.t.Log(msg)
	l.record.Log(level, ts, msg)
}

// Logs returns the recorded logs.
func (l *Logger) Logs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.logs...)
}

// String returns the recorded logs joined by newlines.
func (l *Logger) String() string {
	return strings.Join(l.Logs(), "\n")
}
