// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging delivers scheduler logs through context.Context.
//
// Components never hold a logger themselves. The command attaches one to the
// context with AttachLogger and every package below it calls Info, Infof,
// Debug or Debugf with that context.
package logging

import (
	"sync"
	"time"
)

// Level is the importance of a log. Larger is more important.
type Level int

const (
	// LevelDebug is used for scheduling decisions useful when diagnosing a run.
	LevelDebug Level = iota
	// LevelInfo is used for progress visible to users.
	LevelInfo
)

// Logger consumes logs sent through a context.
type Logger interface {
	// Log is called for every log entry.
	Log(level Level, ts time.Time, msg string)
}

// MultiLogger copies logs to several loggers.
type MultiLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger forwarding to loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log forwards a log to all current loggers.
func (ml *MultiLogger) Log(level Level, ts time.Time, msg string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for _, l := range ml.loggers {
		l.Log(level, ts, msg)
	}
}

// AddLogger adds a logger.
func (ml *MultiLogger) AddLogger(logger Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.loggers = append(ml.loggers, logger)
}

// RemoveLogger removes a logger previously added.
func (ml *MultiLogger) RemoveLogger(logger Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	kept := ml.loggers[:0]
	for _, l := range ml.loggers {
		if l != logger {
			kept = append(kept, l)
		}
	}
	ml.loggers = kept
}
