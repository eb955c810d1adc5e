// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package checkpoint keeps the log of finished test indices that lets an
// interrupted run resume.
package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/logging"
)

// Store is an append-only file holding one test index per line.
//
// A nil *Store or one with an empty path records nothing.
type Store struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New returns a Store backed by the file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the path of the checkpoint file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) disabled() bool {
	return s == nil || s.path == ""
}

// Read returns the indices recorded in the file, in file order. A missing
// file yields no indices. Lines that are not integers are skipped.
func (s *Store) Read(ctx context.Context) ([]int, error) {
	if s.disabled() {
		return nil, nil
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint")
	}
	defer f.Close()

	var indices []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		i, err := strconv.Atoi(line)
		if err != nil {
			logging.Debugf(ctx, "Ignoring checkpoint line %q", line)
			continue
		}
		indices = append(indices, i)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint")
	}
	return indices, nil
}

// Append records index as finished. The line is written before Append
// returns.
func (s *Store) Append(index int) error {
	if s.disabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, "failed to open checkpoint")
		}
		s.f = f
	}
	if _, err := fmt.Fprintln(s.f, index); err != nil {
		return errors.Wrapf(err, "failed to record test %d in checkpoint", index)
	}
	return nil
}

// Remove closes and deletes the checkpoint file so the run cannot be resumed.
func (s *Store) Remove() error {
	if s.disabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove checkpoint")
	}
	return nil
}
