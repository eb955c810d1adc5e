// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/testsched/internal/checkpoint"
	"go.chromium.org/testsched/testutil"
)

func TestAppendRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(testutil.TempDir(t), "CheckpointFile")
	s := checkpoint.New(path)

	for _, i := range []int{4, 2, 9} {
		if err := s.Append(i); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	got, err := s.Read(ctx)
	if err != nil {
		t.Fatal("Read: ", err)
	}
	if diff := cmp.Diff(got, []int{4, 2, 9}); diff != "" {
		t.Errorf("Read mismatch (-got +want):\n%s", diff)
	}

	if err := s.Remove(); err != nil {
		t.Fatal("Remove: ", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Checkpoint file still exists after Remove: %v", err)
	}
	if err := s.Remove(); err != nil {
		t.Error("Second Remove: ", err)
	}
}

func TestReadExisting(t *testing.T) {
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{
		"CheckpointFile": "2\n\nbogus\n5\n",
	}); err != nil {
		t.Fatal(err)
	}
	s := checkpoint.New(filepath.Join(dir, "CheckpointFile"))
	got, err := s.Read(context.Background())
	if err != nil {
		t.Fatal("Read: ", err)
	}
	if diff := cmp.Diff(got, []int{2, 5}); diff != "" {
		t.Errorf("Read mismatch (-got +want):\n%s", diff)
	}

	// Appends go after existing content.
	if err := s.Append(7); err != nil {
		t.Fatal("Append: ", err)
	}
	if err := testutil.AppendToFile(s.Path(), "8\n"); err != nil {
		t.Fatal(err)
	}
	got, err = s.Read(context.Background())
	if err != nil {
		t.Fatal("Read: ", err)
	}
	if diff := cmp.Diff(got, []int{2, 5, 7, 8}); diff != "" {
		t.Errorf("Read after Append mismatch (-got +want):\n%s", diff)
	}
}

func TestDisabled(t *testing.T) {
	for _, s := range []*checkpoint.Store{nil, checkpoint.New("")} {
		if err := s.Append(1); err != nil {
			t.Error("Append: ", err)
		}
		if got, err := s.Read(context.Background()); err != nil || got != nil {
			t.Errorf("Read() = (%v, %v); want (nil, nil)", got, err)
		}
		if err := s.Remove(); err != nil {
			t.Error("Remove: ", err)
		}
	}
}
