// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"io"
	"os"
	"time"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/command"
	"go.chromium.org/testsched/internal/config"
	"go.chromium.org/testsched/internal/logging"
	"go.chromium.org/testsched/internal/run"
)

// prepare finalizes m, attaches a logger writing to logOut and computes the
// plan of the run.
func prepare(ctx context.Context, m *config.MutableConfig, logOut io.Writer, logTime bool) (context.Context, *config.Config, *run.Plan, error) {
	if err := m.DeriveDefaults(ctx, time.Now()); err != nil {
		return ctx, nil, nil, command.NewStatusErrorf(statusUsage, "Bad flags: %v", err)
	}
	cfg := m.Freeze()

	level := logging.LevelInfo
	if cfg.Verbose() {
		level = logging.LevelDebug
	}
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(level, logTime, logging.NewWriterSink(logOut)))

	cat, err := loadCatalog(cfg.CatalogFile())
	if err != nil {
		return ctx, nil, nil, err
	}
	plan, err := run.Prepare(ctx, cfg, cat)
	if err != nil {
		return ctx, nil, nil, errors.Wrap(err, "failed to prepare run")
	}
	return ctx, cfg, plan, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open catalog")
	}
	defer f.Close()
	cat, err := catalog.Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}
	return cat, nil
}
