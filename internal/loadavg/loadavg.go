// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package loadavg gates test admission on the system load average.
package loadavg

import (
	"context"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/load"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/logging"
)

// FakeLoadEnv names the environment variable that replaces the sampled load
// average for testing.
const FakeLoadEnv = "TESTSCHED_FAKE_LOAD_AVERAGE_FOR_TESTING"

// Telemetry reports the current system load.
type Telemetry interface {
	LoadAverage(ctx context.Context) (float64, error)
}

// SystemTelemetry reads the one-minute load average of the host.
type SystemTelemetry struct{}

// LoadAverage implements Telemetry.
func (SystemTelemetry) LoadAverage(ctx context.Context) (float64, error) {
	st, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read load average")
	}
	return st.Load1, nil
}

// FakeLoadFromEnv returns the fake load set in FakeLoadEnv, or 0 if unset.
func FakeLoadFromEnv() (int, error) {
	s := os.Getenv(FakeLoadEnv)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 31)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", FakeLoadEnv)
	}
	return int(n), nil
}

// Monitor holds the maximum tolerable load and samples the current one.
//
// A Monitor is used by a single goroutine.
type Monitor struct {
	max       int
	telemetry Telemetry
	fake      int
	rand      *rand.Rand
}

// NewMonitor creates a Monitor allowing up to max load. max <= 0 disables
// load checks. A positive fake replaces the first sample; later samples
// report a load of 1 so that tests can start after one wait.
func NewMonitor(max int, telemetry Telemetry, fake int) *Monitor {
	if telemetry == nil {
		telemetry = SystemTelemetry{}
	}
	return &Monitor{
		max:       max,
		telemetry: telemetry,
		fake:      fake,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Enabled reports whether admission is gated on load. A nil Monitor is
// disabled.
func (m *Monitor) Enabled() bool {
	return m != nil && m.max > 0
}

// Max returns the maximum tolerable load.
func (m *Monitor) Max() int {
	return m.max
}

// Sample returns the current load rounded up and the spare load,
// max(0, max-load). Telemetry errors are logged and read as zero load.
func (m *Monitor) Sample(ctx context.Context) (current, spare int) {
	if m.fake > 0 {
		current = m.fake
		m.fake = 1
	} else {
		avg, err := m.telemetry.LoadAverage(ctx)
		if err != nil {
			logging.Debugf(ctx, "Ignoring load average: %v", err)
			avg = 0
		}
		current = int(math.Ceil(avg))
	}
	if current < m.max {
		spare = m.max - current
	}
	return current, spare
}

// Backoff returns how long to wait before sampling again after no test could
// start because of load: a random 1 to 5 seconds, or 10ms while a fake load
// is in effect.
func (m *Monitor) Backoff() time.Duration {
	if m.fake > 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(m.rand.Intn(5)+1) * time.Second
}
