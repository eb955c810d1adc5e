// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"github.com/docker/go-units"
	"golang.org/x/exp/slices"

	"go.chromium.org/testsched/internal/dispatch"
)

// writeSummary prints the end-of-run report of sum to w.
func writeSummary(w io.Writer, sum *dispatch.Summary) {
	fmt.Fprintf(w, "\n%d%% tests passed, %d tests failed out of %d\n", sum.PassedPercent(), len(sum.Failed), sum.Total())
	if len(sum.Resumed) > 0 {
		fmt.Fprintf(w, "%d tests finished before the run was resumed\n", len(sum.Resumed))
	}
	fmt.Fprintf(w, "\nTotal Test time (real) = %s\n", units.HumanDuration(sum.Elapsed))

	writeResults(w, "The following tests did not run:", sum.UnrunResults())
	writeResults(w, "The following tests FAILED:", sum.FailedResults())
	if sum.StopTimePassed {
		fmt.Fprintln(w, "\nThe stop time passed before all tests finished")
	}
}

func writeResults(w io.Writer, title string, rs []*dispatch.Result) {
	if len(rs) == 0 {
		return
	}
	rs = slices.Clone(rs)
	slices.SortFunc(rs, func(a, b *dispatch.Result) int { return a.Index - b.Index })
	fmt.Fprintf(w, "\n%s\n", title)
	for _, r := range rs {
		fmt.Fprintf(w, "\t%3d - %s (%s)\n", r.Index, r.Name, r.Status)
	}
}
