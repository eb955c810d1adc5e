// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package costdata reads and writes the cost data file, which carries
// historical test durations and the names of tests that failed in the last
// run.
//
// The file holds one "<name> <previousRuns> <cost>" line per test, a "---"
// separator, then one failed test name per line.
package costdata

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.chromium.org/testsched/errors"
	"go.chromium.org/testsched/internal/catalog"
	"go.chromium.org/testsched/internal/logging"
)

const separator = "---"

// Entry is the cost record of a single test.
type Entry struct {
	Name         string
	PreviousRuns int
	Cost         float64
}

// Data is the content of a cost data file.
type Data struct {
	// Entries maps test names to their records.
	Entries map[string]Entry
	// LastFailed lists tests that failed in the last run, in file order.
	LastFailed []string
}

// Read reads the cost data file at path. A missing file yields empty data.
//
// A line with fewer than three fields is taken to come from an older format:
// reading stops there and no failed tests are returned, so such a file is
// effectively ignored until the next run rewrites it.
func Read(ctx context.Context, path string) (*Data, error) {
	d := &Data{Entries: make(map[string]Entry)}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cost data")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == separator {
			break
		}
		e, ok := parseEntry(line)
		if !ok {
			logging.Debugf(ctx, "Stopped reading cost data at unrecognized line %q", line)
			return d, nil
		}
		d.Entries[e.Name] = e
	}
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			d.LastFailed = append(d.LastFailed, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read cost data")
	}
	return d, nil
}

// parseEntry parses a "<name> <previousRuns> <cost>" line. Malformed numbers
// read as zero.
func parseEntry(line string) (Entry, bool) {
	parts := strings.Split(line, " ")
	if len(parts) < 3 {
		return Entry{}, false
	}
	prev, _ := strconv.Atoi(parts[1])
	cost, _ := strconv.ParseFloat(parts[2], 64)
	return Entry{Name: parts[0], PreviousRuns: prev, Cost: cost}, true
}

// Apply seeds PreviousRuns of the named tests from d. Costs are seeded only
// when parallel > 1 and the test declared no cost of its own.
func (d *Data) Apply(tests []*catalog.Test, parallel int) {
	for _, t := range tests {
		e, ok := d.Entries[t.Name]
		if !ok {
			continue
		}
		t.PreviousRuns = e.PreviousRuns
		if parallel > 1 && t.Cost == 0 {
			t.Cost = e.Cost
		}
	}
}

// Write rewrites the cost data file at path. Existing entries for tests
// absent from records are kept as they are, entries for tests in records are
// updated in place, and remaining records are appended in the given order.
// failed is written after the separator.
//
// The file is written to path+".tmp" first and then renamed over path.
func Write(ctx context.Context, path string, records []Entry, failed []string) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create cost data")
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	if err := writeData(path, w, records, failed); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to write cost data")
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to write cost data")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "failed to replace cost data")
	}
	logging.Debugf(ctx, "Wrote cost data for %d tests to %s", len(records), path)
	return nil
}

func writeData(path string, w io.Writer, records []Entry, failed []string) error {
	pending := make(map[string]Entry, len(records))
	for _, r := range records {
		pending[r.Name] = r
	}

	if in, err := os.Open(path); err == nil {
		defer in.Close()
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			line := sc.Text()
			if line == separator {
				break
			}
			e, ok := parseEntry(line)
			if !ok {
				break
			}
			if r, ok := pending[e.Name]; ok {
				e = r
				delete(pending, e.Name)
			}
			writeEntry(w, e)
		}
		if err := sc.Err(); err != nil {
			return errors.Wrap(err, "failed to read cost data")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to open cost data")
	}

	for _, r := range records {
		if _, ok := pending[r.Name]; ok {
			writeEntry(w, r)
		}
	}
	fmt.Fprintln(w, separator)
	for _, name := range failed {
		fmt.Fprintln(w, name)
	}
	return nil
}

func writeEntry(w io.Writer, e Entry) {
	fmt.Fprintf(w, "%s %d %s\n", e.Name, e.PreviousRuns, strconv.FormatFloat(e.Cost, 'g', -1, 64))
}

// Update folds a completed run of elapsed seconds into t's cost.
func Update(t *catalog.Test, elapsed float64) {
	t.Cost = (float64(t.PreviousRuns)*t.Cost + elapsed) / float64(t.PreviousRuns+1)
	t.PreviousRuns++
}
