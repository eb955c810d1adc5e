// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package catalog

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"go.chromium.org/testsched/errors"
)

// IndexSpec selects tests by catalog index, in the form
// "start,end,stride,extra,extra...". Any of start, end and stride may be
// empty. Extra indices are always included.
type IndexSpec struct {
	Start, End, Stride int
	Extra              []int

	hasRange bool
}

// ParseIndexSpec parses s. An empty string selects every index.
func ParseIndexSpec(s string) (*IndexSpec, error) {
	spec := &IndexSpec{Start: 1, Stride: 1}
	if s == "" {
		spec.hasRange = true
		return spec, nil
	}
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("bad index spec %q: %q is not a positive integer", s, part)
		}
		switch i {
		case 0:
			spec.Start = n
			spec.hasRange = true
		case 1:
			spec.End = n
			spec.hasRange = true
		case 2:
			spec.Stride = n
			spec.hasRange = true
		default:
			spec.Extra = append(spec.Extra, n)
		}
	}
	if len(spec.Extra) == 0 {
		spec.hasRange = true
	}
	return spec, nil
}

// Contains reports whether index is selected.
func (s *IndexSpec) Contains(index int) bool {
	for _, e := range s.Extra {
		if e == index {
			return true
		}
	}
	if !s.hasRange || index < s.Start || (s.End > 0 && index > s.End) {
		return false
	}
	return (index-s.Start)%s.Stride == 0
}

// Filter restricts the set of tests to run. Nil fields do not filter.
type Filter struct {
	// Names lists exact test names to run.
	Names   []string
	Include *regexp.Regexp
	Exclude *regexp.Regexp
	// IncludeLabels must each match one of the labels of a test.
	IncludeLabels []*regexp.Regexp
	ExcludeLabel  *regexp.Regexp
	Indices       *IndexSpec
}

// Select returns copies of the tests of c matched by f, in catalog order.
func Select(c *Catalog, f *Filter) []*Test {
	var out []*Test
	for _, t := range c.tests {
		if f.matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (f *Filter) matches(t *Test) bool {
	if f == nil {
		return true
	}
	if f.Indices != nil && !f.Indices.Contains(t.Index) {
		return false
	}
	if len(f.Names) > 0 && !slices.Contains(f.Names, t.Name) {
		return false
	}
	if f.Include != nil && !f.Include.MatchString(t.Name) {
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(t.Name) {
		return false
	}
	for _, re := range f.IncludeLabels {
		if !anyMatch(re, t.Labels) {
			return false
		}
	}
	if f.ExcludeLabel != nil && anyMatch(f.ExcludeLabel, t.Labels) {
		return false
	}
	return true
}

func anyMatch(re *regexp.Regexp, ss []string) bool {
	for _, s := range ss {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
