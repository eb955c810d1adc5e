// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package catalog_test

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/testsched/internal/catalog"
)

const sampleYAML = `
tests:
  - name: db_setup
    command: [./setup_db]
    fixtures_setup: [db]
  - name: query
    command: [./query_test, --fast]
    fixtures_required: [db]
    resource_lock: [port-8080]
    processors: 2
    timeout: 1.5
    labels: [slow]
  - name: db_cleanup
    command: [./cleanup_db]
    fixtures_cleanup: [db]
    skip_return_code: 77
    disabled: true
`

func TestLoad(t *testing.T) {
	c, err := catalog.Load(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal("Load failed: ", err)
	}
	want := []*catalog.Test{
		{Index: 1, Name: "db_setup", Command: []string{"./setup_db"}, FixturesSetup: []string{"db"}, Processors: 1, SkipReturnCode: -1},
		{Index: 2, Name: "query", Command: []string{"./query_test", "--fast"}, FixturesRequired: []string{"db"},
			LockedResources: []string{"port-8080"}, Processors: 2, Timeout: 1500 * time.Millisecond, Labels: []string{"slow"}, SkipReturnCode: -1},
		{Index: 3, Name: "db_cleanup", Command: []string{"./cleanup_db"}, FixturesCleanup: []string{"db"}, Processors: 1, SkipReturnCode: 77, Disabled: true},
	}
	if diff := cmp.Diff(c.Tests(), want); diff != "" {
		t.Errorf("Tests mismatch (-got +want):\n%s", diff)
	}
	if tst, ok := c.Lookup("query"); !ok || tst.Index != 2 {
		t.Errorf("Lookup(query) = %v, %v; want index 2", tst, ok)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"duplicate", "tests:\n  - name: a\n  - name: a\n"},
		{"no name", "tests:\n  - command: [x]\n"},
		{"unknown field", "tests:\n  - name: a\n    bogus: 1\n"},
		{"negative processors", "tests:\n  - name: a\n    processors: -1\n"},
		{"malformed", "tests: [\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := catalog.Load(strings.NewReader(tc.yaml)); err == nil {
				t.Error("Load succeeded unexpectedly")
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &catalog.Test{Name: "a", Depends: []string{"b"}}
	c := orig.Clone()
	c.Depends[0] = "z"
	c.Depends = append(c.Depends, "y")
	if diff := cmp.Diff(orig.Depends, []string{"b"}); diff != "" {
		t.Errorf("Original modified (-got +want):\n%s", diff)
	}
}

func TestParseIndexSpec(t *testing.T) {
	for _, tc := range []struct {
		spec string
		want []int
	}{
		{"", []int{1, 2, 3, 4, 5, 6, 7, 8}},
		{"3", []int{3, 4, 5, 6, 7, 8}},
		{"2,5", []int{2, 3, 4, 5}},
		{"1,,3", []int{1, 4, 7}},
		{"2,4,1,8", []int{2, 3, 4, 8}},
		{",,,3,5", []int{3, 5}},
	} {
		spec, err := catalog.ParseIndexSpec(tc.spec)
		if err != nil {
			t.Errorf("ParseIndexSpec(%q) failed: %v", tc.spec, err)
			continue
		}
		var got []int
		for i := 1; i <= 8; i++ {
			if spec.Contains(i) {
				got = append(got, i)
			}
		}
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("ParseIndexSpec(%q) selection mismatch (-got +want):\n%s", tc.spec, diff)
		}
	}
}

func TestParseIndexSpecError(t *testing.T) {
	for _, s := range []string{"a", "1,x", "0", "-2"} {
		if _, err := catalog.ParseIndexSpec(s); err == nil {
			t.Errorf("ParseIndexSpec(%q) succeeded unexpectedly", s)
		}
	}
}

func TestSelect(t *testing.T) {
	c := catalog.New([]*catalog.Test{
		{Name: "unit.a", Labels: []string{"fast", "cpu"}},
		{Name: "unit.b", Labels: []string{"slow"}},
		{Name: "integ.c", Labels: []string{"fast"}},
		{Name: "unit.d"},
	})
	idx, err := catalog.ParseIndexSpec("1,3")
	if err != nil {
		t.Fatal(err)
	}
	names := func(ts []*catalog.Test) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Name)
		}
		return out
	}
	for _, tc := range []struct {
		name   string
		filter *catalog.Filter
		want   []string
	}{
		{"nil", nil, []string{"unit.a", "unit.b", "integ.c", "unit.d"}},
		{"include", &catalog.Filter{Include: regexp.MustCompile(`^unit\.`)}, []string{"unit.a", "unit.b", "unit.d"}},
		{"exclude", &catalog.Filter{Exclude: regexp.MustCompile(`b|d`)}, []string{"unit.a", "integ.c"}},
		{"names", &catalog.Filter{Names: []string{"unit.d", "unit.b"}}, []string{"unit.b", "unit.d"}},
		{"label", &catalog.Filter{IncludeLabels: []*regexp.Regexp{regexp.MustCompile(`fast`)}}, []string{"unit.a", "integ.c"}},
		{"all labels", &catalog.Filter{IncludeLabels: []*regexp.Regexp{regexp.MustCompile(`fast`), regexp.MustCompile(`^cpu$`)}}, []string{"unit.a"}},
		{"exclude label", &catalog.Filter{ExcludeLabel: regexp.MustCompile(`slow`)}, []string{"unit.a", "integ.c", "unit.d"}},
		{"indices", &catalog.Filter{Indices: idx}, []string{"unit.a", "unit.b", "integ.c"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(names(catalog.Select(c, tc.filter)), tc.want); diff != "" {
				t.Errorf("Select mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestSelectKeepsIndex(t *testing.T) {
	c := catalog.New([]*catalog.Test{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	got := catalog.Select(c, &catalog.Filter{Include: regexp.MustCompile(`c`)})
	if len(got) != 1 || got[0].Index != 3 {
		t.Fatalf("Select = %v; want test c with index 3", got)
	}
}
