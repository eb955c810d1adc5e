// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command contains code shared by executables.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DurationFlag implements flag.Value to save a user-supplied integer time
// duration with fixed units to a time.Duration.
type DurationFlag struct {
	units time.Duration
	dst   *time.Duration
}

// NewDurationFlag returns a DurationFlag that will save a duration with the
// supplied units to dst. dst is set to def.
func NewDurationFlag(units time.Duration, dst *time.Duration, def time.Duration) *DurationFlag {
	*dst = def
	return &DurationFlag{units, dst}
}

// Set implements flag.Value.Set.
func (f *DurationFlag) Set(v string) error {
	num, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	if num < 0 {
		return fmt.Errorf("duration %q is negative", v)
	}
	*f.dst = time.Duration(num * float64(f.units))
	return nil
}

// String implements flag.Value.String.
func (f *DurationFlag) String() string {
	if f.dst == nil {
		return ""
	}
	return strconv.FormatFloat(float64(*f.dst)/float64(f.units), 'f', -1, 64)
}

// EnumFlag implements flag.Value to map a user-supplied string value to an
// enum value.
type EnumFlag struct {
	valid  map[string]int
	assign func(val int)
	def    string
	value  string
}

// NewEnumFlag returns a new EnumFlag. valid maps user-supplied string values
// to the corresponding enum values. assign is called with the default value
// immediately and later with any user-supplied values.
func NewEnumFlag(valid map[string]int, assign func(val int), def string) *EnumFlag {
	if _, ok := valid[def]; !ok {
		panic(fmt.Sprintf("default value %q not in valid values", def))
	}
	assign(valid[def])
	return &EnumFlag{valid, assign, def, def}
}

// Set implements flag.Value.Set.
func (f *EnumFlag) Set(v string) error {
	ev, ok := f.valid[v]
	if !ok {
		return fmt.Errorf("must be one of %s", f.QuotedValues())
	}
	f.value = v
	f.assign(ev)
	return nil
}

// String implements flag.Value.String.
func (f *EnumFlag) String() string {
	if f == nil {
		return ""
	}
	return f.value
}

// QuotedValues returns a comma-separated list of quoted values the user can
// supply.
func (f *EnumFlag) QuotedValues() string {
	var qvals []string
	for s := range f.valid {
		qvals = append(qvals, fmt.Sprintf("%q", s))
	}
	sort.Strings(qvals)
	return strings.Join(qvals, ", ")
}

// Default returns the default value used if the flag isn't supplied.
func (f *EnumFlag) Default() string {
	return f.def
}

// ListFlag implements flag.Value to split a user-supplied string with a
// custom separator into a slice.
type ListFlag struct {
	sep    string
	assign func(vals []string)
	value  []string
}

// NewListFlag returns a ListFlag using sep as a separator. assign is called
// with def immediately and later with any user-supplied values.
func NewListFlag(sep string, assign func(vals []string), def []string) *ListFlag {
	assign(def)
	return &ListFlag{sep, assign, def}
}

// Set implements flag.Value.Set.
func (f *ListFlag) Set(v string) error {
	vals := strings.Split(v, f.sep)
	f.value = vals
	f.assign(vals)
	return nil
}

// String implements flag.Value.String.
func (f *ListFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.value, f.sep)
}

// RepeatedFlag implements flag.Value around an assignment function that is
// executed each time the flag is supplied.
type RepeatedFlag func(val string) error

// Set implements flag.Value.Set.
func (f *RepeatedFlag) Set(v string) error {
	return (*f)(v)
}

// String implements flag.Value.String.
func (f *RepeatedFlag) String() string { return "" }
