// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package uritemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func u64(v uint64) *uint64   { return &v }
func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func TestFillNumberWidth(t *testing.T) {
	got := Fill("s$Number%05d$.m4s", Params{Number: u64(42)})
	assert.Equal(t, "s00042.m4s", got)
}

func TestFillLiteralDollar(t *testing.T) {
	got := Fill("a$$b", Params{})
	assert.Equal(t, "a$b", got)
}

func TestFillRepresentationIDIgnoresWidth(t *testing.T) {
	got := Fill("$RepresentationID%04d$", Params{RepresentationID: str("v1")})
	assert.Equal(t, "v1", got)
}

func TestFillTimeRoundsToNearestInt(t *testing.T) {
	got := Fill("$Time$", Params{Time: f64(1000.15)})
	assert.Equal(t, "1000", got)
}

func TestFillUnknownIdentifierLeftVerbatim(t *testing.T) {
	got := Fill("$Foo$", Params{})
	assert.Equal(t, "$Foo$", got)
}

func TestFillMissingValueLeavesMatchUntouched(t *testing.T) {
	got := Fill("$Number$", Params{})
	assert.Equal(t, "$Number$", got)
}

func TestFillRadixConversions(t *testing.T) {
	assert.Equal(t, "2a", Fill("$Bandwidth%01x$", Params{Bandwidth: u64(42)}))
	assert.Equal(t, "2A", Fill("$Bandwidth%01X$", Params{Bandwidth: u64(42)}))
	assert.Equal(t, "52", Fill("$Bandwidth%01o$", Params{Bandwidth: u64(42)}))
}

func TestFillCombinedTemplate(t *testing.T) {
	got := Fill("$RepresentationID$/s$Number$_$Bandwidth$.m4s", Params{
		RepresentationID: str("video1"),
		Number:           u64(7),
		Bandwidth:        u64(512000),
	})
	assert.Equal(t, "video1/s7_512000.m4s", got)
}
