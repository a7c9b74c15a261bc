// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dashtimeline

import (
	"math"
	"testing"

	mpd "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64p(v uint64) *uint64 { return &v }

func TestBuildNegativeRepeatScenario2(t *testing.T) {
	// spec.md §8 scenario 2: <S t=0 d=4 r=-1/><S t=12 d=4/>, timescale=1.
	stl := &mpd.SegmentTimelineType{
		S: []*mpd.S{
			{T: u64p(0), D: 4, R: -1},
			{T: u64p(12), D: 4, R: 0},
		},
	}
	ranges := Build(stl, 1, 0, math.Inf(1))
	require.Len(t, ranges, 4)
	want := []TimeRange{
		{StartS: 0, EndS: 4, UnscaledStart: 0},
		{StartS: 4, EndS: 8, UnscaledStart: 4},
		{StartS: 8, EndS: 12, UnscaledStart: 8},
		{StartS: 12, EndS: 16, UnscaledStart: 12},
	}
	assert.Equal(t, want, ranges)
}

func TestBuildSimpleNoRepeat(t *testing.T) {
	stl := &mpd.SegmentTimelineType{
		S: []*mpd.S{
			{D: 1000, R: 2}, // t omitted -> starts at 0
		},
	}
	ranges := Build(stl, 1000, 0, math.Inf(1))
	require.Len(t, ranges, 3)
	assert.Equal(t, 0.0, ranges[0].StartS)
	assert.Equal(t, 1.0, ranges[0].EndS)
	assert.Equal(t, 3.0, ranges[2].EndS)
}

func TestBuildNegativeRepeatBoundedByPeriodDuration(t *testing.T) {
	stl := &mpd.SegmentTimelineType{
		S: []*mpd.S{
			{T: u64p(0), D: 5, R: -1},
		},
	}
	ranges := Build(stl, 1, 0, 23)
	// ceil((23*1 - 0)/5) - 1 = ceil(23/5)-1 = 5-1 = 4 => 5 entries (0..4 inclusive repeat)
	require.Len(t, ranges, 5)
	assert.Equal(t, 20.0, ranges[4].StartS)
}

func TestBuildRejectsNegativeRepeatWithInfiniteDuration(t *testing.T) {
	stl := &mpd.SegmentTimelineType{
		S: []*mpd.S{
			{T: u64p(0), D: 5, R: -1},
		},
	}
	ranges := Build(stl, 1, 0, math.Inf(1))
	assert.Empty(t, ranges)
}

func TestBuildMissingDurationStops(t *testing.T) {
	stl := &mpd.SegmentTimelineType{
		S: []*mpd.S{
			{T: u64p(0), D: 5, R: 0},
			{D: 0, R: 0},
			{T: u64p(999), D: 5, R: 0},
		},
	}
	ranges := Build(stl, 1, 0, math.Inf(1))
	require.Len(t, ranges, 1)
}

func TestBuildGapExtendsPrevious(t *testing.T) {
	stl := &mpd.SegmentTimelineType{
		S: []*mpd.S{
			{T: u64p(0), D: 4, R: 0},
			{T: u64p(5), D: 4, R: 0}, // gap of 1s > tolerance
		},
	}
	ranges := Build(stl, 1, 0, math.Inf(1))
	require.Len(t, ranges, 2)
	assert.Equal(t, 5.0, ranges[0].EndS) // extended to next start
	assert.Equal(t, 5.0, ranges[1].StartS)
}
