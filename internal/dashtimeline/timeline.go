// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package dashtimeline expands a SegmentTimeline's <S t,d,r> entries into
// a scaled []TimeRange, resolving gaps, overlaps, and negative repeat
// counts the way a DASH SegmentTimeline is defined to behave.
package dashtimeline

import (
	"log/slog"
	"math"

	mpd "github.com/Eyevinn/dash-mpd/mpd"
)

// gapOverlapTolerance is the maximum gap or overlap between adjacent
// SegmentTimeline entries that is tolerated silently: 1/15s.
const gapOverlapTolerance = 1.0 / 15.0

// TimeRange is one expanded DASH timeline entry.
type TimeRange struct {
	StartS        float64
	EndS          float64
	UnscaledStart uint64
}

// Build expands stl into a scaled []TimeRange. timescale must be > 0.
// periodDurationS may be +Inf for an open-ended live period.
func Build(stl *mpd.SegmentTimelineType, timescale uint32, unscaledPTO uint64, periodDurationS float64) []TimeRange {
	if stl == nil || timescale == 0 {
		return nil
	}
	ts := float64(timescale)
	var out []TimeRange
	var lastEnd uint64
	haveLastEnd := false

	for idx, s := range stl.S {
		if s.D == 0 {
			slog.Warn("dashtimeline: S element missing required d, stopping")
			break
		}
		d := s.D

		var start uint64
		if s.T != nil {
			// t is interpreted against unscaledPTO; underflow (t <
			// pto) is a malformed manifest, clamp to 0 rather than
			// wrapping.
			if *s.T >= unscaledPTO {
				start = *s.T - unscaledPTO
			} else {
				start = 0
			}
		} else if haveLastEnd {
			start = lastEnd
		} else {
			start = 0
		}

		repeat := 0
		if s.R < 0 {
			var ok bool
			repeat, ok = resolveNegativeRepeat(stl.S, idx, start, d, unscaledPTO, ts, periodDurationS)
			if !ok {
				break
			}
		} else {
			repeat = s.R
		}

		if haveLastEnd && start != lastEnd && len(out) > 0 {
			deltaS := (float64(start) - float64(lastEnd)) / ts
			if math.Abs(deltaS) >= gapOverlapTolerance {
				slog.Warn("dashtimeline: gap/overlap between S elements", "delta_s", deltaS)
			}
			out[len(out)-1].EndS = float64(start) / ts
		}

		cur := start
		for r := 0; r <= repeat; r++ {
			out = append(out, TimeRange{
				StartS:        float64(cur) / ts,
				EndS:          float64(cur+d) / ts,
				UnscaledStart: cur,
			})
			cur += d
		}
		lastEnd = cur
		haveLastEnd = true
	}
	return out
}

// resolveNegativeRepeat expands an <S r="-1"> entry by finding the next
// sibling with an explicit t and filling the gap up to it, or, absent
// one, up to the period end.
func resolveNegativeRepeat(entries []*mpd.S, idx int, start, d, unscaledPTO uint64, timescale float64, periodDurationS float64) (int, bool) {
	// Look for the next S with a valid (explicit) t.
	for j := idx + 1; j < len(entries); j++ {
		if entries[j].T != nil {
			// nextT is PTO-relative, matching start, so the comparison
			// and the repeat count below are on the same scale.
			var nextT uint64
			if *entries[j].T >= unscaledPTO {
				nextT = *entries[j].T - unscaledPTO
			}
			if start >= nextT {
				slog.Warn("dashtimeline: negative repeat start >= next explicit t, stopping")
				return 0, false
			}
			repeat := int(math.Ceil(float64(nextT-start)/float64(d))) - 1
			return repeat, true
		}
	}
	if math.IsInf(periodDurationS, 1) {
		slog.Warn("dashtimeline: negative repeat with infinite period duration rejected")
		return 0, false
	}
	if float64(start)/timescale >= periodDurationS {
		slog.Warn("dashtimeline: negative repeat start already past period end, stopping")
		return 0, false
	}
	repeat := int(math.Ceil((periodDurationS*timescale-float64(start))/float64(d))) - 1
	return repeat, true
}
