// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package model

import "math"

// PresentationTimeline is the authoritative clock for a Manifest: live
// edge, availability window, presentation delay, duration, and the
// segment-time bounds observed so far. It is mutated only by the owning
// parser's update loop (notify/offset/set_duration).
type PresentationTimeline struct {
	// PresentationStartS is the epoch-seconds wall-clock time of
	// presentation time zero. nil for VOD or when unknown.
	PresentationStartS *float64

	// DelayS is the live presentation delay (suggestedPresentationDelay
	// or the HLS 3x-target-duration default).
	DelayS float64

	// DurationS may be +Inf for an unbounded live presentation.
	DurationS float64

	// SegmentAvailabilityDurationS is the live availability window
	// length; ignored for VOD.
	SegmentAvailabilityDurationS float64

	// Static is the inverse of "is dynamic/live".
	Static bool

	// MaxSegmentDurationS bounds the largest segment duration observed;
	// used to derive conservative delay/availability defaults.
	MaxSegmentDurationS float64

	minSegmentStartS *float64
	maxSegmentEndS   *float64

	// UserSeekStartS lets a host pin VOD/live seek start away from 0.
	UserSeekStartS float64

	// nowFunc is the monotonic clock collaborator (monotonic
	// now_s() -> f64); defaulted by NewTimeline.
	nowFunc func() float64
}

// NewTimeline constructs a PresentationTimeline. nowFunc is the
// monotonic-clock collaborator; pass nil to use a zero clock (tests).
func NewTimeline(nowFunc func() float64) *PresentationTimeline {
	if nowFunc == nil {
		nowFunc = func() float64 { return 0 }
	}
	return &PresentationTimeline{
		DurationS: math.Inf(1),
		nowFunc:   nowFunc,
	}
}

// IsLive reports whether the presentation is dynamic.
func (t *PresentationTimeline) IsLive() bool {
	return !t.Static
}

// SetStatic flips the static/dynamic flag (used on HLS EXT-X-ENDLIST
// transitions, and by DASH when type="static").
func (t *PresentationTimeline) SetStatic(static bool) {
	t.Static = static
}

// SetDuration sets the presentation duration. For a LIVE->VOD
// transition this is last-write-wins against any SegmentIndex.Fit
// calls already in flight.
func (t *PresentationTimeline) SetDuration(d float64) {
	t.DurationS = d
}

// Offset subtracts delta from every observed segment time bound. No
// parser in this module calls it; the HLS parser does not zero-base its
// timeline.
func (t *PresentationTimeline) Offset(delta float64) {
	if t.minSegmentStartS != nil {
		v := *t.minSegmentStartS - delta
		t.minSegmentStartS = &v
	}
	if t.maxSegmentEndS != nil {
		v := *t.maxSegmentEndS - delta
		t.maxSegmentEndS = &v
	}
}

// NotifySegments extends the observed min/max segment time bounds,
// used for live-edge tracking as new SegmentReferences are produced.
func (t *PresentationTimeline) NotifySegments(refs []SegmentReference) {
	for _, r := range refs {
		if t.minSegmentStartS == nil || r.StartTime < *t.minSegmentStartS {
			v := r.StartTime
			t.minSegmentStartS = &v
		}
		if t.maxSegmentEndS == nil || r.EndTime > *t.maxSegmentEndS {
			v := r.EndTime
			t.maxSegmentEndS = &v
		}
		if d := r.Duration(); d > t.MaxSegmentDurationS {
			t.MaxSegmentDurationS = d
		}
	}
}

// SegmentAvailabilityStart is the earliest time a segment may still be
// addressable.
func (t *PresentationTimeline) SegmentAvailabilityStart() float64 {
	if t.Static {
		if t.UserSeekStartS > 0 {
			return t.UserSeekStartS
		}
		return 0
	}
	start := t.SegmentAvailabilityEnd() - t.SegmentAvailabilityDurationS
	return math.Max(0, start)
}

// SegmentAvailabilityEnd is the live edge: the most recent time a
// client may seek to without stalling. For VOD it is the duration.
func (t *PresentationTimeline) SegmentAvailabilityEnd() float64 {
	if t.Static {
		return t.DurationS
	}
	end := t.nowFunc() - t.DelayS
	if t.maxSegmentEndS != nil && end > *t.maxSegmentEndS {
		end = *t.maxSegmentEndS
	}
	return end
}

// SeekRangeEnd is always <= SegmentAvailabilityEnd.
func (t *PresentationTimeline) SeekRangeEnd() float64 {
	return t.SegmentAvailabilityEnd()
}

// SeekRangeStart mirrors SegmentAvailabilityStart; kept as a distinct
// accessor because a host may want to diverge the two in the future
// (e.g. trick-play restrictions) without touching availability math.
func (t *PresentationTimeline) SeekRangeStart() float64 {
	return t.SegmentAvailabilityStart()
}
