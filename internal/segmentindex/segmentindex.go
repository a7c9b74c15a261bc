// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package segmentindex implements an ordered, evictable, updatable
// catalogue of SegmentReferences with find/get/offset/merge/evict/fit
// and a periodic self-refresh timer for live fixed-duration
// SegmentTemplates.
package segmentindex

import (
	"math"

	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/internal/timer"
)

// gapOverlapTolerance is the same gap/overlap tolerance used by
// dashtimeline. Merge's end-time-mismatch check does not use it; that
// check has its own 0.1 s threshold.
const gapOverlapTolerance = 1.0 / 15.0

// SegmentIndex owns an ordered slice of model.SegmentReference and an
// optional refresh Timer. It is never touched from multiple goroutines
// concurrently: mutation only happens at timer-tick boundaries.
type SegmentIndex struct {
	refs []model.SegmentReference
	t    timer.Timer
}

// New builds an empty SegmentIndex.
func New() *SegmentIndex {
	return &SegmentIndex{}
}

// FromRefs builds a SegmentIndex from an already-ordered, contiguous
// slice of references, the common case for SegmentBase/List/Template
// builders producing an initial population.
func FromRefs(refs []model.SegmentReference) *SegmentIndex {
	return &SegmentIndex{refs: refs}
}

// Len reports the number of live references.
func (s *SegmentIndex) Len() int {
	return len(s.refs)
}

// References returns a read-only snapshot of the current references.
// Callers must not retain this slice across a suspension point since a
// later Merge/Evict may replace the backing array.
func (s *SegmentIndex) References() []model.SegmentReference {
	return s.refs
}

// Find locates the reference where start <= t < end. If t precedes the
// first reference, its position is returned. Implementation scans from
// the tail, which is faster for live indices where recent lookups
// cluster near the end.
func (s *SegmentIndex) Find(t float64) (uint32, bool) {
	if len(s.refs) == 0 {
		return 0, false
	}
	if t < s.refs[0].StartTime {
		return s.refs[0].Position, true
	}
	for i := len(s.refs) - 1; i >= 0; i-- {
		r := s.refs[i]
		if t >= r.StartTime && t < r.EndTime {
			return r.Position, true
		}
	}
	return 0, false
}

// Get is O(1): position - refs[0].position indexing.
func (s *SegmentIndex) Get(position uint32) (model.SegmentReference, bool) {
	if len(s.refs) == 0 {
		return model.SegmentReference{}, false
	}
	base := s.refs[0].Position
	if position < base {
		return model.SegmentReference{}, false
	}
	idx := int(position - base)
	if idx >= len(s.refs) {
		return model.SegmentReference{}, false
	}
	return s.refs[idx], true
}

// Offset adds delta to every reference's start/end/timestamp-offset,
// replacing each reference in a new slice rather than editing it in
// place. No parser in this module calls it.
func (s *SegmentIndex) Offset(delta float64) {
	refs := make([]model.SegmentReference, len(s.refs))
	for i, r := range s.refs {
		r.StartTime += delta
		r.EndTime += delta
		r.TimestampOffset += delta
		refs[i] = r
	}
	s.refs = refs
}

// Evict drops all references whose end_time <= t. Idempotent: calling
// Evict(t) twice in a row is equivalent to calling it once.
func (s *SegmentIndex) Evict(t float64) {
	cut := 0
	for cut < len(s.refs) && s.refs[cut].EndTime <= t {
		cut++
	}
	if cut == 0 {
		return
	}
	s.refs = append([]model.SegmentReference(nil), s.refs[cut:]...)
}

// Fit drops references fully outside [periodStart, periodEnd) and
// clamps the last remaining reference's end_time to periodEnd.
func (s *SegmentIndex) Fit(periodStart, periodEnd float64) {
	kept := s.refs[:0:0]
	for _, r := range s.refs {
		if r.EndTime <= periodStart || r.StartTime >= periodEnd {
			continue
		}
		kept = append(kept, r)
	}
	s.refs = kept
	if n := len(s.refs); n > 0 && s.refs[n-1].EndTime > periodEnd {
		s.refs[n-1].EndTime = periodEnd
	}
}

// Merge extends the index with newRefs without reordering any existing
// reference.
func (s *SegmentIndex) Merge(newRefs []model.SegmentReference) error {
	if len(newRefs) == 0 {
		return nil
	}
	if len(s.refs) == 0 {
		s.refs = append([]model.SegmentReference(nil), newRefs...)
		return nil
	}

	var merged []model.SegmentReference
	i, j := 0, 0
	old, add := s.refs, newRefs

	// Pre-pass: any new items strictly before old[0].StartTime are a
	// prepend (re-added after a prior eviction). Count them up front so
	// their positions can be assigned as a contiguous decreasing run
	// ending at old[0].Position-1, instead of recomputing
	// old[0].Position-1 for each one.
	prependCount := 0
	for prependCount < len(add) && add[prependCount].StartTime < old[0].StartTime {
		prependCount++
	}
	if prependCount > 0 {
		firstPos := old[0].Position - uint32(prependCount)
		for k := 0; k < prependCount; k++ {
			r := add[k]
			r.Position = firstPos + uint32(k)
			merged = append(merged, r)
		}
		j = prependCount
	}

	for i < len(old) && j < len(add) {
		o, n := old[i], add[j]
		switch {
		case n.StartTime == o.StartTime:
			if math.Abs(n.EndTime-o.EndTime) > 0.1 {
				isLastOld := i == len(old)-1
				isLastNew := j == len(add)-1
				if !isLastOld || !isLastNew {
					return errs.New(errs.RECOVERABLE, errs.MANIFEST, errs.DashNoSegmentInfo,
						"merge: end-time mismatch at non-tail position %d", o.Position)
				}
				replacement := n
				replacement.Position = o.Position
				merged = append(merged, replacement)
				i++
				j++
				continue
			}
			// keep old, drop duplicate
			merged = append(merged, o)
			i++
			j++
		case n.StartTime < o.StartTime:
			return errs.New(errs.RECOVERABLE, errs.MANIFEST, errs.DashNoSegmentInfo,
				"merge: interleaving not supported before position %d", o.Position)
		default: // n.StartTime > o.StartTime
			merged = append(merged, o)
			i++
		}
	}
	for i < len(old) {
		merged = append(merged, old[i])
		i++
	}
	nextPos := uint32(0)
	if len(merged) > 0 {
		nextPos = merged[len(merged)-1].Position + 1
	}
	for j < len(add) {
		r := add[j]
		r.Position = nextPos
		merged = append(merged, r)
		nextPos++
		j++
	}
	s.refs = merged
	return nil
}

// UpdateEvery arms a single-shot (self-rearming) timer via f that
// invokes callback; any returned references are appended, and the
// timer stops itself once the list becomes empty.
func (s *SegmentIndex) UpdateEvery(interval float64, f timer.Factory, callback func() ([]model.SegmentReference, error)) {
	if s.t != nil {
		s.t.Stop()
	}
	s.t = f()
	var tick func()
	tick = func() {
		newRefs, err := callback()
		if err != nil {
			return
		}
		if len(newRefs) > 0 {
			_ = s.Merge(newRefs)
		}
		if len(s.refs) == 0 {
			s.t.Stop()
			return
		}
		s.t.ArmOnce(interval, tick)
	}
	s.t.ArmOnce(interval, tick)
}

// Destroy stops any refresh timer and clears references.
func (s *SegmentIndex) Destroy() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
	s.refs = nil
}
