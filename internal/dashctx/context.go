// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package dashctx implements the MPD attribute/child inheritance
// resolver, generalizing the ad hoc "take the Representation's
// SegmentTemplate, else the AdaptationSet's" pattern in
// cmd/dashfetcher/app/fetcher.go into the full three-frame walk a DASH
// manifest's inheritance rules require, via Go generics in place of a
// "strongly typed InheritanceFrame" per element kind.
package dashctx

import (
	mpd "github.com/Eyevinn/dash-mpd/mpd"
)

// Frame is the Representation/AdaptationSet/Period scope stack that
// inheritance walks, outermost (Period) last.
type Frame struct {
	Period         *mpd.Period
	AdaptationSet  *mpd.AdaptationSetType
	Representation *mpd.RepresentationType
}

// Inherit walks Representation -> AdaptationSet -> Period, returning the
// first non-nil value selector(frame-level-value) produces. A frame
// whose selector returns the zero value (nil pointer) is skipped.
func Inherit[T any](f Frame, repSel func(*mpd.RepresentationType) *T, asSel func(*mpd.AdaptationSetType) *T, pSel func(*mpd.Period) *T) *T {
	if f.Representation != nil && repSel != nil {
		if v := repSel(f.Representation); v != nil {
			return v
		}
	}
	if f.AdaptationSet != nil && asSel != nil {
		if v := asSel(f.AdaptationSet); v != nil {
			return v
		}
	}
	if f.Period != nil && pSel != nil {
		if v := pSel(f.Period); v != nil {
			return v
		}
	}
	return nil
}

// SegmentTemplate returns the first effective SegmentTemplate in the
// Representation -> AdaptationSet -> Period chain.
func (f Frame) SegmentTemplate() *mpd.SegmentTemplateType {
	return Inherit(f,
		func(r *mpd.RepresentationType) *mpd.SegmentTemplateType { return r.SegmentTemplate },
		func(a *mpd.AdaptationSetType) *mpd.SegmentTemplateType { return a.SegmentTemplate },
		func(p *mpd.Period) *mpd.SegmentTemplateType { return p.SegmentTemplate },
	)
}

// SegmentList returns the first effective SegmentList in the chain.
func (f Frame) SegmentList() *mpd.SegmentListType {
	return Inherit(f,
		func(r *mpd.RepresentationType) *mpd.SegmentListType { return r.SegmentList },
		func(a *mpd.AdaptationSetType) *mpd.SegmentListType { return a.SegmentList },
		func(p *mpd.Period) *mpd.SegmentListType { return p.SegmentList },
	)
}

// SegmentBase returns the first effective SegmentBase in the chain.
func (f Frame) SegmentBase() *mpd.SegmentBaseType {
	return Inherit(f,
		func(r *mpd.RepresentationType) *mpd.SegmentBaseType { return r.SegmentBase },
		func(a *mpd.AdaptationSetType) *mpd.SegmentBaseType { return a.SegmentBase },
		func(p *mpd.Period) *mpd.SegmentBaseType { return p.SegmentBase },
	)
}

// MimeType inherits the mimeType attribute (a string, not an element)
// from the Representation, else the AdaptationSet; the Period is not
// consulted, and "" is returned when neither sets it.
func (f Frame) MimeType() string {
	if f.Representation != nil && f.Representation.MimeType != nil {
		return *f.Representation.MimeType
	}
	if f.AdaptationSet != nil && f.AdaptationSet.MimeType != nil {
		return *f.AdaptationSet.MimeType
	}
	return ""
}
