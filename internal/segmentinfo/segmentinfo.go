// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package segmentinfo builds a segmentindex.SegmentIndex (plus its
// InitSegmentReference) from whichever of SegmentBase/SegmentList/
// SegmentTemplate is effective for a Representation.
package segmentinfo

import (
	"context"
	"math"
	"strconv"
	"strings"

	mpd "github.com/Eyevinn/dash-mpd/mpd"

	"github.com/videoedge/manifestcore/internal/dashctx"
	"github.com/videoedge/manifestcore/internal/dashtimeline"
	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/internal/probe"
	"github.com/videoedge/manifestcore/internal/segmentindex"
	"github.com/videoedge/manifestcore/internal/timer"
	"github.com/videoedge/manifestcore/internal/uritemplate"
)

// segmentLimit bounds how many positions a live fixed-duration
// SegmentTemplate's availability window is allowed to enumerate in one
// pass; the range is clamped to its tail, matching the bound a player
// core needs rather than the full position count since stream start.
const segmentLimit = 1000

// Params carries the per-Representation context Build needs beyond the
// inherited SegmentTemplate/List/Base element itself.
type Params struct {
	Frame            dashctx.Frame
	RepresentationID string
	Bandwidth        uint64
	BaseURL          string
	// MimeType is the Representation's inherited mimeType, used to
	// derive the SegmentBase container check and ContainerIsWebM.
	MimeType    string
	PeriodStart float64
	// PeriodDuration may be math.Inf(1) for an open-ended live period.
	PeriodDuration float64
	// ContainerIsWebM gates the SegmentBase init-segment-required
	// check (DASH_WEBM_MISSING_INIT); set from the Representation's
	// inherited mimeType.
	ContainerIsWebM bool
	// Fetcher is used by the SegmentBase path and the SegmentTemplate
	// index-template path to retrieve the bytes a sidx reference points
	// at. May be nil when the Representation uses SegmentTemplate
	// timeline/duration addressing or SegmentList (no network access
	// needed).
	Fetcher fetch.Fetcher
	// Timeline supplies the live availability window for a fixed-
	// duration SegmentTemplate. Nil for VOD Representations.
	Timeline *model.PresentationTimeline
	// TimerFactory arms the fixed-duration live self-refresh. Nil
	// disables the periodic refresh; Build still returns the
	// availability window as of the call.
	TimerFactory timer.Factory
}

func resolveURI(base, ref string) string {
	if ref == "" {
		return base
	}
	if strings.Contains(ref, "://") {
		return ref
	}
	return base + ref
}

func uriRefFn(base, uri string) func() []string {
	full := resolveURI(base, uri)
	return func() []string { return []string{full} }
}

func urlTypeRef(base string, u *mpd.URLType) *model.InitSegmentReference {
	if u == nil || u.SourceURL == nil {
		return nil
	}
	ref := &model.InitSegmentReference{GetURIs: uriRefFn(base, *u.SourceURL)}
	if u.Range != nil {
		start, end, ok := parseByteRange(*u.Range)
		if ok {
			ref.StartByte = start
			ref.EndByte = &end
		}
	}
	return ref
}

// containerSupportsSegmentBase reports whether mimeType is a container
// SegmentBase is defined for: mp4 or webm. Text mime types are excluded
// from the check rather than rejected, since SegmentBase on a text
// stream is a host-specific convention this module does not police.
func containerSupportsSegmentBase(mimeType string) bool {
	switch {
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "webm"):
		return true
	case strings.Contains(mimeType, "text"), strings.Contains(mimeType, "ttml"), strings.Contains(mimeType, "vtt"):
		return true
	default:
		return false
	}
}

func parseByteRange(r string) (start, end uint64, ok bool) {
	parts := strings.SplitN(r, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	e, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return s, e, true
}

// Build constructs the SegmentIndex for one Representation, dispatching
// on whichever of SegmentTemplate/SegmentList/SegmentBase is effective
// in p.Frame, in that precedence order.
func Build(ctx context.Context, p Params) (*segmentindex.SegmentIndex, *model.InitSegmentReference, error) {
	if tmpl := p.Frame.SegmentTemplate(); tmpl != nil {
		return buildFromTemplate(ctx, tmpl, p)
	}
	if list := p.Frame.SegmentList(); list != nil {
		return buildFromList(list, p)
	}
	if base := p.Frame.SegmentBase(); base != nil {
		return buildFromBase(ctx, base, p)
	}
	return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo,
		"representation %s has no SegmentTemplate, SegmentList, or SegmentBase", p.RepresentationID)
}

// buildFromTemplate dispatches a SegmentTemplate to whichever of its
// three addressing sub-modes is effective, in precedence order
// index-template > timeline > duration: exactly one governs a given
// Representation.
func buildFromTemplate(ctx context.Context, tmpl *mpd.SegmentTemplateType, p Params) (*segmentindex.SegmentIndex, *model.InitSegmentReference, error) {
	if tmpl.Index != "" {
		return buildFromTemplateIndex(ctx, tmpl, p)
	}

	timescale := uint32(1)
	if tmpl.Timescale != nil {
		timescale = *tmpl.Timescale
	}
	if timescale == 0 {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentTemplate timescale is 0")
	}
	startNumber := uint32(1)
	if tmpl.StartNumber != nil {
		startNumber = *tmpl.StartNumber
	}
	var pto uint64
	if tmpl.PresentationTimeOffset != nil {
		pto = *tmpl.PresentationTimeOffset
	}
	ptoS := float64(pto) / float64(timescale)

	var initRef *model.InitSegmentReference
	if tmpl.Initialization != "" {
		initURI := uritemplate.Fill(tmpl.Initialization, uritemplate.Params{
			RepresentationID: &p.RepresentationID,
			Bandwidth:        &p.Bandwidth,
		})
		initRef = &model.InitSegmentReference{GetURIs: uriRefFn(p.BaseURL, initURI)}
	}

	media := tmpl.Media
	if media == "" {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentTemplate has no media attribute")
	}

	if tmpl.SegmentTimeline != nil {
		ranges := dashtimeline.Build(tmpl.SegmentTimeline, timescale, pto, p.PeriodDuration)
		refs := make([]model.SegmentReference, 0, len(ranges))
		usesTime := strings.Contains(media, "$Time$")
		for i, rg := range ranges {
			pos := startNumber + uint32(i)
			params := uritemplate.Params{RepresentationID: &p.RepresentationID, Bandwidth: &p.Bandwidth}
			if usesTime {
				t := float64(rg.UnscaledStart)
				params.Time = &t
			} else {
				n := uint64(pos)
				params.Number = &n
			}
			uri := uritemplate.Fill(media, params)
			refs = append(refs, model.SegmentReference{
				Position:        pos,
				StartTime:       p.PeriodStart + rg.StartS,
				EndTime:         p.PeriodStart + rg.EndS,
				GetURIs:         uriRefFn(p.BaseURL, uri),
				InitSegment:     initRef,
				TimestampOffset: p.PeriodStart - ptoS,
			})
		}
		return segmentindex.FromRefs(refs), initRef, nil
	}

	// fixed-duration SegmentTemplate: @duration and $Number$.
	if tmpl.Duration == nil {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentTemplate has neither SegmentTimeline nor @duration")
	}
	dur := float64(*tmpl.Duration) / float64(timescale)
	if dur <= 0 {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentTemplate @duration resolves to <= 0")
	}

	if math.IsInf(p.PeriodDuration, 1) {
		return buildLiveFixedDuration(p, media, dur, ptoS, startNumber, initRef)
	}

	count := int(math.Ceil(p.PeriodDuration / dur))
	if count < 1 {
		count = 1
	}
	refs := fixedDurationRefs(startNumber, startNumber+uint32(count)-1, p, media, dur, ptoS, startNumber, initRef)
	return segmentindex.FromRefs(refs), initRef, nil
}

// fixedDurationRefs builds one SegmentReference per position in
// [low, high], each spanning dur seconds starting at
// (pos-startNumber)*dur relative to the period start.
func fixedDurationRefs(low, high uint32, p Params, media string, dur, ptoS float64, startNumber uint32, initRef *model.InitSegmentReference) []model.SegmentReference {
	if high < low {
		return nil
	}
	refs := make([]model.SegmentReference, 0, high-low+1)
	for pos := low; pos <= high; pos++ {
		i := pos - startNumber
		n := uint64(pos)
		uri := uritemplate.Fill(media, uritemplate.Params{
			RepresentationID: &p.RepresentationID,
			Bandwidth:        &p.Bandwidth,
			Number:           &n,
		})
		start := float64(i) * dur
		end := start + dur
		if !math.IsInf(p.PeriodDuration, 1) && end > p.PeriodDuration {
			end = p.PeriodDuration
		}
		refs = append(refs, model.SegmentReference{
			Position:        pos,
			StartTime:       p.PeriodStart + start,
			EndTime:         p.PeriodStart + end,
			GetURIs:         uriRefFn(p.BaseURL, uri),
			InitSegment:     initRef,
			TimestampOffset: p.PeriodStart - ptoS,
		})
	}
	return refs
}

// fixedDurationAvailableRange computes the inclusive position range
// currently available for a live fixed-duration SegmentTemplate:
// [ceil(availStart/d)+startNumber, ceil(availEnd/d)+startNumber-1],
// clamped to segmentLimit positions from the tail. ok is false when
// nothing is available yet (e.g. before the first segment completes).
func fixedDurationAvailableRange(timeline *model.PresentationTimeline, periodStart, dur float64, startNumber uint32) (low, high uint32, ok bool) {
	if timeline == nil {
		return startNumber, startNumber, true
	}
	availEnd := timeline.SegmentAvailabilityEnd() - periodStart
	if availEnd < dur {
		return 0, 0, false
	}
	availStart := timeline.SegmentAvailabilityStart() - periodStart
	if availStart < 0 {
		availStart = 0
	}
	low = startNumber + uint32(math.Ceil(availStart/dur))
	high = startNumber + uint32(math.Ceil(availEnd/dur)) - 1
	if high < low {
		return 0, 0, false
	}
	if span := high - low + 1; span > segmentLimit {
		low = high - segmentLimit + 1
	}
	return low, high, true
}

// buildLiveFixedDuration builds the initial availability window for a
// live (infinite-period) fixed-duration SegmentTemplate and, when a
// TimerFactory is supplied, arms a self-refresh that evicts to the
// availability start and extends to the new max position every dur
// seconds.
func buildLiveFixedDuration(p Params, media string, dur, ptoS float64, startNumber uint32, initRef *model.InitSegmentReference) (*segmentindex.SegmentIndex, *model.InitSegmentReference, error) {
	low, high, ok := fixedDurationAvailableRange(p.Timeline, p.PeriodStart, dur, startNumber)
	var idx *segmentindex.SegmentIndex
	if !ok {
		idx = segmentindex.FromRefs(nil)
	} else {
		idx = segmentindex.FromRefs(fixedDurationRefs(low, high, p, media, dur, ptoS, startNumber, initRef))
	}

	if p.TimerFactory != nil {
		maxPos := high
		idx.UpdateEvery(dur, p.TimerFactory, func() ([]model.SegmentReference, error) {
			newLow, newHigh, ok := fixedDurationAvailableRange(p.Timeline, p.PeriodStart, dur, startNumber)
			if !ok {
				return nil, nil
			}
			idx.Evict(p.Timeline.SegmentAvailabilityStart())
			start := maxPos + 1
			if newLow > start {
				start = newLow
			}
			if start > newHigh {
				return nil, nil
			}
			fresh := fixedDurationRefs(start, newHigh, p, media, dur, ptoS, startNumber, initRef)
			maxPos = newHigh
			return fresh, nil
		})
	}
	return idx, initRef, nil
}

// buildFromTemplateIndex implements the SegmentTemplate index-template
// sub-mode: the @index URL template is filled and the result treated as
// a SegmentBase's external sidx, with @media filled once as the single
// base media resource the sidx's byte ranges point into.
func buildFromTemplateIndex(ctx context.Context, tmpl *mpd.SegmentTemplateType, p Params) (*segmentindex.SegmentIndex, *model.InitSegmentReference, error) {
	timescale := uint32(1)
	if tmpl.Timescale != nil {
		timescale = *tmpl.Timescale
	}
	if timescale == 0 {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentTemplate timescale is 0")
	}
	var pto uint64
	if tmpl.PresentationTimeOffset != nil {
		pto = *tmpl.PresentationTimeOffset
	}
	ptoS := float64(pto) / float64(timescale)

	var initRef *model.InitSegmentReference
	if tmpl.Initialization != "" {
		initURI := uritemplate.Fill(tmpl.Initialization, uritemplate.Params{
			RepresentationID: &p.RepresentationID,
			Bandwidth:        &p.Bandwidth,
		})
		initRef = &model.InitSegmentReference{GetURIs: uriRefFn(p.BaseURL, initURI)}
	}

	if p.Fetcher == nil {
		return nil, nil, errs.New(errs.CRITICAL, errs.NETWORK, errs.HTTPError, "SegmentTemplate @index requires a Fetcher but none was provided")
	}
	indexURI := uritemplate.Fill(tmpl.Index, uritemplate.Params{
		RepresentationID: &p.RepresentationID,
		Bandwidth:        &p.Bandwidth,
	})
	resp, err := p.Fetcher.Fetch(ctx, []string{resolveURI(p.BaseURL, indexURI)}, -1, -1, fetch.RetryParams{MaxAttempts: 1})
	if err != nil {
		return nil, nil, errs.Wrap(errs.CRITICAL, errs.NETWORK, errs.HTTPError, err, "fetching SegmentTemplate @index")
	}
	payload, next, err := probe.FindSidxBox(resp.Bytes)
	if err != nil {
		return nil, nil, err
	}
	sidx, err := probe.ParseSidx(payload)
	if err != nil {
		return nil, nil, err
	}

	var mediaURI string
	if tmpl.Media != "" {
		mediaURI = uritemplate.Fill(tmpl.Media, uritemplate.Params{
			RepresentationID: &p.RepresentationID,
			Bandwidth:        &p.Bandwidth,
		})
	}
	refs := sidx.References(next, p.PeriodStart-ptoS, uriRefFn(p.BaseURL, mediaURI), initRef)
	return segmentindex.FromRefs(refs), initRef, nil
}

func buildFromList(list *mpd.SegmentListType, p Params) (*segmentindex.SegmentIndex, *model.InitSegmentReference, error) {
	timescale := uint32(1)
	if list.Timescale != nil {
		timescale = *list.Timescale
	}
	if timescale == 0 {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentList timescale is 0")
	}
	startNumber := uint32(1)
	if list.StartNumber != nil {
		startNumber = *list.StartNumber
	}
	var pto uint64
	if list.PresentationTimeOffset != nil {
		pto = *list.PresentationTimeOffset
	}
	ptoS := float64(pto) / float64(timescale)

	initRef := urlTypeRef(p.BaseURL, list.Initialization)

	urls := list.SegmentURL
	if len(urls) == 0 {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentList has no SegmentURL entries")
	}

	var starts, ends []float64
	if list.SegmentTimeline != nil {
		ranges := dashtimeline.Build(list.SegmentTimeline, timescale, pto, p.PeriodDuration)
		for _, rg := range ranges {
			starts = append(starts, rg.StartS)
			ends = append(ends, rg.EndS)
		}
	} else if list.Duration != nil {
		dur := float64(*list.Duration) / float64(timescale)
		for i := range urls {
			starts = append(starts, float64(i)*dur)
			ends = append(ends, float64(i+1)*dur)
		}
	} else {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentList has neither SegmentTimeline nor @duration")
	}

	n := len(urls)
	if len(starts) < n {
		n = len(starts)
	}
	refs := make([]model.SegmentReference, 0, n)
	for i := 0; i < n; i++ {
		u := urls[i]
		var uri string
		if u.Media != nil {
			uri = *u.Media
		}
		ref := model.SegmentReference{
			Position:        startNumber + uint32(i),
			StartTime:       p.PeriodStart + starts[i],
			EndTime:         p.PeriodStart + ends[i],
			GetURIs:         uriRefFn(p.BaseURL, uri),
			InitSegment:     initRef,
			TimestampOffset: p.PeriodStart - ptoS,
		}
		if u.MediaRange != nil {
			start, end, ok := parseByteRange(*u.MediaRange)
			if ok {
				ref.StartByte = start
				ref.EndByte = &end
			}
		}
		refs = append(refs, ref)
	}
	return segmentindex.FromRefs(refs), initRef, nil
}

func buildFromBase(ctx context.Context, base *mpd.SegmentBaseType, p Params) (*segmentindex.SegmentIndex, *model.InitSegmentReference, error) {
	timescale := uint32(1)
	if base.Timescale != nil {
		timescale = *base.Timescale
	}
	if timescale == 0 {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentBase timescale is 0")
	}
	var pto uint64
	if base.PresentationTimeOffset != nil {
		pto = *base.PresentationTimeOffset
	}
	ptoS := float64(pto) / float64(timescale)

	if !containerSupportsSegmentBase(p.MimeType) {
		return nil, nil, errs.New(errs.CRITICAL, errs.MEDIA, errs.DashUnsupportedContainer,
			"representation %s has unsupported SegmentBase container %q", p.RepresentationID, p.MimeType)
	}

	initRef := urlTypeRef(p.BaseURL, base.Initialization)
	if p.ContainerIsWebM && initRef == nil {
		return nil, nil, errs.New(errs.CRITICAL, errs.MEDIA, errs.DashWebmMissingInit,
			"representation %s is WebM but has no SegmentBase Initialization", p.RepresentationID)
	}

	if base.IndexRange == nil {
		// No sidx: the whole Representation is one segment spanning the
		// period.
		uri := ""
		ref := model.SegmentReference{
			Position:        0,
			StartTime:       p.PeriodStart,
			EndTime:         p.PeriodStart + p.PeriodDuration,
			GetURIs:         uriRefFn(p.BaseURL, uri),
			InitSegment:     initRef,
			TimestampOffset: p.PeriodStart - ptoS,
		}
		return segmentindex.FromRefs([]model.SegmentReference{ref}), initRef, nil
	}

	if p.Fetcher == nil {
		return nil, nil, errs.New(errs.CRITICAL, errs.NETWORK, errs.HTTPError, "SegmentBase indexRange requires a Fetcher but none was provided")
	}
	start, end, ok := parseByteRange(*base.IndexRange)
	if !ok {
		return nil, nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashNoSegmentInfo, "SegmentBase @indexRange is malformed: %q", *base.IndexRange)
	}
	resp, err := p.Fetcher.Fetch(ctx, []string{p.BaseURL}, int64(start), int64(end), fetch.RetryParams{MaxAttempts: 1})
	if err != nil {
		return nil, nil, errs.Wrap(errs.CRITICAL, errs.NETWORK, errs.HTTPError, err, "fetching SegmentBase indexRange")
	}
	payload, next, err := probe.FindSidxBox(resp.Bytes)
	if err != nil {
		return nil, nil, err
	}
	sidx, err := probe.ParseSidx(payload)
	if err != nil {
		return nil, nil, err
	}
	// next is relative to resp.Bytes, which itself starts at absolute
	// byte offset `start` within the Representation's resource.
	firstByteOffset := start + next
	refs := sidx.References(firstByteOffset, p.PeriodStart-ptoS, uriRefFn(p.BaseURL, ""), initRef)
	return segmentindex.FromRefs(refs), initRef, nil
}
