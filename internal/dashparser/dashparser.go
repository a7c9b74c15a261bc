// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package dashparser fetches an MPD, resolves any xlink:href elements,
// walks its Period/AdaptationSet/Representation tree into the
// model.Manifest presentation tree, and (for type="dynamic" manifests)
// keeps it live via a periodic re-fetch that merges into each Stream's
// SegmentIndex.
//
// The tree walk generalizes cmd/dashfetcher/app/fetcher.go's start(),
// which does the same Period -> AdaptationSet -> Representation loop for
// a single static asset, into a full inheriting, multi-period,
// audio/video-fusing version.
package dashparser

import (
	"context"
	"log/slog"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	mpd "github.com/Eyevinn/dash-mpd/mpd"

	"github.com/videoedge/manifestcore/internal/dashctx"
	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/pkg/cmaf"
	"github.com/videoedge/manifestcore/internal/metrics"
	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/internal/segmentindex"
	"github.com/videoedge/manifestcore/internal/segmentinfo"
	"github.com/videoedge/manifestcore/internal/timer"
	"github.com/videoedge/manifestcore/internal/xlink"
)

// Options configures a Parser.
type Options struct {
	Fetcher      fetch.Fetcher
	Clock        fetch.Clock
	TimerFactory timer.Factory

	// FailGracefullyXlink demotes an unresolvable xlink:href to a
	// removed element instead of aborting the parse. See
	// internal/xlink.Resolver.FailGracefully.
	FailGracefullyXlink bool

	// RetryParams is used for every MPD (re-)fetch this parser issues.
	RetryParams fetch.RetryParams

	// Metrics, if non-nil, is updated with segment-index sizes, update
	// cycle outcomes, and xlink depth-limit rejections.
	Metrics *metrics.Collectors
}

// Parser drives a single MPD's initial parse and, for live content, its
// periodic update loop.
type Parser struct {
	opts Options
}

// New builds a Parser, filling in the stdlib-only defaults a caller
// left zero.
func New(opts Options) *Parser {
	if opts.Clock == nil {
		opts.Clock = fetch.SystemClock{}
	}
	if opts.TimerFactory == nil {
		opts.TimerFactory = timer.NewStd()
	}
	if opts.RetryParams.MaxAttempts == 0 {
		opts.RetryParams = fetch.RetryParams{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
	}
	return &Parser{opts: opts}
}

// Parse fetches uri and builds a model.Manifest from it. For a dynamic
// MPD, the returned Manifest's update loop is already armed; callers
// must call Manifest.Close when done with it.
func (p *Parser) Parse(ctx context.Context, uri string) (*model.Manifest, error) {
	resp, err := p.opts.Fetcher.Fetch(ctx, []string{uri}, -1, -1, p.opts.RetryParams)
	if err != nil {
		return nil, errs.Wrap(errs.CRITICAL, errs.NETWORK, errs.HTTPError, err, "fetching MPD %q", uri)
	}
	baseURL := getBase(firstNonEmpty(resp.FinalURI, uri))
	return p.parseBytes(ctx, resp.Bytes, baseURL)
}

// parseBytes resolves xlink, unmarshals the MPD, and builds the
// presentation tree. baseURL is the MPD's own request URL with its
// last path segment stripped, used to resolve every relative BaseURL
// element beneath it. Resolution is simplified to string concatenation
// since this module models only the resolution rule, not full RFC 3986
// reference resolution.
func (p *Parser) parseBytes(ctx context.Context, raw []byte, baseURL string) (*model.Manifest, error) {
	resolved, err := p.resolveXlink(ctx, raw)
	if err != nil {
		return nil, err
	}

	doc, err := mpd.ReadFromString(resolved)
	if err != nil {
		return nil, errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.DashInvalidXML, err, "parsing MPD")
	}

	manifest, err := p.buildManifest(ctx, doc, baseURL)
	if err != nil {
		return nil, err
	}

	eventsDoc := etree.NewDocument()
	if err := eventsDoc.ReadFromString(resolved); err == nil {
		manifest.Events = extractEvents(eventsDoc.Root())
	}

	if doc.Type != nil && *doc.Type == "dynamic" {
		p.armUpdateLoop(ctx, manifest, doc, baseURL)
	}
	return manifest, nil
}

// resolveXlink runs the XlinkResolver over a pre-pass etree.Document:
// xlink is resolved against the generic XML tree before the typed
// dash-mpd unmarshal ever sees the document, since github.com/Eyevinn/
// dash-mpd has no xlink support of its own.
func (p *Parser) resolveXlink(ctx context.Context, raw []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return "", errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.DashInvalidXML, err, "MPD is not well-formed XML")
	}
	if !strings.Contains(string(raw), "xlink:href") {
		return string(raw), nil
	}
	r := &xlink.Resolver{Fetcher: p.opts.Fetcher, FailGracefully: p.opts.FailGracefullyXlink, Metrics: p.opts.Metrics}
	if err := r.Resolve(ctx, doc.Root()); err != nil {
		return "", err
	}
	out, err := doc.WriteToBytes()
	if err != nil {
		return "", errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.DashInvalidXML, err, "re-serializing resolved MPD")
	}
	return string(out), nil
}

// buildManifest walks doc into a fresh model.Manifest.
func (p *Parser) buildManifest(ctx context.Context, doc *mpd.MPD, baseURL string) (*model.Manifest, error) {
	isDynamic := doc.Type != nil && *doc.Type == "dynamic"

	timeline := model.NewTimeline(p.opts.Clock.NowS)
	timeline.SetStatic(!isDynamic)
	if d, ok := durationSeconds(doc.MediaPresentationDuration); ok {
		timeline.SetDuration(d)
	}
	if d, ok := durationSeconds(doc.SuggestedPresentationDelay); ok {
		timeline.DelayS = d
	}
	if d, ok := durationSeconds(doc.TimeShiftBufferDepth); ok {
		timeline.SegmentAvailabilityDurationS = d
	}
	if s, err := doc.AvailabilityStartTime.ConvertToSeconds(); err == nil {
		timeline.PresentationStartS = &s
	}

	manifest := &model.Manifest{PresentationTimeline: timeline}
	if d := time.Duration(doc.MinBufferTime).Seconds(); d > 0 {
		manifest.MinBufferTime = d
	}

	periodStart := 0.0
	for _, period := range doc.Periods {
		if period.Start != nil {
			periodStart = time.Duration(*period.Start).Seconds()
		}
		periodDurS := math.Inf(1)
		if d, err := period.GetDuration(); err == nil && d > 0 {
			periodDurS = d.Seconds()
		} else if !isDynamic {
			// Static MPD, last period, no explicit @duration: the
			// presentation's own MediaPresentationDuration bounds it.
			if pd, ok := durationSeconds(doc.MediaPresentationDuration); ok {
				periodDurS = pd - periodStart
			}
		}

		built, err := p.buildPeriod(ctx, period, baseURL, periodStart, periodDurS, timeline)
		if err != nil {
			return nil, err
		}
		manifest.Periods = append(manifest.Periods, built)
		if !math.IsInf(periodDurS, 1) {
			periodStart += periodDurS
		}
	}
	return manifest, nil
}

// buildPeriod walks one Period's AdaptationSets, builds a Stream per
// Representation, and fuses video+audio Representations into Variants.
func (p *Parser) buildPeriod(ctx context.Context, period *mpd.Period, baseURL string, startS, durS float64, timeline *model.PresentationTimeline) (*model.Period, error) {
	out := &model.Period{ID: period.Id, StartTimeS: startS, DurationS: durS}
	if math.IsInf(durS, 1) {
		out.DurationS = 0
	}

	var videoStreams, audioStreams []*model.Stream
	for _, as := range period.AdaptationSets {
		for _, rep := range as.Representations {
			frame := dashctx.Frame{Period: period, AdaptationSet: as, Representation: rep}
			stream := p.buildStream(ctx, frame, rep, as, baseURL, startS, durS, timeline)
			out.Streams = append(out.Streams, stream)
			switch {
			case as.ContentType == "text":
				out.TextStreams = append(out.TextStreams, stream)
			case as.ContentType == "audio":
				audioStreams = append(audioStreams, stream)
			default:
				// video, image, and anything else muxed-video-like is
				// treated as the "video" side of a Variant, matching
				// the convention mirrored below for fused Variants.
				videoStreams = append(videoStreams, stream)
			}
		}
	}

	out.Variants = fuseVariants(videoStreams, audioStreams)
	return out, nil
}

// buildStream constructs one model.Stream, wiring its
// CreateSegmentIndex closure to segmentinfo.Build. Variant dedup is
// handled by the caller (fuseVariants) per-Period; there is no
// cross-period dedup.
func (p *Parser) buildStream(ctx context.Context, frame dashctx.Frame, rep *mpd.RepresentationType, as *mpd.AdaptationSetType,
	baseURL string, startS, durS float64, timeline *model.PresentationTimeline) *model.Stream {
	s := &model.Stream{
		ID:        rep.Id,
		MimeType:  frame.MimeType(),
		Codecs:    firstNonEmpty(rep.Codecs, as.Codecs),
		Language:  as.Lang,
		Type:      streamTypeOf(as.ContentType, frame.MimeType(), mediaPattern(frame)),
		Width:     int(rep.Width),
		Height:    int(rep.Height),
		FrameRate: parseFrameRate(string(rep.FrameRate)),
		Bandwidth: int(rep.Bandwidth),
	}
	s.CreateSegmentIndex = func(ctx context.Context) error {
		idx, initRef, err := segmentinfo.Build(ctx, segmentinfo.Params{
			Frame:            frame,
			RepresentationID: rep.Id,
			Bandwidth:        uint64(rep.Bandwidth),
			BaseURL:          baseURL,
			MimeType:         s.MimeType,
			PeriodStart:      startS,
			PeriodDuration:   durS,
			ContainerIsWebM:  strings.Contains(s.MimeType, "webm"),
			Fetcher:          p.opts.Fetcher,
			Timeline:         timeline,
			TimerFactory:     p.opts.TimerFactory,
		})
		if err != nil {
			return err
		}
		_ = initRef
		s.SegmentIndex = idx
		p.opts.Metrics.SetSegmentIndexSize(baseURL, rep.Id, idx.Len())
		return nil
	}
	return s
}

// fuseVariants builds the cartesian-product fusion of video and audio
// Streams into playable Variants, deduped within this call's Period
// only.
func fuseVariants(video, audio []*model.Stream) []*model.Variant {
	seen := map[string]bool{}
	var variants []*model.Variant
	add := func(v, a *model.Stream) {
		key := variantKey(v, a)
		if seen[key] {
			return
		}
		seen[key] = true
		variant := &model.Variant{ID: key, Video: v, Audio: a, AllowedByApp: true, AllowedByKeySystem: true}
		if v != nil {
			variant.Bandwidth += v.Bandwidth
		}
		if a != nil {
			variant.Bandwidth += a.Bandwidth
			variant.Language = a.Language
		} else if v != nil {
			variant.Language = v.Language
		}
		variants = append(variants, variant)
	}
	switch {
	case len(video) == 0:
		for _, a := range audio {
			add(nil, a)
		}
	case len(audio) == 0:
		for _, v := range video {
			add(v, nil)
		}
	default:
		for _, v := range video {
			for _, a := range audio {
				add(v, a)
			}
		}
	}
	return variants
}

func variantKey(v, a *model.Stream) string {
	vID, aID := "-", "-"
	if v != nil {
		vID = v.ID
	}
	if a != nil {
		aID = a.ID
	}
	return vID + " - " + aID
}

func streamTypeOf(contentType, mimeType, media string) model.StreamType {
	switch contentType {
	case "audio":
		return model.StreamAudio
	case "text":
		return model.StreamText
	case "video":
		return model.StreamVideo
	}
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return model.StreamAudio
	case strings.HasPrefix(mimeType, "text/") || strings.Contains(mimeType, "vtt") || strings.Contains(mimeType, "ttml"):
		return model.StreamText
	}
	// Neither @contentType nor @mimeType is set: DASH-IF CMAF-profile
	// content sometimes relies on the segment file extension alone
	// (.cmfv/.cmfa/.cmft) to convey this, so try that before falling
	// back to the video default.
	if ct, err := cmaf.ContentTypeFromCMAFExtension(path.Ext(media)); err == nil {
		switch ct {
		case "audio":
			return model.StreamAudio
		case "text", "metadata":
			return model.StreamText
		case "video":
			return model.StreamVideo
		}
	}
	return model.StreamVideo
}

// mediaPattern returns the effective SegmentTemplate @media attribute
// for frame, or "" if the representation has no SegmentTemplate (e.g.
// SegmentBase/SegmentList-addressed content, which always carries an
// explicit @mimeType).
func mediaPattern(frame dashctx.Frame) string {
	st := frame.SegmentTemplate()
	if st == nil {
		return ""
	}
	return st.Media
}

// parseFrameRate parses a DASH @frameRate ("25" or "30000/1001") into
// frames per second; unparseable input yields 0, logged, never fatal,
// since frame rate is informational only.
func parseFrameRate(s string) float64 {
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 {
			slog.Warn("dashparser: unparsable frame rate", "value", s)
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		slog.Warn("dashparser: unparsable frame rate", "value", s)
		return 0
	}
	return f
}

// durationSeconds converts an optional *mpd.Duration to seconds. ok is
// false when d is nil, matching every optional xs:duration MPD
// attribute (minimumUpdatePeriod, suggestedPresentationDelay,
// timeShiftBufferDepth, mediaPresentationDuration).
func durationSeconds(d *mpd.Duration) (float64, bool) {
	if d == nil {
		return 0, false
	}
	return time.Duration(*d).Seconds(), true
}

// armUpdateLoop schedules the periodic update cycle for a dynamic MPD:
// re-fetch at minimumUpdatePeriod, re-parse, and merge each Stream's
// SegmentIndex by (period.id, representation.id). Failures are demoted
// to RECOVERABLE and retried at a 0.1s backoff.
func (p *Parser) armUpdateLoop(ctx context.Context, manifest *model.Manifest, doc *mpd.MPD, baseURL string) {
	intervalS := 2.0 // conservative stdlib-only fallback if unset
	if d, ok := durationSeconds(doc.MinimumUpdatePeriod); ok && d > 0 {
		intervalS = d
	}

	t := p.opts.TimerFactory()
	var tick func()
	tick = func() {
		refreshed, err := p.refetchAndMerge(ctx, manifest, baseURL)
		interval := intervalS
		if err != nil {
			slog.Warn("dashparser: live update failed, retrying", "err", err)
			p.opts.Metrics.IncUpdateCycle(baseURL, "error")
			interval = 0.1
		} else if refreshed != nil {
			p.opts.Metrics.IncUpdateCycle(baseURL, "ok")
			if d, ok := durationSeconds(refreshed.MinimumUpdatePeriod); ok && d > 0 {
				intervalS = d
			}
		}
		t.ArmOnce(interval, tick)
	}
	t.ArmOnce(intervalS, tick)
	manifest.RegisterStopFunc(t.Stop)
}

// refetchAndMerge re-fetches the MPD and merges new segment references
// into the already-built Manifest's Streams, matched by
// (period.id, representation.id).
func (p *Parser) refetchAndMerge(ctx context.Context, manifest *model.Manifest, baseURL string) (*mpd.MPD, error) {
	// baseURL doubles as the MPD's own location for a dynamic re-fetch
	// in the common single-location case (no Location element churn
	// modeled here); a host wanting Location-element support can supply
	// it to a fresh Parse call instead.
	resp, err := p.opts.Fetcher.Fetch(ctx, []string{baseURL}, -1, -1, p.opts.RetryParams)
	if err != nil {
		return nil, errs.Wrap(errs.RECOVERABLE, errs.NETWORK, errs.HTTPError, err, "re-fetching MPD")
	}
	resolved, err := p.resolveXlink(ctx, resp.Bytes)
	if err != nil {
		return nil, err
	}
	doc, err := mpd.ReadFromString(resolved)
	if err != nil {
		return nil, errs.Wrap(errs.RECOVERABLE, errs.MANIFEST, errs.DashInvalidXML, err, "re-parsing MPD")
	}

	byID := map[string]*model.Stream{}
	for _, period := range manifest.Periods {
		for _, s := range period.Streams {
			byID[period.ID+"/"+s.ID] = s
		}
	}

	periodStart := 0.0
	for _, period := range doc.Periods {
		if period.Start != nil {
			periodStart = time.Duration(*period.Start).Seconds()
		}
		durS := math.Inf(1)
		if d, err := period.GetDuration(); err == nil && d > 0 {
			durS = d.Seconds()
		}
		for _, as := range period.AdaptationSets {
			for _, rep := range as.Representations {
				s, ok := byID[period.Id+"/"+rep.Id]
				if !ok {
					continue
				}
				frame := dashctx.Frame{Period: period, AdaptationSet: as, Representation: rep}
				idx, _, err := segmentinfo.Build(ctx, segmentinfo.Params{
					Frame:            frame,
					RepresentationID: rep.Id,
					Bandwidth:        uint64(rep.Bandwidth),
					BaseURL:          baseURL,
					MimeType:         s.MimeType,
					PeriodStart:      periodStart,
					PeriodDuration:   durS,
					ContainerIsWebM:  strings.Contains(s.MimeType, "webm"),
					Fetcher:          p.opts.Fetcher,
					Timeline:         manifest.PresentationTimeline,
					TimerFactory:     p.opts.TimerFactory,
				})
				if err != nil {
					slog.Warn("dashparser: rebuilding segment info failed", "rep", rep.Id, "err", err)
					continue
				}
				existing, ok := s.SegmentIndex.(*segmentindex.SegmentIndex)
				if !ok || existing == nil {
					s.SegmentIndex = idx
					p.opts.Metrics.SetSegmentIndexSize(baseURL, rep.Id, idx.Len())
					continue
				}
				if err := existing.Merge(idx.References()); err != nil {
					slog.Warn("dashparser: segment index merge failed", "rep", rep.Id, "err", err)
				}
				p.opts.Metrics.SetSegmentIndexSize(baseURL, rep.Id, existing.Len())
			}
		}
	}

	if doc.Type != nil && *doc.Type == "static" {
		manifest.PresentationTimeline.SetStatic(true)
		if d, ok := durationSeconds(doc.MediaPresentationDuration); ok {
			manifest.PresentationTimeline.SetDuration(d)
		}
	}
	return doc, nil
}

func getBase(u string) string {
	idx := strings.LastIndex(u, "/")
	if idx == -1 {
		return ""
	}
	return u[:idx+1]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
