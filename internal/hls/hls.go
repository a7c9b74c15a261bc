// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/internal/metrics"
	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/internal/probe"
	"github.com/videoedge/manifestcore/internal/segmentindex"
	"github.com/videoedge/manifestcore/internal/timer"
)

// Options configures a Parser.
type Options struct {
	Fetcher      fetch.Fetcher
	Clock        fetch.Clock
	TimerFactory timer.Factory
	RetryParams  fetch.RetryParams

	// Metrics, if non-nil, is updated with segment-index sizes and
	// update cycle outcomes.
	Metrics *metrics.Collectors
}

// Parser drives a master playlist's fetch, its renditions' media
// playlists, and (for any still-live rendition) their update loops.
type Parser struct {
	opts Options
}

// New builds a Parser, filling in the stdlib-only defaults a caller
// left zero, matching dashparser.New's shape.
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

// startTimeGate is a single-resolution gate: the first rendition
// playlist to need a binary start-time probe performs it; every sibling
// rendition reuses that one value instead of probing again, since HLS
// segments across renditions of the same EXT-X-STREAM-INF are
// synchronized by EXTINF position, not individual PTS recovery.
type startTimeGate struct {
	once  sync.Once
	value float64
	err   error
}

func (g *startTimeGate) resolve(compute func() (float64, error)) (float64, error) {
	g.once.Do(func() {
		g.value, g.err = compute()
	})
	return g.value, g.err
}

// renditionStream is one already-fetched-and-parsed media playlist plus
// the model.Stream it produced, kept around so Parse can dedup
// identical rendition URIs shared by several EXT-X-STREAM-INF entries
// and arm each unique playlist's update loop exactly once.
type renditionStream struct {
	stream   *model.Stream
	playlist *MediaPlaylist
	baseURL  string
}

// Parse fetches masterURL and every referenced rendition playlist,
// probes the first rendition's start time once through the shared
// startTimeGate (every other rendition reuses that value), and builds a single-Period model.Manifest (HLS has no DASH-style
// multi-period timeline; EXT-X-DISCONTINUITY boundaries are modeled on
// SegmentReference instead). Any still-live (non-ENDLIST) rendition's
// update loop is armed before return; callers must call Manifest.Close
// when done.
func (p *Parser) Parse(ctx context.Context, masterURL string) (*model.Manifest, error) {
	resp, err := p.opts.Fetcher.Fetch(ctx, []string{masterURL}, -1, -1, p.opts.RetryParams)
	if err != nil {
		return nil, errs.Wrap(errs.CRITICAL, errs.NETWORK, errs.HTTPError, err, "fetching master playlist %q", masterURL)
	}
	baseURL := getBase(firstNonEmpty(resp.FinalURI, masterURL))

	master, err := ParseMaster(resp.Bytes)
	if err != nil {
		return nil, err
	}
	if len(master.Streams) == 0 {
		return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsMasterPlaylistNotProvided, "master playlist %q has no EXT-X-STREAM-INF entries", masterURL)
	}

	gate := &startTimeGate{}
	seen := map[string]*renditionStream{}
	manifest := &model.Manifest{PresentationTimeline: model.NewTimeline(p.opts.Clock.NowS)}
	period := &model.Period{ID: "0"}
	manifest.Periods = []*model.Period{period}

	audioGroups := map[string][]*renditionStream{}

	getOrBuild := func(uri string) (*renditionStream, error) {
		if rs, ok := seen[uri]; ok {
			return rs, nil
		}
		rs, err := p.buildRendition(ctx, uri, gate)
		if err != nil {
			return nil, err
		}
		seen[uri] = rs
		period.Streams = append(period.Streams, rs.stream)
		return rs, nil
	}

	for _, m := range master.Media {
		if m.URI == "" {
			continue // CLOSED-CAPTIONS carries no playlist of its own
		}
		rs, err := getOrBuild(resolveURI(baseURL, m.URI))
		if err != nil {
			return nil, err
		}
		rs.stream.Language = m.Language
		rs.stream.Primary = m.Default
		switch m.Type {
		case "AUDIO":
			rs.stream.Type = model.StreamAudio
			audioGroups[m.GroupID] = append(audioGroups[m.GroupID], rs)
		case "SUBTITLES":
			rs.stream.Type = model.StreamText
			rs.stream.Kind = "subtitle"
			period.TextStreams = append(period.TextStreams, rs.stream)
		}
	}

	for _, si := range master.Streams {
		if si.IsIFrame {
			continue // trick-play-only streams are out of this module's scope
		}
		videoRS, err := getOrBuild(resolveURI(baseURL, si.URI))
		if err != nil {
			return nil, err
		}
		videoRS.stream.Codecs = firstNonEmpty(primaryCodec(si.Codecs, "video"), videoRS.stream.Codecs)
		videoRS.stream.Width = si.Width
		videoRS.stream.Height = si.Height
		videoRS.stream.FrameRate = si.FrameRate
		videoRS.stream.Bandwidth = si.Bandwidth
		videoRS.stream.Type = model.StreamVideo
		if ccGroup := si.ClosedCaptionsGroup; ccGroup != "" && ccGroup != "NONE" {
			attachClosedCaptions(videoRS.stream, master.Media, ccGroup)
		}

		audioCandidates := audioGroups[si.AudioGroup]
		if len(audioCandidates) == 0 {
			period.Variants = append(period.Variants, &model.Variant{
				ID: variantKey(videoRS.stream, nil), Video: videoRS.stream, Bandwidth: si.Bandwidth,
				AllowedByApp: true, AllowedByKeySystem: true,
			})
			continue
		}
		for _, audioRS := range audioCandidates {
			audioRS.stream.Codecs = firstNonEmpty(primaryCodec(si.Codecs, "audio"), audioRS.stream.Codecs)
			period.Variants = append(period.Variants, &model.Variant{
				ID:        variantKey(videoRS.stream, audioRS.stream),
				Video:     videoRS.stream,
				Audio:     audioRS.stream,
				Bandwidth: si.Bandwidth,
				Language:  audioRS.stream.Language,
				Primary:   audioRS.stream.Primary,
				AllowedByApp:       true,
				AllowedByKeySystem: true,
			})
		}
	}

	seenEventID := map[string]bool{}
	for _, rs := range seen {
		for _, dr := range rs.playlist.DateRanges {
			if dr.ID != "" && seenEventID[dr.ID] {
				continue
			}
			seenEventID[dr.ID] = true
			manifest.Events = append(manifest.Events, dateRangeToEvent(dr))
		}
	}

	anyLive := false
	for _, rs := range seen {
		if !rs.playlist.Ended {
			anyLive = true
		}
	}
	manifest.PresentationTimeline.SetStatic(!anyLive)
	if !anyLive {
		maxEnd := 0.0
		for _, rs := range seen {
			if idx, ok := rs.stream.SegmentIndex.(*segmentindex.SegmentIndex); ok {
				refs := idx.References()
				if n := len(refs); n > 0 && refs[n-1].EndTime > maxEnd {
					maxEnd = refs[n-1].EndTime
				}
			}
		}
		manifest.PresentationTimeline.SetDuration(maxEnd)
	} else {
		delay := 0.0
		for _, rs := range seen {
			if d := 3 * rs.playlist.TargetDurationS; d > delay {
				delay = d // default live delay absent a DASH-style suggestedPresentationDelay
			}
		}
		manifest.PresentationTimeline.DelayS = delay
		for uri, rs := range seen {
			if rs.playlist.Ended {
				continue
			}
			p.armUpdateLoop(ctx, manifest, uri, rs)
		}
	}

	return manifest, nil
}

// buildRendition fetches and parses one media playlist, probes its
// start time (through the shared gate), builds its SegmentReferences,
// and wraps the result into a model.Stream.
func (p *Parser) buildRendition(ctx context.Context, uri string, gate *startTimeGate) (*renditionStream, error) {
	resp, err := p.opts.Fetcher.Fetch(ctx, []string{uri}, -1, -1, p.opts.RetryParams)
	if err != nil {
		return nil, errs.Wrap(errs.CRITICAL, errs.NETWORK, errs.HTTPError, err, "fetching media playlist %q", uri)
	}
	baseURL := getBase(firstNonEmpty(resp.FinalURI, uri))

	mp, err := ParseMedia(resp.Bytes)
	if err != nil {
		return nil, err
	}

	mimeType, err := mimeTypeForURI(firstSegmentURI(mp))
	if err != nil {
		mimeType = "video/mp4" // best-effort default; codec-level inference still reports its own error
	}

	startTimeS, err := gate.resolve(func() (float64, error) {
		return p.probeStartTime(ctx, mp, baseURL, mimeType)
	})
	if err != nil {
		slog.Warn("hls: start-time probe failed, defaulting to 0", "uri", uri, "err", err)
		startTimeS = 0
	}

	var initRef *model.InitSegmentReference
	if mp.Map != nil {
		initURI := resolveURI(baseURL, mp.Map.URI)
		ir := &model.InitSegmentReference{GetURIs: func() []string { return []string{initURI} }}
		if start, length, ok := parseByteRange(mp.Map.ByteRange, 0); ok {
			ir.StartByte = start
			end := start + length - 1
			ir.EndByte = &end
		}
		initRef = ir
	}

	refs := buildSegmentRefs(mp, baseURL, startTimeS, initRef)
	idx := segmentindex.FromRefs(refs)

	stream := &model.Stream{
		ID:       uri,
		MimeType: mimeType,
		Type:     streamTypeFromMime(mimeType),
	}
	if mimeType == "audio/aac" && len(mp.Segments) > 0 {
		p.guessAACCodecs(ctx, stream, baseURL, mp.Segments[0].uri)
	}
	stream.CreateSegmentIndex = func(context.Context) error {
		// Segments are already known from the fetched playlist body, so
		// the index is built eagerly above; this satisfies the
		// model.Stream contract for callers that always invoke it.
		stream.SegmentIndex = idx
		return nil
	}
	stream.SegmentIndex = idx
	p.opts.Metrics.SetSegmentIndexSize(baseURL, uri, idx.Len())

	return &renditionStream{stream: stream, playlist: mp, baseURL: baseURL}, nil
}

// guessAACCodecs fetches a raw-ADTS rendition's first segment and fills
// in its RFC 6381 codec string, sample rate, and channel count when the
// owning EXT-X-STREAM-INF/EXT-X-MEDIA never carried a CODECS attribute
// for it (common for plain ADTS audio renditions). Failure is logged,
// never fatal: codec metadata is informational, matching dashparser's
// treatment of an unparsable @frameRate.
func (p *Parser) guessAACCodecs(ctx context.Context, stream *model.Stream, baseURL, segURI string) {
	resp, err := p.opts.Fetcher.Fetch(ctx, []string{resolveURI(baseURL, segURI)}, 0, 6, p.opts.RetryParams)
	if err != nil {
		slog.Warn("hls: could not fetch ADTS frame for codec guess", "uri", segURI, "err", err)
		return
	}
	codecs, sampleRate, channels, err := guessCodecsFromADTS(resp.Bytes)
	if err != nil {
		slog.Warn("hls: could not guess codecs from ADTS header", "uri", segURI, "err", err)
		return
	}
	stream.Codecs = codecs
	stream.SampleRate = sampleRate
	stream.Channels = channels
}

// probeStartTime recovers a rendition's first segment's true
// presentation start time by binary-probing its container. Raw audio
// containers (ADTS/AC-3 elementary streams with no container-level
// timestamp) are never probed.
func (p *Parser) probeStartTime(ctx context.Context, mp *MediaPlaylist, baseURL, mimeType string) (float64, error) {
	if mp.FirstProgramDateTime != "" {
		if t, err := time.Parse(time.RFC3339, mp.FirstProgramDateTime); err == nil {
			return float64(t.Unix()) + float64(t.Nanosecond())/1e9, nil
		}
	}
	if len(mp.Segments) == 0 {
		return 0, nil
	}
	first := mp.Segments[0]
	segURI := resolveURI(baseURL, first.uri)
	if probe.IsRawAudioContainer(segURI) {
		return 0, nil
	}

	segResp, err := p.opts.Fetcher.Fetch(ctx, []string{segURI}, -1, -1, p.opts.RetryParams)
	if err != nil {
		return 0, errs.Wrap(errs.CRITICAL, errs.NETWORK, errs.HTTPError, err, "fetching first segment %q for start-time probe", segURI)
	}

	switch {
	case strings.Contains(mimeType, "mp2t"):
		return probe.TSStartTime(segResp.Bytes)
	case strings.Contains(mimeType, "webm"):
		return probe.WebmCuesStartTime(segResp.Bytes)
	case mp.Map != nil:
		initURI := resolveURI(baseURL, mp.Map.URI)
		initResp, err := p.opts.Fetcher.Fetch(ctx, []string{initURI}, -1, -1, p.opts.RetryParams)
		if err != nil {
			return 0, errs.Wrap(errs.CRITICAL, errs.NETWORK, errs.HTTPError, err, "fetching init segment %q for start-time probe", initURI)
		}
		return probe.StartTime(initResp.Bytes, segResp.Bytes)
	default:
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.HlsCouldNotParseSegStartTime, "no EXT-X-MAP for fmp4-like rendition %q", segURI)
	}
}

// armUpdateLoop schedules a live media playlist's refresh cycle: re-fetch
// at targetDuration (HLS has no MPD-style minimumUpdatePeriod), re-parse,
// and merge new segment references by media sequence, mirroring
// dashparser.Parser.armUpdateLoop's shape.
func (p *Parser) armUpdateLoop(ctx context.Context, manifest *model.Manifest, uri string, rs *renditionStream) {
	intervalS := rs.playlist.TargetDurationS
	if intervalS <= 0 {
		intervalS = 2.0
	}

	t := p.opts.TimerFactory()
	var tick func()
	tick = func() {
		interval := intervalS
		ended, err := p.refetchAndMerge(ctx, manifest, uri, rs)
		if err != nil {
			slog.Warn("hls: live update failed, retrying", "uri", uri, "err", err)
			p.opts.Metrics.IncUpdateCycle(uri, "error")
			interval = 0.1
		} else {
			p.opts.Metrics.IncUpdateCycle(uri, "ok")
			if ended {
				t.Stop()
				return
			}
		}
		t.ArmOnce(interval, tick)
	}
	t.ArmOnce(intervalS, tick)
	manifest.RegisterStopFunc(t.Stop)
}

// refetchAndMerge re-fetches one rendition's media playlist and merges
// any new segments into its already-built SegmentIndex. Once the
// playlist carries EXT-X-ENDLIST it flips the presentation timeline to
// static, sets its duration to the last segment's end, and returns
// ended=true so the caller stops rearming.
func (p *Parser) refetchAndMerge(ctx context.Context, manifest *model.Manifest, uri string, rs *renditionStream) (ended bool, err error) {
	resp, err := p.opts.Fetcher.Fetch(ctx, []string{uri}, -1, -1, p.opts.RetryParams)
	if err != nil {
		return false, errs.Wrap(errs.RECOVERABLE, errs.NETWORK, errs.HTTPError, err, "re-fetching media playlist %q", uri)
	}
	mp, err := ParseMedia(resp.Bytes)
	if err != nil {
		return false, err
	}

	idx, ok := rs.stream.SegmentIndex.(*segmentindex.SegmentIndex)
	if !ok {
		return false, errs.New(errs.RECOVERABLE, errs.MANIFEST, errs.DashNoSegmentInfo, "rendition %q has no segment index to merge into", uri)
	}

	var initRef *model.InitSegmentReference
	if mp.Map != nil {
		initURI := resolveURI(rs.baseURL, mp.Map.URI)
		ir := &model.InitSegmentReference{GetURIs: func() []string { return []string{initURI} }}
		initRef = ir
	}

	// The new playlist's first segment either already exists in idx (a
	// sliding-window overlap, the common case) or picks up exactly where
	// the last known segment left off.
	startTimeS := 0.0
	if existing, ok := idx.Get(uint32(mp.MediaSequence)); ok {
		startTimeS = existing.StartTime
	} else if refs := idx.References(); len(refs) > 0 {
		last := refs[len(refs)-1]
		startTimeS = last.EndTime + float64(mp.MediaSequence-int(last.Position)-1)*mp.TargetDurationS
	}
	newRefs := buildSegmentRefs(mp, rs.baseURL, startTimeS, initRef)
	if err := idx.Merge(newRefs); err != nil {
		return false, errs.Wrap(errs.RECOVERABLE, errs.MANIFEST, errs.DashNoSegmentInfo, err, "merging rendition %q", uri)
	}
	manifest.PresentationTimeline.NotifySegments(idx.References())
	rs.playlist = mp
	p.opts.Metrics.SetSegmentIndexSize(rs.baseURL, uri, idx.Len())

	if mp.Ended {
		manifest.PresentationTimeline.SetStatic(true)
		if refs := idx.References(); len(refs) > 0 {
			manifest.PresentationTimeline.SetDuration(refs[len(refs)-1].EndTime)
		}
		return true, nil
	}
	return false, nil
}

func attachClosedCaptions(video *model.Stream, media []*MediaRendition, groupID string) {
	for _, r := range renditionsInGroup(media, "CLOSED-CAPTIONS", groupID) {
		if video.ClosedCaptions == nil {
			video.ClosedCaptions = map[string]string{}
		}
		video.ClosedCaptions[r.InstreamID] = r.Language
	}
}

// primaryCodec picks the CODECS-attribute entry matching kind ("video"
// or "audio") out of a comma-separated RFC 6381 codec list, by its
// well-known 4CC prefixes.
func primaryCodec(codecsAttr, kind string) string {
	for _, c := range strings.Split(codecsAttr, ",") {
		c = strings.TrimSpace(c)
		switch {
		case kind == "video" && (strings.HasPrefix(c, "avc1") || strings.HasPrefix(c, "avc3") || strings.HasPrefix(c, "hvc1") || strings.HasPrefix(c, "hev1")):
			return c
		case kind == "audio" && (strings.HasPrefix(c, "mp4a") || strings.HasPrefix(c, "ac-3") || strings.HasPrefix(c, "ec-3")):
			return c
		}
	}
	return ""
}

func streamTypeFromMime(mimeType string) model.StreamType {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return model.StreamAudio
	case strings.HasPrefix(mimeType, "text/"):
		return model.StreamText
	default:
		return model.StreamVideo
	}
}

func firstSegmentURI(mp *MediaPlaylist) string {
	if len(mp.Segments) == 0 {
		return ""
	}
	return mp.Segments[0].uri
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
