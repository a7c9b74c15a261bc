// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package model

import "context"

// StreamType distinguishes the three kinds of elementary stream this
// core tracks.
type StreamType int

const (
	StreamAudio StreamType = iota
	StreamVideo
	StreamText
)

func (t StreamType) String() string {
	switch t {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	case StreamText:
		return "text"
	default:
		return "unknown"
	}
}

// SegmentIndexer is the subset of segmentindex.SegmentIndex a Stream
// needs to expose without internal/model importing internal/segmentindex
// (which itself imports internal/model for SegmentReference), avoiding
// an import cycle while keeping Stream.SegmentIndex concretely usable by
// downstream callers via a type assertion/adapter in dashparser/hls.
type SegmentIndexer interface {
	Find(t float64) (uint32, bool)
	Get(position uint32) (SegmentReference, bool)
}

// Stream is a single encoded elementary stream (one Representation in
// DASH, one EXT-X-STREAM-INF/EXT-X-MEDIA rendition in HLS).
type Stream struct {
	ID       string
	MimeType string
	Codecs   string
	Kind     string // e.g. "caption", "subtitle", "" for audio/video
	Language string
	Type     StreamType

	Width       int
	Height      int
	FrameRate   float64
	Channels    int
	SampleRate  int
	Bandwidth   int
	Primary     bool

	// ClosedCaptions maps an INSTREAM-ID (e.g. "CC1") to a language.
	ClosedCaptions map[string]string

	// CreateSegmentIndex lazily builds SegmentIndex: an explicit
	// context-and-error call, in place of an async thunk.
	CreateSegmentIndex func(ctx context.Context) error

	// SegmentIndex is populated after a successful CreateSegmentIndex
	// call. Concrete type is *segmentindex.SegmentIndex; stored as
	// `any` here to avoid an import cycle, and type-asserted by callers
	// that already import internal/segmentindex (dashparser, hls,
	// cmd/manifestinspect).
	SegmentIndex any
}

// Variant bundles one audio + one video Stream (and implicitly shares
// the period's text streams). A Variant references but never owns its
// component Streams; the owning Period does.
type Variant struct {
	ID                string
	Audio             *Stream
	Video             *Stream
	Bandwidth         int
	Language          string
	Primary           bool
	AllowedByApp      bool
	AllowedByKeySystem bool
}

// Period is a contiguous time span of a presentation with its own
// adaptation sets, fused into Variants plus standalone text Streams.
type Period struct {
	ID          string
	StartTimeS  float64
	DurationS   float64
	Variants    []*Variant
	TextStreams []*Stream

	// Streams owns every Stream reachable from Variants/TextStreams in
	// this period; Variant/TextStreams hold non-owning pointers into it.
	Streams []*Stream
}

// EndTimeS is StartTimeS + DurationS; callers treat DurationS == 0 (the
// last, still-open live period) as "open-ended".
func (p *Period) EndTimeS() float64 {
	return p.StartTimeS + p.DurationS
}

// TimelineRegionAdded is the unified event type for DASH <EventStream>
// children and HLS EXT-X-DATERANGE tags.
type TimelineRegionAdded struct {
	SchemeIDURI string
	Value       string
	StartTime   float64
	EndTime     float64
	ID          string
	Payload     []byte

	// SCTE35Summary is populated by pkg/scte35 when SchemeIDURI matches
	// the SCTE-35 binary scheme; empty otherwise.
	SCTE35Summary string
}

// Manifest is the top-level, parser-produced presentation model.
type Manifest struct {
	PresentationTimeline *PresentationTimeline
	Periods              []*Period
	MinBufferTime         float64
	OfflineSessionIDs     []string
	Events                []TimelineRegionAdded

	// stopFuncs are the parser's own update-timer stops (appended by the
	// parser after construction), invoked by Close after every Stream's
	// SegmentIndex has been destroyed.
	stopFuncs []func()
}

// RegisterStopFunc appends a cleanup action run by Close. Used by the
// owning parser to register its own update-timer Stop.
func (m *Manifest) RegisterStopFunc(f func()) {
	m.stopFuncs = append(m.stopFuncs, f)
}

// Close stops every timer this Manifest (transitively) owns: it first
// destroys each Period Stream's SegmentIndex (stopping its refresh timer
// and clearing its references), then runs the registered stop funcs.
// Must be called before the Manifest is discarded.
func (m *Manifest) Close() {
	for _, p := range m.Periods {
		for _, s := range p.Streams {
			if idx, ok := s.SegmentIndex.(interface{ Destroy() }); ok {
				idx.Destroy()
			}
		}
	}
	for _, f := range m.stopFuncs {
		f()
	}
	m.stopFuncs = nil
}
