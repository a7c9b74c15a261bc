// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segmentinfo

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	mpd "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoedge/manifestcore/internal/dashctx"
	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/internal/timer"
)

func u32p(v uint32) *uint32 { return &v }

func TestBuildFixedDurationScenario1(t *testing.T) {
	// spec.md §8 scenario 1: duration=5000, timescale=1000, period=30s
	// -> 6 references.
	tmpl := &mpd.SegmentTemplateType{
		Media:          "seg-$Number$.m4s",
		Initialization: "init-$RepresentationID$.m4s",
		Duration:       u32p(5000),
		Timescale:      u32p(1000),
	}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentTemplate: tmpl}}
	idx, initRef, err := Build(context.Background(), Params{
		Frame:            f,
		RepresentationID: "v1",
		Bandwidth:        500000,
		BaseURL:          "https://example.com/",
		PeriodStart:      0,
		PeriodDuration:   30,
	})
	require.NoError(t, err)
	require.NotNil(t, initRef)
	assert.Equal(t, []string{"https://example.com/init-v1.m4s"}, initRef.GetURIs())

	refs := idx.References()
	require.Len(t, refs, 6)
	assert.Equal(t, uint32(1), refs[0].Position)
	assert.Equal(t, 0.0, refs[0].StartTime)
	assert.Equal(t, 5.0, refs[0].EndTime)
	assert.Equal(t, []string{"https://example.com/seg-1.m4s"}, refs[0].GetURIs())
	assert.Equal(t, uint32(6), refs[5].Position)
	assert.Equal(t, 25.0, refs[5].StartTime)
	assert.Equal(t, 30.0, refs[5].EndTime)
}

func TestBuildTimelineWithTimeTemplate(t *testing.T) {
	tmpl := &mpd.SegmentTemplateType{
		Media:     "seg-$Time$.m4s",
		Timescale: u32p(1),
		SegmentTimeline: &mpd.SegmentTimelineType{
			S: []*mpd.S{{D: 4, R: 2}},
		},
	}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentTemplate: tmpl}}
	idx, _, err := Build(context.Background(), Params{
		Frame:            f,
		RepresentationID: "v1",
		BaseURL:          "https://example.com/",
		PeriodDuration:   12,
	})
	require.NoError(t, err)
	refs := idx.References()
	require.Len(t, refs, 3)
	assert.Equal(t, []string{"https://example.com/seg-0.m4s"}, refs[0].GetURIs())
	assert.Equal(t, []string{"https://example.com/seg-4.m4s"}, refs[1].GetURIs())
	assert.Equal(t, []string{"https://example.com/seg-8.m4s"}, refs[2].GetURIs())
}

func TestBuildNoSegmentInfoErrors(t *testing.T) {
	f := dashctx.Frame{Representation: &mpd.RepresentationType{}}
	_, _, err := Build(context.Background(), Params{Frame: f, RepresentationID: "v1"})
	require.Error(t, err)
}

func TestBuildSegmentBaseWholeRepresentation(t *testing.T) {
	base := &mpd.SegmentBaseType{Timescale: u32p(1)}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentBase: base}}
	idx, _, err := Build(context.Background(), Params{
		Frame:          f,
		BaseURL:        "https://example.com/whole.mp4",
		MimeType:       "video/mp4",
		PeriodStart:    10,
		PeriodDuration: 20,
	})
	require.NoError(t, err)
	refs := idx.References()
	require.Len(t, refs, 1)
	assert.Equal(t, 10.0, refs[0].StartTime)
	assert.Equal(t, 30.0, refs[0].EndTime)
}

// fakeFetcher returns a fixed byte payload regardless of the requested
// range, recording the last URI it was asked for.
type fakeFetcher struct {
	bytes     []byte
	calledURI string
}

func (f *fakeFetcher) Fetch(_ context.Context, uris []string, _ int64, _ int64, _ fetch.RetryParams) (*fetch.Response, error) {
	if len(uris) > 0 {
		f.calledURI = uris[0]
	}
	return &fetch.Response{Bytes: f.bytes}, nil
}

// fakeTimer captures the most recently armed callback so a test can
// invoke a tick synchronously instead of waiting on a real clock.
type fakeTimer struct {
	fn       func()
	armCount int
	stopped  bool
}

func (f *fakeTimer) ArmOnce(_ float64, fn func())  { f.fn = fn; f.armCount++ }
func (f *fakeTimer) ArmEvery(_ float64, fn func()) { f.fn = fn; f.armCount++ }
func (f *fakeTimer) Stop()                         { f.stopped = true }

// buildIndexSidxBox builds a minimal version=1 'sidx' box with a single
// reference: timescale=1, eptp=0, size=500, duration=4s.
func buildIndexSidxBox() []byte {
	payload := make([]byte, 0, 32)
	payload = append(payload, 1, 0, 0, 0) // version=1, flags=0
	refID := make([]byte, 4)
	binary.BigEndian.PutUint32(refID, 1)
	payload = append(payload, refID...)
	ts := make([]byte, 4)
	binary.BigEndian.PutUint32(ts, 1)
	payload = append(payload, ts...)
	payload = append(payload, make([]byte, 8)...) // eptp = 0
	payload = append(payload, make([]byte, 8)...) // first_offset = 0
	payload = append(payload, 0, 0) // reserved
	refCount := make([]byte, 2)
	binary.BigEndian.PutUint16(refCount, 1)
	payload = append(payload, refCount...)
	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, 500)
	payload = append(payload, size...)
	dur := make([]byte, 4)
	binary.BigEndian.PutUint32(dur, 4)
	payload = append(payload, dur...)
	sap := make([]byte, 4)
	binary.BigEndian.PutUint32(sap, 1<<31)
	payload = append(payload, sap...)

	box := make([]byte, 0, 8+len(payload))
	sizeField := make([]byte, 4)
	binary.BigEndian.PutUint32(sizeField, uint32(8+len(payload)))
	box = append(box, sizeField...)
	box = append(box, 's', 'i', 'd', 'x')
	return append(box, payload...)
}

func TestBuildFromTemplateIndexSubMode(t *testing.T) {
	tmpl := &mpd.SegmentTemplateType{
		Index:          "index-$RepresentationID$.sidx",
		Media:          "media-$RepresentationID$.mp4",
		Initialization: "init-$RepresentationID$.mp4",
		Timescale:      u32p(1),
	}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentTemplate: tmpl}}
	fetcher := &fakeFetcher{bytes: buildIndexSidxBox()}
	idx, initRef, err := Build(context.Background(), Params{
		Frame:            f,
		RepresentationID: "v1",
		BaseURL:          "https://example.com/",
		PeriodStart:      0,
		PeriodDuration:   10,
		Fetcher:          fetcher,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/index-v1.sidx", fetcher.calledURI)
	require.NotNil(t, initRef)
	assert.Equal(t, []string{"https://example.com/init-v1.mp4"}, initRef.GetURIs())

	refs := idx.References()
	require.Len(t, refs, 1)
	assert.Equal(t, []string{"https://example.com/media-v1.mp4"}, refs[0].GetURIs())
	assert.Equal(t, 0.0, refs[0].StartTime)
	assert.Equal(t, 4.0, refs[0].EndTime)
}

// index-template takes precedence over a SegmentTimeline or @duration
// on the same SegmentTemplate, per the stated index-template > timeline
// > duration ordering.
func TestBuildFromTemplateIndexPrecedesTimelineAndDuration(t *testing.T) {
	tmpl := &mpd.SegmentTemplateType{
		Index:     "index-$RepresentationID$.sidx",
		Media:     "media-$RepresentationID$.mp4",
		Timescale: u32p(1),
		Duration:  u32p(5),
		SegmentTimeline: &mpd.SegmentTimelineType{
			S: []*mpd.S{{D: 4, R: 2}},
		},
	}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentTemplate: tmpl}}
	fetcher := &fakeFetcher{bytes: buildIndexSidxBox()}
	idx, _, err := Build(context.Background(), Params{
		Frame:            f,
		RepresentationID: "v1",
		BaseURL:          "https://example.com/",
		PeriodDuration:   10,
		Fetcher:          fetcher,
	})
	require.NoError(t, err)
	require.Len(t, idx.References(), 1)
	assert.NotEmpty(t, fetcher.calledURI)
}

func TestBuildLiveFixedDurationAvailabilityWindow(t *testing.T) {
	tmpl := &mpd.SegmentTemplateType{
		Media:       "seg-$Number$.m4s",
		Duration:    u32p(5),
		Timescale:   u32p(1),
		StartNumber: u32p(1),
	}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentTemplate: tmpl}}
	now := 100.0
	tl := model.NewTimeline(func() float64 { return now })
	tl.SegmentAvailabilityDurationS = 30

	idx, _, err := Build(context.Background(), Params{
		Frame:            f,
		RepresentationID: "v1",
		BaseURL:          "https://example.com/",
		PeriodStart:      0,
		PeriodDuration:   math.Inf(1),
		Timeline:         tl,
	})
	require.NoError(t, err)
	refs := idx.References()
	require.Len(t, refs, 6)
	assert.Equal(t, uint32(15), refs[0].Position)
	assert.Equal(t, 70.0, refs[0].StartTime)
	assert.Equal(t, uint32(20), refs[len(refs)-1].Position)
	assert.Equal(t, 100.0, refs[len(refs)-1].EndTime)
}

func TestBuildLiveFixedDurationSelfRefresh(t *testing.T) {
	tmpl := &mpd.SegmentTemplateType{
		Media:       "seg-$Number$.m4s",
		Duration:    u32p(5),
		Timescale:   u32p(1),
		StartNumber: u32p(1),
	}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentTemplate: tmpl}}
	now := 100.0
	tl := model.NewTimeline(func() float64 { return now })
	tl.SegmentAvailabilityDurationS = 30
	ft := &fakeTimer{}

	idx, _, err := Build(context.Background(), Params{
		Frame:            f,
		RepresentationID: "v1",
		BaseURL:          "https://example.com/",
		PeriodStart:      0,
		PeriodDuration:   math.Inf(1),
		Timeline:         tl,
		TimerFactory:     func() timer.Timer { return ft },
	})
	require.NoError(t, err)
	require.Equal(t, 1, ft.armCount)
	require.Len(t, idx.References(), 6)

	now = 130
	ft.fn()

	require.False(t, ft.stopped)
	assert.Equal(t, 2, ft.armCount)
	refs := idx.References()
	require.Len(t, refs, 6)
	assert.Equal(t, uint32(21), refs[0].Position)
	assert.Equal(t, 100.0, refs[0].StartTime)
	assert.Equal(t, uint32(26), refs[len(refs)-1].Position)
	assert.Equal(t, 130.0, refs[len(refs)-1].EndTime)
}

func TestBuildFromBaseRejectsUnsupportedContainer(t *testing.T) {
	base := &mpd.SegmentBaseType{Timescale: u32p(1)}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentBase: base}}
	_, _, err := Build(context.Background(), Params{
		Frame:          f,
		BaseURL:        "https://example.com/whole.ts",
		MimeType:       "video/mp2t",
		PeriodStart:    0,
		PeriodDuration: 10,
	})
	require.Error(t, err)
	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.DashUnsupportedContainer, derr.Code)
}

func TestBuildSegmentListFixedDuration(t *testing.T) {
	media1, media2 := "seg1.m4s", "seg2.m4s"
	list := &mpd.SegmentListType{
		Duration:  u32p(1000),
		Timescale: u32p(1000),
		SegmentURL: []*mpd.SegmentURLType{
			{Media: &media1},
			{Media: &media2},
		},
	}
	f := dashctx.Frame{Representation: &mpd.RepresentationType{SegmentList: list}}
	idx, _, err := Build(context.Background(), Params{
		Frame:   f,
		BaseURL: "https://example.com/",
	})
	require.NoError(t, err)
	refs := idx.References()
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"https://example.com/seg1.m4s"}, refs[0].GetURIs())
	assert.Equal(t, 1.0, refs[1].StartTime)
}
