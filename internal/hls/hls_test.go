// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/internal/segmentindex"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio.m3u8"
#EXT-X-MEDIA:TYPE=CLOSED-CAPTIONS,GROUP-ID="cc",NAME="English",LANGUAGE="en",INSTREAM-ID="CC1"
#EXT-X-STREAM-INF:BANDWIDTH=1128000,CODECS="avc1.64001e,mp4a.40.2",RESOLUTION=640x360,FRAME-RATE=25,AUDIO="aud",CLOSED-CAPTIONS="cc"
video.m3u8
`

const videoMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:5
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:5.0,
seg0.ts
#EXTINF:5.0,
seg1.ts
#EXTINF:5.0,
seg2.ts
#EXT-X-ENDLIST
`

const audioMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:5
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:5.0,
aseg0.ts
#EXTINF:5.0,
aseg1.ts
#EXTINF:5.0,
aseg2.ts
#EXT-X-ENDLIST
`

const liveMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:5
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:5.0,
seg10.ts
#EXTINF:5.0,
seg11.ts
`

type mapFetcher struct {
	byURI map[string]string
}

func (f *mapFetcher) Fetch(_ context.Context, uris []string, _ int64, _ int64, _ fetch.RetryParams) (*fetch.Response, error) {
	uri := uris[0]
	body, ok := f.byURI[uri]
	if !ok {
		return nil, assert.AnError
	}
	return &fetch.Response{Bytes: []byte(body), FinalURI: uri}, nil
}

func TestParseVODMasterBuildsVariantsAndClosedCaptions(t *testing.T) {
	f := &mapFetcher{byURI: map[string]string{
		"https://cdn.example.com/live/master.m3u8": masterPlaylist,
		"https://cdn.example.com/live/video.m3u8":  videoMediaPlaylist,
		"https://cdn.example.com/live/audio.m3u8":  audioMediaPlaylist,
	}}
	p := New(Options{Fetcher: f})
	manifest, err := p.Parse(context.Background(), "https://cdn.example.com/live/master.m3u8")
	require.NoError(t, err)
	defer manifest.Close()

	assert.False(t, manifest.PresentationTimeline.IsLive())
	require.Len(t, manifest.Periods, 1)
	period := manifest.Periods[0]
	require.Len(t, period.Variants, 1)

	variant := period.Variants[0]
	require.NotNil(t, variant.Video)
	require.NotNil(t, variant.Audio)
	assert.Equal(t, "avc1.64001e", variant.Video.Codecs)
	assert.Equal(t, "mp4a.40.2", variant.Audio.Codecs)
	assert.Equal(t, "en", variant.Audio.Language)
	assert.Equal(t, map[string]string{"CC1": "en"}, variant.Video.ClosedCaptions)

	idx, ok := variant.Video.SegmentIndex.(*segmentindex.SegmentIndex)
	require.True(t, ok)
	assert.Equal(t, 3, idx.Len())
}

func TestParseLiveMediaPlaylistArmsUpdateLoop(t *testing.T) {
	f := &mapFetcher{byURI: map[string]string{
		"https://cdn.example.com/live/master.m3u8": `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=500000
video.m3u8
`,
		"https://cdn.example.com/live/video.m3u8": liveMediaPlaylist,
	}}
	p := New(Options{Fetcher: f})
	manifest, err := p.Parse(context.Background(), "https://cdn.example.com/live/master.m3u8")
	require.NoError(t, err)
	defer manifest.Close()

	assert.True(t, manifest.PresentationTimeline.IsLive())
	require.Len(t, manifest.Periods[0].Variants, 1)
	idx, ok := manifest.Periods[0].Variants[0].Video.SegmentIndex.(*segmentindex.SegmentIndex)
	require.True(t, ok)
	assert.Equal(t, 2, idx.Len())
}

func TestParseRejectsMasterWithNoEXTM3U(t *testing.T) {
	f := &mapFetcher{byURI: map[string]string{
		"https://cdn.example.com/bad.m3u8": "not a playlist\n",
	}}
	p := New(Options{Fetcher: f})
	_, err := p.Parse(context.Background(), "https://cdn.example.com/bad.m3u8")
	require.Error(t, err)
}
