// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/videoedge/manifestcore/internal/config"
	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/internal/metrics"
)

const staticMPD = `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT10S" minBufferTime="PT2S">
  <Period id="p0">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v1" bandwidth="500000" codecs="avc1.64001e">
        <SegmentTemplate media="$RepresentationID$/$Number$.m4s" initialization="$RepresentationID$/init.mp4" duration="5000" timescale="1000"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=500000,CODECS="avc1.64001e"
video/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:5
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:5.0,
seg1.m4s
#EXT-X-ENDLIST
`

// routedFetcher returns one body for a master/media playlist fetch and
// another for everything else, so a single stub can drive a multi-URL
// HLS parse.
type routedFetcher struct {
	bodies map[string]string
}

func (f *routedFetcher) Fetch(_ context.Context, uris []string, _ int64, _ int64, _ fetch.RetryParams) (*fetch.Response, error) {
	uri := uris[0]
	for suffix, body := range f.bodies {
		if len(uri) >= len(suffix) && uri[len(uri)-len(suffix):] == suffix {
			return &fetch.Response{Bytes: []byte(body), FinalURI: uri}, nil
		}
	}
	return &fetch.Response{Bytes: []byte(f.bodies["default"]), FinalURI: uri}, nil
}

func TestParseDispatchesDASHByDefault(t *testing.T) {
	fetcher := &routedFetcher{bodies: map[string]string{"default": staticMPD}}
	cfg := config.Defaults

	manifest, closeFn, err := parse(context.Background(), "https://cdn.example.com/stream.mpd", fetcher, &cfg, metrics.New())
	require.NoError(t, err)
	defer closeFn()

	require.Len(t, manifest.Periods, 1)
	createSegmentIndexes(context.Background(), manifest)
	printManifest(manifest) // exercises the whole print path without panicking
}

func TestParseDispatchesHLSByM3U8Suffix(t *testing.T) {
	fetcher := &routedFetcher{bodies: map[string]string{
		"master.m3u8": masterPlaylist,
		"index.m3u8":  mediaPlaylist,
	}}
	cfg := config.Defaults

	manifest, closeFn, err := parse(context.Background(), "https://cdn.example.com/master.m3u8", fetcher, &cfg, metrics.New())
	require.NoError(t, err)
	defer closeFn()

	require.Len(t, manifest.Periods, 1)
	createSegmentIndexes(context.Background(), manifest)
	printManifest(manifest)
}
