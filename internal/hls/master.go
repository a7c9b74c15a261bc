// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package hls implements a from-scratch M3U8 tag parser (master
// EXT-X-STREAM-INF/EXT-X-MEDIA grouping, media-playlist segment
// building), a first-segment start-time probe, and a live-update loop,
// producing the same model.Manifest tree internal/dashparser builds
// for DASH.
//
// The line-by-line "#EXT-X-FOO:" prefix dispatch is grounded on
// mogiioin-hls-m3u8/m3u8/reader.go's decodeLineOfMasterPlaylist and
// decodeLineOfMediaPlaylist (reference, not imported: this module needs
// its own SegmentReference/SegmentIndex-shaped output, not that
// library's Variant/MediaSegment structs).
package hls

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/videoedge/manifestcore/internal/errs"
)

// StreamInf is one EXT-X-STREAM-INF entry of a master playlist.
type StreamInf struct {
	URI        string
	Bandwidth  int
	Codecs     string
	Width      int
	Height     int
	FrameRate  float64
	AudioGroup string
	VideoGroup string
	SubtitleGroup string
	ClosedCaptionsGroup string
	IsIFrame   bool
}

// MediaRendition is one EXT-X-MEDIA entry (audio, subtitles, or
// closed-captions rendition grouped under GroupID).
type MediaRendition struct {
	Type          string // AUDIO, VIDEO, SUBTITLES, CLOSED-CAPTIONS
	GroupID       string
	Name          string
	Language      string
	URI           string // empty for CLOSED-CAPTIONS (carried in-stream)
	InstreamID    string // CLOSED-CAPTIONS only, e.g. "CC1", "SERVICE1"
	Default       bool
	Autoselect    bool
	Forced        bool
	Channels      string
}

// MasterPlaylist is the parsed result of a master playlist.
type MasterPlaylist struct {
	Streams []*StreamInf
	Media   []*MediaRendition
}

// ParseMaster parses a master playlist's raw bytes. It is lenient about
// unknown tags (ignored) but requires the #EXTM3U header, raising
// HLS_PLAYLIST_HEADER_MISSING otherwise.
func ParseMaster(data []byte) (*MasterPlaylist, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	mp := &MasterPlaylist{}
	sawHeader := false
	var pendingStreamInf map[string]string
	var pendingIFrame bool

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "#EXTM3U" {
			sawHeader = true
			continue
		}
		tag, value := tagValue(line)
		switch tag {
		case "#EXT-X-STREAM-INF":
			pendingStreamInf = parseAttrs(value)
			pendingIFrame = false
		case "#EXT-X-I-FRAME-STREAM-INF":
			attrs := parseAttrs(value)
			mp.Streams = append(mp.Streams, streamInfFrom(attrs, attrs["URI"], true))
		case "#EXT-X-MEDIA":
			mp.Media = append(mp.Media, mediaRenditionFrom(parseAttrs(value)))
		default:
			if strings.HasPrefix(line, "#") {
				continue
			}
			// A bare URI line terminates the preceding EXT-X-STREAM-INF.
			if pendingStreamInf != nil {
				mp.Streams = append(mp.Streams, streamInfFrom(pendingStreamInf, line, pendingIFrame))
				pendingStreamInf = nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.HlsPlaylistHeaderMissing, err, "scanning master playlist")
	}
	if !sawHeader {
		return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsPlaylistHeaderMissing, "missing #EXTM3U header")
	}
	return mp, nil
}

func streamInfFrom(attrs map[string]string, uri string, iframe bool) *StreamInf {
	s := &StreamInf{URI: uri, IsIFrame: iframe}
	if bw, ok := attrInt(attrs, "BANDWIDTH"); ok {
		s.Bandwidth = bw
	}
	s.Codecs = attrs["CODECS"]
	if w, h, ok := resolution(attrs["RESOLUTION"]); ok {
		s.Width, s.Height = w, h
	}
	if fr, ok := attrFloat(attrs, "FRAME-RATE"); ok {
		s.FrameRate = fr
	}
	s.AudioGroup = attrs["AUDIO"]
	s.VideoGroup = attrs["VIDEO"]
	s.SubtitleGroup = attrs["SUBTITLES"]
	s.ClosedCaptionsGroup = attrs["CLOSED-CAPTIONS"]
	return s
}

func mediaRenditionFrom(attrs map[string]string) *MediaRendition {
	return &MediaRendition{
		Type:       attrs["TYPE"],
		GroupID:    attrs["GROUP-ID"],
		Name:       attrs["NAME"],
		Language:   attrs["LANGUAGE"],
		URI:        attrs["URI"],
		InstreamID: attrs["INSTREAM-ID"],
		Default:    attrBool(attrs, "DEFAULT"),
		Autoselect: attrBool(attrs, "AUTOSELECT"),
		Forced:     attrBool(attrs, "FORCED"),
		Channels:   attrs["CHANNELS"],
	}
}

// renditionsInGroup returns every MediaRendition of the given type
// belonging to groupID, in playlist order.
func renditionsInGroup(media []*MediaRendition, typ, groupID string) []*MediaRendition {
	if groupID == "" {
		return nil
	}
	var out []*MediaRendition
	for _, m := range media {
		if m.Type == typ && m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out
}
