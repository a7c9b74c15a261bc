// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"

	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/pkg/scte35"
)

// MediaMap describes an EXT-X-MAP init-segment reference.
type MediaMap struct {
	URI       string
	ByteRange string // "length[@offset]", empty when absent
}

// DateRange is one EXT-X-DATERANGE tag, carried through to
// model.TimelineRegionAdded by the owning Parser.
type DateRange struct {
	ID              string
	Class           string
	StartDate       string
	EndDate         string
	DurationS       float64
	PlannedDurationS float64
	SCTE35Cmd       string
	SCTE35Out       string
	SCTE35In        string
}

// pendingSegment accumulates the tags that precede a segment URI line
// (EXTINF, EXT-X-BYTERANGE, EXT-X-DISCONTINUITY) until the URI line
// closes it out, mirroring HLS's "tags apply to the next URI" grammar.
type pendingSegment struct {
	durationS     float64
	title         string
	byteRange     string
	discontinuity bool
	keyURI        string
	keyMethod     string
	programDate   string
}

// MediaPlaylist is the parsed result of a media (variant/rendition)
// playlist.
type MediaPlaylist struct {
	TargetDurationS float64
	MediaSequence   int
	DiscontinuitySequence int
	PlaylistType    string // "VOD", "EVENT", or "" (live)
	Ended           bool
	Map             *MediaMap
	Segments        []parsedSegment
	DateRanges      []DateRange

	// FirstProgramDateTime is the EXT-X-PROGRAM-DATE-TIME attached to
	// the first segment, RFC3339, empty if never present. When it parses,
	// Parser.probeStartTime uses it as the first segment's start time in
	// epoch seconds; PresentationTimeline.PresentationStartS is not set
	// from it.
	FirstProgramDateTime string
}

// parsedSegment is one EXTINF-delimited media segment before it is
// turned into a model.SegmentReference (which needs an already-known
// start time and a resolved init-segment pointer).
type parsedSegment struct {
	durationS             float64
	uri                   string
	byteRange             string
	discontinuitySequence int
	mapURI                string
	mapByteRange          string
	programDate           string
	encrypted             bool
}

// ParseMedia parses a media playlist's raw bytes.
func ParseMedia(data []byte) (*MediaPlaylist, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	mp := &MediaPlaylist{}
	sawHeader := false
	var pend pendingSegment
	discSeq := 0
	var curMap *MediaMap
	var curKeyURI, curKeyMethod string

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
		case "#EXT-X-TARGETDURATION":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				mp.TargetDurationS = f
			}
		case "#EXT-X-MEDIA-SEQUENCE":
			if n, err := strconv.Atoi(value); err == nil {
				mp.MediaSequence = n
			}
		case "#EXT-X-DISCONTINUITY-SEQUENCE":
			if n, err := strconv.Atoi(value); err == nil {
				mp.DiscontinuitySequence = n
				discSeq = n
			}
		case "#EXT-X-PLAYLIST-TYPE":
			mp.PlaylistType = strings.TrimSpace(value)
		case "#EXT-X-ENDLIST":
			mp.Ended = true
		case "#EXT-X-DISCONTINUITY":
			pend.discontinuity = true
			discSeq++
		case "#EXT-X-PROGRAM-DATE-TIME":
			pend.programDate = value
			if mp.FirstProgramDateTime == "" {
				mp.FirstProgramDateTime = value
			}
		case "#EXT-X-KEY":
			attrs := parseAttrs(value)
			curKeyMethod = attrs["METHOD"]
			curKeyURI = attrs["URI"]
		case "#EXT-X-MAP":
			attrs := parseAttrs(value)
			curMap = &MediaMap{URI: attrs["URI"], ByteRange: attrs["BYTERANGE"]}
			mp.Map = curMap
		case "#EXT-X-BYTERANGE":
			pend.byteRange = value
		case "#EXTINF":
			durPart, title, _ := strings.Cut(value, ",")
			d, err := strconv.ParseFloat(strings.TrimSpace(durPart), 64)
			if err != nil {
				return nil, errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.HlsRequiredTagMissing, err, "invalid EXTINF duration %q", durPart)
			}
			pend.durationS = d
			pend.title = title
		case "#EXT-X-DATERANGE":
			mp.DateRanges = append(mp.DateRanges, dateRangeFrom(parseAttrs(value)))
		default:
			if strings.HasPrefix(line, "#") {
				continue
			}
			seg := parsedSegment{
				durationS:             pend.durationS,
				uri:                   line,
				byteRange:             pend.byteRange,
				discontinuitySequence: discSeq,
				programDate:           pend.programDate,
				encrypted:             curKeyMethod != "" && curKeyMethod != "NONE",
			}
			if curMap != nil {
				seg.mapURI = curMap.URI
				seg.mapByteRange = curMap.ByteRange
			}
			if seg.encrypted {
				return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsAES128EncryptionNotSupport,
					"segment encryption (method %q) is not supported, uri=%q, key=%q", curKeyMethod, line, curKeyURI)
			}
			mp.Segments = append(mp.Segments, seg)
			pend = pendingSegment{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.HlsPlaylistHeaderMissing, err, "scanning media playlist")
	}
	if !sawHeader {
		return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsPlaylistHeaderMissing, "missing #EXTM3U header")
	}
	if mp.TargetDurationS == 0 {
		return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsRequiredTagMissing, "missing #EXT-X-TARGETDURATION")
	}
	return mp, nil
}

func dateRangeFrom(attrs map[string]string) DateRange {
	dr := DateRange{
		ID:        attrs["ID"],
		Class:     attrs["CLASS"],
		StartDate: attrs["START-DATE"],
		EndDate:   attrs["END-DATE"],
		SCTE35Cmd: attrs["SCTE35-CMD"],
		SCTE35Out: attrs["SCTE35-OUT"],
		SCTE35In:  attrs["SCTE35-IN"],
	}
	if f, ok := attrFloat(attrs, "DURATION"); ok {
		dr.DurationS = f
	}
	if f, ok := attrFloat(attrs, "PLANNED-DURATION"); ok {
		dr.PlannedDurationS = f
	}
	return dr
}

// dateRangeToEvent lifts one EXT-X-DATERANGE into the unified
// model.TimelineRegionAdded shape DASH <EventStream> children also
// produce; SCTE35Cmd is carried as the raw payload for pkg/scte35.Decode
// to interpret, scheme-identified the same way a DASH SCTE-35
// EventStream is.
func dateRangeToEvent(dr DateRange) model.TimelineRegionAdded {
	ev := model.TimelineRegionAdded{
		ID:        dr.ID,
		Value:     dr.Class,
		StartTime: 0,
		EndTime:   dr.DurationS,
	}
	if dr.SCTE35Cmd != "" {
		ev.SchemeIDURI = scte35.SchemeIDURI
		ev.Payload = hexDecodeSCTE35(dr.SCTE35Cmd)
		if summary, err := scte35.Decode(ev.Payload); err != nil {
			slog.Warn("hls: scte35 decode failed", "event", dr.ID, "err", err)
		} else {
			ev.SCTE35Summary = summary
		}
	}
	return ev
}

// hexDecodeSCTE35 decodes an EXT-X-DATERANGE hexadecimal-sequence
// attribute value ("0x..."/"0X..."), per RFC 8216 §4.3.2.7.
func hexDecodeSCTE35(v string) []byte {
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	decoded, err := hex.DecodeString(v)
	if err != nil {
		return nil
	}
	return decoded
}

// buildSegmentRefs turns the parsed segments of a media playlist into
// model.SegmentReference values, positioned from mp.MediaSequence and
// timed by accumulating durations from startTimeS (the first segment's
// presentation start, usually 0 on first parse or the probed value on
// first load, see hls.go's start-time probe).
func buildSegmentRefs(mp *MediaPlaylist, baseURL string, startTimeS float64, initRef *model.InitSegmentReference) []model.SegmentReference {
	refs := make([]model.SegmentReference, 0, len(mp.Segments))
	t := startTimeS
	var nextByte uint64
	for i, seg := range mp.Segments {
		end := t + seg.durationS
		uri := resolveURI(baseURL, seg.uri)
		r := model.SegmentReference{
			Position:              uint32(mp.MediaSequence + i),
			StartTime:             t,
			EndTime:               end,
			GetURIs:               func() []string { return []string{uri} },
			InitSegment:           initRef,
			DiscontinuitySequence: seg.discontinuitySequence,
			AppendWindowStart:     t,
			AppendWindowEnd:       end,
		}
		if start, length, ok := parseByteRange(seg.byteRange, nextByte); ok {
			r.StartByte = start
			endByte := start + length - 1
			r.EndByte = &endByte
			nextByte = endByte + 1
		}
		refs = append(refs, r)
		t = end
	}
	return refs
}

// parseByteRange parses an EXT-X-BYTERANGE value "length[@offset]". A
// missing offset continues from prevEnd (the previous segment's
// EndByte+1), per RFC 8216 §4.3.2.2.
func parseByteRange(v string, prevEnd uint64) (start, length uint64, ok bool) {
	if v == "" {
		return 0, 0, false
	}
	lenPart, offPart, hasOffset := strings.Cut(v, "@")
	l, err := strconv.ParseUint(strings.TrimSpace(lenPart), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if !hasOffset {
		return prevEnd, l, true
	}
	o, err := strconv.ParseUint(strings.TrimSpace(offPart), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return o, l, true
}

// resolveURI joins a (possibly relative) segment/map URI against the
// playlist's own base URL, mirroring dashparser's getBase +
// string-concatenation simplification of URL resolution.
func resolveURI(baseURL, uri string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	return baseURL + uri
}
