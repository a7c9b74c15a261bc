// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package probe

import (
	"github.com/videoedge/manifestcore/internal/errs"
)

// Matroska/WebM element IDs relevant to start-time recovery. There is
// no third-party EBML reader in the dependency stack (the only WebM
// code available is a pure-Go EBML *encoder*, see DESIGN.md), so this
// is a minimal hand-rolled reader of exactly the elements needed:
// TimecodeScale and the first CueTime.
const (
	ebmlIDSegment       = 0x18538067
	ebmlIDInfo          = 0x1549A966
	ebmlIDTimecodeScale = 0x2AD7B1
	ebmlIDCues          = 0x1C53BB6B
	ebmlIDCuePoint      = 0xBB
	ebmlIDCueTime       = 0xB3

	defaultTimecodeScale = 1_000_000 // ns per Matroska default
)

// readVint reads an EBML variable-length integer (used for both
// element IDs, where the marker bit is kept, and element sizes, where
// it's masked off). keepMarker controls which.
func readVint(buf []byte, pos int, keepMarker bool) (value uint64, width int, ok bool) {
	if pos >= len(buf) {
		return 0, 0, false
	}
	first := buf[pos]
	width = 1
	mask := byte(0x80)
	for mask != 0 && first&mask == 0 {
		mask >>= 1
		width++
	}
	if mask == 0 || pos+width > len(buf) {
		return 0, 0, false
	}
	var v uint64
	if keepMarker {
		v = uint64(first)
	} else {
		v = uint64(first &^ mask)
	}
	for i := 1; i < width; i++ {
		v = v<<8 | uint64(buf[pos+i])
	}
	return v, width, true
}

type ebmlElem struct {
	ID         uint64
	Start      int // start of payload
	Size       int
	HeaderSize int
}

func readEbmlElem(buf []byte, pos int) (ebmlElem, bool) {
	id, idWidth, ok := readVint(buf, pos, true)
	if !ok {
		return ebmlElem{}, false
	}
	size, sizeWidth, ok := readVint(buf, pos+idWidth, false)
	if !ok {
		return ebmlElem{}, false
	}
	start := pos + idWidth + sizeWidth
	return ebmlElem{ID: id, Start: start, Size: int(size), HeaderSize: idWidth + sizeWidth}, true
}

// findEbmlChild walks sibling elements within [start,end) looking for id.
func findEbmlChild(buf []byte, start, end int, id uint64) (ebmlElem, bool) {
	pos := start
	for pos < end {
		e, ok := readEbmlElem(buf, pos)
		if !ok {
			return ebmlElem{}, false
		}
		if e.ID == id {
			return e, true
		}
		pos = e.Start + e.Size
	}
	return ebmlElem{}, false
}

func ebmlUintAt(buf []byte, start, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(buf[start+i])
	}
	return v
}

// WebmCuesStartTime parses a WebM segment's Cues element for the first
// CueTime, scaled by the Segment Info's TimecodeScale. Parse failure is
// fatal whenever an init segment is present (the caller enforces that
// distinction).
func WebmCuesStartTime(buf []byte) (float64, error) {
	seg, ok := findEbmlChild(buf, 0, len(buf), ebmlIDSegment)
	if !ok {
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "no Segment element in WebM buffer")
	}
	segEnd := seg.Start + seg.Size
	if seg.Size == 0 {
		segEnd = len(buf)
	}

	timecodeScale := uint64(defaultTimecodeScale)
	if info, ok := findEbmlChild(buf, seg.Start, segEnd, ebmlIDInfo); ok {
		infoEnd := info.Start + info.Size
		if tcs, ok := findEbmlChild(buf, info.Start, infoEnd, ebmlIDTimecodeScale); ok {
			timecodeScale = ebmlUintAt(buf, tcs.Start, tcs.Size)
		}
	}

	cues, ok := findEbmlChild(buf, seg.Start, segEnd, ebmlIDCues)
	if !ok {
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "no Cues element in WebM segment")
	}
	cuesEnd := cues.Start + cues.Size
	cuePoint, ok := findEbmlChild(buf, cues.Start, cuesEnd, ebmlIDCuePoint)
	if !ok {
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "no CuePoint in Cues element")
	}
	cueTime, ok := findEbmlChild(buf, cuePoint.Start, cuePoint.Start+cuePoint.Size, ebmlIDCueTime)
	if !ok {
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "no CueTime in first CuePoint")
	}
	rawTime := ebmlUintAt(buf, cueTime.Start, cueTime.Size)
	return float64(rawTime*timecodeScale) / 1e9, nil
}
