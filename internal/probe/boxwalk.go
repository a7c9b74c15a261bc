// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package probe implements the binary probes a segment start-time
// recovery needs: SIDX parsing, MP4 mdhd/tfdt start-time recovery,
// MPEG-TS PES PTS extraction, WebM Cues, and raw-format detection.
package probe

import (
	"encoding/binary"

	"github.com/videoedge/manifestcore/internal/errs"
)

// box is one top-level ISO BMFF box header located within a buffer.
type box struct {
	Type       string
	Start      int // offset of the 4-byte size field
	HeaderSize int // 8 (or 16 for a 64-bit "largesize")
	Size       int // total box size including header; 0 means "to EOF"
}

// Payload returns the box's content (excluding its header).
func (b box) Payload(buf []byte) []byte {
	end := b.Start + b.Size
	if b.Size == 0 || end > len(buf) {
		end = len(buf)
	}
	return buf[b.Start+b.HeaderSize : end]
}

// walkBoxes walks top-level ISO BMFF boxes in buf, the same
// size-then-fourcc header walk pkg/chunkparser uses for fragmented MP4
// detection, generalized here to collect every sibling box instead of
// stopping at the first moov/mdat.
func walkBoxes(buf []byte) ([]box, error) {
	var boxes []box
	pos := 0
	for pos+8 <= len(buf) {
		size32 := binary.BigEndian.Uint32(buf[pos : pos+4])
		typ := string(buf[pos+4 : pos+8])
		headerSize := 8
		size := int(size32)
		if size32 == 1 {
			if pos+16 > len(buf) {
				return boxes, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "truncated largesize box header")
			}
			size = int(binary.BigEndian.Uint64(buf[pos+8 : pos+16]))
			headerSize = 16
		} else if size32 == 0 {
			size = 0 // extends to EOF
		}
		boxes = append(boxes, box{Type: typ, Start: pos, HeaderSize: headerSize, Size: size})
		if size == 0 {
			break
		}
		pos += size
	}
	return boxes, nil
}

// findBox returns the first top-level box of the given type.
func findBox(buf []byte, typ string) (box, bool) {
	boxes, err := walkBoxes(buf)
	if err != nil {
		return box{}, false
	}
	for _, b := range boxes {
		if b.Type == typ {
			return b, true
		}
	}
	return box{}, false
}

// findBoxRecursive descends into container boxes (whose children are
// themselves boxes, e.g. moov/trak/mdia, moof/traf) looking for a box
// of the given type along the given path of container types.
func findBoxRecursive(buf []byte, path ...string) (box, bool) {
	cur := buf
	baseOffset := 0
	var last box
	for i, typ := range path {
		b, ok := findBox(cur, typ)
		if !ok {
			return box{}, false
		}
		last = box{Type: b.Type, Start: baseOffset + b.Start, HeaderSize: b.HeaderSize, Size: b.Size}
		if i == len(path)-1 {
			return last, true
		}
		cur = b.Payload(cur)
		baseOffset += b.Start + b.HeaderSize
	}
	return last, false
}
