// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package probe

import (
	"github.com/Eyevinn/mp4ff/bits"

	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/model"
)

// SidxRef is one parsed 'sidx' reference entry.
type SidxRef struct {
	ReferenceType      uint8
	ReferencedSize     uint32
	SubsegmentDuration uint32
	StartsWithSAP      bool
	SAPType            uint8
	SAPDeltaTime       uint32
}

// Sidx is the decoded result of a 'sidx' box.
type Sidx struct {
	Version                  uint8
	ReferenceID              uint32
	Timescale                uint32
	EarliestPresentationTime uint64
	FirstOffset              uint64
	Refs                     []SidxRef
}

// ParseSidx decodes a 'sidx' box's payload bytes (immediately
// following the 8/16-byte box header) using mp4ff's bit-reader
// primitives, per the ISO BMFF 'sidx' layout.
func ParseSidx(payload []byte) (*Sidx, error) {
	r := bits.NewFixedSliceReader(payload)
	version := r.ReadUint8()
	_ = r.ReadUint24() // flags, unused
	sidx := &Sidx{Version: version}
	sidx.ReferenceID = r.ReadUint32()
	sidx.Timescale = r.ReadUint32()
	if sidx.Timescale == 0 {
		return nil, errs.New(errs.CRITICAL, errs.MEDIA, errs.Mp4SidxInvalidTimescale, "sidx timescale is 0")
	}
	if version == 0 {
		sidx.EarliestPresentationTime = uint64(r.ReadUint32())
		sidx.FirstOffset = uint64(r.ReadUint32())
	} else {
		sidx.EarliestPresentationTime = r.ReadUint64()
		sidx.FirstOffset = r.ReadUint64()
	}
	_ = r.ReadUint16() // reserved
	refCount := r.ReadUint16()
	for i := uint16(0); i < refCount; i++ {
		v := r.ReadUint32()
		refType := uint8(v >> 31)
		if refType == 1 {
			return nil, errs.New(errs.CRITICAL, errs.MEDIA, errs.Mp4SidxTypeNotSupported, "hierarchical sidx (type 1) not supported")
		}
		referencedSize := v & 0x7fffffff
		subDur := r.ReadUint32()
		sapWord := r.ReadUint32()
		sidx.Refs = append(sidx.Refs, SidxRef{
			ReferenceType:      refType,
			ReferencedSize:     referencedSize,
			SubsegmentDuration: subDur,
			StartsWithSAP:      sapWord>>31 == 1,
			SAPType:            uint8((sapWord >> 28) & 0x7),
			SAPDeltaTime:       sapWord & 0x0fffffff,
		})
	}
	if err := r.AccError(); err != nil {
		return nil, errs.Wrap(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, err, "truncated sidx box")
	}
	return sidx, nil
}

// References converts a decoded Sidx into SegmentReferences: byte
// ranges [start, start+size-1], times pes/timescale + timestampOffset.
// firstByteOffset is the absolute byte position immediately following
// the sidx box (where the first referenced subsegment begins);
// timestampOffset is added to every computed time (e.g. period start).
func (s *Sidx) References(firstByteOffset uint64, timestampOffset float64, getURIs func() []string, initRef *model.InitSegmentReference) []model.SegmentReference {
	refs := make([]model.SegmentReference, 0, len(s.Refs))
	bytePos := firstByteOffset + s.FirstOffset
	pts := s.EarliestPresentationTime
	for i, r := range s.Refs {
		start := bytePos
		end := bytePos + uint64(r.ReferencedSize) - 1
		startS := float64(pts)/float64(s.Timescale) + timestampOffset
		endS := float64(pts+uint64(r.SubsegmentDuration))/float64(s.Timescale) + timestampOffset
		refs = append(refs, model.SegmentReference{
			Position:    uint32(i),
			StartTime:   startS,
			EndTime:     endS,
			GetURIs:     getURIs,
			StartByte:   start,
			EndByte:     &end,
			InitSegment: initRef,
		})
		bytePos = end + 1
		pts += uint64(r.SubsegmentDuration)
	}
	return refs
}

// FindSidxBox locates a top-level 'sidx' box within buf and returns its
// payload plus the absolute byte offset immediately following it (the
// position of the first referenced subsegment).
func FindSidxBox(buf []byte) (payload []byte, nextOffset uint64, err error) {
	b, ok := findBox(buf, "sidx")
	if !ok {
		return nil, 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.Mp4SidxWrongBoxType, "no sidx box found")
	}
	payload = b.Payload(buf)
	nextOffset = uint64(b.Start + b.Size)
	return payload, nextOffset, nil
}
