// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package probe

import (
	"github.com/Eyevinn/mp4ff/bits"

	"github.com/videoedge/manifestcore/internal/errs"
)

// mdhdTimescale decodes the timescale field of a 'mdhd' box (full box
// version 0 or 1 changes the width of creation/modification/duration,
// timescale is always a 32-bit field right after them).
func mdhdTimescale(payload []byte) (uint32, error) {
	r := bits.NewFixedSliceReader(payload)
	version := r.ReadUint8()
	_ = r.ReadUint24() // flags
	if version == 1 {
		_ = r.ReadUint64() // creation_time
		_ = r.ReadUint64() // modification_time
	} else {
		_ = r.ReadUint32()
		_ = r.ReadUint32()
	}
	timescale := r.ReadUint32()
	if err := r.AccError(); err != nil {
		return 0, errs.Wrap(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, err, "truncated mdhd box")
	}
	return timescale, nil
}

// tfdtBaseMediaDecodeTime decodes the baseMediaDecodeTime field of a
// 'tfdt' box.
func tfdtBaseMediaDecodeTime(payload []byte) (uint64, error) {
	r := bits.NewFixedSliceReader(payload)
	version := r.ReadUint8()
	_ = r.ReadUint24() // flags
	var bmdt uint64
	if version == 1 {
		bmdt = r.ReadUint64()
	} else {
		bmdt = uint64(r.ReadUint32())
	}
	if err := r.AccError(); err != nil {
		return 0, errs.Wrap(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, err, "truncated tfdt box")
	}
	return bmdt, nil
}

// StartTime recovers a fragmented MP4 segment's presentation start time
// in seconds: the timescale is read from the initialization segment's
// moov/trak/mdia/mdhd, the baseMediaDecodeTime from the media
// segment's moof/traf/tfdt.
func StartTime(initBuf, mediaBuf []byte) (float64, error) {
	mdhdBox, ok := findBoxRecursive(initBuf, "moov", "trak", "mdia", "mdhd")
	if !ok {
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "no moov/trak/mdia/mdhd box in init segment")
	}
	timescale, err := mdhdTimescale(mdhdBox.Payload(initBuf))
	if err != nil {
		return 0, err
	}
	if timescale == 0 {
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.Mp4SidxInvalidTimescale, "mdhd timescale is 0")
	}

	tfdtBox, ok := findBoxRecursive(mediaBuf, "moof", "traf", "tfdt")
	if !ok {
		return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "no moof/traf/tfdt box in media segment")
	}
	bmdt, err := tfdtBaseMediaDecodeTime(tfdtBox.Payload(mediaBuf))
	if err != nil {
		return 0, err
	}
	return float64(bmdt) / float64(timescale), nil
}
