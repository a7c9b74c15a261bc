// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package probe

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/asticode/go-astits"

	"github.com/videoedge/manifestcore/internal/errs"
)

// mpegTSTimescale is the fixed 90kHz clock MPEG-TS PTS/DTS values are
// expressed against.
const mpegTSTimescale = 90000.0

// TSStartTime scans an MPEG-TS segment for the first PES packet that
// carries a PTS and returns its presentation time in seconds. It
// tolerates 188/192/204-byte packet sizes via go-astits' own sync-byte
// detection.
func TSStartTime(buf []byte) (float64, error) {
	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(buf))
	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, errs.Wrap(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, err, "ts demux failed before a PTS was found")
		}
		if data.PES == nil || data.PES.Header == nil || data.PES.Header.OptionalHeader == nil {
			continue
		}
		pts := data.PES.Header.OptionalHeader.PTS
		if pts == nil {
			continue
		}
		return float64(pts.Base) / mpegTSTimescale, nil
	}
	return 0, errs.New(errs.CRITICAL, errs.MEDIA, errs.BufferReadOutOfBounds, "no PES packet with a PTS found in TS segment")
}
