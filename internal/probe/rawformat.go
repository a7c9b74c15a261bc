// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package probe

import "strings"

// rawAudioExtensions are the bare elementary-stream audio containers
// HLS playlists sometimes reference directly (no ISO BMFF/TS wrapper).
// The HLS start-time probe does not probe these: it returns a start time
// of 0 for them, raises no HLS_INTERNAL_SKIP_STREAM, and the stream is
// kept.
var rawAudioExtensions = map[string]bool{
	".aac": true,
	".ac3": true,
	".ec3": true,
	".mp3": true,
}

// IsRawAudioContainer reports whether uri names one of the raw
// elementary-stream audio formats that have no usable container-level
// start time.
func IsRawAudioContainer(uri string) bool {
	u := uri
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	for ext := range rawAudioExtensions {
		if strings.HasSuffix(strings.ToLower(u), ext) {
			return true
		}
	}
	return false
}
