// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package probe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSidxBox builds a minimal version=1 'sidx' box with the three
// references from spec.md §8 scenario 6: timescale=90000,
// eptp=180000(=2s), sizes 1000/1200/900 at first_offset=0.
func buildSidxBox() []byte {
	payload := make([]byte, 0, 64)
	payload = append(payload, 1, 0, 0, 0) // version=1, flags=0
	refID := make([]byte, 4)
	binary.BigEndian.PutUint32(refID, 7)
	payload = append(payload, refID...)
	ts := make([]byte, 4)
	binary.BigEndian.PutUint32(ts, 90000)
	payload = append(payload, ts...)
	eptp := make([]byte, 8)
	binary.BigEndian.PutUint64(eptp, 180000)
	payload = append(payload, eptp...)
	firstOffset := make([]byte, 8)
	binary.BigEndian.PutUint64(firstOffset, 0)
	payload = append(payload, firstOffset...)
	payload = append(payload, 0, 0) // reserved
	refCount := make([]byte, 2)
	binary.BigEndian.PutUint16(refCount, 3)
	payload = append(payload, refCount...)

	durations := []uint32{30000, 27000, 27000} // 0.333s, 0.3s, 0.3s at 90kHz (arbitrary)
	sizes := []uint32{1000, 1200, 900}
	for i := range sizes {
		w := make([]byte, 4)
		binary.BigEndian.PutUint32(w, sizes[i]) // top bit 0 = media reference
		payload = append(payload, w...)
		d := make([]byte, 4)
		binary.BigEndian.PutUint32(d, durations[i])
		payload = append(payload, d...)
		sap := make([]byte, 4)
		binary.BigEndian.PutUint32(sap, 1<<31) // starts_with_SAP=1, type 0, delta 0
		payload = append(payload, sap...)
	}

	box := make([]byte, 0, 8+len(payload))
	sizeField := make([]byte, 4)
	binary.BigEndian.PutUint32(sizeField, uint32(8+len(payload)))
	box = append(box, sizeField...)
	box = append(box, 's', 'i', 'd', 'x')
	box = append(box, payload...)
	return box
}

func TestWalkBoxesFindsSidx(t *testing.T) {
	buf := buildSidxBox()
	b, ok := findBox(buf, "sidx")
	require.True(t, ok)
	assert.Equal(t, 0, b.Start)
	assert.Equal(t, len(buf), b.Size)
}

func TestParseSidxScenario6(t *testing.T) {
	buf := buildSidxBox()
	payload, next, err := FindSidxBox(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(buf)), next)

	sidx, err := ParseSidx(payload)
	require.NoError(t, err)
	assert.EqualValues(t, 90000, sidx.Timescale)
	assert.EqualValues(t, 180000, sidx.EarliestPresentationTime)
	require.Len(t, sidx.Refs, 3)
	assert.EqualValues(t, 1000, sidx.Refs[0].ReferencedSize)

	refs := sidx.References(next, 0, func() []string { return []string{"seg.mp4"} }, nil)
	require.Len(t, refs, 3)
	assert.InDelta(t, 2.0, refs[0].StartTime, 1e-9) // 180000/90000 = 2s
	start, end, ok := refs[0].ByteRange()
	assert.True(t, ok)
	assert.Equal(t, next, start)
	assert.Equal(t, next+999, end)

	start1, _, _ := refs[1].ByteRange()
	assert.Equal(t, end+1, start1)
}

func TestParseSidxRejectsHierarchical(t *testing.T) {
	buf := buildSidxBox()
	// flip the top bit of the first reference's size/type word to mark
	// it a hierarchical (type 1) reference.
	payload, _, err := FindSidxBox(buf)
	require.NoError(t, err)
	refsStart := 4 + 4 + 4 + 8 + 8 + 2 + 2 // version/flags + ref_id + timescale + eptp + first_offset + reserved + ref_count
	payload[refsStart] |= 0x80

	_, err = ParseSidx(payload)
	require.Error(t, err)
}

func TestParseSidxRejectsZeroTimescale(t *testing.T) {
	buf := buildSidxBox()
	payload, _, err := FindSidxBox(buf)
	require.NoError(t, err)
	for i := 8; i < 12; i++ {
		payload[i] = 0
	}
	_, err = ParseSidx(payload)
	require.Error(t, err)
}

func TestIsRawAudioContainer(t *testing.T) {
	assert.True(t, IsRawAudioContainer("https://example.com/audio.aac"))
	assert.True(t, IsRawAudioContainer("audio.ec3?token=abc"))
	assert.False(t, IsRawAudioContainer("segment.mp4"))
}

func TestWebmCuesStartTime(t *testing.T) {
	// Segment > Info > TimecodeScale(1000000) and Cues > CuePoint > CueTime(2)
	cueTime := ebmlEncode(ebmlIDCueTime, []byte{2})
	cuePoint := ebmlEncode(ebmlIDCuePoint, cueTime)
	cues := ebmlEncode(ebmlIDCues, cuePoint)
	tcs := ebmlEncode(ebmlIDTimecodeScale, []byte{0x0F, 0x42, 0x40}) // 1_000_000
	info := ebmlEncode(ebmlIDInfo, tcs)
	seg := ebmlEncode(ebmlIDSegment, append(append([]byte{}, info...), cues...))

	startS, err := WebmCuesStartTime(seg)
	require.NoError(t, err)
	assert.InDelta(t, 0.002, startS, 1e-9) // 2 ticks x 1_000_000 ns = 2 ms
}

// ebmlEncode is a tiny test-only EBML element encoder. It writes the ID
// using the minimum number of bytes that round-trips through readVint
// (the ID constants are already valid EBML vints, so this just drops
// leading zero bytes) and a 1-byte element size.
func ebmlEncode(id uint64, payload []byte) []byte {
	var idBytes []byte
	for shift := 24; shift >= 0; shift -= 8 {
		b := byte(id >> uint(shift))
		if len(idBytes) == 0 && b == 0 {
			continue
		}
		idBytes = append(idBytes, b)
	}
	if len(idBytes) == 0 {
		idBytes = []byte{byte(id)}
	}
	out := append([]byte{}, idBytes...)
	out = append(out, byte(0x80|len(payload)))
	return append(out, payload...)
}
