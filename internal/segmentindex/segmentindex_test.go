// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segmentindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoedge/manifestcore/internal/model"
)

func ref(pos uint32, start, end float64) model.SegmentReference {
	return model.SegmentReference{Position: pos, StartTime: start, EndTime: end}
}

func assertContiguous(t *testing.T, s *SegmentIndex) {
	t.Helper()
	refs := s.References()
	for i := 0; i+1 < len(refs); i++ {
		assert.Equal(t, refs[i].Position+1, refs[i+1].Position, "positions must be contiguous")
		if refs[i].StartTime == refs[i+1].StartTime {
			assert.LessOrEqual(t, refs[i].EndTime, refs[i+1].EndTime)
		} else {
			assert.Less(t, refs[i].StartTime, refs[i+1].StartTime)
		}
	}
}

func TestFindGet(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(5, 0, 5), ref(6, 5, 10), ref(7, 10, 15)})
	pos, ok := s.Find(7.5)
	require.True(t, ok)
	assert.EqualValues(t, 6, pos)

	pos, ok = s.Find(-1)
	require.True(t, ok)
	assert.EqualValues(t, 5, pos)

	r, ok := s.Get(6)
	require.True(t, ok)
	assert.Equal(t, 5.0, r.StartTime)

	_, ok = s.Get(100)
	assert.False(t, ok)
}

func TestOffsetCommutesWithFind(t *testing.T) {
	orig := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10)})
	offset := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10)})
	delta := 100.0
	offset.Offset(delta)

	for _, tm := range []float64{0, 3, 5, 9} {
		want, wantOK := orig.Find(tm)
		got, gotOK := offset.Find(tm + delta)
		assert.Equal(t, wantOK, gotOK)
		assert.Equal(t, want, got)
	}
}

func TestEvictIdempotent(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10), ref(3, 10, 15)})
	s.Evict(7)
	snap := append([]model.SegmentReference(nil), s.References()...)
	s.Evict(7)
	assert.True(t, cmp.Equal(snap, s.References()))
	assertContiguous(t, s)
}

func TestEvictDropsExpired(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10), ref(3, 10, 15)})
	s.Evict(7)
	require.Equal(t, 2, s.Len())
	assert.EqualValues(t, 2, s.References()[0].Position)
}

func TestFitClampsAndDrops(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10), ref(3, 10, 15), ref(4, 15, 20)})
	s.Fit(0, 12)
	refs := s.References()
	require.Len(t, refs, 3)
	assert.Equal(t, 12.0, refs[2].EndTime)
}

func TestMergeScenario4HLSLiveUpdate(t *testing.T) {
	// Scenario 4: MEDIA-SEQUENCE=10 with 4 segments; 6s target duration;
	// next fetch returns MEDIA-SEQUENCE=12 with 4 segments overlapping
	// the tail by 2 => merged index has positions 10..15, no dupes.
	first := FromRefs([]model.SegmentReference{
		ref(10, 0, 6), ref(11, 6, 12), ref(12, 12, 18), ref(13, 18, 24),
	})
	second := []model.SegmentReference{
		ref(0, 12, 18), ref(0, 18, 24), ref(0, 24, 30), ref(0, 30, 36),
	}
	require.NoError(t, first.Merge(second))
	refs := first.References()
	require.Len(t, refs, 6)
	wantPositions := []uint32{10, 11, 12, 13, 14, 15}
	for i, r := range refs {
		assert.Equal(t, wantPositions[i], r.Position)
	}
	assertContiguous(t, first)
}

func TestMergePrependAfterEviction(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(5, 10, 15), ref(6, 15, 20)})
	require.NoError(t, s.Merge([]model.SegmentReference{ref(0, 0, 5), ref(0, 5, 10)}))
	refs := s.References()
	require.Len(t, refs, 4)
	assertContiguous(t, s)
	assert.Equal(t, uint32(3), refs[0].Position)
}

func TestMergeRefusesInterleaving(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10), ref(3, 10, 15)})
	err := s.Merge([]model.SegmentReference{ref(0, 7, 9)})
	assert.Error(t, err)
}

func TestMergeTailReplacement(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10)})
	// New data for the tail segment with a different (larger) end time —
	// only legal as the last reference of both lists.
	err := s.Merge([]model.SegmentReference{ref(0, 5, 11)})
	require.NoError(t, err)
	refs := s.References()
	require.Len(t, refs, 2)
	assert.Equal(t, 11.0, refs[1].EndTime)
	assert.EqualValues(t, 2, refs[1].Position)
}

func TestMergePreservesTailMonotonicityProperty(t *testing.T) {
	s := FromRefs([]model.SegmentReference{ref(1, 0, 5), ref(2, 5, 10), ref(3, 10, 15)})
	require.NoError(t, s.Merge([]model.SegmentReference{ref(0, 15, 20), ref(0, 20, 25)}))
	assertContiguous(t, s)
	require.Equal(t, 5, s.Len())
}
