// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package xlink

import (
	"context"
	"fmt"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/fetch"
)

// chainFetcher serves a chain of nested xlink fragments, each
// containing one more xlink:href'd <Period>, so a test can exercise
// arbitrarily deep recursion (spec.md §8 scenario 5).
type chainFetcher struct {
	depth int
}

func (f *chainFetcher) Fetch(_ context.Context, uris []string, _ int64, _ int64, _ fetch.RetryParams) (*fetch.Response, error) {
	uri := uris[0]
	if uri == "leaf" {
		return &fetch.Response{Bytes: []byte(`<Period id="leaf"/>`)}, nil
	}
	var n int
	fmt.Sscanf(uri, "level-%d", &n)
	next := fmt.Sprintf("level-%d", n+1)
	if n+1 >= f.depth {
		next = "leaf"
	}
	xml := fmt.Sprintf(`<Period id="p%d" xlink:href="%s" xmlns:xlink="http://www.w3.org/1999/xlink"/>`, n, next)
	return &fetch.Response{Bytes: []byte(xml)}, nil
}

func newTree(href string) *etree.Element {
	doc := etree.NewDocument()
	_ = doc.ReadFromString(fmt.Sprintf(
		`<MPD xmlns:xlink="http://www.w3.org/1999/xlink"><Period xlink:href="%s"/></MPD>`, href))
	return doc.Root()
}

func TestResolveToZeroRemovesElement(t *testing.T) {
	root := newTree(ResolveToZeroHref)
	r := &Resolver{Fetcher: &chainFetcher{}}
	err := r.Resolve(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, root.ChildElements())
}

func TestResolveShallowChainSucceeds(t *testing.T) {
	root := newTree("level-0")
	r := &Resolver{Fetcher: &chainFetcher{depth: 3}}
	err := r.Resolve(context.Background(), root)
	require.NoError(t, err)
	periods := root.ChildElements()
	require.Len(t, periods, 1)
	assert.Empty(t, periods[0].SelectAttrValue("xlink:href", ""))
}

func TestResolveDeepChainHitsDepthLimit(t *testing.T) {
	root := newTree("level-0")
	r := &Resolver{Fetcher: &chainFetcher{depth: MaxDepth + 3}}
	err := r.Resolve(context.Background(), root)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.DashXlinkDepthLimit, e.Code)
}

func TestResolveDeepChainFailGracefullyRemoves(t *testing.T) {
	root := newTree("level-0")
	r := &Resolver{Fetcher: &chainFetcher{depth: MaxDepth + 3}, FailGracefully: true}
	err := r.Resolve(context.Background(), root)
	require.NoError(t, err)
}

func TestResolveSkipsSegmentTimeline(t *testing.T) {
	doc := etree.NewDocument()
	_ = doc.ReadFromString(`<MPD xmlns:xlink="http://www.w3.org/1999/xlink">
		<SegmentTimeline xlink:href="should-not-fetch"/>
	</MPD>`)
	root := doc.Root()
	r := &Resolver{Fetcher: &chainFetcher{}}
	err := r.Resolve(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "should-not-fetch", root.ChildElements()[0].SelectAttrValue("xlink:href", ""))
}
