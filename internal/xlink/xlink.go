// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package xlink implements recursive xlink:href dereferencing of MPD
// elements using github.com/beevik/etree, the same generic-XML-tree
// library pkg/patch uses for its own MPD tree surgery.
package xlink

import (
	"context"
	"log/slog"

	"github.com/beevik/etree"

	"github.com/videoedge/manifestcore/internal/errs"
	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/internal/metrics"
)

// MaxDepth is DASH_XLINK_DEPTH_LIMIT's trigger point: a chain of more
// than this many nested xlink resolutions fails the parse.
const MaxDepth = 5

// ResolveToZeroHref is the magic href (ISO/IEC 23009-1 Annex C) that
// means "remove this element from the manifest" rather than "fetch a
// remote fragment for it".
const ResolveToZeroHref = "urn:mpeg:dash:resolve-to-zero:2013"

const (
	xlinkHrefAttr    = "xlink:href"
	xlinkActuateAttr = "xlink:actuate"
)

// Resolver walks an MPD element tree resolving xlink:href elements.
type Resolver struct {
	Fetcher fetch.Fetcher
	// FailGracefully, when true, demotes an unresolvable xlink element
	// (depth limit exceeded, fetch failure, unsupported actuate) to a
	// RECOVERABLE removal of the offending subtree instead of aborting
	// the whole parse.
	FailGracefully bool
	// Metrics, if non-nil, counts depth-limit rejections.
	Metrics *metrics.Collectors
}

// Resolve recursively dereferences every xlink:href in root (and its
// descendants), skipping SegmentTimeline subtrees, which never carry
// xlink.
func (r *Resolver) Resolve(ctx context.Context, root *etree.Element) error {
	return r.resolve(ctx, root, 0)
}

func (r *Resolver) resolve(ctx context.Context, elem *etree.Element, depth int) error {
	// Snapshot children first: resolving one xlink element may splice
	// new siblings into elem, and we must not re-walk those as if they
	// were present at entry.
	for _, child := range elem.ChildElements() {
		if child.Tag == "SegmentTimeline" {
			continue
		}
		href := child.SelectAttrValue(xlinkHrefAttr, "")
		if href == "" {
			if err := r.resolve(ctx, child, depth); err != nil {
				return err
			}
			continue
		}
		if err := r.resolveElement(ctx, elem, child, depth); err != nil {
			return err
		}
	}
	return nil
}

// resolveElement resolves a single xlink:href-bearing child of parent.
func (r *Resolver) resolveElement(ctx context.Context, parent, child *etree.Element, depth int) error {
	href := child.SelectAttrValue(xlinkHrefAttr, "")

	if href == ResolveToZeroHref {
		parent.RemoveChild(child)
		return nil
	}

	actuate := child.SelectAttrValue(xlinkActuateAttr, "onLoad")
	if actuate != "onLoad" {
		return r.fail(parent, child, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashUnsupportedXlinkActuate,
			"unsupported xlink:actuate %q on <%s>", actuate, child.Tag))
	}

	if depth >= MaxDepth {
		r.Metrics.IncXlinkDepthExceeded()
		return r.fail(parent, child, errs.New(errs.CRITICAL, errs.MANIFEST, errs.DashXlinkDepthLimit,
			"xlink resolution exceeded depth %d at <%s>", MaxDepth, child.Tag))
	}

	resp, err := r.Fetcher.Fetch(ctx, []string{href}, -1, -1, fetch.RetryParams{MaxAttempts: 1})
	if err != nil {
		return r.fail(parent, child, errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.DashXlinkDepthLimit, err,
			"failed to fetch xlink:href %q", href))
	}

	frag := etree.NewDocument()
	if err := frag.ReadFromBytes(resp.Bytes); err != nil {
		return r.fail(parent, child, errs.Wrap(errs.CRITICAL, errs.MANIFEST, errs.DashInvalidXML, err,
			"xlink fragment at %q is not well-formed XML", href))
	}

	replacements := frag.Root().ChildElements()
	if frag.Root().Tag == child.Tag {
		replacements = []*etree.Element{frag.Root()}
	}
	for _, rep := range replacements {
		parent.InsertChild(child, rep)
	}
	parent.RemoveChild(child)

	// A replacement carrying its own xlink:href is the next link of the
	// chain and is resolved one level deeper; any other replacement is
	// stripped of xlink attributes and only has its descendants walked.
	for _, rep := range replacements {
		var err error
		if rep.SelectAttrValue(xlinkHrefAttr, "") != "" {
			err = r.resolveElement(ctx, parent, rep, depth+1)
		} else {
			stripXlinkAttrs(rep)
			err = r.resolve(ctx, rep, depth+1)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// fail applies fail_gracefully: log and remove the offending element
// instead of propagating, or return the error to abort the parse.
func (r *Resolver) fail(parent, child *etree.Element, err error) error {
	if r.FailGracefully {
		slog.Warn("xlink: resolution failed, removing element", "tag", child.Tag, "err", err)
		parent.RemoveChild(child)
		return nil
	}
	return err
}

// stripXlinkAttrs removes xlink:href/xlink:actuate (and any other
// xlink:* attribute) from a freshly-spliced-in fragment root, so a
// later re-resolution pass never re-fetches it.
func stripXlinkAttrs(e *etree.Element) {
	for _, a := range append([]etree.Attr{}, e.Attr...) {
		if a.Space == "xlink" {
			e.RemoveAttr(a.FullKey())
		}
	}
}
