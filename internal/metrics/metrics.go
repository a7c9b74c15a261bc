// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package metrics exposes the prometheus.Collectors this module
// updates as it parses and refreshes manifests: segment-index size per
// stream, update-cycle outcomes, and xlink depth-limit rejections.
// cmd/livesim2/app/prometheus.go builds CounterVec/HistogramVec
// collectors and calls prometheus.MustRegister directly against the
// global registry because it owns the HTTP server exposing them. This
// module has no server of its own (a library, not a service), so
// Collectors registers against whatever prometheus.Registerer its
// caller supplies instead.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const service = "manifestcore"

// Collectors is the full set of metrics this module updates. A nil
// *Collectors is valid everywhere it's accepted: every Set/Inc
// method no-ops on a nil receiver, so callers that don't want metrics
// can simply leave the field zero rather than wiring a no-op registry.
type Collectors struct {
	segmentIndexSize   *prometheus.GaugeVec
	updateCycles       *prometheus.CounterVec
	xlinkDepthExceeded prometheus.Counter
}

// New constructs a Collectors without registering it anywhere; call
// MustRegister to attach it to a registry (prometheus.DefaultRegisterer
// or a test-local prometheus.NewRegistry()).
func New() *Collectors {
	return &Collectors{
		segmentIndexSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "segment_index_size",
			Help:        "Number of segment references currently held in a stream's segment index.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"manifest", "stream"}),
		updateCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "manifest_update_cycles_total",
			Help:        "Manifest/playlist refetch-and-merge cycles, partitioned by outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"manifest", "result"}),
		xlinkDepthExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "xlink_depth_exceeded_total",
			Help:        "xlink:href resolution chains that hit the recursion depth limit.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
	}
}

// MustRegister attaches every collector to reg, panicking on a
// duplicate-registration conflict the same way the newCounter/
// newHistogram helpers do via prometheus.MustRegister.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	if c == nil {
		return
	}
	reg.MustRegister(c.segmentIndexSize, c.updateCycles, c.xlinkDepthExceeded)
}

// SetSegmentIndexSize records the current length of a stream's segment
// index, called after FromRefs/Merge in dashparser and hls.
func (c *Collectors) SetSegmentIndexSize(manifestID, streamID string, n int) {
	if c == nil {
		return
	}
	c.segmentIndexSize.WithLabelValues(manifestID, streamID).Set(float64(n))
}

// IncUpdateCycle records one periodic-update outcome ("ok" or "error").
func (c *Collectors) IncUpdateCycle(manifestID, result string) {
	if c == nil {
		return
	}
	c.updateCycles.WithLabelValues(manifestID, result).Inc()
}

// IncXlinkDepthExceeded records one xlink resolution aborted (or
// gracefully pruned) for exceeding xlink.MaxDepth.
func (c *Collectors) IncXlinkDepthExceeded() {
	if c == nil {
		return
	}
	c.xlinkDepthExceeded.Inc()
}
