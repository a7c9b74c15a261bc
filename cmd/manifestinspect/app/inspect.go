// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package app drives a single DASH MPD or HLS master playlist URL
// through the full parser core and prints the resulting presentation
// tree, mirroring the shape of cmd/dashfetcher/app/fetcher.go's
// Options/start() split but fetching through dashparser/hls instead of
// writing segments to disk.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/videoedge/manifestcore/internal/config"
	"github.com/videoedge/manifestcore/internal/dashparser"
	"github.com/videoedge/manifestcore/internal/fetch"
	"github.com/videoedge/manifestcore/internal/hls"
	"github.com/videoedge/manifestcore/internal/metrics"
	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/internal/segmentindex"
	"github.com/videoedge/manifestcore/internal/timer"
)

// Options holds the flags cmd/manifestinspect/main.go binds with pflag.
type Options struct {
	AssetURL   string
	ConfigFile string
	LogFile    string
	LogFormat  string
	LogLevel   string
	WatchS     int
	Version    bool
}

// Inspect parses o.AssetURL once (a URL containing ".m3u8" is treated
// as an HLS master playlist, everything else as a DASH MPD),
// prints the resulting presentation tree, and for live/dynamic content
// optionally keeps watching the update loop for o.WatchS seconds.
func Inspect(o *Options) error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		<-signalChan
		cancel()
	}()

	collectors := metrics.New()
	collectors.MustRegister(prometheus.NewRegistry())

	fetcher := fetch.NewHTTPFetcher()
	manifest, closeFn, err := parse(ctx, o.AssetURL, fetcher, cfg, collectors)
	if err != nil {
		return fmt.Errorf("parse %s: %w", o.AssetURL, err)
	}
	defer closeFn()

	createSegmentIndexes(ctx, manifest)
	printManifest(manifest)

	if o.WatchS > 0 && manifest.PresentationTimeline.IsLive() {
		slog.Info("watching live manifest", "seconds", o.WatchS)
		watchCtx, watchCancel := context.WithTimeout(ctx, time.Duration(o.WatchS)*time.Second)
		defer watchCancel()
		<-watchCtx.Done()
		printManifest(manifest)
	}

	return nil
}

// parse picks the HLS parser when the URL contains ".m3u8", else the
// DASH parser. Both return a live
// *model.Manifest whose background update loop (if any) keeps mutating
// its Periods/SegmentIndex in place until closeFn is called.
func parse(ctx context.Context, uri string, fetcher fetch.Fetcher, cfg *config.Options, collectors *metrics.Collectors) (*model.Manifest, func(), error) {
	if strings.Contains(uri, ".m3u8") {
		p := hls.New(hls.Options{
			Fetcher:      fetcher,
			TimerFactory: timer.NewStd(),
			RetryParams:  cfg.RetryParams(),
			Metrics:      collectors,
		})
		m, err := p.Parse(ctx, uri)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}

	p := dashparser.New(dashparser.Options{
		Fetcher:             fetcher,
		TimerFactory:        timer.NewStd(),
		RetryParams:         cfg.RetryParams(),
		FailGracefullyXlink: cfg.XlinkFailGracefully,
		Metrics:             collectors,
	})
	m, err := p.Parse(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	return m, m.Close, nil
}

// createSegmentIndexes eagerly resolves every stream's lazy
// CreateSegmentIndex so printManifest can report segment counts; a real
// player would defer this until a Variant is actually selected for
// playback, but a one-shot inspection tool wants the whole tree
// populated up front.
func createSegmentIndexes(ctx context.Context, m *model.Manifest) {
	for _, period := range m.Periods {
		for _, s := range period.Streams {
			if s.CreateSegmentIndex == nil {
				continue
			}
			if err := s.CreateSegmentIndex(ctx); err != nil {
				slog.Warn("segment index creation failed", "stream", s.ID, "err", err)
			}
		}
	}
}

// printManifest writes a compact, human-readable summary of a
// presentation tree: periods, variants/streams, segment counts, and
// any timeline events (including decoded SCTE-35 summaries).
func printManifest(m *model.Manifest) {
	pt := m.PresentationTimeline
	fmt.Printf("presentation: live=%v duration=%.3fs availabilityEnd=%.3fs\n",
		pt.IsLive(), pt.DurationS, pt.SegmentAvailabilityEnd())

	for _, period := range m.Periods {
		fmt.Printf("period %q: start=%.3fs duration=%.3fs\n", period.ID, period.StartTimeS, period.DurationS)
		for _, v := range period.Variants {
			fmt.Printf("  variant %q: bandwidth=%d\n", v.ID, v.Bandwidth)
			printStream("    video", v.Video)
			printStream("    audio", v.Audio)
		}
		for _, s := range period.TextStreams {
			printStream("  text", s)
		}
	}

	for _, ev := range m.Events {
		line := fmt.Sprintf("event %q: scheme=%s value=%q [%.3fs-%.3fs]", ev.ID, ev.SchemeIDURI, ev.Value, ev.StartTime, ev.EndTime)
		if ev.SCTE35Summary != "" {
			line += fmt.Sprintf(" scte35=%q", ev.SCTE35Summary)
		}
		fmt.Println(line)
	}
}

func printStream(label string, s *model.Stream) {
	if s == nil {
		return
	}
	n := "?"
	if idx, ok := s.SegmentIndex.(*segmentindex.SegmentIndex); ok {
		n = fmt.Sprintf("%d", idx.Len())
	}
	fmt.Printf("%s %q: codecs=%s mimeType=%s segments=%s\n", label, s.ID, s.Codecs, s.MimeType, n)
}
