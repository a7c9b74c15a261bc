// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package config loads the tunable parser options (fetch retry/timeout,
// xlink depth and failure mode, log level/format) this module's callers
// need to set without recompiling, layering defaults, an optional JSON
// file, and environment variables the same way cmd/livesim2/app/config.go
// does, minus the posflag/pflag layer, since this module is a library
// and cmd/manifestinspect binds its own small flag set directly instead
// of routing it through here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/videoedge/manifestcore/internal/fetch"
)

// envPrefix namespaces every environment variable this package reads,
// mirroring the "LIVESIM_" prefix convention.
const envPrefix = "MANIFESTCORE_"

// Options is the full set of parser-tunable knobs.
type Options struct {
	LogLevel  string `json:"loglevel"`
	LogFormat string `json:"logformat"`

	// FetchTimeoutS bounds a single Fetcher.Fetch call.
	FetchTimeoutS int `json:"fetchtimeouts"`
	// FetchMaxAttempts and FetchBaseDelayMS configure fetch.RetryParams.
	FetchMaxAttempts int `json:"fetchmaxattempts"`
	FetchBaseDelayMS int `json:"fetchbasedelayms"`

	// XlinkFailGracefully mirrors xlink.Resolver.FailGracefully.
	XlinkFailGracefully bool `json:"xlinkfailgracefully"`
	// XlinkMaxDepth is loaded but not passed to xlink.Resolver, whose
	// depth limit is the fixed constant xlink.MaxDepth.
	XlinkMaxDepth int `json:"xlinkmaxdepth"`

	// MinUpdateIntervalS is loaded but not read by any parser; the
	// update-loop interval a manifest's own minimumUpdatePeriod/
	// targetDuration requests is used without a floor.
	MinUpdateIntervalS float64 `json:"minupdateintervals"`
}

// Defaults mirrors the DefaultConfig convention: a plain exported
// value, not a function, so callers can inspect or override individual
// fields before calling Load with a zero cfgFile.
var Defaults = Options{
	LogLevel:            "INFO",
	LogFormat:           "text",
	FetchTimeoutS:       10,
	FetchMaxAttempts:    3,
	FetchBaseDelayMS:    500,
	XlinkFailGracefully: false,
	XlinkMaxDepth:       5,
	MinUpdateIntervalS:  1.0,
}

// Load builds Options from Defaults, an optional JSON config file, and
// finally MANIFESTCORE_-prefixed environment variables, each layer
// overriding the last: the same koanf provider chain LoadConfig uses
// (structs -> file -> env), just without the posflag provider in
// between.
func Load(cfgFile string) (*Options, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults, "json"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %q: %w", cfgFile, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var opts Options
	if err := k.Unmarshal("", &opts); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &opts, nil
}

// RetryParams adapts the loaded fetch-retry knobs into fetch.RetryParams,
// the shape dashparser.Options/hls.Options actually take.
func (o *Options) RetryParams() fetch.RetryParams {
	return fetch.RetryParams{
		MaxAttempts: o.FetchMaxAttempts,
		BaseDelay:   time.Duration(o.FetchBaseDelayMS) * time.Millisecond,
	}
}

// FetchTimeout is FetchTimeoutS as a time.Duration, for a caller to
// derive a context.WithTimeout from before calling Parse.
func (o *Options) FetchTimeout() time.Duration {
	return time.Duration(o.FetchTimeoutS) * time.Second
}
