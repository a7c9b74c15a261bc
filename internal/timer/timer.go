// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package timer abstracts the host's scheduling primitive behind a
// Timer interface, replacing a host-provided setTimeout with an
// abstract Timer type, so SegmentIndex and the DASH/HLS update loops
// never touch time.Timer or a cron scheduler directly.
package timer

// Timer is armed either once or repeatedly, and must make Stop
// idempotent and safe to call from any goroutine.
type Timer interface {
	// ArmOnce schedules fn to run once after d, replacing any
	// previously armed single-shot.
	ArmOnce(d float64, fn func())
	// ArmEvery schedules fn to run repeatedly every d seconds until
	// Stop is called or the timer self-stops.
	ArmEvery(d float64, fn func())
	// Stop cancels any armed schedule. Safe to call multiple times and
	// safe to call when nothing is armed.
	Stop()
}

// Factory builds a fresh Timer. internal/segmentindex and
// internal/dashparser/internal/hls accept a Factory instead of a
// concrete Timer so tests can inject a synchronous fake.
type Factory func() Timer
