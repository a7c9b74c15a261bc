// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package timer

import (
	"sync"
	"time"
)

// stdTimer is the default Timer backend, built directly on time.Timer.
// It needs no extra dependency and is what the update loops use when a
// caller does not ask for the cron-backed implementation.
type stdTimer struct {
	mu sync.Mutex
	t  *time.Timer
}

// NewStd returns a Factory for the stdlib-backed Timer.
func NewStd() Factory {
	return func() Timer { return &stdTimer{} }
}

func (s *stdTimer) ArmOnce(d float64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		s.t.Stop()
	}
	s.t = time.AfterFunc(secondsToDuration(d), fn)
}

func (s *stdTimer) ArmEvery(d float64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		s.t.Stop()
	}
	dur := secondsToDuration(d)
	var tick func()
	tick = func() {
		fn()
		s.mu.Lock()
		if s.t != nil {
			s.t = time.AfterFunc(dur, tick)
		}
		s.mu.Unlock()
	}
	s.t = time.AfterFunc(dur, tick)
}

func (s *stdTimer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}

func secondsToDuration(s float64) time.Duration {
	if s < 0 {
		s = 0
	}
	return time.Duration(s * float64(time.Second))
}
