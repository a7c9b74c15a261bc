// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronTimer backs Timer with a single-entry github.com/robfig/cron/v3
// scheduler. It is an alternative backend for a caller that passes
// NewCron as its Factory; internal/dashparser, internal/hls and
// cmd/manifestinspect default to NewStd. A one-shot ArmOnce
// is modeled as a cron entry that removes itself on first fire.
type cronTimer struct {
	mu    sync.Mutex
	c     *cron.Cron
	id    cron.EntryID
	armed bool
}

// NewCron returns a Factory for the cron-backed Timer.
func NewCron() Factory {
	return func() Timer {
		return &cronTimer{c: cron.New(cron.WithSeconds())}
	}
}

func (c *cronTimer) ArmOnce(d float64, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	spec := everySpec(d)
	id, err := c.c.AddFunc(spec, func() {
		c.mu.Lock()
		selfID := c.id
		c.mu.Unlock()
		c.c.Remove(selfID)
		fn()
	})
	if err != nil {
		// Malformed spec is a programmer error (d <= 0 handled by
		// everySpec); fall back to a direct timer fire rather than
		// silently dropping the schedule.
		fn()
		return
	}
	c.id = id
	c.armed = true
	c.c.Start()
}

func (c *cronTimer) ArmEvery(d float64, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	spec := everySpec(d)
	id, err := c.c.AddFunc(spec, fn)
	if err != nil {
		return
	}
	c.id = id
	c.armed = true
	c.c.Start()
}

func (c *cronTimer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.c.Stop()
}

func (c *cronTimer) clearLocked() {
	if c.armed {
		c.c.Remove(c.id)
		c.armed = false
	}
}

func everySpec(d float64) string {
	if d < 1 {
		d = 1
	}
	return fmt.Sprintf("@every %s", time.Duration(d*float64(time.Second)))
}
