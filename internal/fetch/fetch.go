// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package fetch models the external collaborator interfaces this core
// consumes: HTTP fetch, the monotonic clock, and a logger, plus the
// generic abortable-operation shape. The core never performs actual
// network I/O itself; HTTP fetch implementation is an explicit
// non-goal.
package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/videoedge/manifestcore/internal/errs"
)

// Response is what a fetch collaborator returns on success.
type Response struct {
	Bytes    []byte
	FinalURI string
	Headers  map[string][]string
}

// RetryParams configures how a Fetcher should retry within itself;
// callers of this package never retry a Fetcher's Fetch manually.
type RetryParams struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Fetcher is the host-provided network collaborator. Implementations
// live outside this module (non-goal); HTTPFetcher below is a minimal
// reference implementation used by cmd/manifestinspect and tests.
type Fetcher interface {
	// Fetch retrieves uris (tried in order until one succeeds), with an
	// optional byte range ("start-end", end < 0 meaning open-ended;
	// start and end both negative meaning no range, the whole resource).
	Fetch(ctx context.Context, uris []string, rangeStart int64, rangeEnd int64, rp RetryParams) (*Response, error)
}

// InitSegmentFetcher is the narrower collaborator used to retrieve just
// an init segment's bytes.
type InitSegmentFetcher interface {
	FetchInitSegment(ctx context.Context, uris []string, start, end int64) ([]byte, error)
}

// Op is a generic abortable-operation shape: a future-like handle plus
// an idempotent Abort. It is built directly on context.Context
// cancellation, the idiomatic Go answer to an async-future design.
type Op[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	result T
	err    error
}

// Go starts fn in a new goroutine and returns an Op wrapping it. fn must
// respect ctx cancellation and return errs.OperationAborted (or any
// error wrapping it) promptly once ctx.Err() != nil.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Op[T] {
	cctx, cancel := context.WithCancel(ctx)
	op := &Op[T]{ctx: cctx, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(op.done)
		r, err := fn(cctx)
		if err != nil && cctx.Err() != nil {
			err = errs.Wrap(errs.RECOVERABLE, errs.NETWORK, errs.OperationAborted, err, "operation aborted")
		}
		op.result, op.err = r, err
	}()
	return op
}

// Done is closed when the operation has completed (successfully,
// with an error, or due to Abort).
func (o *Op[T]) Done() <-chan struct{} { return o.done }

// Wait blocks until the operation completes and returns its result.
func (o *Op[T]) Wait() (T, error) {
	<-o.done
	return o.result, o.err
}

// Abort cancels the operation. Idempotent: calling it more than once,
// concurrently or not, has the same effect as calling it once.
func (o *Op[T]) Abort() {
	o.once.Do(o.cancel)
}

// Clock is the monotonic time-source collaborator.
type Clock interface {
	NowS() float64
}

// SystemClock is the real wall-clock Clock, in seconds since the Unix
// epoch; used by default outside of tests.
type SystemClock struct{}

func (SystemClock) NowS() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
