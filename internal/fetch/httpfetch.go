// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/videoedge/manifestcore/internal/errs"
)

// HTTPFetcher is a minimal net/http-backed Fetcher, grounded on
// cmd/dashfetcher/app/fetcher.go's downloadToFile: a plain http.Client
// GET with a context and a status-code check. It exists for
// cmd/manifestinspect and for tests; production hosts supply their own
// Fetcher (HTTP fetch implementation is a non-goal of this module).
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher with a sane default timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uris []string, rangeStart, rangeEnd int64, rp RetryParams) (*Response, error) {
	if len(uris) == 0 {
		return nil, errs.New(errs.CRITICAL, errs.NETWORK, errs.HTTPError, "no URIs to fetch")
	}
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for _, uri := range uris {
		for attempt := 0; attempt < attempts; attempt++ {
			resp, err := f.fetchOnce(ctx, uri, rangeStart, rangeEnd)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, errs.Wrap(errs.RECOVERABLE, errs.NETWORK, errs.OperationAborted, ctx.Err(), "fetch aborted")
			}
			if attempt+1 < attempts {
				select {
				case <-ctx.Done():
					return nil, errs.Wrap(errs.RECOVERABLE, errs.NETWORK, errs.OperationAborted, ctx.Err(), "fetch aborted")
				case <-time.After(rp.BaseDelay * time.Duration(attempt+1)):
				}
			}
		}
	}
	return nil, errs.Wrap(errs.RECOVERABLE, errs.NETWORK, errs.HTTPError, lastErr, "all URIs failed")
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, uri string, rangeStart, rangeEnd int64) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if rangeStart > 0 || rangeEnd >= 0 {
		var rangeHdr string
		if rangeEnd >= 0 {
			rangeHdr = fmt.Sprintf("bytes=%d-%d", rangeStart, rangeEnd)
		} else {
			rangeHdr = fmt.Sprintf("bytes=%d-", rangeStart)
		}
		req.Header.Set("Range", rangeHdr)
	}
	slog.Debug("fetching", "uri", uri)
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, errs.New(errs.RECOVERABLE, errs.NETWORK, errs.BadHTTPStatus,
			"status %d for %s", resp.StatusCode, uri)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		Bytes:    body,
		FinalURI: resp.Request.URL.String(),
		Headers:  resp.Header,
	}, nil
}

func (f *HTTPFetcher) FetchInitSegment(ctx context.Context, uris []string, start, end int64) ([]byte, error) {
	resp, err := f.Fetch(ctx, uris, start, end, RetryParams{MaxAttempts: 2, BaseDelay: 200 * time.Millisecond})
	if err != nil {
		return nil, err
	}
	return resp.Bytes, nil
}

// ParseContentRange extracts the total length from a Content-Range
// header ("bytes 0-999/5000"); used by probes that need to know a
// resource's size from a partial response.
func ParseContentRange(header string) (total int64, ok bool) {
	var start, end, size int64
	n, err := fmt.Sscanf(header, "bytes %d-%d/%d", &start, &end, &size)
	if err != nil || n != 3 {
		return 0, false
	}
	return size, true
}
