// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient is an HTTP client that retries throttled and failed
// upstream calls, honoring Retry-After.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	// ConservativeRetry retries transient server errors a couple of times.
	ConservativeRetry
	// SmartRetry follows Retry-After, falling back to exponential backoff.
	SmartRetry
)

const conservativeAttempts = 2

// Client wraps an *http.Client with retries. It satisfies the Do-only
// client interfaces that libraries such as jwx accept.
type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	strategy   func(status int) RetryStrategy
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithMaxDelay caps a single wait, including server-requested ones.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

func WithRetryStrategy(fn func(status int) RetryStrategy) Option {
	return func(c *Client) {
		c.strategy = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
		strategy:   DefaultRetryStrategy,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy maps a status code to how it is retried.
func DefaultRetryStrategy(status int) RetryStrategy {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends req, retrying while the strategy allows. Transport errors are
// returned as is. When retries run out the last response is returned with
// a *RetryableError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 400 {
			return resp, nil
		}

		strategy := c.strategy(resp.StatusCode)
		if strategy == NoRetry {
			return resp, nil
		}

		delay, ok := c.delay(strategy, attempt, resp.Header)
		if !ok || attempt >= c.maxRetries {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("gave up after %d attempts", attempt+1),
				RetryAfter: delay,
			}
		}

		c.logger.Debug("Retrying HTTP request",
			"url", req.URL.Redacted(),
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay,
		)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// delay returns the wait before the next attempt, or false when the
// strategy has no further attempts.
func (c *Client) delay(strategy RetryStrategy, attempt int, h http.Header) (time.Duration, bool) {
	var d time.Duration
	switch strategy {
	case SmartRetry:
		if ra := ParseRetryAfter(h, time.Now()); ra > 0 {
			d = ra
		} else {
			d = c.baseDelay << attempt
			d += d / 10
		}
	case ConservativeRetry:
		if attempt >= conservativeAttempts {
			return 0, false
		}
		d = c.baseDelay * time.Duration(attempt+1)
	default:
		return 0, false
	}
	if c.maxDelay > 0 && d > c.maxDelay {
		d = c.maxDelay
	}
	return d, true
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when the header is absent or unusable.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
