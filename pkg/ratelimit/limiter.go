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

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/observability"
)

// Limiter applies fixed-window policies on top of a Store.
type Limiter struct {
	store Store
	mode  FailureMode
	clock clock.Clock

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger

	mu       sync.RWMutex
	policies Policies
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithFailureMode sets the behaviour on store errors. Default: fail closed.
func WithFailureMode(m FailureMode) Option {
	return func(l *Limiter) { l.mode = m }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(l *Limiter) { l.tracer = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a limiter over store.
func New(store Store, policies Policies, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := policies.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		store:    store,
		policies: policies,
		mode:     FailClosed,
		clock:    clock.Real{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.mode != FailOpen && l.mode != FailClosed {
		return nil, fmt.Errorf("unknown failure mode %q", l.mode)
	}
	return l, nil
}

// Check counts one request from clientID against endpoint and decides.
// It never fails: store errors are resolved by the FailureMode.
func (l *Limiter) Check(ctx context.Context, clientID, endpoint string) Decision {
	if clientID == "" {
		clientID = AnonymousClient
	}

	ctx, span := l.tracer.Start(ctx, observability.SpanRateLimitCheck)
	defer span.End()

	policy := l.policy(endpoint)
	now := l.clock.Now()

	var d Decision
	c, err := l.store.Increment(ctx, Key{ClientID: clientID, Endpoint: endpoint}, policy.Window, now)
	if err != nil {
		d = l.degraded(ctx, policy, now, clientID, endpoint, err)
	} else {
		d = decide(policy, c, now)
	}

	span.SetAttributes(
		attribute.String(observability.AttrEndpoint, endpoint),
		attribute.Bool(observability.AttrAllowed, d.Allowed),
		attribute.Bool(observability.AttrDegraded, d.Degraded),
		attribute.Int64(observability.AttrRemaining, d.Remaining),
	)
	l.metrics.RecordRateLimit(ctx, endpoint, d.Allowed, d.Degraded)
	return d
}

func decide(p Policy, c Counter, now time.Time) Decision {
	d := Decision{
		Allowed:   c.Count <= p.MaxRequests,
		Limit:     p.MaxRequests,
		Remaining: max(0, p.MaxRequests-c.Count),
		ResetAt:   c.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(0, c.ResetAt.Sub(now))
	}
	return d
}

func (l *Limiter) degraded(ctx context.Context, p Policy, now time.Time, clientID, endpoint string, err error) Decision {
	l.metrics.RecordStorageError(ctx, "ratelimit")

	d := Decision{
		Limit:    p.MaxRequests,
		ResetAt:  now.Add(p.Window),
		Degraded: true,
	}
	if l.mode == FailOpen {
		d.Allowed = true
		d.Remaining = p.MaxRequests
		l.logger.Warn("Rate limit store unavailable, allowing request",
			"endpoint", endpoint, "client", clientID, "failure_mode", l.mode, "error", err)
		return d
	}
	d.RetryAfter = p.Window
	l.logger.Warn("Rate limit store unavailable, denying request",
		"endpoint", endpoint, "client", clientID, "failure_mode", l.mode, "error", err)
	return d
}

// Usage reports the current window for clientID without counting.
func (l *Limiter) Usage(ctx context.Context, clientID, endpoint string) (Decision, error) {
	if clientID == "" {
		clientID = AnonymousClient
	}
	policy := l.policy(endpoint)
	now := l.clock.Now()

	c, err := l.store.Get(ctx, Key{ClientID: clientID, Endpoint: endpoint}, now)
	if err != nil {
		return Decision{}, err
	}
	if c.Count == 0 {
		return Decision{Allowed: true, Limit: policy.MaxRequests, Remaining: policy.MaxRequests}, nil
	}
	d := decide(policy, c, now)
	// The next request is what gets counted.
	d.Allowed = c.Count < policy.MaxRequests
	return d, nil
}

// Reset clears the window for clientID on endpoint.
func (l *Limiter) Reset(ctx context.Context, clientID, endpoint string) error {
	if clientID == "" {
		clientID = AnonymousClient
	}
	return l.store.Reset(ctx, Key{ClientID: clientID, Endpoint: endpoint})
}

// Policies returns the active policies.
func (l *Limiter) Policies() Policies {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policies
}

// UpdatePolicies swaps the policies. Existing windows keep their ResetAt.
func (l *Limiter) UpdatePolicies(p Policies) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.policies = p
	l.mu.Unlock()
	l.logger.Info("Rate limit policies updated", "endpoints", len(p.Endpoints))
	return nil
}

func (l *Limiter) policy(endpoint string) Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policies.For(endpoint)
}

// Sweep deletes expired windows.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	return l.store.DeleteExpired(ctx, l.clock.Now())
}

// RunJanitor sweeps every interval until ctx is done.
func (l *Limiter) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Warn("Rate limit sweep failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Debug("Rate limit windows swept", "count", n)
			}
		}
	}
}

// Close closes the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
