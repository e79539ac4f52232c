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

// Package admission sequences the rate limiter, authentication and the
// credit gate for every generation request, and emits exactly one audit
// record per terminal outcome.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/audit"
	"github.com/kadirpekel/lettergate/pkg/auth"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/observability"
	"github.com/kadirpekel/lettergate/pkg/ratelimit"
)

// Pipeline is the admission controller.
type Pipeline struct {
	limiter *ratelimit.Limiter
	gate    *credits.Gate
	authn   auth.Authenticator
	sink    audit.Sink

	clock   clock.Clock
	newID   func() string
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLimiter sets the rate limiter. Without one every request passes the
// rate check.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithAuthenticator resolves Request.Token when no principal is supplied.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(p *Pipeline) { p.authn = a }
}

// WithAuditSink sets where terminal outcomes are recorded. Default: Discard.
func WithAuditSink(s audit.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithIDGenerator replaces the uuid admission IDs.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a pipeline in front of gate.
func New(gate *credits.Gate, opts ...Option) (*Pipeline, error) {
	if gate == nil {
		return nil, fmt.Errorf("credit gate is required")
	}
	p := &Pipeline{
		gate:   gate,
		sink:   audit.Discard{},
		clock:  clock.Real{},
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Admit runs the rate limit check, resolves the principal, then asks the
// credit gate. Denials are returned as admissions with Allowed() false and a
// nil error. A retry whose idempotency key already holds an allowance is
// one such denial, with reason duplicate_request. An allowed admission stays
// pending until Complete.
//
// Errors: ErrUnauthenticated when no principal can be resolved, or an error
// wrapping credits.ErrStorageUnavailable. In the latter case the returned
// admission carries OutcomeError and has already been audited.
func (p *Pipeline) Admit(ctx context.Context, req Request) (*Admission, error) {
	ctx, span := p.tracer.Start(ctx, observability.SpanAdmission)
	defer span.End()

	a := &Admission{
		ID:        p.newID(),
		ClientID:  req.ClientID,
		Endpoint:  req.Endpoint,
		RateLimit: ratelimit.Decision{Allowed: true},
		started:   p.clock.Now(),
		pipeline:  p,
	}
	span.SetAttributes(
		attribute.String(observability.AttrEndpoint, req.Endpoint),
		attribute.String(observability.AttrClientID, req.ClientID),
	)

	if p.limiter != nil {
		a.RateLimit = p.limiter.Check(ctx, req.ClientID, req.Endpoint)
		if !a.RateLimit.Allowed {
			reason := ReasonRateLimited
			if a.RateLimit.Degraded {
				reason = ReasonRateLimitDegraded
			}
			p.terminate(ctx, a, OutcomeDeniedRateLimit, reason)
			span.SetAttributes(attribute.String(observability.AttrOutcome, string(OutcomeDeniedRateLimit)))
			return a, nil
		}
	}

	principal, err := p.principal(ctx, req)
	if err != nil {
		p.logger.Warn("Admission rejected: unauthenticated", "client", req.ClientID, "endpoint", req.Endpoint, "error", err)
		span.SetStatus(codes.Error, "unauthenticated")
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	a.Principal = principal
	span.SetAttributes(attribute.String(observability.AttrUserID, principal.UserID))

	a.key = req.IdempotencyKey
	if a.key == "" {
		a.key = a.ID
	}

	d, err := p.gate.EvaluateAndConsume(ctx, credits.Attempt{Principal: principal, IdempotencyKey: a.key})
	if err != nil {
		p.terminate(ctx, a, OutcomeError, ReasonStorageUnavailable)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return a, fmt.Errorf("admission %s: %w", a.ID, err)
	}
	a.Credit = d

	if !d.Allowed {
		p.terminate(ctx, a, OutcomeDeniedNoCredit, string(d.Reason))
		span.SetAttributes(attribute.String(observability.AttrOutcome, string(OutcomeDeniedNoCredit)))
		return a, nil
	}

	a.setOutcome(OutcomePending)
	span.SetAttributes(
		attribute.String(observability.AttrOutcome, string(OutcomePending)),
		attribute.String(observability.AttrReason, string(d.Reason)),
	)
	return a, nil
}

func (p *Pipeline) principal(ctx context.Context, req Request) (credits.Principal, error) {
	var principal credits.Principal
	switch {
	case req.Principal != nil:
		principal = *req.Principal
	case p.authn != nil:
		var err error
		principal, err = p.authn.Authenticate(ctx, req.Token)
		if err != nil {
			return credits.Principal{}, err
		}
	default:
		return credits.Principal{}, errors.New("no authenticator configured")
	}
	if principal.UserID == "" {
		return credits.Principal{}, credits.ErrInvalidUser
	}
	return principal, nil
}

func (p *Pipeline) complete(ctx context.Context, a *Admission, genErr error) error {
	if genErr == nil {
		p.terminate(ctx, a, OutcomeAllowed, string(a.Credit.Reason))
		if err := p.gate.Store().RecordLetter(ctx, a.Principal.UserID); err != nil {
			p.metrics.RecordStorageError(ctx, "credits")
			p.logger.Error("Failed to record letter", "admission", a.ID, "user", a.Principal.UserID, "error", err)
			return fmt.Errorf("failed to record letter: %w", err)
		}
		return nil
	}

	p.logger.Warn("Generation failed after admission", "admission", a.ID, "user", a.Principal.UserID, "error", genErr)
	p.terminate(ctx, a, OutcomeError, ReasonGenerationFailed)

	if a.Credit.Reason != credits.ReasonSubscriptionCredit {
		return nil
	}
	if err := p.gate.Refund(ctx, a.Principal.UserID, a.key); err != nil {
		p.logger.Error("Failed to refund credit", "admission", a.ID, "user", a.Principal.UserID, "error", err)
		return err
	}
	return nil
}

// terminate records the outcome, writes the audit record and the admission
// metric. Audit failures are logged and never change the outcome.
func (p *Pipeline) terminate(ctx context.Context, a *Admission, o Outcome, reason string) {
	now := p.clock.Now()
	a.setOutcome(o)

	if err := p.sink.Write(ctx, a.record(o, reason, now)); err != nil {
		p.metrics.RecordAuditFailure(ctx, "pipeline")
		p.logger.Error("Audit write failed", "admission", a.ID, "outcome", o, "error", err)
	}
	p.metrics.RecordAdmission(ctx, a.Endpoint, string(o), reason, now.Sub(a.started))

	p.logger.Debug("Admission terminated",
		"admission", a.ID,
		"user", a.Principal.UserID,
		"client", a.ClientID,
		"endpoint", a.Endpoint,
		"outcome", o,
		"reason", reason,
	)
}
