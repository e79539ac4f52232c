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

package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/observability"
)

// Gate decides whether a principal may generate one letter and consumes
// the allowance that pays for it.
type Gate struct {
	store     Store
	freeTrial bool
	timeout   time.Duration
	clock     clock.Clock

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithFreeTrial turns the one-time free letter on or off. Default: on.
func WithFreeTrial(enabled bool) GateOption {
	return func(g *Gate) { g.freeTrial = enabled }
}

// WithTimeout bounds every store call. Zero means no bound.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

func WithClock(c clock.Clock) GateOption {
	return func(g *Gate) { g.clock = c }
}

func WithMetrics(m *observability.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

func WithTracer(t *observability.Tracer) GateOption {
	return func(g *Gate) { g.tracer = t }
}

func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// NewGate creates a gate over store.
func NewGate(store Store, opts ...GateOption) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("credit store is required")
	}
	g := &Gate{
		store:     store,
		freeTrial: true,
		clock:     clock.Real{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// EvaluateAndConsume returns exactly one Decision for the attempt. When the
// decision is allowed the corresponding allowance has already been consumed.
//
// Order: super user, then the free trial if unused, then one subscription
// credit. A retry whose key already holds an allowance is denied with
// ReasonDuplicateRequest, so one allowance pays for at most one letter. A
// storage fault yields an error wrapping ErrStorageUnavailable and never an
// allowed decision.
func (g *Gate) EvaluateAndConsume(ctx context.Context, attempt Attempt) (Decision, error) {
	p := attempt.Principal
	if p.UserID == "" {
		return Decision{}, ErrInvalidUser
	}

	ctx, span := g.tracer.Start(ctx, observability.SpanCreditEvaluate)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrUserID, p.UserID))

	d, err := g.evaluate(ctx, p.UserID, p.SuperUser, attempt.IdempotencyKey)
	if err != nil {
		g.metrics.RecordStorageError(ctx, "credits")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("Credit evaluation failed", "user", p.UserID, "error", err)
		return Decision{}, err
	}

	span.SetAttributes(
		attribute.Bool(observability.AttrAllowed, d.Allowed),
		attribute.String(observability.AttrReason, string(d.Reason)),
	)
	g.metrics.RecordCreditDecision(ctx, string(d.Reason), d.Allowed)
	return d, nil
}

func (g *Gate) evaluate(ctx context.Context, userID string, superUser bool, key string) (Decision, error) {
	if superUser {
		g.logger.Info("Super user bypassed credit check", "user", userID)
		return allow(ReasonSuperUser), nil
	}

	acct, err := g.account(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if acct.IsSuperUser {
		g.logger.Info("Super user bypassed credit check", "user", userID, "source", "store")
		return allow(ReasonSuperUser), nil
	}

	// A used trial is re-checked only for keyed retries, which may be the
	// request that claimed it.
	used := acct.HasUsedFreeTrial()
	if g.freeTrial && (!used || key != "") {
		claim, err := g.claimTrial(ctx, userID, key)
		if err != nil {
			return Decision{}, err
		}
		switch claim {
		case TrialClaimed:
			g.logger.Info("Free trial consumed", "user", userID)
			return allow(ReasonFreeTrial), nil
		case TrialReplayed:
			g.logger.Warn("Duplicate request for free trial", "user", userID, "key", key)
			return duplicate(), nil
		}
	}

	adj, err := g.adjust(ctx, userID, -1, key)
	switch {
	case err == nil && adj.Replayed:
		g.logger.Warn("Duplicate request for subscription credit", "user", userID, "key", key)
		d := duplicate()
		d.CreditsRemaining = adj.Balance
		return d, nil
	case err == nil:
		d := allow(ReasonSubscriptionCredit)
		d.CreditsRemaining = adj.Balance
		return d, nil
	case errors.Is(err, ErrInsufficientCredits):
		return deny(ReasonCreditsExhausted), nil
	case errors.Is(err, ErrNoSubscription):
		return deny(ReasonNoFreeTrialAndNoSubscription), nil
	default:
		return Decision{}, storageError("consume credit", err)
	}
}

// Refund returns the subscription credit consumed under key and releases
// the key, so a retry with the same key is charged again. Refunding twice
// changes nothing.
func (g *Gate) Refund(ctx context.Context, userID, key string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if key == "" {
		return fmt.Errorf("refund requires the idempotency key of the consumption")
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()
	adj, err := g.store.ReleaseCredits(ctx, userID, key)
	if err != nil {
		if !errors.Is(err, ErrNoSubscription) {
			g.metrics.RecordStorageError(ctx, "credits")
		}
		return fmt.Errorf("failed to refund credit: %w", err)
	}
	g.logger.Info("Credit refunded", "user", userID, "balance", adj.Balance, "replayed", adj.Replayed)
	return nil
}

// Balance reads the account for userID.
func (g *Gate) Balance(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return g.account(ctx, userID)
}

// Store returns the underlying store.
func (g *Gate) Store() Store {
	return g.store
}

func (g *Gate) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gate) account(ctx context.Context, userID string) (*Account, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	acct, err := g.store.Account(ctx, userID)
	if err != nil {
		return nil, storageError("read account", err)
	}
	return acct, nil
}

func (g *Gate) claimTrial(ctx context.Context, userID, key string) (TrialClaim, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	claim, err := g.store.ClaimFreeTrial(ctx, userID, key)
	if err != nil {
		return TrialTaken, storageError("claim free trial", err)
	}
	return claim, nil
}

func (g *Gate) adjust(ctx context.Context, userID string, delta int64, key string) (Adjustment, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.store.AdjustCredits(ctx, userID, delta, key)
}
