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
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/observability"
)

// Plan is the allotment granted on each period reset.
type Plan struct {
	Credits int64
	Period  time.Duration
}

// PlansFromConfig converts the credits.plans section.
func PlansFromConfig(cfg *config.CreditsConfig) map[PlanType]Plan {
	plans := make(map[PlanType]Plan, len(cfg.Plans))
	for name, p := range cfg.Plans {
		plans[PlanType(name)] = Plan{Credits: p.Credits, Period: p.Period}
	}
	return plans
}

// Resetter restores allotments for accounts whose billing period has ended.
// It is meant to be run by a scheduler; the store update is conditional on
// the period end, so overlapping runs reset each account once.
type Resetter struct {
	store  Store
	plans  map[PlanType]Plan
	clock  clock.Clock
	tracer *observability.Tracer
	logger *slog.Logger
}

// NewResetter creates a resetter for plans.
func NewResetter(store Store, plans map[PlanType]Plan, c clock.Clock, tracer *observability.Tracer, logger *slog.Logger) (*Resetter, error) {
	if store == nil {
		return nil, fmt.Errorf("credit store is required")
	}
	for name, p := range plans {
		if p.Credits < 0 || p.Period <= 0 {
			return nil, fmt.Errorf("plan %s: credits must be non-negative and period positive", name)
		}
	}
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resetter{store: store, plans: plans, clock: c, tracer: tracer, logger: logger}, nil
}

// Run resets every plan once and returns the number of accounts reset per plan.
func (r *Resetter) Run(ctx context.Context) (map[PlanType]int64, error) {
	ctx, span := r.tracer.Start(ctx, observability.SpanCreditResetJob)
	defer span.End()

	names := make([]string, 0, len(r.plans))
	for name := range r.plans {
		names = append(names, string(name))
	}
	sort.Strings(names)

	now := r.clock.Now()
	out := make(map[PlanType]int64, len(names))
	for _, name := range names {
		plan := PlanType(name)
		p := r.plans[plan]
		n, err := r.store.ResetPeriod(ctx, plan, p.Credits, now.Add(p.Period), now)
		if err != nil {
			span.RecordError(err)
			return out, fmt.Errorf("failed to reset plan %s: %w", plan, err)
		}
		out[plan] = n
		span.SetAttributes(attribute.Int64("lettergate.reset."+name, n))
		r.logger.Info("Credit period reset", "plan", plan, "accounts", n, "credits", p.Credits)
	}
	return out, nil
}
