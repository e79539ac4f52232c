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

// Package runtime assembles a running LetterGate from a Config: the shared
// database pool, observability, the rate limiter, the credit store and gate,
// the audit sink, identity, drafting, the admission pipeline and the HTTP
// server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/admission"
	"github.com/kadirpekel/lettergate/pkg/audit"
	"github.com/kadirpekel/lettergate/pkg/auth"
	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/drafting"
	"github.com/kadirpekel/lettergate/pkg/observability"
	"github.com/kadirpekel/lettergate/pkg/ratelimit"
	"github.com/kadirpekel/lettergate/pkg/server"
)

// Runtime owns every long-lived component. Close releases them in reverse
// order of construction.
type Runtime struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *slog.Logger

	pool     *config.DBPool
	obs      *observability.Manager
	limiter  *ratelimit.Limiter
	store    credits.Store
	gate     *credits.Gate
	sink     audit.Sink
	authn    auth.Authenticator
	drafter  drafting.Drafter
	pipeline *admission.Pipeline
	resetter *credits.Resetter
	server   *server.Server

	storeFactory   CreditStoreFactory
	authnFactory   AuthenticatorFactory
	drafterFactory DrafterFactory

	closers []func(context.Context) error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCreditStoreFactory replaces DefaultCreditStoreFactory.
func WithCreditStoreFactory(f CreditStoreFactory) Option {
	return func(r *Runtime) { r.storeFactory = f }
}

// WithAuthenticatorFactory replaces DefaultAuthenticatorFactory.
func WithAuthenticatorFactory(f AuthenticatorFactory) Option {
	return func(r *Runtime) { r.authnFactory = f }
}

// WithDrafterFactory replaces DefaultDrafterFactory.
func WithDrafterFactory(f DrafterFactory) Option {
	return func(r *Runtime) { r.drafterFactory = f }
}

func WithClock(c clock.Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// New builds a Runtime from cfg. cfg must already carry defaults and have
// passed validation. On error every component built so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{
		cfg:            cfg,
		clock:          clock.Real{},
		logger:         slog.Default(),
		storeFactory:   DefaultCreditStoreFactory,
		authnFactory:   DefaultAuthenticatorFactory,
		drafterFactory: DefaultDrafterFactory,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.build(ctx); err != nil {
		if cerr := r.Close(context.WithoutCancel(ctx)); cerr != nil {
			r.logger.Warn("Cleanup after failed start", "error", cerr)
		}
		return nil, err
	}
	return r, nil
}

func (r *Runtime) build(ctx context.Context) error {
	cfg := r.cfg

	r.pool = config.NewDBPool()
	r.onClose(func(context.Context) error { return r.pool.Close() })

	obs, err := observability.NewManager(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	r.obs = obs
	r.onClose(obs.Shutdown)

	r.limiter, err = ratelimit.NewFromConfig(ctx, cfg, r.pool,
		ratelimit.WithClock(r.clock),
		ratelimit.WithMetrics(obs.Metrics),
		ratelimit.WithTracer(obs.Tracer),
		ratelimit.WithLogger(r.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if r.limiter != nil {
		r.onClose(closeFunc(r.limiter))
	}

	r.store, err = r.storeFactory(ctx, cfg, r.pool, r.clock)
	if err != nil {
		return fmt.Errorf("failed to create credit store: %w", err)
	}
	r.onClose(closeFunc(r.store))

	gateOpts := append(credits.GateOptionsFromConfig(&cfg.Credits),
		credits.WithClock(r.clock),
		credits.WithMetrics(obs.Metrics),
		credits.WithTracer(obs.Tracer),
		credits.WithLogger(r.logger),
	)
	r.gate, err = credits.NewGate(r.store, gateOpts...)
	if err != nil {
		return fmt.Errorf("failed to create credit gate: %w", err)
	}

	r.resetter, err = credits.NewResetter(r.store, credits.PlansFromConfig(&cfg.Credits), r.clock, obs.Tracer, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create credit resetter: %w", err)
	}

	r.sink, err = audit.NewFromConfig(ctx, cfg, r.pool, obs.Metrics, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create audit sink: %w", err)
	}
	r.onClose(closeFunc(r.sink))

	r.authn, err = r.authnFactory(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}
	if c, ok := r.authn.(io.Closer); ok {
		r.onClose(closeFunc(c))
	}

	r.drafter, err = r.drafterFactory(&cfg.Drafting)
	if err != nil {
		return fmt.Errorf("failed to create drafter: %w", err)
	}
	r.onClose(closeFunc(r.drafter))

	r.pipeline, err = admission.New(r.gate,
		admission.WithLimiter(r.limiter),
		admission.WithAuthenticator(r.authn),
		admission.WithAuditSink(r.sink),
		admission.WithClock(r.clock),
		admission.WithMetrics(obs.Metrics),
		admission.WithTracer(obs.Tracer),
		admission.WithLogger(r.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create admission pipeline: %w", err)
	}

	deps := server.Components{
		Pipeline:      r.pipeline,
		Gate:          r.gate,
		Authenticator: r.authn,
		Drafter:       r.drafter,
		Limiter:       r.limiter,
	}
	r.server, err = server.New(&cfg.Server, deps,
		server.WithObservability(obs),
		server.WithMetricsPath(cfg.Observability.Metrics.Path),
		server.WithTrustProxy(cfg.RateLimiting.TrustProxy),
		server.WithLogger(r.logger),
		server.WithClock(r.clock),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	r.logger.Info("Runtime initialized",
		"rate_limiting", r.limiter != nil,
		"credits_backend", cfg.Credits.Backend,
		"free_trial", cfg.Credits.FreeTrialEnabled(),
		"audit_sinks", cfg.Audit.Sinks,
		"auth", cfg.Auth.Provider,
		"drafting", cfg.Drafting.Provider,
	)
	return nil
}

func (r *Runtime) onClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

func closeFunc(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

func (r *Runtime) Config() *config.Config { return r.cfg }
func (r *Runtime) Gate() *credits.Gate { return r.gate }
func (r *Runtime) Store() credits.Store { return r.store }
func (r *Runtime) Limiter() *ratelimit.Limiter { return r.limiter }
func (r *Runtime) Pipeline() *admission.Pipeline { return r.pipeline }
func (r *Runtime) Resetter() *credits.Resetter { return r.resetter }
func (r *Runtime) Server() *server.Server { return r.server }
func (r *Runtime) Observability() *observability.Manager { return r.obs }

// Run serves HTTP and sweeps expired rate windows until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.server.Start(ctx)
	})
	if r.limiter != nil {
		g.Go(func() error {
			r.limiter.RunJanitor(ctx, r.cfg.RateLimiting.CleanupInterval)
			return nil
		})
	}
	return g.Wait()
}

// UpdateRateLimits applies the policies of a reloaded config. Other
// sections need a restart to take effect.
func (r *Runtime) UpdateRateLimits(cfg *config.Config) error {
	if r.limiter == nil {
		if cfg.RateLimiting.IsEnabled() {
			r.logger.Warn("Rate limiting was enabled in the reloaded config; restart to apply")
		}
		return nil
	}
	if !cfg.RateLimiting.IsEnabled() {
		r.logger.Warn("Rate limiting was disabled in the reloaded config; restart to apply")
		return nil
	}
	if err := r.limiter.UpdatePolicies(ratelimit.PoliciesFromConfig(&cfg.RateLimiting)); err != nil {
		return fmt.Errorf("failed to update rate limits: %w", err)
	}
	r.logger.Info("Rate limit policies updated", "endpoints", len(cfg.RateLimiting.Endpoints))
	return nil
}

// Close releases every component. It is safe to call more than once.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
