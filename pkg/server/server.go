// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/admission"
	"github.com/kadirpekel/lettergate/pkg/auth"
	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/drafting"
	"github.com/kadirpekel/lettergate/pkg/observability"
	"github.com/kadirpekel/lettergate/pkg/ratelimit"
)

// Rate limit endpoint names.
const (
	EndpointGenerate = "letters.generate"
	EndpointCredits  = "credits.read"
)

// Components are the collaborators the routes are built on.
type Components struct {
	Pipeline      *admission.Pipeline
	Gate          *credits.Gate
	Authenticator auth.Authenticator
	Drafter       drafting.Drafter

	// Limiter guards the read routes. The generate route is limited by the
	// pipeline. Nil disables limiting of read routes.
	Limiter *ratelimit.Limiter
}

// Server is the LetterGate HTTP server.
type Server struct {
	cfg  *config.ServerConfig
	deps Components

	trustProxy  bool
	metricsPath string
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      *slog.Logger
	clock       clock.Clock

	server *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithObservability sets tracing and metrics.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		if obs != nil {
			s.metrics = obs.Metrics
			s.tracer = obs.Tracer
		}
	}
}

// WithMetricsPath moves the metrics handler. Default: /metrics.
func WithMetricsPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithTrustProxy keys anonymous clients by X-Forwarded-For.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock sets the time source used to report subscription state.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a server. Call Start to listen.
func New(cfg *config.ServerConfig, deps Components, opts ...Option) (*Server, error) {
	if deps.Pipeline == nil || deps.Gate == nil || deps.Authenticator == nil || deps.Drafter == nil {
		return nil, fmt.Errorf("pipeline, gate, authenticator and drafter are required")
	}
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	cfg.SetDefaults()

	s := &Server{cfg: cfg, deps: deps, metricsPath: "/metrics", logger: slog.Default(), clock: clock.Real{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the router with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.tracer, s.metrics))
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// The pipeline limits this route by client address before it
		// authenticates the bearer token.
		r.Post("/letters:generate", s.handleGenerate)

		r.With(
			auth.Middleware(s.deps.Authenticator),
			ratelimit.Middleware(ratelimit.MiddlewareConfig{
				Limiter:        s.deps.Limiter,
				Endpoint:       EndpointCredits,
				IdentifierFunc: s.clientID,
			}),
		).Get("/credits", s.handleCredits)
	})
	return r
}

// clientID keys the read route limiter: the authenticated user when known,
// otherwise the client address.
func (s *Server) clientID(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return "user:" + p.UserID
	}
	return ratelimit.ClientIdentifier(s.trustProxy)(r)
}

// Start listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	s.logger.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
