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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records admission, rate limit, credit and HTTP measurements.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	admissions        metric.Int64Counter
	admissionDuration metric.Float64Histogram
	rateLimitDecision metric.Int64Counter
	creditDecision    metric.Int64Counter
	storageErrors     metric.Int64Counter
	auditDropped      metric.Int64Counter
	httpRequests      metric.Int64Counter
	httpDuration      metric.Float64Histogram
}

// NewMetrics creates instruments backed by a private Prometheus registry.
// It returns nil when metrics are disabled.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(cfg.Namespace)
	name := func(s string) string { return cfg.Namespace + "_" + s }

	m := &Metrics{registry: registry, provider: provider}

	if m.admissions, err = meter.Int64Counter(name("admission_total"),
		metric.WithDescription("Terminal admission outcomes")); err != nil {
		return nil, fmt.Errorf("failed to create admission counter: %w", err)
	}
	if m.admissionDuration, err = meter.Float64Histogram(name("admission_duration_seconds"),
		metric.WithDescription("Time from admission start to terminal outcome"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create admission histogram: %w", err)
	}
	if m.rateLimitDecision, err = meter.Int64Counter(name("ratelimit_decisions_total"),
		metric.WithDescription("Rate limiter decisions")); err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	if m.creditDecision, err = meter.Int64Counter(name("credit_decisions_total"),
		metric.WithDescription("Credit gate determinations")); err != nil {
		return nil, fmt.Errorf("failed to create credit counter: %w", err)
	}
	if m.storageErrors, err = meter.Int64Counter(name("storage_errors_total"),
		metric.WithDescription("Infrastructure faults by component")); err != nil {
		return nil, fmt.Errorf("failed to create storage error counter: %w", err)
	}
	if m.auditDropped, err = meter.Int64Counter(name("audit_write_failures_total"),
		metric.WithDescription("Audit records that could not be written")); err != nil {
		return nil, fmt.Errorf("failed to create audit counter: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(name("http_requests_total"),
		metric.WithDescription("HTTP requests by route and status")); err != nil {
		return nil, fmt.Errorf("failed to create http counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram(name("http_request_duration_seconds"),
		metric.WithDescription("HTTP request latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create http histogram: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordAdmission(ctx context.Context, endpoint, outcome, reason string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	)
	m.admissions.Add(ctx, 1, attrs)
	m.admissionDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordRateLimit(ctx context.Context, endpoint string, allowed, degraded bool) {
	if m == nil {
		return
	}
	m.rateLimitDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Bool("allowed", allowed),
		attribute.Bool("degraded", degraded),
	))
}

func (m *Metrics) RecordCreditDecision(ctx context.Context, reason string, allowed bool) {
	if m == nil {
		return
	}
	m.creditDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.Bool("allowed", allowed),
	))
}

func (m *Metrics) RecordStorageError(ctx context.Context, component string) {
	if m == nil {
		return
	}
	m.storageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}

func (m *Metrics) RecordAuditFailure(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.auditDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
