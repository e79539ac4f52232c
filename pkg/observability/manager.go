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
	"errors"
)

// Manager owns the tracer and metrics for the lifetime of the process.
type Manager struct {
	Tracer  *Tracer
	Metrics *Metrics
}

// NewManager initializes whatever cfg enables. Disabled parts stay nil and
// their nil receivers are no-ops.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	tracer, err := NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}
	return &Manager{Tracer: tracer, Metrics: metrics}, nil
}

// Shutdown flushes spans and stops metric collection.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return errors.Join(m.Tracer.Shutdown(ctx), m.Metrics.Shutdown(ctx))
}
