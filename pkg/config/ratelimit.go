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

package config

import (
	"fmt"
	"time"
)

// Failure modes applied when the counter store cannot be reached.
const (
	FailOpen   = "fail_open"
	FailClosed = "fail_closed"
)

// RateLimitConfig configures fixed-window request limiting.
//
//	rate_limiting:
//	  backend: sql
//	  sql_database: main
//	  failure_mode: fail_closed
//	  default: { window: 1m, max_requests: 60 }
//	  endpoints:
//	    letters.generate: { window: 15m, max_requests: 5 }
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active. Default: true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Backend is the counter store: "memory" or "sql".
	// The memory backend is only correct for a single process.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=memory,enum=sql,default=memory"`

	// SQLDatabase names an entry in databases. Required for the sql backend.
	SQLDatabase string `yaml:"sql_database,omitempty" json:"sql_database,omitempty"`

	// FailureMode decides the outcome when the store errors.
	// Defaults to fail_closed for sql and fail_open for memory.
	FailureMode string `yaml:"failure_mode,omitempty" json:"failure_mode,omitempty" jsonschema:"enum=fail_open,enum=fail_closed"`

	// CleanupInterval is how often expired windows are swept. Default: 1m.
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty" json:"cleanup_interval,omitempty"`

	// TrustProxy keys anonymous clients by the first X-Forwarded-For hop.
	TrustProxy bool `yaml:"trust_proxy,omitempty" json:"trust_proxy,omitempty"`

	Default   RateLimitPolicy            `yaml:"default,omitempty" json:"default,omitempty"`
	Endpoints map[string]RateLimitPolicy `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// RateLimitPolicy is a window length and the number of requests allowed in it.
type RateLimitPolicy struct {
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int64         `yaml:"max_requests" json:"max_requests"`
}

// IsEnabled reports whether rate limiting is active.
func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && BoolValue(c.Enabled, true)
}

// SetDefaults fills unset fields.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.FailureMode == "" {
		if c.Backend == "sql" {
			c.FailureMode = FailClosed
		} else {
			c.FailureMode = FailOpen
		}
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Minute
	}
	if c.Default.Window == 0 {
		c.Default.Window = time.Minute
	}
	if c.Default.MaxRequests == 0 {
		c.Default.MaxRequests = 60
	}
}

// Validate checks the configuration.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if !oneOf(c.Backend, "memory", "sql") {
		return fmt.Errorf("invalid rate_limiting.backend %q, must be 'memory' or 'sql'", c.Backend)
	}
	if c.Backend == "sql" && c.SQLDatabase == "" {
		return fmt.Errorf("rate_limiting.backend 'sql' requires 'sql_database' reference")
	}
	if !oneOf(c.FailureMode, FailOpen, FailClosed) {
		return fmt.Errorf("invalid rate_limiting.failure_mode %q, must be '%s' or '%s'", c.FailureMode, FailOpen, FailClosed)
	}
	if err := c.Default.validate("default"); err != nil {
		return err
	}
	for name, p := range c.Endpoints {
		if name == "" {
			return fmt.Errorf("rate_limiting.endpoints contains an empty endpoint name")
		}
		if err := p.validate("endpoints." + name); err != nil {
			return err
		}
	}
	return nil
}

func (p RateLimitPolicy) validate(path string) error {
	if p.Window <= 0 {
		return fmt.Errorf("rate_limiting.%s.window must be positive", path)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("rate_limiting.%s.max_requests must be positive", path)
	}
	return nil
}
