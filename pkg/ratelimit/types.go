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
	"fmt"
	"time"

	"github.com/kadirpekel/lettergate/pkg/config"
)

// AnonymousClient is the key used when no client identity is available.
const AnonymousClient = "anonymous"

// Policy is a window length and the number of requests allowed in it.
type Policy struct {
	Window      time.Duration `json:"window"`
	MaxRequests int64         `json:"max_requests"`
}

func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidPolicy, p.Window)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max_requests must be positive, got %d", ErrInvalidPolicy, p.MaxRequests)
	}
	return nil
}

// Policies maps endpoints to policies. Unlisted endpoints use Default.
type Policies struct {
	Default   Policy
	Endpoints map[string]Policy
}

// For returns the policy for endpoint.
func (p Policies) For(endpoint string) Policy {
	if pol, ok := p.Endpoints[endpoint]; ok {
		return pol
	}
	return p.Default
}

func (p Policies) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for name, pol := range p.Endpoints {
		if err := pol.Validate(); err != nil {
			return fmt.Errorf("endpoint %q: %w", name, err)
		}
	}
	return nil
}

// PoliciesFromConfig converts the rate_limiting section into Policies.
func PoliciesFromConfig(cfg *config.RateLimitConfig) Policies {
	p := Policies{
		Default: Policy{Window: cfg.Default.Window, MaxRequests: cfg.Default.MaxRequests},
	}
	if len(cfg.Endpoints) > 0 {
		p.Endpoints = make(map[string]Policy, len(cfg.Endpoints))
		for name, ep := range cfg.Endpoints {
			p.Endpoints[name] = Policy{Window: ep.Window, MaxRequests: ep.MaxRequests}
		}
	}
	return p
}

// Key identifies one window counter.
type Key struct {
	ClientID string
	Endpoint string
}

func (k Key) String() string {
	return k.ClientID + "|" + k.Endpoint
}

// Counter is the state of one window.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Expired reports whether now lies strictly after the window end.
func (c Counter) Expired(now time.Time) bool {
	return now.After(c.ResetAt)
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int64         `json:"limit"`
	Remaining  int64         `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Degraded is set when the store failed and FailureMode decided.
	Degraded bool `json:"degraded,omitempty"`
}

// FailureMode decides the outcome when the counter store fails.
type FailureMode string

const (
	FailOpen   FailureMode = config.FailOpen
	FailClosed FailureMode = config.FailClosed
)

// ParseFailureMode converts a config string. Empty means fail closed.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(s) {
	case FailOpen:
		return FailOpen, nil
	case FailClosed, "":
		return FailClosed, nil
	}
	return "", fmt.Errorf("unknown failure mode %q", s)
}
