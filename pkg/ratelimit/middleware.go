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

package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// IdentifierFunc extracts the client identity from an HTTP request.
type IdentifierFunc func(r *http.Request) string

// ClientIdentifier keys requests by source address. With trustProxy the
// first X-Forwarded-For hop is used when present.
func ClientIdentifier(trustProxy bool) IdentifierFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				first, _, _ := strings.Cut(fwd, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return "ip:" + ip
				}
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host == "" {
			return ""
		}
		return "ip:" + host
	}
}

// MiddlewareConfig configures the rate limiting middleware.
type MiddlewareConfig struct {
	Limiter *Limiter

	// Endpoint selects the policy. Every request through this middleware
	// counts against it.
	Endpoint string

	// IdentifierFunc extracts the client identity.
	// If nil, ClientIdentifier(false) is used.
	IdentifierFunc IdentifierFunc

	// ExcludedPaths bypass rate limiting.
	ExcludedPaths []string

	// OnLimited writes the response for denied requests.
	// If nil, WriteLimited is used.
	OnLimited func(w http.ResponseWriter, r *http.Request, d Decision)
}

// Middleware enforces the limiter on every request.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	if cfg.IdentifierFunc == nil {
		cfg.IdentifierFunc = ClientIdentifier(false)
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = func(w http.ResponseWriter, _ *http.Request, d Decision) {
			WriteLimited(w, d)
		}
	}

	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			d := cfg.Limiter.Check(r.Context(), cfg.IdentifierFunc(r), cfg.Endpoint)
			r = r.WithContext(context.WithValue(r.Context(), decisionKey{}, d))

			if !d.Allowed {
				cfg.OnLimited(w, r, d)
				return
			}

			SetHeaders(w, d)
			next.ServeHTTP(w, r)
		})
	}
}

type decisionKey struct{}

// DecisionFromContext returns the decision made by Middleware.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// SetHeaders adds the X-RateLimit-* headers, and Retry-After on denial.
func SetHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(RetryAfterSeconds(d), 10))
	}
}

// RetryAfterSeconds rounds the retry delay up to whole seconds, minimum 1.
func RetryAfterSeconds(d Decision) int64 {
	return max(1, int64(math.Ceil(d.RetryAfter.Seconds())))
}

// WriteLimited sends the standard 429 response.
func WriteLimited(w http.ResponseWriter, d Decision) {
	SetHeaders(w, d)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_exceeded",
			"message": "Too many requests, please retry later",
		},
		"retry_after_seconds": RetryAfterSeconds(d),
		"limit":               d.Limit,
		"remaining":           d.Remaining,
		"resets_at":           d.ResetAt.UTC().Format(time.RFC3339),
	})
}
