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

// Package ratelimit bounds the request rate per client per endpoint using
// fixed windows.
//
// Features:
//   - Per-endpoint policies with a default for unlisted endpoints
//   - In-process (MemoryStore) and shared (SQLStore) counters
//   - Explicit fail-open / fail-closed behaviour when the store is down
//   - Lazy expiry plus an optional janitor for stale windows
//   - HTTP middleware with X-RateLimit-* headers
//
// # Basic Usage
//
//	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policies{
//	    Default: ratelimit.Policy{Window: time.Minute, MaxRequests: 60},
//	    Endpoints: map[string]ratelimit.Policy{
//	        "letters.generate": {Window: 15 * time.Minute, MaxRequests: 5},
//	    },
//	})
//
//	d := limiter.Check(ctx, clientID, "letters.generate")
//	if !d.Allowed {
//	    // surface d.RetryAfter
//	}
//
// # Semantics
//
// A window starts on the first request and ends at ResetAt. Every request
// is counted, including denied ones, so a client cannot test the
// boundary. A request issued strictly after ResetAt starts a new window.
//
// Check never returns an error. When the store fails the configured
// FailureMode decides, the decision is marked Degraded and a warning is
// logged.
//
// # Configuration
//
//	rate_limiting:
//	  backend: sql            # memory | sql
//	  sql_database: main
//	  failure_mode: fail_closed
//	  default: { window: 1m, max_requests: 60 }
//	  endpoints:
//	    letters.generate: { window: 15m, max_requests: 5 }
package ratelimit
