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

// Package lettergate guards a paid letter generation service.
//
// Every generation request passes an admission pipeline before any model
// call is made:
//
//  1. A fixed-window rate limiter keyed by client and endpoint.
//  2. Authentication of the caller.
//  3. A credit gate that atomically decides and consumes one of: the
//     super-user bypass, the one-time free trial, or a subscription credit.
//  4. An audit record for every terminal outcome.
//
// Start the server:
//
//	lettergate serve --config lettergate.yaml
//
// A minimal local configuration:
//
//	auth:
//	  provider: static
//	  static_tokens:
//	    dev-token: { user_id: dev }
//	drafting:
//	  provider: static
//	rate_limiting:
//	  endpoints:
//	    letters.generate: { window: 15m, max_requests: 5 }
//
// # Packages
//
//   - pkg/ratelimit: fixed-window limiter with memory and SQL stores
//   - pkg/credits: credit gate, account stores and the period reset job
//   - pkg/credits/ledger: TigerBeetle-backed account store
//   - pkg/admission: the pipeline tying limiter, identity, gate and audit
//   - pkg/audit: audit sinks (log, SQL, DuckDB, async)
//   - pkg/server: the HTTP surface
//   - pkg/runtime: assembles everything from a Config
package lettergate
