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

// Package server exposes the admission pipeline over HTTP.
//
// Routes:
//
//	POST /v1/letters:generate  admit, draft, complete
//	GET  /v1/credits           current allowance for the caller
//	GET  /health
//	GET  /metrics              when metrics are enabled
//
// Admission outcomes map to status codes: 200 allowed, 401 unauthenticated,
// 402 no credit, 429 rate limited, 503 storage unavailable. Storage error
// text is never written to a response.
package server
