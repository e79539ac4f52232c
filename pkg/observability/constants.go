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

const DefaultServiceName = "lettergate"

// Span names.
const (
	SpanHTTPRequest    = "http.request"
	SpanAdmission      = "admission.admit"
	SpanRateLimitCheck = "ratelimit.check"
	SpanCreditEvaluate = "credits.evaluate"
	SpanLetterDraft    = "drafting.draft"
	SpanCreditResetJob = "credits.reset_period"
)

// Attribute keys.
const (
	AttrEndpoint       = "lettergate.endpoint"
	AttrClientID       = "lettergate.client_id"
	AttrUserID         = "lettergate.user_id"
	AttrOutcome        = "lettergate.outcome"
	AttrReason         = "lettergate.reason"
	AttrAllowed        = "lettergate.allowed"
	AttrDegraded       = "lettergate.degraded"
	AttrRemaining      = "lettergate.remaining"
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
)
