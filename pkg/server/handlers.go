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
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kadirpekel/lettergate/pkg/admission"
	"github.com/kadirpekel/lettergate/pkg/auth"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/drafting"
	"github.com/kadirpekel/lettergate/pkg/observability"
	"github.com/kadirpekel/lettergate/pkg/ratelimit"
)

// IdempotencyKeyHeader carries the client's retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 200

type generateResponse struct {
	AdmissionID      string `json:"admission_id"`
	Letter           string `json:"letter"`
	Model            string `json:"model"`
	Reason           string `json:"reason"`
	CreditsRemaining *int64 `json:"credits_remaining,omitempty"`
}

type subscriptionResponse struct {
	Plan             credits.PlanType `json:"plan_type"`
	CreditsRemaining int64            `json:"credits_remaining"`
	PeriodEnd        time.Time        `json:"period_end"`
	Active           bool             `json:"active"`
}

type creditsResponse struct {
	UserID           string                `json:"user_id"`
	SuperUser        bool                  `json:"super_user"`
	FreeTrialUsed    bool                  `json:"free_trial_used"`
	LettersGenerated int64                 `json:"letters_generated"`
	Subscription     *subscriptionResponse `json:"subscription,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req drafting.LetterRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON letter request")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, http.StatusBadRequest, "invalid_request", "Idempotency-Key is too long")
		return
	}

	areq := admission.Request{
		ClientID:       ratelimit.ClientIdentifier(s.trustProxy)(r),
		Endpoint:       EndpointGenerate,
		Token:          auth.BearerToken(r),
		IdempotencyKey: key,
	}

	ctx := r.Context()
	adm, err := s.deps.Pipeline.Admit(ctx, areq)
	switch {
	case errors.Is(err, admission.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing credentials")
		return
	case err != nil:
		s.writeUnavailable(w, adm)
		return
	}

	if !adm.RateLimit.Allowed {
		ratelimit.WriteLimited(w, adm.RateLimit)
		return
	}
	if adm.RateLimit.Limit > 0 {
		ratelimit.SetHeaders(w, adm.RateLimit)
	}
	if !adm.Credit.Allowed {
		writeCreditDenied(w, adm)
		return
	}

	letter, genErr := s.draft(r, req)
	if err := adm.Complete(ctx, genErr); err != nil {
		s.logger.Warn("Admission completion failed", "admission", adm.ID, "error", err)
	}
	if genErr != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]string{
				"code":    admission.ReasonGenerationFailed,
				"message": "The letter could not be generated, please retry",
			},
			"admission_id": adm.ID,
		})
		return
	}

	resp := generateResponse{
		AdmissionID: adm.ID,
		Letter:      letter.Body,
		Model:       letter.Model,
		Reason:      string(adm.Credit.Reason),
	}
	if adm.Credit.Reason == credits.ReasonSubscriptionCredit {
		remaining := adm.Credit.CreditsRemaining
		resp.CreditsRemaining = &remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) draft(r *http.Request, req drafting.LetterRequest) (*drafting.Letter, error) {
	ctx, span := s.tracer.Start(r.Context(), observability.SpanLetterDraft)
	defer span.End()

	letter, err := s.deps.Drafter.Draft(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Letter generation failed", "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("lettergate.letter_bytes", len(letter.Body)))
	return letter, nil
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing credentials")
		return
	}

	acct, err := s.deps.Gate.Balance(r.Context(), p.UserID)
	if err != nil {
		s.logger.Error("Credit balance read failed", "user", p.UserID, "error", err)
		s.writeUnavailable(w, nil)
		return
	}

	resp := creditsResponse{
		UserID:           p.UserID,
		SuperUser:        p.SuperUser || acct.IsSuperUser,
		FreeTrialUsed:    acct.HasUsedFreeTrial(),
		LettersGenerated: acct.LettersGenerated,
	}
	if sub := acct.Subscription; sub != nil {
		resp.Subscription = &subscriptionResponse{
			Plan:             sub.Plan,
			CreditsRemaining: sub.CreditsRemaining,
			PeriodEnd:        sub.PeriodEnd.UTC(),
			Active:           sub.Active(s.clock.Now()),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeCreditDenied answers 402, or 409 when the idempotency key already
// paid for a letter.
func writeCreditDenied(w http.ResponseWriter, adm *admission.Admission) {
	status := http.StatusPaymentRequired
	msg := "No free letter or active subscription, please subscribe to continue"
	switch adm.Credit.Reason {
	case credits.ReasonCreditsExhausted:
		msg = "All credits for this period are used, please upgrade or wait for renewal"
	case credits.ReasonDuplicateRequest:
		status = http.StatusConflict
		msg = "A letter was already admitted for this Idempotency-Key, use a new key for a new letter"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    string(adm.Credit.Reason),
			"message": msg,
		},
		"admission_id": adm.ID,
	})
}

// writeUnavailable answers a storage fault. The cause stays in the logs.
func (s *Server) writeUnavailable(w http.ResponseWriter, adm *admission.Admission) {
	body := map[string]any{
		"error": map[string]string{
			"code":    admission.ReasonStorageUnavailable,
			"message": "Service temporarily unavailable, please retry with the same Idempotency-Key",
		},
	}
	if adm != nil {
		body["admission_id"] = adm.ID
	}
	w.Header().Set("Retry-After", "1")
	writeJSON(w, http.StatusServiceUnavailable, body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
