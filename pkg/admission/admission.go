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

package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kadirpekel/lettergate/pkg/audit"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/ratelimit"
)

// Outcome is the terminal result of an admission. It is the value recorded
// by the audit sink.
type Outcome = audit.Outcome

const (
	OutcomeAllowed         = audit.OutcomeAllowed
	OutcomeDeniedRateLimit = audit.OutcomeDeniedRateLimit
	OutcomeDeniedNoCredit  = audit.OutcomeDeniedNoCredit
	OutcomeError           = audit.OutcomeError

	// OutcomePending marks an allowed admission whose generation has not
	// reported back through Complete yet.
	OutcomePending Outcome = "pending"
)

// Audit reasons that are not credit reasons.
const (
	ReasonRateLimited        = "rate_limit_exceeded"
	ReasonRateLimitDegraded  = "rate_limit_store_unavailable"
	ReasonStorageUnavailable = "storage_unavailable"
	ReasonGenerationFailed   = "generation_failed"
)

var (
	// ErrUnauthenticated means no principal could be resolved. It is not an
	// admission outcome and is never audited.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrAlreadyCompleted is returned by Complete after the first call.
	ErrAlreadyCompleted = errors.New("admission already completed")
)

// Request is one generation request entering the pipeline.
type Request struct {
	// ClientID keys the rate limiter: a user id or a client address.
	ClientID string

	Endpoint string

	// Token is resolved by the Authenticator when Principal is nil.
	Token     string
	Principal *credits.Principal

	// IdempotencyKey makes a retried request reuse the allowance consumed
	// by the first attempt. Empty means the admission ID is used.
	IdempotencyKey string
}

// Admission is the pipeline's determination for one Request.
type Admission struct {
	ID        string
	ClientID  string
	Endpoint  string
	Outcome   Outcome
	Principal credits.Principal
	RateLimit ratelimit.Decision
	Credit    credits.Decision

	key      string
	started  time.Time
	pipeline *Pipeline
	once     sync.Once
	mu       sync.Mutex
}

// Allowed reports whether the caller may proceed to generation.
func (a *Admission) Allowed() bool {
	return a.RateLimit.Allowed && a.Credit.Allowed
}

// Err returns the denial as an error: a *ratelimit.LimitError or a
// *credits.DenialError. It is nil for allowed admissions.
func (a *Admission) Err() error {
	switch {
	case !a.RateLimit.Allowed:
		return &ratelimit.LimitError{Endpoint: a.Endpoint, Decision: a.RateLimit}
	case !a.Credit.Allowed && a.Credit.Reason != "":
		return &credits.DenialError{Decision: a.Credit}
	}
	return nil
}

// IdempotencyKey is the key the allowance was consumed under.
func (a *Admission) IdempotencyKey() string {
	return a.key
}

// CurrentOutcome reads the outcome under lock. Use it when Complete may run
// concurrently.
func (a *Admission) CurrentOutcome() Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Outcome
}

// Complete reports the generation result for an allowed admission and emits
// its terminal audit record. A nil genErr records the letter. A non-nil
// genErr returns a consumed subscription credit; a claimed free trial stays
// claimed.
//
// Only the first call has an effect.
func (a *Admission) Complete(ctx context.Context, genErr error) error {
	if !a.Allowed() {
		return errors.New("complete called on a denied admission")
	}
	err := ErrAlreadyCompleted
	a.once.Do(func() {
		err = a.pipeline.complete(context.WithoutCancel(ctx), a, genErr)
	})
	return err
}

func (a *Admission) setOutcome(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Outcome = o
}

func (a *Admission) record(o Outcome, reason string, at time.Time) audit.Record {
	return audit.Record{
		ID:        a.ID,
		UserID:    a.Principal.UserID,
		ClientID:  a.ClientID,
		Endpoint:  a.Endpoint,
		Outcome:   o,
		Reason:    reason,
		Timestamp: at,
	}
}
