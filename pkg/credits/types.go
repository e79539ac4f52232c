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

package credits

import (
	"time"
)

// PlanType names a subscription plan.
type PlanType string

const (
	PlanMonthly      PlanType = "monthly"
	PlanAnnual       PlanType = "annual"
	PlanPayPerLetter PlanType = "pay_per_letter"
)

// Subscription is a paid allowance for one billing period.
type Subscription struct {
	Plan             PlanType  `json:"plan_type"`
	CreditsRemaining int64     `json:"credits_remaining"`
	PeriodEnd        time.Time `json:"period_end"`
}

// Active reports whether the subscription exists and its period has not ended.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil && s.Plan != "" && s.PeriodEnd.After(now)
}

// Account is one user's credit state as read from the store.
// A nil Subscription means the user has never subscribed.
type Account struct {
	UserID             string        `json:"user_id"`
	IsSuperUser        bool          `json:"is_super_user"`
	FreeTrialClaimedAt *time.Time    `json:"free_trial_claimed_at,omitempty"`
	Subscription       *Subscription `json:"subscription,omitempty"`
	LettersGenerated   int64         `json:"letters_generated"`
}

// HasUsedFreeTrial reports whether the durable trial marker is set.
func (a *Account) HasUsedFreeTrial() bool {
	return a != nil && a.FreeTrialClaimedAt != nil
}

// ActiveSubscription returns the subscription if it is active at now.
func (a *Account) ActiveSubscription(now time.Time) *Subscription {
	if a == nil || !a.Subscription.Active(now) {
		return nil
	}
	return a.Subscription
}

// Principal is the identity supplied by the identity provider.
type Principal struct {
	UserID    string `json:"user_id"`
	SuperUser bool   `json:"super_user"`
}

// Attempt is one request to consume one unit of allowance.
type Attempt struct {
	Principal Principal

	// IdempotencyKey makes retries after an ambiguous failure safe.
	// Empty means every call is a new attempt.
	IdempotencyKey string
}

// Reason explains a Decision.
type Reason string

const (
	ReasonFreeTrial                    Reason = "free_trial"
	ReasonSubscriptionCredit           Reason = "subscription_credit"
	ReasonSuperUser                    Reason = "super_user"
	ReasonNoFreeTrialAndNoSubscription Reason = "no_free_trial_and_no_subscription"
	ReasonCreditsExhausted             Reason = "credits_exhausted"

	// ReasonDuplicateRequest denies a retry whose idempotency key already
	// holds an allowance. The earlier attempt owns that allowance.
	ReasonDuplicateRequest Reason = "duplicate_request"
)

// Decision is the single determination for an Attempt.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`

	// CreditsRemaining is the balance after a subscription credit was
	// consumed. It is zero for other reasons.
	CreditsRemaining int64 `json:"credits_remaining"`

	// Replayed is set when the idempotency key had already been applied.
	// Such a decision is never allowed.
	Replayed bool `json:"replayed,omitempty"`
}

func allow(reason Reason) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

func duplicate() Decision {
	return Decision{Allowed: false, Reason: ReasonDuplicateRequest, Replayed: true}
}

// TrialClaim is the result of Store.ClaimFreeTrial.
type TrialClaim int

const (
	// TrialTaken means the trial was claimed earlier under another key.
	TrialTaken TrialClaim = iota

	// TrialClaimed means this call set the trial marker.
	TrialClaimed

	// TrialReplayed means an earlier call with the same key set the marker.
	TrialReplayed
)

func (c TrialClaim) String() string {
	switch c {
	case TrialClaimed:
		return "claimed"
	case TrialReplayed:
		return "replayed"
	default:
		return "taken"
	}
}

// Adjustment is the result of a conditional credit update.
type Adjustment struct {
	Balance  int64
	Replayed bool
}
