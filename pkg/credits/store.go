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
	"context"
	"time"
)

// Store is the durable account store.
//
// ClaimFreeTrial and AdjustCredits must each be one atomic conditional
// operation at the storage level. In-process locks are not enough when
// several service instances share the store.
type Store interface {
	// Account reads the current state. Unknown users yield an empty Account.
	Account(ctx context.Context, userID string) (*Account, error)

	// ClaimFreeTrial sets the durable trial marker if it is unset. It reports
	// TrialReplayed when an earlier call with the same non-empty key owns the
	// marker, and TrialTaken when some other attempt does.
	ClaimFreeTrial(ctx context.Context, userID, key string) (TrialClaim, error)

	// AdjustCredits adds delta to the remaining credits only if the result
	// stays >= 0. Negative deltas also require an active subscription.
	// A non-empty key is applied at most once; a repeat returns the current
	// balance with Replayed set.
	//
	// Errors: ErrInsufficientCredits, ErrNoSubscription, ErrInvalidAmount,
	// or ErrStorageUnavailable.
	AdjustCredits(ctx context.Context, userID string, delta int64, key string) (Adjustment, error)

	// ReleaseCredits gives back the credits consumed under key and forgets
	// the key, so a later AdjustCredits with the same key consumes again.
	// When key holds no consumption nothing changes and Replayed is set.
	ReleaseCredits(ctx context.Context, userID, key string) (Adjustment, error)

	// SetSubscription provisions or renews a subscription.
	SetSubscription(ctx context.Context, userID string, sub Subscription) error

	SetSuperUser(ctx context.Context, userID string, superUser bool) error

	// ResetPeriod sets the allotment for every account on plan whose period
	// has ended at now, and moves their period end. It returns the number of
	// accounts reset.
	ResetPeriod(ctx context.Context, plan PlanType, credits int64, periodEnd, now time.Time) (int64, error)

	// RecordLetter counts one successfully generated letter.
	RecordLetter(ctx context.Context, userID string) error

	// DeleteLetters forgets generated letters. The trial marker is untouched.
	DeleteLetters(ctx context.Context, userID string) error

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
