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

// Package creditstest checks that a credits.Store honours the store
// contract. Every store implementation runs it from its own tests.
package creditstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/credits"
)

// Epoch is the starting time of the manual clock handed to stores.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// NewStoreFunc creates an empty store that reads time from clk.
type NewStoreFunc func(t *testing.T, clk *clock.Manual) credits.Store

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s credits.Store, clk *clock.Manual)
	}{
		{"UnknownUserIsEmpty", unknownUserIsEmpty},
		{"FreeTrialClaimedOnce", freeTrialClaimedOnce},
		{"ConcurrentTrialClaims", concurrentTrialClaims},
		{"NoSubscription", noSubscription},
		{"ConsumeToZero", consumeToZero},
		{"ConcurrentConsumption", concurrentConsumption},
		{"IdempotentConsume", idempotentConsume},
		{"ExpiredSubscription", expiredSubscription},
		{"ReleaseReopensKey", releaseReopensKey},
		{"ReleaseUnknownKey", releaseUnknownKey},
		{"DeniedKeyRetriesAfterFunding", deniedKeyRetriesAfterFunding},
		{"ResetPeriod", resetPeriod},
		{"DeleteLettersKeepsTrial", deleteLettersKeepsTrial},
		{"ZeroDelta", zeroDelta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewManual(Epoch)
			s := newStore(t, clk)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s, clk)
		})
	}
}

func subscribe(t *testing.T, s credits.Store, userID string, n int64, periodEnd time.Time) {
	t.Helper()
	require.NoError(t, s.SetSubscription(context.Background(), userID, credits.Subscription{
		Plan:             credits.PlanMonthly,
		CreditsRemaining: n,
		PeriodEnd:        periodEnd,
	}))
}

func unknownUserIsEmpty(t *testing.T, s credits.Store, _ *clock.Manual) {
	a, err := s.Account(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", a.UserID)
	assert.False(t, a.IsSuperUser)
	assert.False(t, a.HasUsedFreeTrial())
	assert.Nil(t, a.Subscription)
}

func freeTrialClaimedOnce(t *testing.T, s credits.Store, _ *clock.Manual) {
	ctx := context.Background()

	claim, err := s.ClaimFreeTrial(ctx, "u1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, credits.TrialClaimed, claim)

	claim, err = s.ClaimFreeTrial(ctx, "u1", "req-2")
	require.NoError(t, err)
	assert.Equal(t, credits.TrialTaken, claim, "second claim with a different key")

	claim, err = s.ClaimFreeTrial(ctx, "u1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, credits.TrialReplayed, claim, "retry with the winning key")

	claim, err = s.ClaimFreeTrial(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, credits.TrialTaken, claim, "unkeyed claims never replay")

	a, err := s.Account(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, a.HasUsedFreeTrial())

	claim, err = s.ClaimFreeTrial(ctx, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, credits.TrialClaimed, claim, "claims are per user")
}

func concurrentTrialClaims(t *testing.T, s credits.Store, _ *clock.Manual) {
	const n = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claim, err := s.ClaimFreeTrial(context.Background(), "racer", fmt.Sprintf("req-%d", i))
			assert.NoError(t, err)
			if claim == credits.TrialClaimed {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func noSubscription(t *testing.T, s credits.Store, _ *clock.Manual) {
	_, err := s.AdjustCredits(context.Background(), "u1", -1, "k")
	assert.ErrorIs(t, err, credits.ErrNoSubscription)
}

func consumeToZero(t *testing.T, s credits.Store, clk *clock.Manual) {
	ctx := context.Background()
	subscribe(t, s, "u1", 2, clk.Now().Add(30*24*time.Hour))

	adj, err := s.AdjustCredits(ctx, "u1", -1, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), adj.Balance)

	adj, err = s.AdjustCredits(ctx, "u1", -1, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), adj.Balance)

	_, err = s.AdjustCredits(ctx, "u1", -1, "c")
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)

	a, err := s.Account(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, a.Subscription)
	assert.Equal(t, int64(0), a.Subscription.CreditsRemaining)
	assert.Equal(t, credits.PlanMonthly, a.Subscription.Plan)
}

func concurrentConsumption(t *testing.T, s credits.Store, clk *clock.Manual) {
	const credit, attempts = 5, 25
	subscribe(t, s, "u1", credit, clk.Now().Add(24*time.Hour))

	var allowed, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AdjustCredits(context.Background(), "u1", -1, fmt.Sprintf("req-%d", i))
			switch {
			case err == nil:
				allowed.Add(1)
			case errors.Is(err, credits.ErrInsufficientCredits):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(credit), allowed.Load())
	assert.Equal(t, int32(attempts-credit), denied.Load())

	a, err := s.Account(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.Subscription.CreditsRemaining)
}

func idempotentConsume(t *testing.T, s credits.Store, clk *clock.Manual) {
	ctx := context.Background()
	subscribe(t, s, "u1", 3, clk.Now().Add(time.Hour))

	first, err := s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(2), again.Balance)
}

func expiredSubscription(t *testing.T, s credits.Store, clk *clock.Manual) {
	subscribe(t, s, "u1", 5, clk.Now().Add(time.Hour))
	clk.Advance(time.Hour)

	_, err := s.AdjustCredits(context.Background(), "u1", -1, "late")
	assert.ErrorIs(t, err, credits.ErrNoSubscription)
}

func releaseReopensKey(t *testing.T, s credits.Store, clk *clock.Manual) {
	ctx := context.Background()
	subscribe(t, s, "u1", 1, clk.Now().Add(time.Hour))

	_, err := s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.NoError(t, err)

	adj, err := s.ReleaseCredits(ctx, "u1", "req-1")
	require.NoError(t, err)
	assert.False(t, adj.Replayed)
	assert.Equal(t, int64(1), adj.Balance)

	adj, err = s.ReleaseCredits(ctx, "u1", "req-1")
	require.NoError(t, err)
	assert.True(t, adj.Replayed, "second release")
	assert.Equal(t, int64(1), adj.Balance)

	adj, err = s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.NoError(t, err)
	assert.False(t, adj.Replayed, "a released key is charged again")
	assert.Equal(t, int64(0), adj.Balance)

	adj, err = s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.NoError(t, err)
	assert.True(t, adj.Replayed)
	assert.Equal(t, int64(0), adj.Balance)
}

func releaseUnknownKey(t *testing.T, s credits.Store, clk *clock.Manual) {
	ctx := context.Background()
	subscribe(t, s, "u1", 2, clk.Now().Add(time.Hour))

	adj, err := s.ReleaseCredits(ctx, "u1", "never-used")
	require.NoError(t, err)
	assert.True(t, adj.Replayed)
	assert.Equal(t, int64(2), adj.Balance)
}

func deniedKeyRetriesAfterFunding(t *testing.T, s credits.Store, clk *clock.Manual) {
	ctx := context.Background()
	subscribe(t, s, "u1", 0, clk.Now().Add(time.Hour))

	_, err := s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.ErrorIs(t, err, credits.ErrInsufficientCredits)
	_, err = s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.ErrorIs(t, err, credits.ErrInsufficientCredits, "still nothing to spend")

	adj, err := s.AdjustCredits(ctx, "u1", 1, "grant-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), adj.Balance)

	adj, err = s.AdjustCredits(ctx, "u1", -1, "req-1")
	require.NoError(t, err)
	assert.False(t, adj.Replayed)
	assert.Equal(t, int64(0), adj.Balance)
}

func resetPeriod(t *testing.T, s credits.Store, clk *clock.Manual) {
	ctx := context.Background()
	subscribe(t, s, "u1", 0, clk.Now().Add(time.Hour))
	subscribe(t, s, "u2", 4, clk.Now().Add(48*time.Hour))

	clk.Advance(2 * time.Hour)
	now := clk.Now()
	next := now.Add(30 * 24 * time.Hour)

	n, err := s.ResetPeriod(ctx, credits.PlanMonthly, 20, next, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a, err := s.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), a.Subscription.CreditsRemaining)
	assert.WithinDuration(t, next, a.Subscription.PeriodEnd, time.Millisecond)

	b, err := s.Account(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(4), b.Subscription.CreditsRemaining, "period not ended")

	n, err = s.ResetPeriod(ctx, credits.PlanMonthly, 20, next, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second run is a no-op")

	n, err = s.ResetPeriod(ctx, credits.PlanAnnual, 25, next, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func deleteLettersKeepsTrial(t *testing.T, s credits.Store, _ *clock.Manual) {
	ctx := context.Background()

	claim, err := s.ClaimFreeTrial(ctx, "u1", "req-1")
	require.NoError(t, err)
	require.Equal(t, credits.TrialClaimed, claim)
	require.NoError(t, s.RecordLetter(ctx, "u1"))
	require.NoError(t, s.RecordLetter(ctx, "u1"))

	a, err := s.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.LettersGenerated)

	require.NoError(t, s.DeleteLetters(ctx, "u1"))

	a, err = s.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.LettersGenerated)
	assert.True(t, a.HasUsedFreeTrial())

	claim, err = s.ClaimFreeTrial(ctx, "u1", "req-2")
	require.NoError(t, err)
	assert.Equal(t, credits.TrialTaken, claim)
}

func zeroDelta(t *testing.T, s credits.Store, _ *clock.Manual) {
	_, err := s.AdjustCredits(context.Background(), "u1", 0, "k")
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)
}
