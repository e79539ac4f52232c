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

package credits_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/internal/testutil"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/credits/creditstest"
)

func newMemoryStore(_ *testing.T, clk *clock.Manual) credits.Store {
	return credits.NewMemoryStore(credits.WithStoreClock(clk))
}

func newSQLiteStore(t *testing.T, clk *clock.Manual) credits.Store {
	db, _ := testutil.SQLite(t)
	s, err := credits.NewSQLStore(context.Background(), db, "sqlite", credits.WithStoreClock(clk))
	require.NoError(t, err)
	return s
}

func TestMemoryStore(t *testing.T) {
	creditstest.Run(t, newMemoryStore)
}

func TestSQLStore_SQLite(t *testing.T) {
	creditstest.Run(t, newSQLiteStore)
}

func TestSQLStore_RejectsUnknownDialect(t *testing.T) {
	db, _ := testutil.SQLite(t)
	_, err := credits.NewSQLStore(context.Background(), db, "oracle")
	assert.Error(t, err)

	_, err = credits.NewSQLStore(context.Background(), nil, "sqlite")
	assert.Error(t, err)
}

func TestSQLStore_SurvivesReopen(t *testing.T) {
	db, _ := testutil.SQLite(t)
	ctx := context.Background()
	clk := clock.NewManual(creditstest.Epoch)

	s, err := credits.NewSQLStore(ctx, db, "sqlite", credits.WithStoreClock(clk))
	require.NoError(t, err)
	ok, err := s.ClaimFreeTrial(ctx, "u1", "req-1")
	require.NoError(t, err)
	require.Equal(t, credits.TrialClaimed, ok)

	// Schema creation is idempotent and state is durable.
	reopened, err := credits.NewSQLStore(ctx, db, "sqlite", credits.WithStoreClock(clk))
	require.NoError(t, err)
	a, err := reopened.Account(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, a.FreeTrialClaimedAt)
	assert.WithinDuration(t, creditstest.Epoch, *a.FreeTrialClaimedAt, time.Millisecond)
}

func TestSQLStore_SuperUserFlag(t *testing.T) {
	s := newSQLiteStore(t, clock.NewManual(creditstest.Epoch))
	ctx := context.Background()

	require.NoError(t, s.SetSuperUser(ctx, "root", true))
	a, err := s.Account(ctx, "root")
	require.NoError(t, err)
	assert.True(t, a.IsSuperUser)

	require.NoError(t, s.SetSuperUser(ctx, "root", false))
	a, err = s.Account(ctx, "root")
	require.NoError(t, err)
	assert.False(t, a.IsSuperUser)
}

func TestMemoryStore_AccountIsACopy(t *testing.T) {
	s := credits.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SetSubscription(ctx, "u1", credits.Subscription{
		Plan: credits.PlanAnnual, CreditsRemaining: 3, PeriodEnd: time.Now().Add(time.Hour),
	}))

	a, err := s.Account(ctx, "u1")
	require.NoError(t, err)
	a.Subscription.CreditsRemaining = 100

	b, err := s.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Subscription.CreditsRemaining)
}

func TestSubscriptionActive(t *testing.T) {
	now := creditstest.Epoch
	var nilSub *credits.Subscription
	assert.False(t, nilSub.Active(now))
	assert.False(t, (&credits.Subscription{PeriodEnd: now.Add(time.Hour)}).Active(now), "no plan")
	assert.False(t, (&credits.Subscription{Plan: credits.PlanMonthly, PeriodEnd: now}).Active(now))
	assert.True(t, (&credits.Subscription{Plan: credits.PlanMonthly, PeriodEnd: now.Add(time.Second)}).Active(now))

	var nilAcct *credits.Account
	assert.False(t, nilAcct.HasUsedFreeTrial())
	assert.Nil(t, nilAcct.ActiveSubscription(now))
}
