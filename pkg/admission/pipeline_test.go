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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/audit"
	"github.com/kadirpekel/lettergate/pkg/auth"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/ratelimit"
)

type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (s *recordingSink) Write(_ context.Context, r audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

func (s *recordingSink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

// unreachableStore fails every read the way a dropped connection does.
type unreachableStore struct {
	credits.Store
}

func (unreachableStore) Account(context.Context, string) (*credits.Account, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock *clock.Manual
	store *credits.MemoryStore
	sink  *recordingSink
}

func newFixture() *fixture {
	clk := clock.NewManual(epoch)
	return &fixture{
		clock: clk,
		store: credits.NewMemoryStore(credits.WithStoreClock(clk)),
		sink:  &recordingSink{},
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	gate, err := credits.NewGate(f.store, credits.WithClock(f.clock), credits.WithLogger(discardLogger()))
	require.NoError(t, err)

	n := 0
	base := []Option{
		WithAuditSink(f.sink),
		WithClock(f.clock),
		WithLogger(discardLogger()),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("adm-%d", n) }),
	}
	p, err := New(gate, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func (f *fixture) subscribe(t *testing.T, user string, n int64) {
	t.Helper()
	require.NoError(t, f.store.SetSubscription(context.Background(), user, credits.Subscription{
		Plan:             credits.PlanMonthly,
		CreditsRemaining: n,
		PeriodEnd:        epoch.Add(30 * 24 * time.Hour),
	}))
}

func principal(user string) *credits.Principal {
	return &credits.Principal{UserID: user}
}

func TestNew_RequiresGate(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestAdmit_FreeTrialThenDenied(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	ctx := context.Background()

	a, err := p.Admit(ctx, Request{ClientID: "user:u1", Endpoint: "letters.generate", Principal: principal("u1")})
	require.NoError(t, err)
	require.True(t, a.Allowed())
	assert.Equal(t, credits.ReasonFreeTrial, a.Credit.Reason)
	assert.Equal(t, OutcomePending, a.CurrentOutcome())
	assert.Equal(t, "adm-1", a.IdempotencyKey(), "admission id is the default key")
	assert.Empty(t, f.sink.all(), "nothing is audited before completion")

	require.NoError(t, a.Complete(ctx, nil))
	assert.Equal(t, OutcomeAllowed, a.CurrentOutcome())
	assert.ErrorIs(t, a.Complete(ctx, nil), ErrAlreadyCompleted)

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, audit.Record{
		ID:        "adm-1",
		UserID:    "u1",
		ClientID:  "user:u1",
		Endpoint:  "letters.generate",
		Outcome:   OutcomeAllowed,
		Reason:    "free_trial",
		Timestamp: epoch,
	}, records[0])

	acct, err := f.store.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.LettersGenerated)

	a, err = p.Admit(ctx, Request{ClientID: "user:u1", Endpoint: "letters.generate", Principal: principal("u1")})
	require.NoError(t, err)
	assert.False(t, a.Allowed())
	assert.Equal(t, OutcomeDeniedNoCredit, a.Outcome)
	assert.Equal(t, credits.ReasonNoFreeTrialAndNoSubscription, a.Credit.Reason)
	assert.ErrorIs(t, a.Err(), credits.ErrCreditDenied)
	assert.Error(t, a.Complete(ctx, nil), "denied admissions cannot complete")
	assert.Equal(t, 1, f.sink.count(OutcomeDeniedNoCredit))
}

func TestAdmit_RateLimitedBeforeAuthentication(t *testing.T) {
	f := newFixture()
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policies{
		Default: ratelimit.Policy{Window: time.Minute, MaxRequests: 1},
	}, ratelimit.WithClock(f.clock), ratelimit.WithLogger(discardLogger()))
	require.NoError(t, err)

	authn := &countingAuthenticator{}
	p := f.pipeline(t, WithLimiter(limiter), WithAuthenticator(authn))
	ctx := context.Background()

	a, err := p.Admit(ctx, Request{ClientID: "ip:10.0.0.1", Endpoint: "letters.generate", Token: "t"})
	require.NoError(t, err)
	require.True(t, a.Allowed())
	require.NoError(t, a.Complete(ctx, nil))

	a, err = p.Admit(ctx, Request{ClientID: "ip:10.0.0.1", Endpoint: "letters.generate", Token: "t"})
	require.NoError(t, err)
	assert.False(t, a.Allowed())
	assert.Equal(t, OutcomeDeniedRateLimit, a.Outcome)
	assert.Equal(t, 1, authn.calls, "limited requests never reach authentication")

	var le *ratelimit.LimitError
	require.ErrorAs(t, a.Err(), &le)
	assert.Equal(t, time.Minute, le.Decision.RetryAfter)

	records := f.sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, OutcomeDeniedRateLimit, records[1].Outcome)
	assert.Equal(t, ReasonRateLimited, records[1].Reason)
	assert.Empty(t, records[1].UserID)
}

type countingAuthenticator struct {
	calls int
}

func (a *countingAuthenticator) Authenticate(_ context.Context, token string) (credits.Principal, error) {
	a.calls++
	if token == "" {
		return credits.Principal{}, auth.ErrUnauthorized
	}
	return credits.Principal{UserID: "token-user"}, nil
}

func TestAdmit_Unauthenticated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p := f.pipeline(t, WithAuthenticator(&countingAuthenticator{}))
	_, err := p.Admit(ctx, Request{ClientID: "ip:10.0.0.1", Endpoint: "letters.generate"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.pipeline(t).Admit(ctx, Request{ClientID: "ip:10.0.0.1", Endpoint: "letters.generate", Token: "t"})
	assert.ErrorIs(t, err, ErrUnauthenticated, "no authenticator and no principal")

	_, err = p.Admit(ctx, Request{Endpoint: "letters.generate", Principal: principal("")})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Empty(t, f.sink.all(), "authentication failures are not admission outcomes")
}

func TestAdmit_StorageFailureIsAuditedError(t *testing.T) {
	sink := &recordingSink{}
	gate, err := credits.NewGate(unreachableStore{}, credits.WithLogger(discardLogger()))
	require.NoError(t, err)
	p, err := New(gate, WithAuditSink(sink), WithLogger(discardLogger()))
	require.NoError(t, err)

	a, err := p.Admit(context.Background(), Request{ClientID: "user:u1", Endpoint: "letters.generate", Principal: principal("u1")})
	require.Error(t, err)
	assert.ErrorIs(t, err, credits.ErrStorageUnavailable)
	require.NotNil(t, a)
	assert.False(t, a.Allowed())
	assert.Equal(t, OutcomeError, a.Outcome)

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeError, records[0].Outcome)
	assert.Equal(t, ReasonStorageUnavailable, records[0].Reason)
	assert.NotContains(t, records[0].Reason, "connection refused")
}

func TestComplete_GenerationFailureRefundsSubscriptionCredit(t *testing.T) {
	f := newFixture()
	f.subscribe(t, "u1", 2)
	_, err := f.store.ClaimFreeTrial(context.Background(), "u1", "")
	require.NoError(t, err)

	p := f.pipeline(t)
	ctx := context.Background()

	a, err := p.Admit(ctx, Request{Endpoint: "letters.generate", Principal: principal("u1"), IdempotencyKey: "req-7"})
	require.NoError(t, err)
	require.Equal(t, credits.ReasonSubscriptionCredit, a.Credit.Reason)
	assert.Equal(t, int64(1), a.Credit.CreditsRemaining)

	require.NoError(t, a.Complete(ctx, errors.New("model overloaded")))
	assert.Equal(t, OutcomeError, a.CurrentOutcome())

	acct, err := f.store.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), acct.Subscription.CreditsRemaining)
	assert.Zero(t, acct.LettersGenerated)

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, ReasonGenerationFailed, records[0].Reason)
}

func TestComplete_GenerationFailureKeepsTrialClaimed(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	ctx := context.Background()

	a, err := p.Admit(ctx, Request{Endpoint: "letters.generate", Principal: principal("u1")})
	require.NoError(t, err)
	require.Equal(t, credits.ReasonFreeTrial, a.Credit.Reason)
	require.NoError(t, a.Complete(ctx, errors.New("timeout")))

	acct, err := f.store.Account(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.HasUsedFreeTrial())
}

func TestAdmit_RetriesWithSameKeyProduceOneLetter(t *testing.T) {
	tests := []struct {
		name      string
		subscribe int64
		trialUsed bool
		reason    credits.Reason
		remaining int64
	}{
		{name: "subscription credit", subscribe: 3, trialUsed: true, reason: credits.ReasonSubscriptionCredit, remaining: 2},
		{name: "free trial", subscribe: 3, reason: credits.ReasonFreeTrial, remaining: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.subscribe(t, "u1", tt.subscribe)
			if tt.trialUsed {
				_, err := f.store.ClaimFreeTrial(context.Background(), "u1", "")
				require.NoError(t, err)
			}
			p := f.pipeline(t)
			ctx := context.Background()
			req := Request{Endpoint: "letters.generate", Principal: principal("u1"), IdempotencyKey: "req-1"}

			const n = 4
			for i := 0; i < n; i++ {
				a, err := p.Admit(ctx, req)
				require.NoError(t, err)
				if i == 0 {
					require.True(t, a.Allowed())
					assert.Equal(t, tt.reason, a.Credit.Reason)
					require.NoError(t, a.Complete(ctx, nil))
					continue
				}
				assert.False(t, a.Allowed(), "retry %d", i)
				assert.Equal(t, OutcomeDeniedNoCredit, a.Outcome)
				assert.Equal(t, credits.ReasonDuplicateRequest, a.Credit.Reason)
				assert.True(t, a.Credit.Replayed)
				assert.ErrorIs(t, a.Err(), credits.ErrCreditDenied)
			}

			assert.Equal(t, 1, f.sink.count(OutcomeAllowed))
			assert.Equal(t, n-1, f.sink.count(OutcomeDeniedNoCredit))
			for _, r := range f.sink.all() {
				if r.Outcome == OutcomeDeniedNoCredit {
					assert.Equal(t, string(credits.ReasonDuplicateRequest), r.Reason)
				}
			}

			acct, err := f.store.Account(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), acct.LettersGenerated)
			assert.Equal(t, tt.remaining, acct.Subscription.CreditsRemaining)
		})
	}
}

func TestAdmit_InFlightRetryIsDuplicate(t *testing.T) {
	f := newFixture()
	f.subscribe(t, "u1", 3)
	_, err := f.store.ClaimFreeTrial(context.Background(), "u1", "")
	require.NoError(t, err)
	p := f.pipeline(t)
	ctx := context.Background()
	req := Request{Endpoint: "letters.generate", Principal: principal("u1"), IdempotencyKey: "req-1"}

	first, err := p.Admit(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Allowed())
	require.Equal(t, OutcomePending, first.CurrentOutcome())

	retry, err := p.Admit(ctx, req)
	require.NoError(t, err)
	assert.False(t, retry.Allowed())
	assert.Equal(t, credits.ReasonDuplicateRequest, retry.Credit.Reason)

	require.NoError(t, first.Complete(ctx, nil))
	acct, err := f.store.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.LettersGenerated)
	assert.Equal(t, int64(2), acct.Subscription.CreditsRemaining)
}

func TestComplete_RefundedKeyIsChargedOnRetry(t *testing.T) {
	f := newFixture()
	f.subscribe(t, "u1", 2)
	_, err := f.store.ClaimFreeTrial(context.Background(), "u1", "")
	require.NoError(t, err)
	p := f.pipeline(t)
	ctx := context.Background()
	req := Request{Endpoint: "letters.generate", Principal: principal("u1"), IdempotencyKey: "req-1"}

	a, err := p.Admit(ctx, req)
	require.NoError(t, err)
	require.True(t, a.Allowed())
	require.NoError(t, a.Complete(ctx, errors.New("model overloaded")))

	a, err = p.Admit(ctx, req)
	require.NoError(t, err)
	require.True(t, a.Allowed(), "a refunded key may try again")
	assert.Equal(t, credits.ReasonSubscriptionCredit, a.Credit.Reason)
	assert.Equal(t, int64(1), a.Credit.CreditsRemaining)
	require.NoError(t, a.Complete(ctx, nil))

	a, err = p.Admit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, credits.ReasonDuplicateRequest, a.Credit.Reason)

	acct, err := f.store.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.Subscription.CreditsRemaining)
	assert.Equal(t, int64(1), acct.LettersGenerated)
	assert.Equal(t, 1, f.sink.count(OutcomeAllowed))
	assert.Equal(t, 1, f.sink.count(OutcomeError))
}

func TestAdmit_SuperUserAuditedAndUncounted(t *testing.T) {
	f := newFixture()
	f.subscribe(t, "root", 0)
	p := f.pipeline(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a, err := p.Admit(ctx, Request{Endpoint: "letters.generate", Principal: &credits.Principal{UserID: "root", SuperUser: true}})
		require.NoError(t, err)
		require.Equal(t, credits.ReasonSuperUser, a.Credit.Reason)
		require.NoError(t, a.Complete(ctx, nil))
	}
	assert.Equal(t, 3, f.sink.count(OutcomeAllowed))

	acct, err := f.store.Account(ctx, "root")
	require.NoError(t, err)
	assert.Zero(t, acct.Subscription.CreditsRemaining)
	assert.False(t, acct.HasUsedFreeTrial())
}

func TestAdmit_AuditFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture()
	f.sink.err = errors.New("audit db down")
	var buf bytes.Buffer
	p := f.pipeline(t, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	ctx := context.Background()

	a, err := p.Admit(ctx, Request{Endpoint: "letters.generate", Principal: principal("u1")})
	require.NoError(t, err)
	require.NoError(t, a.Complete(ctx, nil))
	assert.Equal(t, OutcomeAllowed, a.CurrentOutcome())
	assert.Contains(t, buf.String(), "Audit write failed")
}

func TestAdmit_ConcurrentLastCredit(t *testing.T) {
	f := newFixture()
	f.subscribe(t, "u1", 1)
	_, err := f.store.ClaimFreeTrial(context.Background(), "u1", "")
	require.NoError(t, err)
	p := f.pipeline(t, WithIDGenerator(uuid.NewString))

	const n = 10
	results := make([]*Admission, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := p.Admit(context.Background(), Request{Endpoint: "letters.generate", Principal: principal("u1"), IdempotencyKey: fmt.Sprintf("k-%d", i)})
			if assert.NoError(t, err) {
				results[i] = a
			}
		}()
	}
	wg.Wait()

	allowed := 0
	for _, a := range results {
		require.NotNil(t, a)
		if a.Allowed() {
			allowed++
		} else {
			assert.Equal(t, credits.ReasonCreditsExhausted, a.Credit.Reason)
		}
	}
	assert.Equal(t, 1, allowed)
}
