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

package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/internal/testutil"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func stores(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			db, _ := testutil.SQLite(t)
			s, err := NewSQLStore(context.Background(), db, "sqlite")
			require.NoError(t, err)
			return s
		},
	}
}

func letterPolicies() Policies {
	return Policies{
		Default: Policy{Window: time.Minute, MaxRequests: 60},
		Endpoints: map[string]Policy{
			"letters.generate": {Window: 15 * time.Minute, MaxRequests: 5},
		},
	}
}

func TestLimiter_SixRapidRequests(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewManual(epoch)
			l, err := New(newStore(), letterPolicies(), WithClock(clk))
			require.NoError(t, err)
			ctx := context.Background()

			for i, want := range []int64{4, 3, 2, 1, 0} {
				d := l.Check(ctx, "user-1", "letters.generate")
				assert.True(t, d.Allowed, "request %d", i+1)
				assert.Equal(t, want, d.Remaining, "request %d", i+1)
				assert.Equal(t, int64(5), d.Limit)
				clk.Advance(time.Second)
			}

			d := l.Check(ctx, "user-1", "letters.generate")
			assert.False(t, d.Allowed)
			assert.Equal(t, int64(0), d.Remaining)
			assert.True(t, d.ResetAt.After(clk.Now()))
			assert.WithinDuration(t, epoch.Add(15*time.Minute), d.ResetAt, 0)
			assert.Equal(t, 15*time.Minute-5*time.Second, d.RetryAfter)
			assert.False(t, d.Degraded)
		})
	}
}

func TestLimiter_WindowRollover(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewManual(epoch)
			l, err := New(newStore(), Policies{Default: Policy{Window: time.Minute, MaxRequests: 3}}, WithClock(clk))
			require.NoError(t, err)
			ctx := context.Background()

			var last Decision
			for i := 0; i < 3; i++ {
				last = l.Check(ctx, "c", "login")
				require.True(t, last.Allowed)
			}
			assert.False(t, l.Check(ctx, "c", "login").Allowed)

			// Exactly at the reset instant the window is still live.
			clk.Set(last.ResetAt)
			assert.False(t, l.Check(ctx, "c", "login").Allowed)

			clk.Advance(time.Millisecond)
			d := l.Check(ctx, "c", "login")
			assert.True(t, d.Allowed)
			assert.Equal(t, int64(2), d.Remaining)
			assert.WithinDuration(t, clk.Now().Add(time.Minute), d.ResetAt, 0)
		})
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, err := New(NewMemoryStore(), Policies{
		Default: Policy{Window: time.Minute, MaxRequests: 1},
	}, WithClock(clock.NewManual(epoch)))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "a", "x").Allowed)
	assert.False(t, l.Check(ctx, "a", "x").Allowed)
	assert.True(t, l.Check(ctx, "b", "x").Allowed)
	assert.True(t, l.Check(ctx, "a", "y").Allowed)
}

func TestLimiter_EmptyClientIsAnonymous(t *testing.T) {
	store := NewMemoryStore()
	l, err := New(store, letterPolicies())
	require.NoError(t, err)

	l.Check(context.Background(), "", "letters.generate")

	c, err := store.Get(context.Background(), Key{ClientID: AnonymousClient, Endpoint: "letters.generate"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)
}

type failingStore struct{ MemoryStore }

func (*failingStore) Increment(context.Context, Key, time.Duration, time.Time) (Counter, error) {
	return Counter{}, errors.New("connection refused")
}

func TestLimiter_StoreFailure(t *testing.T) {
	tests := []struct {
		name        string
		mode        FailureMode
		wantAllowed bool
		wantRemain  int64
		wantRetry   time.Duration
		wantLog     string
	}{
		{"fail open", FailOpen, true, 5, 0, "allowing request"},
		{"fail closed", FailClosed, false, 0, 15 * time.Minute, "denying request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(&failingStore{}, letterPolicies(),
				WithFailureMode(tt.mode),
				WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
			)
			require.NoError(t, err)

			d := l.Check(context.Background(), "u", "letters.generate")
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantRemain, d.Remaining)
			assert.Equal(t, tt.wantRetry, d.RetryAfter)
			assert.True(t, d.Degraded)
			assert.Contains(t, buf.String(), "level=WARN")
			assert.Contains(t, buf.String(), tt.wantLog)
			assert.Contains(t, buf.String(), "connection refused")
		})
	}
}

func TestLimiter_DefaultsToFailClosed(t *testing.T) {
	l, err := New(&failingStore{}, letterPolicies(), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	require.NoError(t, err)
	assert.False(t, l.Check(context.Background(), "u", "letters.generate").Allowed)
}

func TestLimiter_UsageDoesNotCount(t *testing.T) {
	l, err := New(NewMemoryStore(), letterPolicies(), WithClock(clock.NewManual(epoch)))
	require.NoError(t, err)
	ctx := context.Background()

	d, err := l.Usage(ctx, "u", "letters.generate")
	require.NoError(t, err)
	assert.Equal(t, int64(5), d.Remaining)
	assert.True(t, d.Allowed)

	for i := 0; i < 5; i++ {
		l.Check(ctx, "u", "letters.generate")
	}
	for i := 0; i < 3; i++ {
		d, err = l.Usage(ctx, "u", "letters.generate")
		require.NoError(t, err)
		assert.Equal(t, int64(0), d.Remaining)
		assert.False(t, d.Allowed)
	}

	require.NoError(t, l.Reset(ctx, "u", "letters.generate"))
	assert.True(t, l.Check(ctx, "u", "letters.generate").Allowed)
}

func TestLimiter_UpdatePolicies(t *testing.T) {
	l, err := New(NewMemoryStore(), letterPolicies())
	require.NoError(t, err)

	assert.ErrorIs(t, l.UpdatePolicies(Policies{}), ErrInvalidPolicy)

	require.NoError(t, l.UpdatePolicies(Policies{
		Default:   Policy{Window: time.Second, MaxRequests: 1},
		Endpoints: map[string]Policy{"letters.generate": {Window: time.Hour, MaxRequests: 2}},
	}))
	assert.Equal(t, int64(2), l.Policies().For("letters.generate").MaxRequests)
	assert.Equal(t, int64(1), l.Policies().For("other").MaxRequests)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, letterPolicies())
	assert.Error(t, err)

	_, err = New(NewMemoryStore(), Policies{Default: Policy{Window: time.Minute}})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = New(NewMemoryStore(), letterPolicies(), WithFailureMode("maybe"))
	assert.Error(t, err)
}

func TestLimiter_Sweep(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewManual(epoch)
			store := newStore()
			l, err := New(store, letterPolicies(), WithClock(clk))
			require.NoError(t, err)
			ctx := context.Background()

			l.Check(ctx, "a", "other")            // 1m window
			l.Check(ctx, "b", "letters.generate") // 15m window

			clk.Advance(2 * time.Minute)
			n, err := l.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			c, err := store.Get(ctx, Key{ClientID: "b", Endpoint: "letters.generate"}, clk.Now())
			require.NoError(t, err)
			assert.Equal(t, int64(1), c.Count)
		})
	}
}

func TestLimiter_ConcurrentChecks(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, err := New(newStore(), Policies{Default: Policy{Window: time.Hour, MaxRequests: 10}})
			require.NoError(t, err)

			var allowed atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if l.Check(context.Background(), "burst", "letters.generate").Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(10), allowed.Load())
		})
	}
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := Key{ClientID: "a", Endpoint: "b"}

	_, err := s.Increment(ctx, key, time.Second, epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	c, err := s.Get(ctx, key, epoch.Add(2*time.Second))
	require.NoError(t, err)
	assert.Zero(t, c.Count)
	assert.Equal(t, 0, s.Len())
}

func TestSQLStore_RejectsUnknownDialect(t *testing.T) {
	db, _ := testutil.SQLite(t)
	_, err := NewSQLStore(context.Background(), db, "oracle")
	assert.Error(t, err)

	_, err = NewSQLStore(context.Background(), nil, "sqlite")
	assert.Error(t, err)
}

func TestLimitError(t *testing.T) {
	d := Decision{Allowed: false, Limit: 5, RetryAfter: 90 * time.Second}
	err := error(&LimitError{Endpoint: "letters.generate", Decision: d})

	assert.True(t, IsRateLimitError(err))
	assert.Contains(t, err.Error(), "1m30s")

	got, ok := DecisionFromError(errors.Join(errors.New("outer"), err))
	require.True(t, ok)
	assert.Equal(t, d, got)

	_, ok = DecisionFromError(errors.New("other"))
	assert.False(t, ok)
}
