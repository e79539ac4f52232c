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
	"sync"
	"time"

	"github.com/kadirpekel/lettergate/internal/clock"
)

type memoryAccount struct {
	Account
	trialKey string
	applied  map[string]int64
}

// MemoryStore keeps accounts in process memory. It is atomic within one
// process only and suits tests and single-instance development.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*memoryAccount
	clock    clock.Clock
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o := storeOptions{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{accounts: make(map[string]*memoryAccount), clock: o.clock}
}

func (s *MemoryStore) get(userID string) *memoryAccount {
	a, ok := s.accounts[userID]
	if !ok {
		a = &memoryAccount{Account: Account{UserID: userID}, applied: make(map[string]int64)}
		s.accounts[userID] = a
	}
	return a
}

func (s *MemoryStore) Account(_ context.Context, userID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return &Account{UserID: userID}, nil
	}
	out := a.Account
	if a.FreeTrialClaimedAt != nil {
		t := *a.FreeTrialClaimedAt
		out.FreeTrialClaimedAt = &t
	}
	if a.Subscription != nil {
		sub := *a.Subscription
		out.Subscription = &sub
	}
	return &out, nil
}

func (s *MemoryStore) ClaimFreeTrial(_ context.Context, userID, key string) (TrialClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.get(userID)
	if a.FreeTrialClaimedAt == nil {
		now := s.clock.Now()
		a.FreeTrialClaimedAt = &now
		a.trialKey = key
		return TrialClaimed, nil
	}
	if key != "" && a.trialKey == key {
		return TrialReplayed, nil
	}
	return TrialTaken, nil
}

func (s *MemoryStore) AdjustCredits(_ context.Context, userID string, delta int64, key string) (Adjustment, error) {
	if delta == 0 {
		return Adjustment{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.get(userID)
	if _, ok := a.applied[key]; ok && key != "" {
		return Adjustment{Balance: a.balance(), Replayed: true}, nil
	}

	sub := a.Subscription
	if sub == nil || sub.Plan == "" || (delta < 0 && !sub.Active(s.clock.Now())) {
		return Adjustment{}, ErrNoSubscription
	}
	if sub.CreditsRemaining+delta < 0 {
		return Adjustment{}, ErrInsufficientCredits
	}

	sub.CreditsRemaining += delta
	if key != "" {
		a.applied[key] = delta
	}
	return Adjustment{Balance: sub.CreditsRemaining}, nil
}

func (s *MemoryStore) ReleaseCredits(_ context.Context, userID, key string) (Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.get(userID)
	delta, ok := a.applied[key]
	if !ok || key == "" {
		return Adjustment{Balance: a.balance(), Replayed: true}, nil
	}
	sub := a.Subscription
	if sub == nil || sub.Plan == "" {
		return Adjustment{}, ErrNoSubscription
	}
	if sub.CreditsRemaining-delta < 0 {
		return Adjustment{}, ErrInsufficientCredits
	}

	sub.CreditsRemaining -= delta
	delete(a.applied, key)
	return Adjustment{Balance: sub.CreditsRemaining}, nil
}

func (a *memoryAccount) balance() int64 {
	if a.Subscription == nil {
		return 0
	}
	return a.Subscription.CreditsRemaining
}

func (s *MemoryStore) SetSubscription(_ context.Context, userID string, sub Subscription) error {
	if sub.CreditsRemaining < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(userID).Subscription = &sub
	return nil
}

func (s *MemoryStore) SetSuperUser(_ context.Context, userID string, superUser bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(userID).IsSuperUser = superUser
	return nil
}

func (s *MemoryStore) ResetPeriod(_ context.Context, plan PlanType, credits int64, periodEnd, now time.Time) (int64, error) {
	if credits < 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.accounts {
		sub := a.Subscription
		if sub == nil || sub.Plan != plan || sub.PeriodEnd.After(now) {
			continue
		}
		sub.CreditsRemaining = credits
		sub.PeriodEnd = periodEnd
		n++
	}
	return n, nil
}

func (s *MemoryStore) RecordLetter(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(userID).LettersGenerated++
	return nil
}

func (s *MemoryStore) DeleteLetters(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[userID]; ok {
		a.LettersGenerated = 0
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
