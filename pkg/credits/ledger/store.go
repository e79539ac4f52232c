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

// Package ledger stores credit accounts in TigerBeetle.
//
// Each billing period of a user is its own account flagged
// debits_must_not_exceed_credits, so the ledger itself refuses to overdraw
// it. Consuming a credit is a transfer from the period account to the
// operator account; the transfer id is derived from the idempotency key and
// a generation counter, which makes retries exact while still letting a
// released or refused key be used again. The free trial is a single transfer whose id
// is derived from the user, so it can exist at most once.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	tb "github.com/tigerbeetle/tigerbeetle-go"
	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
)

// pageSize stays under TigerBeetle's per-request batch limit.
const pageSize = 8000

// Client is the subset of the TigerBeetle client the store uses.
type Client interface {
	CreateAccounts(accounts []types.Account) ([]types.AccountEventResult, error)
	CreateTransfers(transfers []types.Transfer) ([]types.TransferEventResult, error)
	LookupAccounts(ids []types.Uint128) ([]types.Account, error)
	LookupTransfers(ids []types.Uint128) ([]types.Transfer, error)
	QueryAccounts(filter types.QueryFilter) ([]types.Account, error)
}

// Store implements credits.Store on a TigerBeetle cluster.
type Store struct {
	client Client
	closer func()
	ledger uint32
	code   uint16
	clock  clock.Clock
}

var _ credits.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithCloser sets the function run by Close.
func WithCloser(fn func()) Option {
	return func(s *Store) { s.closer = fn }
}

// Dial connects to the cluster in cfg.
func Dial(cfg *config.LedgerConfig) (Client, func(), error) {
	client, err := tb.NewClient(types.ToUint128(cfg.ClusterID), cfg.Addresses)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create TigerBeetle client: %w", err)
	}
	return client, func() { client.Close() }, nil
}

// NewFromConfig dials the cluster in credits.ledger and creates a Store.
func NewFromConfig(ctx context.Context, cfg *config.CreditsConfig, opts ...Option) (*Store, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("credits.ledger is required for the ledger backend")
	}
	client, closer, err := Dial(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithCloser(closer)}, opts...)
	s, err := NewStore(ctx, client, cfg.Ledger.Ledger, cfg.Ledger.Code, opts...)
	if err != nil {
		closer()
		return nil, err
	}
	return s, nil
}

// NewStore creates the store and the shared operator and trial accounts.
func NewStore(ctx context.Context, client Client, ledger uint32, code uint16, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if ledger == 0 || code == 0 {
		return nil, fmt.Errorf("ledger and code must be non-zero")
	}
	s := &Store{client: client, ledger: ledger, code: code, clock: clock.Real{}}
	for _, opt := range opts {
		opt(s)
	}

	err := s.createAccounts(ctx, []types.Account{
		{ID: operatorAccountID(), Ledger: ledger, Code: code},
		{ID: trialAccountID(), Ledger: ledger, Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create system accounts: %w", err)
	}
	return s, nil
}

func (s *Store) Account(ctx context.Context, userID string) (*credits.Account, error) {
	out := &credits.Account{UserID: userID}

	current, found, err := s.currentAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if found {
		out.Subscription = subscriptionOf(current)
	}

	trial, err := call(ctx, func() ([]types.Transfer, error) {
		return s.client.LookupTransfers([]types.Uint128{trialTransferID(userID)})
	})
	if err != nil {
		return nil, credits.StorageError("lookup trial", err)
	}
	if len(trial) > 0 {
		at := time.Unix(0, int64(trial[0].Timestamp)).UTC()
		out.FreeTrialClaimedAt = &at
	}

	letters, err := call(ctx, func() ([]types.Account, error) {
		return s.client.LookupAccounts([]types.Uint128{lettersAccountID(userID)})
	})
	if err != nil {
		return nil, credits.StorageError("lookup letters", err)
	}
	if len(letters) > 0 {
		out.LettersGenerated = balance(letters[0])
	}
	return out, nil
}

func subscriptionOf(a types.Account) *credits.Subscription {
	return &credits.Subscription{
		Plan:             planFromCode(a.UserData32),
		CreditsRemaining: balance(a),
		PeriodEnd:        time.UnixMilli(int64(a.UserData64)).UTC(),
	}
}

// currentAccount returns the most recently opened period account.
func (s *Store) currentAccount(ctx context.Context, userID string) (types.Account, bool, error) {
	accounts, err := call(ctx, func() ([]types.Account, error) {
		return s.client.QueryAccounts(types.QueryFilter{
			UserData128: userHash(userID),
			Ledger:      s.ledger,
			Code:        s.code,
			Limit:       1,
			Flags:       types.QueryFilterFlags{Reversed: true}.ToUint32(),
		})
	})
	if err != nil {
		return types.Account{}, false, credits.StorageError("query accounts", err)
	}
	if len(accounts) == 0 {
		return types.Account{}, false, nil
	}
	return accounts[0], true, nil
}

func (s *Store) ClaimFreeTrial(ctx context.Context, userID, key string) (credits.TrialClaim, error) {
	replayable := key != ""
	if !replayable {
		key = uuid.NewString()
	}
	id := trialTransferID(userID)
	owner := ID128("key:" + key)

	results, err := s.createTransfers(ctx, types.Transfer{
		ID:              id,
		DebitAccountID:  operatorAccountID(),
		CreditAccountID: trialAccountID(),
		Amount:          types.ToUint128(1),
		UserData128:     owner,
		Ledger:          s.ledger,
		Code:            s.code,
	})
	if err != nil {
		return credits.TrialTaken, credits.StorageError("claim free trial", err)
	}
	if len(results) == 0 {
		return credits.TrialClaimed, nil
	}
	if results[0].Result == types.TransferExists {
		return credits.TrialReplayed, nil
	}

	// Any other result means a claim exists under some key; check whose.
	existing, err := call(ctx, func() ([]types.Transfer, error) {
		return s.client.LookupTransfers([]types.Uint128{id})
	})
	if err != nil {
		return credits.TrialTaken, credits.StorageError("lookup trial", err)
	}
	if len(existing) == 0 {
		return credits.TrialTaken, credits.StorageError("claim free trial", fmt.Errorf("transfer rejected: %s", results[0].Result))
	}
	if replayable && existing[0].UserData128 == owner {
		return credits.TrialReplayed, nil
	}
	return credits.TrialTaken, nil
}

// keyState is what the ledger holds for one idempotency key.
type keyState struct {
	live    *types.Transfer // applied and not yet released
	liveGen int
	next    int // first generation with no recorded transfer
}

func (s *Store) keyState(ctx context.Context, userID, key string) (keyState, error) {
	ids := make([]types.Uint128, 0, 2*maxKeyGenerations)
	for gen := 0; gen < maxKeyGenerations; gen++ {
		ids = append(ids, adjustTransferID(userID, key, gen), releaseTransferID(userID, key, gen))
	}
	found, err := call(ctx, func() ([]types.Transfer, error) {
		return s.client.LookupTransfers(ids)
	})
	if err != nil {
		return keyState{}, credits.StorageError("lookup transfer", err)
	}
	byID := make(map[types.Uint128]types.Transfer, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}

	var st keyState
	for gen := 0; gen < maxKeyGenerations; gen++ {
		t, applied := byID[adjustTransferID(userID, key, gen)]
		if !applied {
			continue
		}
		st.next = gen + 1
		if _, released := byID[releaseTransferID(userID, key, gen)]; !released {
			st.live, st.liveGen = &t, gen
		}
	}
	return st, nil
}

func (s *Store) AdjustCredits(ctx context.Context, userID string, delta int64, key string) (credits.Adjustment, error) {
	if delta == 0 {
		return credits.Adjustment{}, credits.ErrInvalidAmount
	}

	start := 0
	if key == "" {
		key = uuid.NewString()
	} else {
		st, err := s.keyState(ctx, userID, key)
		if err != nil {
			return credits.Adjustment{}, err
		}
		if st.live != nil {
			return s.replay(ctx, userID)
		}
		start = st.next
	}

	acct, found, err := s.currentAccount(ctx, userID)
	if err != nil {
		return credits.Adjustment{}, err
	}
	if !found {
		return credits.Adjustment{}, credits.ErrNoSubscription
	}
	if delta < 0 && int64(acct.UserData64) <= s.clock.Now().UnixMilli() {
		return credits.Adjustment{}, credits.ErrNoSubscription
	}

	t := types.Transfer{
		Ledger: s.ledger,
		Code:   s.code,
	}
	if delta < 0 {
		t.DebitAccountID, t.CreditAccountID = acct.ID, operatorAccountID()
		t.Amount = types.ToUint128(uint64(-delta))
	} else {
		t.DebitAccountID, t.CreditAccountID = operatorAccountID(), acct.ID
		t.Amount = types.ToUint128(uint64(delta))
	}

	for gen := start; gen < maxKeyGenerations; gen++ {
		t.ID = adjustTransferID(userID, key, gen)
		results, err := s.createTransfers(ctx, t)
		if err != nil {
			return credits.Adjustment{}, credits.StorageError("adjust credits", err)
		}
		if len(results) == 0 {
			updated, err := s.lookupAccount(ctx, acct.ID)
			if err != nil {
				return credits.Adjustment{}, err
			}
			return credits.Adjustment{Balance: balance(updated)}, nil
		}
		switch results[0].Result {
		case types.TransferExists:
			return s.replay(ctx, userID)
		case types.TransferExceedsCredits:
			return credits.Adjustment{}, credits.ErrInsufficientCredits
		case types.TransferIDAlreadyFailed:
			continue
		default:
			return credits.Adjustment{}, credits.StorageError("adjust credits", fmt.Errorf("transfer rejected: %s", results[0].Result))
		}
	}
	return credits.Adjustment{}, credits.StorageError("adjust credits", fmt.Errorf("idempotency key %q used %d times", key, maxKeyGenerations))
}

// ReleaseCredits posts the reverse of the live transfer for key. The
// release id shares the generation of the transfer it reverses, so it can
// be applied once.
func (s *Store) ReleaseCredits(ctx context.Context, userID, key string) (credits.Adjustment, error) {
	if key == "" {
		return s.replay(ctx, userID)
	}
	st, err := s.keyState(ctx, userID, key)
	if err != nil {
		return credits.Adjustment{}, err
	}
	if st.live == nil {
		return s.replay(ctx, userID)
	}

	results, err := s.createTransfers(ctx, types.Transfer{
		ID:              releaseTransferID(userID, key, st.liveGen),
		DebitAccountID:  st.live.CreditAccountID,
		CreditAccountID: st.live.DebitAccountID,
		Amount:          st.live.Amount,
		Ledger:          s.ledger,
		Code:            s.code,
	})
	if err != nil {
		return credits.Adjustment{}, credits.StorageError("release credits", err)
	}
	if len(results) > 0 {
		switch results[0].Result {
		case types.TransferExists:
			return s.replay(ctx, userID)
		case types.TransferExceedsCredits:
			return credits.Adjustment{}, credits.ErrInsufficientCredits
		default:
			return credits.Adjustment{}, credits.StorageError("release credits", fmt.Errorf("transfer rejected: %s", results[0].Result))
		}
	}

	acct, found, err := s.currentAccount(ctx, userID)
	if err != nil {
		return credits.Adjustment{}, err
	}
	if !found {
		return credits.Adjustment{}, credits.ErrNoSubscription
	}
	return credits.Adjustment{Balance: balance(acct)}, nil
}

func (s *Store) replay(ctx context.Context, userID string) (credits.Adjustment, error) {
	acct, found, err := s.currentAccount(ctx, userID)
	if err != nil {
		return credits.Adjustment{}, err
	}
	adj := credits.Adjustment{Replayed: true}
	if found {
		adj.Balance = balance(acct)
	}
	return adj, nil
}

func (s *Store) SetSubscription(ctx context.Context, userID string, sub credits.Subscription) error {
	if sub.CreditsRemaining < 0 {
		return credits.ErrInvalidAmount
	}
	code, err := planCode(sub.Plan)
	if err != nil {
		return err
	}
	return s.openPeriod(ctx, userHash(userID), code, uint64(sub.PeriodEnd.UnixMilli()), sub.CreditsRemaining)
}

// openPeriod creates the period account and funds it. Both steps are keyed
// on the account id, so repeating them is harmless.
func (s *Store) openPeriod(ctx context.Context, user types.Uint128, plan uint32, periodEndMs uint64, amount int64) error {
	id := periodAccountID(user, periodEndMs)
	err := s.createAccounts(ctx, []types.Account{{
		ID:          id,
		UserData128: user,
		UserData64:  periodEndMs,
		UserData32:  plan,
		Ledger:      s.ledger,
		Code:        s.code,
		Flags:       types.AccountFlags{DebitsMustNotExceedCredits: true}.ToUint16(),
	}})
	if err != nil {
		return credits.StorageError("open period", err)
	}
	if amount == 0 {
		return nil
	}

	results, err := s.createTransfers(ctx, types.Transfer{
		ID:              fundTransferID(id),
		DebitAccountID:  operatorAccountID(),
		CreditAccountID: id,
		Amount:          types.ToUint128(uint64(amount)),
		Ledger:          s.ledger,
		Code:            s.code,
	})
	if err != nil {
		return credits.StorageError("fund period", err)
	}
	if len(results) > 0 && results[0].Result != types.TransferExists {
		return credits.StorageError("fund period", fmt.Errorf("transfer rejected: %s", results[0].Result))
	}
	return nil
}

func (s *Store) SetSuperUser(context.Context, string, bool) error {
	return fmt.Errorf("%w: super users come from the identity provider", credits.ErrNotSupported)
}

func (s *Store) ResetPeriod(ctx context.Context, plan credits.PlanType, amount int64, periodEnd, now time.Time) (int64, error) {
	if amount < 0 {
		return 0, credits.ErrInvalidAmount
	}
	code, err := planCode(plan)
	if err != nil {
		return 0, err
	}

	latest := make(map[types.Uint128]types.Account)
	filter := types.QueryFilter{
		UserData32: code,
		Ledger:     s.ledger,
		Code:       s.code,
		Limit:      pageSize,
	}
	for {
		page, err := call(ctx, func() ([]types.Account, error) {
			return s.client.QueryAccounts(filter)
		})
		if err != nil {
			return 0, credits.StorageError("query accounts", err)
		}
		for _, a := range page {
			if cur, ok := latest[a.UserData128]; !ok || a.UserData64 > cur.UserData64 {
				latest[a.UserData128] = a
			}
		}
		if len(page) < pageSize {
			break
		}
		filter.TimestampMin = page[len(page)-1].Timestamp + 1
	}

	nowMs := now.UnixMilli()
	var n int64
	for user, a := range latest {
		if int64(a.UserData64) > nowMs {
			continue
		}
		if err := s.openPeriod(ctx, user, code, uint64(periodEnd.UnixMilli()), amount); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) RecordLetter(ctx context.Context, userID string) error {
	id := lettersAccountID(userID)
	if err := s.createAccounts(ctx, []types.Account{{ID: id, Ledger: s.ledger, Code: s.code}}); err != nil {
		return credits.StorageError("record letter", err)
	}
	results, err := s.createTransfers(ctx, types.Transfer{
		ID:              ID128("xfer:letter:" + uuid.NewString()),
		DebitAccountID:  operatorAccountID(),
		CreditAccountID: id,
		Amount:          types.ToUint128(1),
		Ledger:          s.ledger,
		Code:            s.code,
	})
	if err != nil {
		return credits.StorageError("record letter", err)
	}
	if len(results) > 0 {
		return credits.StorageError("record letter", fmt.Errorf("transfer rejected: %s", results[0].Result))
	}
	return nil
}

// DeleteLetters zeroes the letter counter. The trial transfer is immutable
// and stays.
func (s *Store) DeleteLetters(ctx context.Context, userID string) error {
	id := lettersAccountID(userID)
	accounts, err := call(ctx, func() ([]types.Account, error) {
		return s.client.LookupAccounts([]types.Uint128{id})
	})
	if err != nil {
		return credits.StorageError("delete letters", err)
	}
	if len(accounts) == 0 {
		return nil
	}
	n := balance(accounts[0])
	if n <= 0 {
		return nil
	}
	results, err := s.createTransfers(ctx, types.Transfer{
		ID:              ID128("xfer:letters-deleted:" + uuid.NewString()),
		DebitAccountID:  id,
		CreditAccountID: operatorAccountID(),
		Amount:          types.ToUint128(uint64(n)),
		Ledger:          s.ledger,
		Code:            s.code,
	})
	if err != nil {
		return credits.StorageError("delete letters", err)
	}
	if len(results) > 0 {
		return credits.StorageError("delete letters", fmt.Errorf("transfer rejected: %s", results[0].Result))
	}
	return nil
}

func (s *Store) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

func (s *Store) createAccounts(ctx context.Context, accounts []types.Account) error {
	results, err := call(ctx, func() ([]types.AccountEventResult, error) {
		return s.client.CreateAccounts(accounts)
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Result == types.AccountExists {
			continue
		}
		return fmt.Errorf("create account error: %s", r.Result)
	}
	return nil
}

func (s *Store) createTransfers(ctx context.Context, transfers ...types.Transfer) ([]types.TransferEventResult, error) {
	return call(ctx, func() ([]types.TransferEventResult, error) {
		return s.client.CreateTransfers(transfers)
	})
}

func (s *Store) lookupAccount(ctx context.Context, id types.Uint128) (types.Account, error) {
	accounts, err := call(ctx, func() ([]types.Account, error) {
		return s.client.LookupAccounts([]types.Uint128{id})
	})
	if err != nil {
		return types.Account{}, credits.StorageError("lookup account", err)
	}
	if len(accounts) == 0 {
		return types.Account{}, credits.StorageError("lookup account", fmt.Errorf("account not found"))
	}
	return accounts[0], nil
}

// call runs fn and gives up when ctx ends. The client call itself is not
// cancellable, so a late result is dropped.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{value: v, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.value, r.err
	}
}
