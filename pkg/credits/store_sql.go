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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/internal/sqldialect"
)

// Timestamps are unix milliseconds in BIGINT columns so the three dialects
// compare them identically.
const createCreditTablesSQL = `
CREATE TABLE IF NOT EXISTS credit_accounts (
    user_id VARCHAR(255) NOT NULL PRIMARY KEY,
    is_super_user BOOLEAN NOT NULL DEFAULT FALSE,
    free_trial_claimed_at_ms BIGINT NULL,
    free_trial_key VARCHAR(255) NULL,
    plan_type VARCHAR(32) NULL,
    credits_remaining BIGINT NOT NULL DEFAULT 0,
    period_end_ms BIGINT NULL,
    letters_generated BIGINT NOT NULL DEFAULT 0,
    CHECK (credits_remaining >= 0)
);

CREATE TABLE IF NOT EXISTS credit_consumptions (
    user_id VARCHAR(255) NOT NULL,
    idempotency_key VARCHAR(255) NOT NULL,
    delta BIGINT NOT NULL,
    balance_after BIGINT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    PRIMARY KEY (user_id, idempotency_key)
);
`

// SQLStore keeps accounts in postgres, mysql or sqlite. Every mutation is
// a single conditional statement, so concurrent instances cannot overdraw
// an account or claim a trial twice.
type SQLStore struct {
	db      *sql.DB
	dialect string
	clock   clock.Clock
}

// NewSQLStore creates the store and its tables.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string, opts ...StoreOption) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := sqldialect.Check(dialect); err != nil {
		return nil, err
	}

	o := storeOptions{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &SQLStore{db: db, dialect: dialect, clock: o.clock}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range sqldialect.Statements(createCreditTablesSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create credit tables: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return sqldialect.Rebind(s.dialect, query)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureAccount inserts an empty row for userID if none exists.
func (s *SQLStore) ensureAccount(ctx context.Context, ex execer, userID string) error {
	query := `INSERT INTO credit_accounts (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`
	if s.dialect == sqldialect.MySQL {
		query = `INSERT IGNORE INTO credit_accounts (user_id) VALUES (?)`
	}
	_, err := ex.ExecContext(ctx, s.q(query), userID)
	return err
}

func (s *SQLStore) Account(ctx context.Context, userID string) (*Account, error) {
	var (
		superUser bool
		trialAt   sql.NullInt64
		plan      sql.NullString
		credits   int64
		periodEnd sql.NullInt64
		letters   int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT is_super_user, free_trial_claimed_at_ms, plan_type, credits_remaining, period_end_ms, letters_generated
		FROM credit_accounts WHERE user_id = ?`), userID,
	).Scan(&superUser, &trialAt, &plan, &credits, &periodEnd, &letters)
	if errors.Is(err, sql.ErrNoRows) {
		return &Account{UserID: userID}, nil
	}
	if err != nil {
		return nil, storageError("read account", err)
	}

	a := &Account{UserID: userID, IsSuperUser: superUser, LettersGenerated: letters}
	if trialAt.Valid {
		t := time.UnixMilli(trialAt.Int64).UTC()
		a.FreeTrialClaimedAt = &t
	}
	if plan.Valid && plan.String != "" {
		a.Subscription = &Subscription{
			Plan:             PlanType(plan.String),
			CreditsRemaining: credits,
			PeriodEnd:        time.UnixMilli(periodEnd.Int64).UTC(),
		}
	}
	return a, nil
}

func (s *SQLStore) ClaimFreeTrial(ctx context.Context, userID, key string) (TrialClaim, error) {
	if err := s.ensureAccount(ctx, s.db, userID); err != nil {
		return TrialTaken, storageError("claim free trial", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE credit_accounts SET free_trial_claimed_at_ms = ?, free_trial_key = ?
		WHERE user_id = ? AND free_trial_claimed_at_ms IS NULL`),
		s.clock.Now().UnixMilli(), nullString(key), userID)
	if err != nil {
		return TrialTaken, storageError("claim free trial", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return TrialTaken, storageError("claim free trial", err)
	}
	if n == 1 {
		return TrialClaimed, nil
	}
	if key == "" {
		return TrialTaken, nil
	}

	var owner sql.NullString
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT free_trial_key FROM credit_accounts WHERE user_id = ?`), userID).Scan(&owner); err != nil {
		return TrialTaken, storageError("read free trial key", err)
	}
	if owner.Valid && owner.String == key {
		return TrialReplayed, nil
	}
	return TrialTaken, nil
}

func (s *SQLStore) AdjustCredits(ctx context.Context, userID string, delta int64, key string) (Adjustment, error) {
	if delta == 0 {
		return Adjustment{}, ErrInvalidAmount
	}
	if key == "" {
		key = "auto:" + uuid.NewString()
	}
	now := s.clock.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Adjustment{}, storageError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Claim the key first. A concurrent holder of the same key blocks here
	// until it commits, then this insert affects no rows.
	claim := `INSERT INTO credit_consumptions (user_id, idempotency_key, delta, balance_after, created_at_ms)
		VALUES (?, ?, ?, 0, ?) ON CONFLICT (user_id, idempotency_key) DO NOTHING`
	if s.dialect == sqldialect.MySQL {
		claim = `INSERT IGNORE INTO credit_consumptions (user_id, idempotency_key, delta, balance_after, created_at_ms)
		VALUES (?, ?, ?, 0, ?)`
	}
	res, err := tx.ExecContext(ctx, s.q(claim), userID, key, delta, now)
	if err != nil {
		return Adjustment{}, storageError("record consumption", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Adjustment{}, storageError("record consumption", err)
	} else if n == 0 {
		balance, err := s.balance(ctx, tx, userID)
		if err != nil {
			return Adjustment{}, err
		}
		return Adjustment{Balance: balance, Replayed: true}, nil
	}

	var update string
	var args []any
	if delta < 0 {
		update = `UPDATE credit_accounts SET credits_remaining = credits_remaining + ?
			WHERE user_id = ? AND plan_type IS NOT NULL AND period_end_ms > ? AND credits_remaining + ? >= 0`
		args = []any{delta, userID, now, delta}
	} else {
		update = `UPDATE credit_accounts SET credits_remaining = credits_remaining + ?
			WHERE user_id = ? AND plan_type IS NOT NULL`
		args = []any{delta, userID}
	}
	res, err = tx.ExecContext(ctx, s.q(update), args...)
	if err != nil {
		return Adjustment{}, storageError("adjust credits", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Adjustment{}, storageError("adjust credits", err)
	}
	if n == 0 {
		return Adjustment{}, s.denialCause(ctx, tx, userID, now)
	}

	balance, err := s.balance(ctx, tx, userID)
	if err != nil {
		return Adjustment{}, err
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE credit_consumptions SET balance_after = ? WHERE user_id = ? AND idempotency_key = ?`),
		balance, userID, key); err != nil {
		return Adjustment{}, storageError("record consumption", err)
	}
	if err := tx.Commit(); err != nil {
		return Adjustment{}, storageError("commit", err)
	}
	return Adjustment{Balance: balance}, nil
}

func (s *SQLStore) ReleaseCredits(ctx context.Context, userID, key string) (Adjustment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Adjustment{}, storageError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var delta int64
	err = tx.QueryRowContext(ctx, s.q(`SELECT delta FROM credit_consumptions WHERE user_id = ? AND idempotency_key = ?`),
		userID, key).Scan(&delta)
	if errors.Is(err, sql.ErrNoRows) || key == "" {
		balance, err := s.balance(ctx, tx, userID)
		if err != nil {
			return Adjustment{}, err
		}
		return Adjustment{Balance: balance, Replayed: true}, nil
	}
	if err != nil {
		return Adjustment{}, storageError("read consumption", err)
	}

	// Deleting the row is the claim. A concurrent release of the same key
	// affects no rows here and reports a replay.
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM credit_consumptions WHERE user_id = ? AND idempotency_key = ?`), userID, key)
	if err != nil {
		return Adjustment{}, storageError("release consumption", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Adjustment{}, storageError("release consumption", err)
	} else if n == 0 {
		balance, err := s.balance(ctx, tx, userID)
		if err != nil {
			return Adjustment{}, err
		}
		return Adjustment{Balance: balance, Replayed: true}, nil
	}

	res, err = tx.ExecContext(ctx, s.q(`UPDATE credit_accounts SET credits_remaining = credits_remaining - ?
		WHERE user_id = ? AND plan_type IS NOT NULL AND credits_remaining - ? >= 0`), delta, userID, delta)
	if err != nil {
		return Adjustment{}, storageError("release credits", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Adjustment{}, storageError("release credits", err)
	}
	if n == 0 {
		var plan sql.NullString
		if err := tx.QueryRowContext(ctx, s.q(`SELECT plan_type FROM credit_accounts WHERE user_id = ?`), userID).Scan(&plan); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return Adjustment{}, storageError("read account", err)
		}
		if !plan.Valid || plan.String == "" {
			return Adjustment{}, ErrNoSubscription
		}
		return Adjustment{}, ErrInsufficientCredits
	}

	balance, err := s.balance(ctx, tx, userID)
	if err != nil {
		return Adjustment{}, err
	}
	if err := tx.Commit(); err != nil {
		return Adjustment{}, storageError("commit", err)
	}
	return Adjustment{Balance: balance}, nil
}

func (s *SQLStore) balance(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, s.q(`SELECT credits_remaining FROM credit_accounts WHERE user_id = ?`), userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageError("read balance", err)
	}
	return balance, nil
}

// denialCause explains why the conditional update matched no row.
func (s *SQLStore) denialCause(ctx context.Context, tx *sql.Tx, userID string, nowMs int64) error {
	var plan sql.NullString
	var periodEnd sql.NullInt64
	err := tx.QueryRowContext(ctx, s.q(`SELECT plan_type, period_end_ms FROM credit_accounts WHERE user_id = ?`), userID).
		Scan(&plan, &periodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSubscription
	}
	if err != nil {
		return storageError("read account", err)
	}
	if !plan.Valid || plan.String == "" || !periodEnd.Valid || periodEnd.Int64 <= nowMs {
		return ErrNoSubscription
	}
	return ErrInsufficientCredits
}

func (s *SQLStore) SetSubscription(ctx context.Context, userID string, sub Subscription) error {
	if sub.CreditsRemaining < 0 {
		return ErrInvalidAmount
	}
	if sub.Plan == "" {
		return fmt.Errorf("plan type is required")
	}
	if err := s.ensureAccount(ctx, s.db, userID); err != nil {
		return storageError("set subscription", err)
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE credit_accounts SET plan_type = ?, credits_remaining = ?, period_end_ms = ?
		WHERE user_id = ?`),
		string(sub.Plan), sub.CreditsRemaining, sub.PeriodEnd.UnixMilli(), userID)
	if err != nil {
		return storageError("set subscription", err)
	}
	return nil
}

func (s *SQLStore) SetSuperUser(ctx context.Context, userID string, superUser bool) error {
	if err := s.ensureAccount(ctx, s.db, userID); err != nil {
		return storageError("set super user", err)
	}
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE credit_accounts SET is_super_user = ? WHERE user_id = ?`), superUser, userID); err != nil {
		return storageError("set super user", err)
	}
	return nil
}

func (s *SQLStore) ResetPeriod(ctx context.Context, plan PlanType, credits int64, periodEnd, now time.Time) (int64, error) {
	if credits < 0 {
		return 0, ErrInvalidAmount
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE credit_accounts SET credits_remaining = ?, period_end_ms = ?
		WHERE plan_type = ? AND (period_end_ms IS NULL OR period_end_ms <= ?)`),
		credits, periodEnd.UnixMilli(), string(plan), now.UnixMilli())
	if err != nil {
		return 0, storageError("reset period", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("reset period", err)
	}
	return n, nil
}

func (s *SQLStore) RecordLetter(ctx context.Context, userID string) error {
	if err := s.ensureAccount(ctx, s.db, userID); err != nil {
		return storageError("record letter", err)
	}
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE credit_accounts SET letters_generated = letters_generated + 1 WHERE user_id = ?`), userID); err != nil {
		return storageError("record letter", err)
	}
	return nil
}

func (s *SQLStore) DeleteLetters(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE credit_accounts SET letters_generated = 0 WHERE user_id = ?`), userID); err != nil {
		return storageError("delete letters", err)
	}
	return nil
}

// Close is a no-op. The *sql.DB belongs to the DBPool.
func (s *SQLStore) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
