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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/lettergate/internal/sqldialect"
)

const createRateWindowsSQL = `
CREATE TABLE IF NOT EXISTS rate_windows (
    client_id VARCHAR(255) NOT NULL,
    endpoint VARCHAR(255) NOT NULL,
    hits BIGINT NOT NULL,
    reset_at_ms BIGINT NOT NULL,
    PRIMARY KEY (client_id, endpoint)
);

CREATE INDEX IF NOT EXISTS idx_rate_windows_reset_at ON rate_windows(reset_at_ms);
`

// MySQL has no CREATE INDEX IF NOT EXISTS.
const createRateWindowsMySQL = `
CREATE TABLE IF NOT EXISTS rate_windows (
    client_id VARCHAR(255) NOT NULL,
    endpoint VARCHAR(255) NOT NULL,
    hits BIGINT NOT NULL,
    reset_at_ms BIGINT NOT NULL,
    PRIMARY KEY (client_id, endpoint),
    INDEX idx_rate_windows_reset_at (reset_at_ms)
);
`

// Window ends are stored as unix milliseconds so all three dialects
// compare them the same way.
const upsertRateWindowSQL = `
INSERT INTO rate_windows (client_id, endpoint, hits, reset_at_ms) VALUES (?, ?, 1, ?)
ON CONFLICT (client_id, endpoint) DO UPDATE SET
    hits = CASE WHEN rate_windows.reset_at_ms < ? THEN 1 ELSE rate_windows.hits + 1 END,
    reset_at_ms = CASE WHEN rate_windows.reset_at_ms < ? THEN excluded.reset_at_ms ELSE rate_windows.reset_at_ms END
RETURNING hits, reset_at_ms`

// MySQL evaluates assignments left to right, so hits must come first.
const upsertRateWindowMySQL = `
INSERT INTO rate_windows (client_id, endpoint, hits, reset_at_ms) VALUES (?, ?, 1, ?)
ON DUPLICATE KEY UPDATE
    hits = IF(reset_at_ms < ?, 1, hits + 1),
    reset_at_ms = IF(reset_at_ms < ?, VALUES(reset_at_ms), reset_at_ms)`

// SQLStore keeps counters in a shared SQL database so every instance of
// the service sees the same windows. Supported dialects: postgres, mysql,
// sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the store and its table.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := sqldialect.Check(dialect); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	script := createRateWindowsSQL
	if s.dialect == sqldialect.MySQL {
		script = createRateWindowsMySQL
	}
	for _, stmt := range sqldialect.Statements(script) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create rate_windows table: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Increment(ctx context.Context, key Key, window time.Duration, now time.Time) (Counter, error) {
	nowMs := now.UnixMilli()
	resetMs := now.Add(window).UnixMilli()

	if s.dialect == sqldialect.MySQL {
		return s.incrementMySQL(ctx, key, nowMs, resetMs)
	}

	var hits, resetAt int64
	err := s.db.QueryRowContext(ctx, sqldialect.Rebind(s.dialect, upsertRateWindowSQL),
		key.ClientID, key.Endpoint, resetMs, nowMs, nowMs,
	).Scan(&hits, &resetAt)
	if err != nil {
		return Counter{}, fmt.Errorf("%w: increment: %v", ErrStoreUnavailable, err)
	}
	return Counter{Count: hits, ResetAt: time.UnixMilli(resetAt).UTC()}, nil
}

func (s *SQLStore) incrementMySQL(ctx context.Context, key Key, nowMs, resetMs int64) (Counter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Counter{}, fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertRateWindowMySQL,
		key.ClientID, key.Endpoint, resetMs, nowMs, nowMs); err != nil {
		return Counter{}, fmt.Errorf("%w: increment: %v", ErrStoreUnavailable, err)
	}

	var hits, resetAt int64
	if err := tx.QueryRowContext(ctx,
		`SELECT hits, reset_at_ms FROM rate_windows WHERE client_id = ? AND endpoint = ?`,
		key.ClientID, key.Endpoint,
	).Scan(&hits, &resetAt); err != nil {
		return Counter{}, fmt.Errorf("%w: read back: %v", ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return Counter{}, fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
	}
	return Counter{Count: hits, ResetAt: time.UnixMilli(resetAt).UTC()}, nil
}

func (s *SQLStore) Get(ctx context.Context, key Key, now time.Time) (Counter, error) {
	query := sqldialect.Rebind(s.dialect,
		`SELECT hits, reset_at_ms FROM rate_windows WHERE client_id = ? AND endpoint = ?`)

	var hits, resetAt int64
	err := s.db.QueryRowContext(ctx, query, key.ClientID, key.Endpoint).Scan(&hits, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Counter{}, nil
	}
	if err != nil {
		return Counter{}, fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
	}

	c := Counter{Count: hits, ResetAt: time.UnixMilli(resetAt).UTC()}
	if c.Expired(now) {
		return Counter{}, nil
	}
	return c, nil
}

func (s *SQLStore) Reset(ctx context.Context, key Key) error {
	query := sqldialect.Rebind(s.dialect, `DELETE FROM rate_windows WHERE client_id = ? AND endpoint = ?`)
	if _, err := s.db.ExecContext(ctx, query, key.ClientID, key.Endpoint); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := sqldialect.Rebind(s.dialect, `DELETE FROM rate_windows WHERE reset_at_ms < ?`)
	res, err := s.db.ExecContext(ctx, query, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close is a no-op. The *sql.DB belongs to the DBPool.
func (s *SQLStore) Close() error {
	return nil
}
