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

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/kadirpekel/lettergate/internal/sqldialect"
)

const dialectDuckDB = "duckdb"

const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS admission_audit (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    user_id VARCHAR(255),
    client_id VARCHAR(255) NOT NULL,
    endpoint VARCHAR(255) NOT NULL,
    outcome VARCHAR(32) NOT NULL,
    reason VARCHAR(64),
    created_at_ms BIGINT NOT NULL
)
`

// SQLSink appends records to the admission_audit table.
type SQLSink struct {
	db      *sql.DB
	dialect string
	ownsDB  bool
}

// NewSQLSink creates the table on db. The pool keeps ownership of db.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect string) (*SQLSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := sqldialect.Check(dialect); err != nil {
		return nil, err
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewDuckDBSink opens (or creates) a DuckDB file for audit analytics.
func NewDuckDBSink(ctx context.Context, path string) (*SQLSink, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %s: %w", path, err)
	}
	s := &SQLSink{db: db, dialect: dialectDuckDB, ownsDB: true}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, createAuditTableSQL); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

func (s *SQLSink) Write(ctx context.Context, r Record) error {
	query := sqldialect.Rebind(s.dialect, `
		INSERT INTO admission_audit (id, user_id, client_id, endpoint, outcome, reason, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.UserID, r.ClientID, r.Endpoint, string(r.Outcome), r.Reason, r.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Counts returns the number of records per outcome.
func (s *SQLSink) Counts(ctx context.Context) (map[Outcome]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM admission_audit GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit records: %w", err)
	}
	defer rows.Close()

	out := make(map[Outcome]int64)
	for rows.Next() {
		var o string
		var n int64
		if err := rows.Scan(&o, &n); err != nil {
			return nil, err
		}
		out[Outcome(o)] = n
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
