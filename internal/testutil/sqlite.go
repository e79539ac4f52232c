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

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/pkg/config"
)

// SQLite opens a file-backed sqlite database through a DBPool, the same
// way the service does, and closes it when the test ends.
func SQLite(t testing.TB) (*sql.DB, *config.DatabaseConfig) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "lettergate.db"),
	}
	cfg.SetDefaults()

	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	db, err := pool.Get(context.Background(), cfg)
	require.NoError(t, err)
	return db, cfg
}
