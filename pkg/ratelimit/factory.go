// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"

	"github.com/kadirpekel/lettergate/pkg/config"
)

// NewFromConfig builds a Limiter from the rate_limiting section.
// It returns nil when rate limiting is disabled.
//
// Example config:
//
//	databases:
//	  main:
//	    driver: postgres
//	    host: db
//	    database: lettergate
//
//	rate_limiting:
//	  backend: sql
//	  sql_database: main
//	  endpoints:
//	    letters.generate: { window: 15m, max_requests: 5 }
func NewFromConfig(ctx context.Context, cfg *config.Config, pool *config.DBPool, opts ...Option) (*Limiter, error) {
	rl := &cfg.RateLimiting
	if !rl.IsEnabled() {
		return nil, nil
	}

	store, err := NewStore(ctx, cfg, pool)
	if err != nil {
		return nil, err
	}

	mode, err := ParseFailureMode(rl.FailureMode)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithFailureMode(mode)}, opts...)
	return New(store, PoliciesFromConfig(rl), opts...)
}

// NewStore creates the counter store named by rate_limiting.backend.
func NewStore(ctx context.Context, cfg *config.Config, pool *config.DBPool) (Store, error) {
	rl := &cfg.RateLimiting

	switch rl.Backend {
	case "sql":
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for SQL rate limit backend")
		}
		dbCfg, ok := cfg.GetDatabase(rl.SQLDatabase)
		if !ok {
			return nil, fmt.Errorf("database %q not found", rl.SQLDatabase)
		}
		db, err := pool.Get(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}
		store, err := NewSQLStore(ctx, db, dbCfg.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL store: %w", err)
		}
		return store, nil
	case "memory", "":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported rate limit backend: %s", rl.Backend)
}
