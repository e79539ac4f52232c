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
	"fmt"

	"github.com/kadirpekel/lettergate/pkg/config"
)

// NewSQLStoreFromConfig opens the database named by credits.sql_database and
// creates a SQLStore on it.
func NewSQLStoreFromConfig(ctx context.Context, cfg *config.Config, pool *config.DBPool, opts ...StoreOption) (*SQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("DBPool is required for SQL credit backend")
	}
	dbCfg, ok := cfg.GetDatabase(cfg.Credits.SQLDatabase)
	if !ok {
		return nil, fmt.Errorf("database %q not found", cfg.Credits.SQLDatabase)
	}
	db, err := pool.Get(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	store, err := NewSQLStore(ctx, db, dbCfg.Dialect(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQL credit store: %w", err)
	}
	return store, nil
}

// GateOptionsFromConfig returns the gate options set by the credits section.
func GateOptionsFromConfig(cfg *config.CreditsConfig) []GateOption {
	return []GateOption{
		WithFreeTrial(cfg.FreeTrialEnabled()),
		WithTimeout(cfg.OperationTimeout),
	}
}
