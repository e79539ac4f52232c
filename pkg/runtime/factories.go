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

package runtime

import (
	"context"
	"fmt"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/auth"
	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/credits/ledger"
	"github.com/kadirpekel/lettergate/pkg/drafting"
)

// CreditStoreFactory opens the durable account store.
type CreditStoreFactory func(ctx context.Context, cfg *config.Config, pool *config.DBPool, clk clock.Clock) (credits.Store, error)

// AuthenticatorFactory builds the identity provider glue.
type AuthenticatorFactory func(cfg *config.AuthConfig) (auth.Authenticator, error)

// DrafterFactory builds the letter generator.
type DrafterFactory func(cfg *config.DraftingConfig) (drafting.Drafter, error)

// DefaultCreditStoreFactory creates the store named by credits.backend.
func DefaultCreditStoreFactory(ctx context.Context, cfg *config.Config, pool *config.DBPool, clk clock.Clock) (credits.Store, error) {
	switch cfg.Credits.Backend {
	case "memory", "":
		return credits.NewMemoryStore(credits.WithStoreClock(clk)), nil
	case "sql":
		return credits.NewSQLStoreFromConfig(ctx, cfg, pool, credits.WithStoreClock(clk))
	case "ledger":
		return ledger.NewFromConfig(ctx, &cfg.Credits, ledger.WithClock(clk))
	default:
		return nil, fmt.Errorf("unknown credits backend: %s", cfg.Credits.Backend)
	}
}

// DefaultAuthenticatorFactory builds the authenticator named by auth.provider.
func DefaultAuthenticatorFactory(cfg *config.AuthConfig) (auth.Authenticator, error) {
	return auth.NewFromConfig(cfg)
}

// DefaultDrafterFactory builds the drafter named by drafting.provider.
func DefaultDrafterFactory(cfg *config.DraftingConfig) (drafting.Drafter, error) {
	return drafting.NewFromConfig(cfg)
}
