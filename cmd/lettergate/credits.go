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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
	"github.com/kadirpekel/lettergate/pkg/runtime"
)

// CreditsCmd groups the account administration commands.
type CreditsCmd struct {
	Show      CreditsShowCmd      `cmd:"" help:"Show a user's account."`
	Grant     CreditsGrantCmd     `cmd:"" help:"Add credits to a user's active subscription."`
	Subscribe CreditsSubscribeCmd `cmd:"" help:"Provision or renew a subscription."`
	Super     CreditsSuperCmd     `cmd:"" help:"Grant or revoke super user status."`
	Reset     CreditsResetCmd     `cmd:"" help:"Restore allotments for accounts whose period has ended."`
}

// openStore loads the config and opens the configured credit store.
// The returned func releases both.
func openStore(ctx context.Context, cli *CLI) (*config.Config, credits.Store, func(), error) {
	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return nil, nil, nil, err
	}
	pool := config.NewDBPool()

	store, err := runtime.DefaultCreditStoreFactory(ctx, cfg, pool, cli.clock())
	if err != nil {
		_ = pool.Close()
		_ = loader.Close()
		return nil, nil, nil, fmt.Errorf("failed to open credit store: %w", err)
	}
	return cfg, store, func() {
		_ = store.Close()
		_ = pool.Close()
		_ = loader.Close()
	}, nil
}

type CreditsShowCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *CreditsShowCmd) Run(cli *CLI) error {
	ctx := context.Background()
	_, store, release, err := openStore(ctx, cli)
	if err != nil {
		return err
	}
	defer release()

	acct, err := store.Account(ctx, c.User)
	if err != nil {
		return fmt.Errorf("failed to read account: %w", err)
	}
	return printJSON(acct)
}

type CreditsGrantCmd struct {
	User   string `arg:"" help:"User ID."`
	Amount int64  `arg:"" help:"Number of credits to add."`
	Key    string `help:"Idempotency key. Re-running with the same key grants once. Defaults to a random key."`
}

func (c *CreditsGrantCmd) Run(cli *CLI) error {
	if c.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	ctx := context.Background()
	_, store, release, err := openStore(ctx, cli)
	if err != nil {
		return err
	}
	defer release()

	key := c.Key
	if key == "" {
		key = uuid.NewString()
	}
	adj, err := store.AdjustCredits(ctx, c.User, c.Amount, "grant:"+key)
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	slog.Info("Credits granted", "user", c.User, "amount", c.Amount, "balance", adj.Balance, "replayed", adj.Replayed, "key", key)
	return printJSON(map[string]any{
		"user_id":           c.User,
		"credits_remaining": adj.Balance,
		"replayed":          adj.Replayed,
	})
}

type CreditsSubscribeCmd struct {
	User    string        `arg:"" help:"User ID."`
	Plan    string        `arg:"" help:"Plan type (monthly, annual, pay_per_letter)."`
	Credits *int64        `help:"Credits for the first period (defaults to the plan allotment)."`
	Period  time.Duration `help:"Period length (defaults to the plan period)."`
}

func (c *CreditsSubscribeCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, store, release, err := openStore(ctx, cli)
	if err != nil {
		return err
	}
	defer release()

	plan, ok := cfg.Credits.Plans[c.Plan]
	if !ok {
		return fmt.Errorf("unknown plan %q", c.Plan)
	}
	amount := plan.Credits
	if c.Credits != nil {
		amount = *c.Credits
	}
	period := plan.Period
	if c.Period > 0 {
		period = c.Period
	}

	sub := credits.Subscription{
		Plan:             credits.PlanType(c.Plan),
		CreditsRemaining: amount,
		PeriodEnd:        cli.clock().Now().UTC().Add(period),
	}
	if err := store.SetSubscription(ctx, c.User, sub); err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	slog.Info("Subscription set", "user", c.User, "plan", sub.Plan, "credits", sub.CreditsRemaining, "period_end", sub.PeriodEnd)
	return printJSON(sub)
}

type CreditsSuperCmd struct {
	User   string `arg:"" help:"User ID."`
	Revoke bool   `help:"Revoke instead of grant."`
}

func (c *CreditsSuperCmd) Run(cli *CLI) error {
	ctx := context.Background()
	_, store, release, err := openStore(ctx, cli)
	if err != nil {
		return err
	}
	defer release()

	if err := store.SetSuperUser(ctx, c.User, !c.Revoke); err != nil {
		return fmt.Errorf("failed to update super user: %w", err)
	}
	slog.Info("Super user updated", "user", c.User, "super_user", !c.Revoke)
	return nil
}

type CreditsResetCmd struct{}

func (c *CreditsResetCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, store, release, err := openStore(ctx, cli)
	if err != nil {
		return err
	}
	defer release()

	resetter, err := credits.NewResetter(store, credits.PlansFromConfig(&cfg.Credits), cli.clock(), nil, slog.Default())
	if err != nil {
		return err
	}
	counts, err := resetter.Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(counts)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
