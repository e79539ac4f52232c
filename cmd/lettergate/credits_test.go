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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/credits"
)

func sqliteCLI(t *testing.T, clk clock.Clock) *CLI {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lettergate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  provider: static
  static_tokens:
    t: { user_id: u }
drafting:
  provider: static
databases:
  main:
    driver: sqlite
    database: `+filepath.Join(dir, "credits.db")+`
credits:
  backend: sql
  sql_database: main
`), 0o644))
	return &CLI{Config: path, ConfigType: "file", clk: clk}
}

func readAccount(t *testing.T, cli *CLI, user string) *credits.Account {
	t.Helper()
	ctx := context.Background()
	_, store, release, err := openStore(ctx, cli)
	require.NoError(t, err)
	defer release()
	acct, err := store.Account(ctx, user)
	require.NoError(t, err)
	return acct
}

func TestCreditsCommands_UseCLIClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	cli := sqliteCLI(t, clk)

	require.NoError(t, (&CreditsSubscribeCmd{User: "alice", Plan: "monthly", Period: 48 * time.Hour}).Run(cli))
	acct := readAccount(t, cli, "alice")
	require.NotNil(t, acct.Subscription)
	assert.True(t, start.Add(48*time.Hour).Equal(acct.Subscription.PeriodEnd))
	assert.Equal(t, int64(20), acct.Subscription.CreditsRemaining)

	require.NoError(t, (&CreditsGrantCmd{User: "alice", Amount: 3, Key: "invoice-1"}).Run(cli))
	require.NoError(t, (&CreditsResetCmd{}).Run(cli))
	acct = readAccount(t, cli, "alice")
	assert.Equal(t, int64(23), acct.Subscription.CreditsRemaining, "period has not ended on the CLI clock")

	clk.Advance(48 * time.Hour)
	require.NoError(t, (&CreditsResetCmd{}).Run(cli))
	acct = readAccount(t, cli, "alice")
	assert.Equal(t, int64(20), acct.Subscription.CreditsRemaining)
	assert.True(t, clk.Now().Add(30*24*time.Hour).Equal(acct.Subscription.PeriodEnd))
}

func TestCLI_DefaultClockIsReal(t *testing.T) {
	assert.Equal(t, clock.Real{}, (&CLI{}).clock())
}
