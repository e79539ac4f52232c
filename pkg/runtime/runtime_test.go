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

package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
)

const letterBody = `{"recipient":"Ms. Grey","subject":"Lease renewal","facts":["Unit 4B"]}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{
			Provider: "static",
			StaticTokens: map[string]config.StaticUser{
				"alice-token": {UserID: "alice"},
				"root-token":  {UserID: "root", SuperUser: true},
			},
		},
		Drafting: config.DraftingConfig{Provider: "static"},
		Audit:    config.AuditConfig{Buffer: -1},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := localConfig(t)
	cfg.Databases = map[string]*config.DatabaseConfig{
		"main": {Driver: "sqlite", Database: filepath.Join(t.TempDir(), "lettergate.db")},
	}
	cfg.RateLimiting.Backend = "sql"
	cfg.RateLimiting.SQLDatabase = "main"
	cfg.RateLimiting.FailureMode = ""
	cfg.Credits.Backend = "sql"
	cfg.Credits.SQLDatabase = "main"
	cfg.Audit.Sinks = []string{"log", "sql"}
	cfg.Audit.SQLDatabase = "main"
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	rt, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func generate(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/letters:generate", strings.NewReader(letterBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_LocalConfig(t *testing.T) {
	rt := newRuntime(t, localConfig(t))

	assert.NotNil(t, rt.Config())
	assert.NotNil(t, rt.Gate())
	assert.NotNil(t, rt.Store())
	assert.NotNil(t, rt.Limiter())
	assert.NotNil(t, rt.Pipeline())
	assert.NotNil(t, rt.Resetter())
	assert.NotNil(t, rt.Server())
	assert.NotNil(t, rt.Observability())

	h := rt.Server().Handler()

	rec := generate(t, h, "alice-token")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "free_trial", body["reason"])

	rec = generate(t, h, "alice-token")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = generate(t, h, "root-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_RateLimitingDisabled(t *testing.T) {
	cfg := localConfig(t)
	cfg.RateLimiting.Enabled = config.BoolPtr(false)

	rt := newRuntime(t, cfg)
	assert.Nil(t, rt.Limiter())

	rec := generate(t, rt.Server().Handler(), "alice-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_SQLBackends(t *testing.T) {
	rt := newRuntime(t, sqliteConfig(t))
	_, ok := rt.Store().(*credits.SQLStore)
	require.True(t, ok)

	rec := generate(t, rt.Server().Handler(), "alice-token")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	acct, err := rt.Store().Account(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, acct.HasUsedFreeTrial())
	assert.Equal(t, int64(1), acct.LettersGenerated)
}

func TestNew_FactoryFailureCleansUp(t *testing.T) {
	boom := errors.New("store offline")
	_, err := New(context.Background(), localConfig(t),
		WithLogger(quietLogger()),
		WithCreditStoreFactory(func(context.Context, *config.Config, *config.DBPool, clock.Clock) (credits.Store, error) {
			return nil, boom
		}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNew_UnknownCreditsBackend(t *testing.T) {
	cfg := localConfig(t)
	cfg.Credits.Backend = "redis"
	_, err := New(context.Background(), cfg, WithLogger(quietLogger()))
	assert.Error(t, err)
}

func TestResetter_RestoresExpiredPeriods(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	rt := newRuntime(t, localConfig(t), WithClock(clk))
	ctx := context.Background()

	require.NoError(t, rt.Store().SetSubscription(ctx, "bob", credits.Subscription{
		Plan:             credits.PlanMonthly,
		CreditsRemaining: 0,
		PeriodEnd:        clk.Now().Add(time.Hour),
	}))
	clk.Advance(2 * time.Hour)

	counts, err := rt.Resetter().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[credits.PlanMonthly])

	acct, err := rt.Store().Account(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, acct.Subscription)
	assert.Equal(t, int64(20), acct.Subscription.CreditsRemaining)
	assert.True(t, acct.Subscription.PeriodEnd.After(clk.Now()))
}

func TestUpdateRateLimits(t *testing.T) {
	rt := newRuntime(t, localConfig(t))

	next := localConfig(t)
	next.RateLimiting.Endpoints = map[string]config.RateLimitPolicy{
		"letters.generate": {Window: 15 * time.Minute, MaxRequests: 1},
	}
	require.NoError(t, rt.UpdateRateLimits(next))

	p := rt.Limiter().Policies().For("letters.generate")
	assert.Equal(t, int64(1), p.MaxRequests)
	assert.Equal(t, 15*time.Minute, p.Window)

	h := rt.Server().Handler()
	assert.Equal(t, http.StatusOK, generate(t, h, "root-token").Code)
	assert.Equal(t, http.StatusTooManyRequests, generate(t, h, "root-token").Code)
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := localConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	rt := newRuntime(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestClose_Idempotent(t *testing.T) {
	rt, err := New(context.Background(), localConfig(t), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, rt.Close(context.Background()))
	require.NoError(t, rt.Close(context.Background()))
}
