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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localConfig is the smallest config that validates without external services.
func localConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			Provider:     "static",
			StaticTokens: map[string]StaticUser{"dev-token": {UserID: "dev"}},
		},
		Drafting: DraftingConfig{Provider: "static"},
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := localConfig()
	cfg.SetDefaults()

	assert.Equal(t, "lettergate", cfg.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, int64(64<<10), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "info", cfg.Logger.Level)

	assert.True(t, cfg.RateLimiting.IsEnabled())
	assert.Equal(t, "memory", cfg.RateLimiting.Backend)
	assert.Equal(t, FailOpen, cfg.RateLimiting.FailureMode)
	assert.Equal(t, RateLimitPolicy{Window: time.Minute, MaxRequests: 60}, cfg.RateLimiting.Default)

	assert.Equal(t, "memory", cfg.Credits.Backend)
	assert.True(t, cfg.Credits.FreeTrialEnabled())
	assert.Equal(t, int64(20), cfg.Credits.Plans["monthly"].Credits)
	assert.Equal(t, int64(25), cfg.Credits.Plans["annual"].Credits)
	assert.Equal(t, int64(0), cfg.Credits.Plans["pay_per_letter"].Credits)
	assert.Equal(t, 30*24*time.Hour, cfg.Credits.Plans["monthly"].Period)

	assert.Equal(t, []string{"log"}, cfg.Audit.Sinks)
	assert.Equal(t, []string{"admin"}, cfg.Auth.SuperUserRoles)

	require.NoError(t, cfg.Validate())
}

func TestRateLimitConfig_FailureModeFollowsBackend(t *testing.T) {
	cfg := RateLimitConfig{Backend: "sql", SQLDatabase: "main"}
	cfg.SetDefaults()
	assert.Equal(t, FailClosed, cfg.FailureMode)

	cfg = RateLimitConfig{Backend: "sql", SQLDatabase: "main", FailureMode: FailOpen}
	cfg.SetDefaults()
	assert.Equal(t, FailOpen, cfg.FailureMode)
}

func TestConfig_Validate(t *testing.T) {
	sqlite := func() map[string]*DatabaseConfig {
		return map[string]*DatabaseConfig{"main": {Driver: "sqlite", Database: ":memory:"}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "local defaults",
			mutate: func(*Config) {},
		},
		{
			name: "sql backends with database",
			mutate: func(c *Config) {
				c.Databases = sqlite()
				c.RateLimiting.Backend = "sql"
				c.RateLimiting.SQLDatabase = "main"
				c.Credits.Backend = "sql"
				c.Credits.SQLDatabase = "main"
				c.Audit.Sinks = []string{"log", "sql"}
				c.Audit.SQLDatabase = "main"
			},
		},
		{
			name: "credits references unknown database",
			mutate: func(c *Config) {
				c.Databases = sqlite()
				c.Credits.Backend = "sql"
				c.Credits.SQLDatabase = "billing"
			},
			wantErr: `credits.sql_database references unknown database "billing"`,
		},
		{
			name: "rate limit references unknown database",
			mutate: func(c *Config) {
				c.RateLimiting.Backend = "sql"
				c.RateLimiting.SQLDatabase = "main"
			},
			wantErr: "rate_limiting.sql_database references unknown database",
		},
		{
			name: "disabled rate limit skips references",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = BoolPtr(false)
				c.RateLimiting.Backend = "sql"
				c.RateLimiting.SQLDatabase = "missing"
			},
		},
		{
			name: "audit sql sink without database",
			mutate: func(c *Config) {
				c.Audit.Sinks = []string{"sql"}
			},
			wantErr: "audit sink 'sql' requires 'sql_database' reference",
		},
		{
			name:    "unknown audit sink",
			mutate:  func(c *Config) { c.Audit.Sinks = []string{"kafka"} },
			wantErr: `invalid audit sink "kafka"`,
		},
		{
			name:    "unknown credits backend",
			mutate:  func(c *Config) { c.Credits.Backend = "redis" },
			wantErr: `invalid credits.backend "redis"`,
		},
		{
			name:    "ledger without addresses",
			mutate:  func(c *Config) { c.Credits.Backend = "ledger" },
			wantErr: "credits.ledger.addresses",
		},
		{
			name: "negative plan credits",
			mutate: func(c *Config) {
				c.Credits.Plans = map[string]PlanConfig{"monthly": {Credits: -1}}
			},
			wantErr: "credits.plans.monthly.credits must be non-negative",
		},
		{
			name: "zero endpoint window",
			mutate: func(c *Config) {
				c.RateLimiting.Endpoints = map[string]RateLimitPolicy{"letters.generate": {MaxRequests: 5}}
			},
			wantErr: "rate_limiting.endpoints.letters.generate.window must be positive",
		},
		{
			name:    "bad failure mode",
			mutate:  func(c *Config) { c.RateLimiting.FailureMode = "fail_maybe" },
			wantErr: `invalid rate_limiting.failure_mode "fail_maybe"`,
		},
		{
			name: "jwt without jwks",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Provider: "jwt", Issuer: "https://id", Audience: "lettergate"}
			},
			wantErr: "auth.jwks_url is required",
		},
		{
			name: "static token without user",
			mutate: func(c *Config) {
				c.Auth.StaticTokens = map[string]StaticUser{"t": {}}
			},
			wantErr: "need a token and a user_id",
		},
		{
			name:    "unknown drafting provider",
			mutate:  func(c *Config) { c.Drafting.Provider = "gpt" },
			wantErr: `invalid drafting.provider "gpt"`,
		},
		{
			name: "temperature out of range",
			mutate: func(c *Config) {
				temp := 3.0
				c.Drafting.Temperature = &temp
			},
			wantErr: "drafting.temperature must be between 0 and 2",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port 70000 out of range",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logger.Level = "loud" },
			wantErr: `logger: invalid log level "loud"`,
		},
		{
			name: "database without host",
			mutate: func(c *Config) {
				c.Databases = map[string]*DatabaseConfig{"main": {Driver: "postgres", Database: "lettergate"}}
			},
			wantErr: "databases.main: host is required for postgres",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig()
			tt.mutate(cfg)
			cfg.SetDefaults()

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		cfg    DatabaseConfig
		driver string
		dsn    string
	}{
		{
			name:   "postgres",
			cfg:    DatabaseConfig{Driver: "postgres", Host: "db", Database: "lg", Username: "u", Password: "p"},
			driver: "postgres",
			dsn:    "host=db port=5432 dbname=lg user=u password=p sslmode=disable",
		},
		{
			name:   "mysql",
			cfg:    DatabaseConfig{Driver: "mysql", Host: "db", Database: "lg", Username: "u", Password: "p"},
			driver: "mysql",
			dsn:    "u:p@tcp(db:3306)/lg?parseTime=true",
		},
		{
			name:   "sqlite",
			cfg:    DatabaseConfig{Driver: "sqlite", Database: "lettergate.db"},
			driver: "sqlite3",
			dsn:    "lettergate.db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.SetDefaults()
			assert.Equal(t, tt.driver, tt.cfg.DriverName())
			assert.Equal(t, tt.dsn, tt.cfg.DSN())
		})
	}
}
