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

// Package config holds the service configuration, its YAML loader and the
// shared database pool.
package config

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/lettergate/pkg/observability"
)

// Config is the root configuration document.
type Config struct {
	Name          string                     `yaml:"name,omitempty" json:"name,omitempty"`
	Server        ServerConfig               `yaml:"server,omitempty" json:"server,omitempty"`
	Logger        LoggerConfig               `yaml:"logger,omitempty" json:"logger,omitempty"`
	Databases     map[string]*DatabaseConfig `yaml:"databases,omitempty" json:"databases,omitempty"`
	RateLimiting  RateLimitConfig            `yaml:"rate_limiting,omitempty" json:"rate_limiting,omitempty"`
	Credits       CreditsConfig              `yaml:"credits,omitempty" json:"credits,omitempty"`
	Audit         AuditConfig                `yaml:"audit,omitempty" json:"audit,omitempty"`
	Auth          AuthConfig                 `yaml:"auth,omitempty" json:"auth,omitempty"`
	Drafting      DraftingConfig             `yaml:"drafting,omitempty" json:"drafting,omitempty"`
	Observability observability.Config       `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "lettergate"
	}
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}
	c.RateLimiting.SetDefaults()
	c.Credits.SetDefaults()
	c.Audit.SetDefaults()
	c.Auth.SetDefaults()
	c.Drafting.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section and the database references between them.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	for _, name := range c.DatabaseNames() {
		db := c.Databases[name]
		if db == nil {
			return fmt.Errorf("databases.%s is empty", name)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}
	if err := c.RateLimiting.Validate(); err != nil {
		return err
	}
	if err := c.Credits.Validate(); err != nil {
		return err
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Drafting.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return c.validateReferences()
}

func (c *Config) validateReferences() error {
	refs := []struct{ field, name string }{}
	if c.RateLimiting.IsEnabled() && c.RateLimiting.Backend == "sql" {
		refs = append(refs, struct{ field, name string }{"rate_limiting.sql_database", c.RateLimiting.SQLDatabase})
	}
	if c.Credits.Backend == "sql" {
		refs = append(refs, struct{ field, name string }{"credits.sql_database", c.Credits.SQLDatabase})
	}
	for _, s := range c.Audit.Sinks {
		if s == "sql" {
			refs = append(refs, struct{ field, name string }{"audit.sql_database", c.Audit.SQLDatabase})
		}
	}
	for _, r := range refs {
		if _, ok := c.GetDatabase(r.name); !ok {
			return fmt.Errorf("%s references unknown database %q (available: %v)", r.field, r.name, c.DatabaseNames())
		}
	}
	return nil
}

// GetDatabase looks up a named database.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok && db != nil
}

// DatabaseNames returns the configured database names, sorted.
func (c *Config) DatabaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for n := range c.Databases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
