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

package config

import (
	"fmt"
	"strings"
	"time"
)

// DatabaseConfig describes one SQL database referenced by name from the
// rate limiting, credits and audit sections.
//
//	databases:
//	  main:
//	    driver: postgres
//	    host: db.internal
//	    database: lettergate
//	    username: ${DB_USER}
//	    password: ${DB_PASSWORD}
type DatabaseConfig struct {
	Driver   string `yaml:"driver" json:"driver" jsonschema:"title=Driver,enum=postgres,enum=mysql,enum=sqlite,enum=sqlite3"`
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Database string `yaml:"database" json:"database" jsonschema:"description=Database name or SQLite file path"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	MaxConns    int           `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"minimum=1,default=25"`
	MaxIdle     int           `yaml:"max_idle,omitempty" json:"max_idle,omitempty" jsonschema:"minimum=1,default=5"`
	MaxLifetime time.Duration `yaml:"max_lifetime,omitempty" json:"max_lifetime,omitempty"`
}

// SetDefaults applies default values to the database config.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = time.Hour
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("driver is required")
	}
	if !oneOf(c.Driver, "postgres", "mysql", "sqlite", "sqlite3") {
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Dialect() != "sqlite" && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Dialect() {
	case "postgres":
		parts := []string{
			fmt.Sprintf("host=%s", c.Host),
			fmt.Sprintf("port=%d", c.Port),
			fmt.Sprintf("dbname=%s", c.Database),
		}
		if c.Username != "" {
			parts = append(parts, "user="+c.Username)
		}
		if c.Password != "" {
			parts = append(parts, "password="+c.Password)
		}
		if c.SSLMode != "" {
			parts = append(parts, "sslmode="+c.SSLMode)
		}
		return strings.Join(parts, " ")
	case "mysql":
		// parseTime makes DATETIME columns scan into time.Time.
		auth := ""
		if c.Username != "" {
			auth = fmt.Sprintf("%s:%s@", c.Username, c.Password)
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?parseTime=true", auth, c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.Dialect() == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns the normalized SQL dialect: postgres, mysql or sqlite.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
