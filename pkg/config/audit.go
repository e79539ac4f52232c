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
	"fmt"
	"time"
)

// AuditConfig selects where admission audit records go.
//
//	audit:
//	  sinks: [log, sql]
//	  sql_database: main
type AuditConfig struct {
	// Sinks lists destinations: log, sql, duckdb. Default: [log].
	Sinks []string `yaml:"sinks,omitempty" json:"sinks,omitempty"`

	SQLDatabase string `yaml:"sql_database,omitempty" json:"sql_database,omitempty"`

	// DuckDBPath is the analytics database file for the duckdb sink.
	DuckDBPath string `yaml:"duckdb_path,omitempty" json:"duckdb_path,omitempty"`

	// Buffer is the async queue length. Default: 1024. -1 writes synchronously.
	Buffer int `yaml:"buffer,omitempty" json:"buffer,omitempty"`

	// WriteTimeout bounds a single sink write. Default: 2s.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// SetDefaults fills unset fields.
func (c *AuditConfig) SetDefaults() {
	if len(c.Sinks) == 0 {
		c.Sinks = []string{"log"}
	}
	if c.Buffer == 0 {
		c.Buffer = 1024
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.DuckDBPath == "" {
		c.DuckDBPath = "audit.duckdb"
	}
}

// Validate checks the configuration.
func (c *AuditConfig) Validate() error {
	for _, s := range c.Sinks {
		switch s {
		case "log", "duckdb":
		case "sql":
			if c.SQLDatabase == "" {
				return fmt.Errorf("audit sink 'sql' requires 'sql_database' reference")
			}
		default:
			return fmt.Errorf("invalid audit sink %q (valid: log, sql, duckdb)", s)
		}
	}
	if c.Buffer < -1 {
		return fmt.Errorf("audit.buffer must be -1 or greater")
	}
	return nil
}
