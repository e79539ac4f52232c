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

// CreditsConfig configures the credit gate and its durable account store.
//
//	credits:
//	  backend: sql
//	  sql_database: main
//	  free_trial: true
//	  plans:
//	    monthly: { credits: 20, period: 720h }
//	    annual:  { credits: 25, period: 720h }
type CreditsConfig struct {
	// Backend is "memory", "sql" or "ledger".
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=memory,enum=sql,enum=ledger,default=memory"`

	// SQLDatabase names an entry in databases. Required for the sql backend.
	SQLDatabase string `yaml:"sql_database,omitempty" json:"sql_database,omitempty"`

	// FreeTrial enables the one-time free letter. Default: true.
	FreeTrial *bool `yaml:"free_trial,omitempty" json:"free_trial,omitempty"`

	// OperationTimeout bounds each store call made by the gate. Default: 5s.
	OperationTimeout time.Duration `yaml:"operation_timeout,omitempty" json:"operation_timeout,omitempty"`

	// Plans maps a plan type to the allotment applied on each period reset.
	Plans map[string]PlanConfig `yaml:"plans,omitempty" json:"plans,omitempty"`

	// Ledger configures the TigerBeetle backend.
	Ledger *LedgerConfig `yaml:"ledger,omitempty" json:"ledger,omitempty"`
}

// PlanConfig is the allotment granted per billing period.
type PlanConfig struct {
	Credits int64         `yaml:"credits" json:"credits"`
	Period  time.Duration `yaml:"period,omitempty" json:"period,omitempty"`
}

// LedgerConfig points at a TigerBeetle cluster.
type LedgerConfig struct {
	ClusterID uint64   `yaml:"cluster_id" json:"cluster_id"`
	Addresses []string `yaml:"addresses" json:"addresses"`

	// Ledger is the TigerBeetle ledger number holding credit accounts. Default: 1.
	Ledger uint32 `yaml:"ledger,omitempty" json:"ledger,omitempty"`

	// Code tags accounts and transfers created by this service. Default: 1.
	Code uint16 `yaml:"code,omitempty" json:"code,omitempty"`
}

// FreeTrialEnabled reports whether the free trial is offered.
func (c *CreditsConfig) FreeTrialEnabled() bool {
	return c == nil || BoolValue(c.FreeTrial, true)
}

// SetDefaults fills unset fields.
func (c *CreditsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.FreeTrial == nil {
		c.FreeTrial = BoolPtr(true)
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 5 * time.Second
	}
	if len(c.Plans) == 0 {
		c.Plans = map[string]PlanConfig{
			"monthly":        {Credits: 20},
			"annual":         {Credits: 25},
			"pay_per_letter": {Credits: 0},
		}
	}
	for name, p := range c.Plans {
		if p.Period == 0 {
			p.Period = 30 * 24 * time.Hour
			c.Plans[name] = p
		}
	}
	if c.Ledger != nil {
		if c.Ledger.Ledger == 0 {
			c.Ledger.Ledger = 1
		}
		if c.Ledger.Code == 0 {
			c.Ledger.Code = 1
		}
	}
}

// Validate checks the configuration.
func (c *CreditsConfig) Validate() error {
	if !oneOf(c.Backend, "memory", "sql", "ledger") {
		return fmt.Errorf("invalid credits.backend %q, must be 'memory', 'sql' or 'ledger'", c.Backend)
	}
	if c.Backend == "sql" && c.SQLDatabase == "" {
		return fmt.Errorf("credits.backend 'sql' requires 'sql_database' reference")
	}
	if c.Backend == "ledger" {
		if c.Ledger == nil || len(c.Ledger.Addresses) == 0 {
			return fmt.Errorf("credits.backend 'ledger' requires credits.ledger.addresses")
		}
	}
	if c.OperationTimeout < 0 {
		return fmt.Errorf("credits.operation_timeout must be non-negative")
	}
	for name, p := range c.Plans {
		if p.Credits < 0 {
			return fmt.Errorf("credits.plans.%s.credits must be non-negative", name)
		}
		if p.Period <= 0 {
			return fmt.Errorf("credits.plans.%s.period must be positive", name)
		}
	}
	return nil
}
