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
	"os"
	"time"
)

// DraftingConfig selects the letter generation backend.
//
//	drafting:
//	  provider: gemini
//	  model: gemini-2.5-flash
//	  api_key: ${GEMINI_API_KEY}
type DraftingConfig struct {
	// Provider is "gemini" or "static". Default: gemini.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=gemini,enum=static,default=gemini"`

	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey      string   `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Timeout bounds one generation call. Default: 90s.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults fills unset fields.
func (c *DraftingConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Provider == "gemini" {
		if c.Model == "" {
			c.Model = "gemini-2.5-flash"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 90 * time.Second
	}
}

// Validate checks the configuration.
func (c *DraftingConfig) Validate() error {
	switch c.Provider {
	case "gemini":
		if c.APIKey == "" {
			return fmt.Errorf("drafting.api_key is required for gemini (or set GEMINI_API_KEY)")
		}
	case "static":
	default:
		return fmt.Errorf("invalid drafting.provider %q (valid: gemini, static)", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("drafting.temperature must be between 0 and 2")
	}
	return nil
}
