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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/lettergate/pkg/config"
)

// SchemaCmd prints the JSON Schema of the configuration to stdout.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://lettergate.dev/schemas/config.json"
	schema.Title = "LetterGate Configuration"
	schema.Description = "Configuration for the LetterGate admission and credit service"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []any{
		map[string]any{
			"rate_limiting": map[string]any{
				"endpoints": map[string]any{
					"letters.generate": map[string]any{"window": "15m", "max_requests": 5},
				},
			},
			"credits": map[string]any{
				"backend":    "memory",
				"free_trial": true,
			},
			"auth": map[string]any{
				"provider": "static",
				"static_tokens": map[string]any{
					"dev-token": map[string]any{"user_id": "dev"},
				},
			},
			"drafting": map[string]any{"provider": "static"},
		},
	}

	enc := json.NewEncoder(os.Stdout)
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
