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
	"time"
)

// AuthConfig configures how callers are identified.
//
// With provider "jwt" the bearer token is validated against a JWKS:
//
//	auth:
//	  provider: jwt
//	  jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	  issuer: "https://auth.example.com"
//	  audience: "lettergate"
//	  super_user_roles: [admin]
//
// Provider "static" maps fixed tokens to users and is meant for local use.
type AuthConfig struct {
	// Provider is "jwt" or "static". Default: jwt.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=jwt,enum=static,default=jwt"`

	JWKSURL  string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`
	Issuer   string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// CACertificate is a PEM bundle trusted for the JWKS endpoint instead
	// of the system roots.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`

	// RefreshInterval is how often the JWKS is refreshed. Default: 15m.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`

	// SuperUserRoles are role claim values that bypass the credit gate.
	SuperUserRoles []string `yaml:"super_user_roles,omitempty" json:"super_user_roles,omitempty"`

	// StaticTokens maps token to user for the static provider.
	StaticTokens map[string]StaticUser `yaml:"static_tokens,omitempty" json:"static_tokens,omitempty"`
}

// StaticUser is a principal bound to a fixed token.
type StaticUser struct {
	UserID    string `yaml:"user_id" json:"user_id"`
	SuperUser bool   `yaml:"super_user,omitempty" json:"super_user,omitempty"`
}

// SetDefaults fills unset fields.
func (c *AuthConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "jwt"
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if len(c.SuperUserRoles) == 0 {
		c.SuperUserRoles = []string{"admin"}
	}
}

// Validate checks the configuration.
func (c *AuthConfig) Validate() error {
	switch c.Provider {
	case "jwt":
		if c.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required for the jwt provider")
		}
		if c.Issuer == "" {
			return fmt.Errorf("auth.issuer is required for the jwt provider")
		}
		if c.Audience == "" {
			return fmt.Errorf("auth.audience is required for the jwt provider")
		}
		if c.RefreshInterval < time.Minute {
			return fmt.Errorf("auth.refresh_interval must be at least 1 minute")
		}
	case "static":
		if len(c.StaticTokens) == 0 {
			return fmt.Errorf("auth.static_tokens is required for the static provider")
		}
		for token, u := range c.StaticTokens {
			if token == "" || u.UserID == "" {
				return fmt.Errorf("auth.static_tokens entries need a token and a user_id")
			}
		}
	default:
		return fmt.Errorf("invalid auth.provider %q (valid: jwt, static)", c.Provider)
	}
	return nil
}
