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

package auth

import (
	"context"
	"slices"

	"github.com/kadirpekel/lettergate/pkg/credits"
)

type contextKey string

const (
	claimsContextKey    contextKey = "lettergate_auth_claims"
	principalContextKey contextKey = "lettergate_auth_principal"
)

// Claims are the validated token claims.
type Claims struct {
	// Subject is the unique identifier for the user (sub claim).
	Subject string `json:"sub"`

	Email string `json:"email,omitempty"`

	// Roles holds the "role" claim and any entries of a "roles" array.
	Roles []string `json:"roles,omitempty"`

	TenantID string `json:"tenant_id,omitempty"`

	// Custom contains any additional claims not mapped to struct fields.
	Custom map[string]any `json:"-"`
}

// GetStringClaim returns a custom claim if it is a string.
func (c *Claims) GetStringClaim(key string) string {
	if c.Custom == nil {
		return ""
	}
	s, _ := c.Custom[key].(string)
	return s
}

func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(c.Roles, r) {
			return true
		}
	}
	return false
}

// ClaimsFromContext returns the claims stored by the middleware, if any.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (credits.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(credits.Principal)
	return p, ok
}

func ContextWithPrincipal(ctx context.Context, p credits.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
