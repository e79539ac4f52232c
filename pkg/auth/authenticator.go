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

package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/lettergate/internal/httpclient"
	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
)

// Authenticator resolves a bearer token to the principal the credit gate
// evaluates.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (credits.Principal, error)
}

// ClaimsAuthenticator maps validated claims to a principal. A subject
// holding any of the super-user roles bypasses the credit gate.
type ClaimsAuthenticator struct {
	validator      TokenValidator
	superUserRoles []string
}

// NewClaimsAuthenticator wraps validator.
func NewClaimsAuthenticator(validator TokenValidator, superUserRoles []string) *ClaimsAuthenticator {
	return &ClaimsAuthenticator{validator: validator, superUserRoles: superUserRoles}
}

func (a *ClaimsAuthenticator) Authenticate(ctx context.Context, token string) (credits.Principal, error) {
	if token == "" {
		return credits.Principal{}, ErrUnauthorized
	}
	claims, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return credits.Principal{}, err
	}
	return credits.Principal{
		UserID:    claims.Subject,
		SuperUser: claims.HasAnyRole(a.superUserRoles...),
	}, nil
}

// Close stops the validator's background work, if it has any.
func (a *ClaimsAuthenticator) Close() error {
	if c, ok := a.validator.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

// StaticAuthenticator maps fixed tokens to principals. Meant for local runs
// and tests.
type StaticAuthenticator struct {
	tokens map[string]credits.Principal
}

func NewStaticAuthenticator(tokens map[string]credits.Principal) *StaticAuthenticator {
	return &StaticAuthenticator{tokens: tokens}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (credits.Principal, error) {
	if token == "" {
		return credits.Principal{}, ErrUnauthorized
	}
	for t, p := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return p, nil
		}
	}
	return credits.Principal{}, ErrInvalidToken
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// It returns "" when the header is missing or malformed.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewFromConfig builds the authenticator named by auth.provider.
func NewFromConfig(cfg *config.AuthConfig) (Authenticator, error) {
	switch cfg.Provider {
	case "static":
		tokens := make(map[string]credits.Principal, len(cfg.StaticTokens))
		for token, u := range cfg.StaticTokens {
			tokens[token] = credits.Principal{UserID: u.UserID, SuperUser: u.SuperUser}
		}
		return NewStaticAuthenticator(tokens), nil
	case "jwt", "":
		transport, err := httpclient.ConfigureTLS(&httpclient.TLSConfig{CACertificate: cfg.CACertificate})
		if err != nil {
			return nil, err
		}
		validator, err := NewJWTValidator(JWTValidatorConfig{
			JWKSURL:         cfg.JWKSURL,
			Issuer:          cfg.Issuer,
			Audience:        cfg.Audience,
			RefreshInterval: cfg.RefreshInterval,
			HTTPClient: httpclient.New(httpclient.WithHTTPClient(&http.Client{
				Transport: transport,
				Timeout:   10 * time.Second,
			})),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT validator: %w", err)
		}
		return NewClaimsAuthenticator(validator, cfg.SuperUserRoles), nil
	}
	return nil, fmt.Errorf("unsupported auth provider: %s", cfg.Provider)
}
