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
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/lettergate/internal/httpclient"
)

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// JWTValidatorConfig configures a JWTValidator.
type JWTValidatorConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration

	// HTTPClient fetches the JWKS. Defaults to a retrying client.
	HTTPClient *httpclient.Client
}

// JWTValidator validates JWTs against a remote JWKS that is cached and
// refreshed in the background.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
	cancel   context.CancelFunc
}

var standardClaims = map[string]bool{
	"sub": true, "email": true, "role": true, "roles": true, "tenant_id": true,
	"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true, "jti": true,
}

// jwksHTTPClient adapts httpclient.Client to the Get-based client the JWKS
// cache expects.
type jwksHTTPClient struct{ *httpclient.Client }

func (c jwksHTTPClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// NewJWTValidator fetches the JWKS once to validate the configuration.
func NewJWTValidator(cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(ctx)
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.New()
	}
	if err := cache.Register(cfg.JWKSURL,
		jwk.WithMinRefreshInterval(cfg.RefreshInterval),
		jwk.WithHTTPClient(jwksHTTPClient{cfg.HTTPClient}),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cancel:   cancel,
	}, nil
}

func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if token.Subject() == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaims)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	for key, value := range token.PrivateClaims() {
		switch key {
		case "email":
			claims.Email, _ = value.(string)
		case "tenant_id":
			claims.TenantID, _ = value.(string)
		case "role":
			if s, ok := value.(string); ok && s != "" {
				claims.Roles = append(claims.Roles, s)
			}
		case "roles":
			if list, ok := value.([]any); ok {
				for _, r := range list {
					if s, ok := r.(string); ok && s != "" {
						claims.Roles = append(claims.Roles, s)
					}
				}
			}
		default:
			if !standardClaims[key] {
				claims.Custom[key] = value
			}
		}
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *JWTValidator) Close() {
	if v.cancel != nil {
		v.cancel()
	}
}
