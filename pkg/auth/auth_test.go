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
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/credits"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "lettergate"
	testKeyID    = "test-key-id"
)

type testIdP struct {
	key     *rsa.PrivateKey
	jwksURL string
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	return &testIdP{key: key, jwksURL: srv.URL + "/.well-known/jwks.json"}
}

func (p *testIdP) token(t *testing.T, subject string, ttl time.Duration, extra map[string]any) string {
	t.Helper()
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.IssuerKey, testIssuer))
	require.NoError(t, tok.Set(jwt.AudienceKey, testAudience))
	if subject != "" {
		require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	}
	require.NoError(t, tok.Set(jwt.IssuedAtKey, time.Now()))
	require.NoError(t, tok.Set(jwt.ExpirationKey, time.Now().Add(ttl)))
	for k, v := range extra {
		require.NoError(t, tok.Set(k, v))
	}

	key, err := jwk.FromRaw(p.key)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func (p *testIdP) validator(t *testing.T) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(JWTValidatorConfig{JWKSURL: p.jwksURL, Issuer: testIssuer, Audience: testAudience})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func TestJWTValidator_ValidToken(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.validator(t)

	claims, err := v.ValidateToken(context.Background(), idp.token(t, "user-1", time.Hour, map[string]any{
		"email":     "u@example.com",
		"role":      "member",
		"roles":     []string{"admin"},
		"tenant_id": "acme",
		"plan":      "monthly",
	}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "u@example.com", claims.Email)
	assert.Equal(t, "acme", claims.TenantID)
	assert.ElementsMatch(t, []string{"member", "admin"}, claims.Roles)
	assert.Equal(t, "monthly", claims.GetStringClaim("plan"))
	assert.True(t, claims.HasAnyRole("admin"))
	assert.False(t, claims.HasAnyRole("owner"))
}

func TestJWTValidator_Rejects(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.validator(t)
	other := newTestIdP(t)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", idp.token(t, "user-1", -time.Minute, nil)},
		{"wrong key", other.token(t, "user-1", time.Hour, nil)},
		{"garbage", "not-a-jwt"},
		{"no subject", idp.token(t, "", time.Hour, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateToken(context.Background(), tt.token)
			assert.Error(t, err)
		})
	}
}

func TestNewJWTValidator_BadURL(t *testing.T) {
	_, err := NewJWTValidator(JWTValidatorConfig{})
	assert.Error(t, err)

	_, err = NewJWTValidator(JWTValidatorConfig{JWKSURL: "http://127.0.0.1:1/jwks.json"})
	assert.Error(t, err)
}

func TestClaimsAuthenticator_SuperUserRoles(t *testing.T) {
	idp := newTestIdP(t)
	a := NewClaimsAuthenticator(idp.validator(t), []string{"admin"})
	ctx := context.Background()

	p, err := a.Authenticate(ctx, idp.token(t, "root", time.Hour, map[string]any{"role": "admin"}))
	require.NoError(t, err)
	assert.Equal(t, credits.Principal{UserID: "root", SuperUser: true}, p)

	p, err = a.Authenticate(ctx, idp.token(t, "bob", time.Hour, map[string]any{"role": "member"}))
	require.NoError(t, err)
	assert.Equal(t, credits.Principal{UserID: "bob"}, p)

	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator(map[string]credits.Principal{
		"tok-alice": {UserID: "alice"},
	})
	p, err := a.Authenticate(context.Background(), "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)

	_, err = a.Authenticate(context.Background(), "tok-mallory")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewFromConfig_Static(t *testing.T) {
	cfg := &config.AuthConfig{
		Provider:     "static",
		StaticTokens: map[string]config.StaticUser{"t1": {UserID: "u1", SuperUser: true}},
	}
	a, err := NewFromConfig(cfg)
	require.NoError(t, err)

	p, err := a.Authenticate(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, p.SuperUser)

	_, err = NewFromConfig(&config.AuthConfig{Provider: "saml"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := NewStaticAuthenticator(map[string]credits.Principal{"good": {UserID: "u1"}})
	h := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(p.UserID))
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer good", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", rec.Body.String())
			}
		})
	}
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ClaimsFromContext(ctx))
	ctx = ContextWithClaims(ctx, &Claims{Subject: "x"})
	assert.Equal(t, "x", ClaimsFromContext(ctx).Subject)
}
