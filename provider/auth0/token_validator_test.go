package auth0

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	josejwt "gopkg.in/go-jose/go-jose.v2/jwt"

	identity "github.com/goliatone/go-identity"
)

func TestTokenValidator_ValidateValidToken(t *testing.T) {
	privateKey, jwksJSON, kid := newTestJWKS(t)
	server := newJWKSServer(jwksJSON)
	t.Cleanup(server.Close)

	issuer := server.URL + "/"
	audience := "https://api.test"

	validator, err := NewTokenValidator(Config{
		Issuer:   issuer,
		Audience: []string{audience},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":            issuer,
		"sub":            "auth0|user-123",
		"aud":            []string{audience},
		"iat":            now.Unix(),
		"exp":            now.Add(1 * time.Hour).Unix(),
		"scope":          "openid profile",
		"email":          "pro@example.com",
		"email_verified": true,
		"app_metadata": map[string]any{
			"accountId":        "5f0c1b9e-0000-4000-8000-000000000001",
			"activationStatus": "APPROVED",
		},
	}

	custom, err := validator.Validate(signToken(t, privateKey, kid, claims))
	require.NoError(t, err)

	assert.Equal(t, "pro@example.com", custom.Email)
	assert.True(t, custom.EmailVerified)
	assert.Equal(t, "openid profile", custom.Scope)
	assert.Equal(t, "APPROVED", custom.ActivationStatus())
	assert.Equal(t, "auth0|user-123", custom.Raw["sub"])
}

func TestTokenValidator_ValidateExpiredToken(t *testing.T) {
	privateKey, jwksJSON, kid := newTestJWKS(t)
	server := newJWKSServer(jwksJSON)
	t.Cleanup(server.Close)

	issuer := server.URL + "/"
	audience := "https://api.test"

	validator, err := NewTokenValidator(Config{
		Issuer:   issuer,
		Audience: []string{audience},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": "auth0|user-123",
		"aud": []string{audience},
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-1 * time.Hour).Unix(),
	}

	_, err = validator.Validate(signToken(t, privateKey, kid, claims))
	require.Error(t, err)
	assert.True(t, identity.IsInvalidToken(err))

	var richErr *goerrors.Error
	if assert.ErrorAs(t, err, &richErr) {
		assert.Equal(t, "auth0", richErr.Metadata["provider"])
	}
}

func TestTokenValidator_Rejections(t *testing.T) {
	privateKey, jwksJSON, kid := newTestJWKS(t)
	server := newJWKSServer(jwksJSON)
	t.Cleanup(server.Close)

	issuer := server.URL + "/"
	audience := "https://api.test"

	validator, err := NewTokenValidator(Config{
		Issuer:   issuer,
		Audience: []string{audience},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "malformed",
			token: "not.a.valid.token",
		},
		{
			name: "wrong audience",
			token: signToken(t, privateKey, kid, jwt.MapClaims{
				"iss": issuer,
				"sub": "auth0|user-123",
				"aud": []string{"https://wrong.audience"},
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			}),
		},
		{
			name: "wrong issuer",
			token: signToken(t, privateKey, kid, jwt.MapClaims{
				"iss": "https://issuer.invalid/",
				"sub": "auth0|user-123",
				"aud": []string{audience},
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.Validate(tt.token)
			require.Error(t, err)

			var richErr *goerrors.Error
			if assert.ErrorAs(t, err, &richErr) {
				assert.Equal(t, identity.TextCodeMalformedToken, richErr.TextCode)
				assert.Equal(t, "auth0", richErr.Metadata["provider"])
			}
		})
	}
}

func TestNormalizeValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		textCode string
	}{
		{
			name:     "expired",
			err:      fmt.Errorf("expected claims not validated: %w", josejwt.ErrExpired),
			textCode: identity.TextCodeInvalidToken,
		},
		{
			name:     "wrong audience",
			err:      fmt.Errorf("expected claims not validated: %w", josejwt.ErrInvalidAudience),
			textCode: identity.TextCodeMalformedToken,
		},
		{
			name:     "golang-jwt expiry is not the validator's",
			err:      jwt.ErrTokenExpired,
			textCode: identity.TextCodeMalformedToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := normalizeValidationError(tt.err)

			var richErr *goerrors.Error
			require.ErrorAs(t, err, &richErr)
			assert.Equal(t, tt.textCode, richErr.TextCode)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, normalizeValidationError(nil))
}

func TestNewTokenValidator_RequiresIssuer(t *testing.T) {
	_, err := NewTokenValidator(Config{})
	require.Error(t, err)

	_, err = NewTokenValidator(Config{Issuer: "not a url"})
	require.Error(t, err)
}

func TestConfig_IssuerURL(t *testing.T) {
	assert.Equal(t, "https://tenant.auth0.com/", Config{Domain: "tenant.auth0.com"}.issuerURL())
	assert.Equal(t, "https://tenant.auth0.com/", Config{Domain: "https://tenant.auth0.com"}.issuerURL())
	assert.Equal(t, "https://custom/", Config{Domain: "tenant.auth0.com", Issuer: "https://custom"}.issuerURL())
	assert.Equal(t, DefaultConnection, Config{}.connection())
}

func newTestJWKS(t *testing.T) (*rsa.PrivateKey, []byte, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kid := "test-key"
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}

	jwks := map[string]any{
		"keys": []map[string]any{jwk},
	}

	data, err := json.Marshal(jwks)
	require.NoError(t, err)

	return privateKey, data, kid
}

func newJWKSServer(jwks []byte) *httptest.Server {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			payload := map[string]any{
				"jwks_uri": server.URL + "/.well-known/jwks.json",
			}
			_ = json.NewEncoder(w).Encode(payload)
		case "/.well-known/jwks.json", "/":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(jwks)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return server
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	require.NoError(t, err)

	return signed
}
