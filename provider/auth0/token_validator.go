package auth0

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	josejwt "gopkg.in/go-jose/go-jose.v2/jwt"

	identity "github.com/goliatone/go-identity"
)

// TokenValidator validates Auth0-issued JWTs using JWKS.
type TokenValidator struct {
	config    Config
	validator *validator.Validator
}

// NewTokenValidator creates a new Auth0 token validator.
func NewTokenValidator(cfg Config) (*TokenValidator, error) {
	issuer := cfg.issuerURL()
	if issuer == "" {
		return nil, fmt.Errorf("auth0: issuer or domain is required")
	}

	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("auth0: invalid issuer URL: %w", err)
	}
	if issuerURL.Scheme == "" || issuerURL.Host == "" {
		return nil, fmt.Errorf("auth0: invalid issuer URL: %s", issuer)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	provider := jwks.NewCachingProvider(issuerURL, cacheTTL)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		cfg.Audience,
		validator.WithCustomClaims(func() validator.CustomClaims {
			return &Auth0CustomClaims{}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("auth0: failed to create validator: %w", err)
	}

	return &TokenValidator{
		config:    cfg,
		validator: jwtValidator,
	}, nil
}

// Validate verifies signature, issuer, audience and expiry and returns the
// custom claims.
func (v *TokenValidator) Validate(tokenString string) (*Auth0CustomClaims, error) {
	ctx := context.Background()
	if v.config.ContextFunc != nil {
		ctx = v.config.ContextFunc()
	}

	token, err := v.validator.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, normalizeValidationError(err)
	}

	validated, ok := token.(*validator.ValidatedClaims)
	if !ok || validated == nil {
		return nil, identity.ErrTokenMalformed
	}

	claims, ok := validated.CustomClaims.(*Auth0CustomClaims)
	if !ok || claims == nil {
		claims = &Auth0CustomClaims{}
	}
	return claims, nil
}

func normalizeValidationError(err error) error {
	if err == nil {
		return nil
	}

	// the validator checks registered claims with go-jose
	clone := identity.ErrTokenMalformed.Clone()
	if stderrors.Is(err, josejwt.ErrExpired) {
		clone = identity.ErrInvalidToken.Clone()
	}

	clone.Source = err
	return clone.WithMetadata(map[string]any{
		"provider": "auth0",
		"cause":    err.Error(),
	})
}
