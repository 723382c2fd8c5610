package auth0

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultConnection is the Auth0 database connection used when none is set.
const DefaultConnection = "Username-Password-Authentication"

// Config holds the Auth0 tenant settings.
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string

	// ClientID and ClientSecret belong to the M2M application used for the
	// management API.
	ClientID     string
	ClientSecret string

	// LoginClientID and LoginClientSecret belong to the application allowed
	// to use the password grant. Default: ClientID and ClientSecret.
	LoginClientID     string
	LoginClientSecret string

	// Connection is the database connection identities live in.
	Connection string

	// Audience is the API identifier(s) requested on login and validated on
	// the returned access token.
	Audience []string

	// Issuer overrides the default issuer URL (optional).
	// Default: "https://{Domain}/".
	Issuer string

	// ValidateLoginTokens verifies the password grant access token against
	// the tenant JWKS.
	ValidateLoginTokens bool

	// CacheTTL is how long to cache JWKS keys.
	// Default: 5 minutes.
	CacheTTL time.Duration

	// ContextFunc provides a context for JWKS fetch/validation.
	// Default: context.Background.
	ContextFunc func() context.Context
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain string, audience []string) Config {
	return Config{
		Domain:     domain,
		Audience:   audience,
		Connection: DefaultConnection,
		CacheTTL:   5 * time.Minute,
	}
}

func (c Config) connection() string {
	if strings.TrimSpace(c.Connection) == "" {
		return DefaultConnection
	}
	return c.Connection
}

func (c Config) loginCredentials() (string, string) {
	if c.LoginClientID != "" {
		return c.LoginClientID, c.LoginClientSecret
	}
	return c.ClientID, c.ClientSecret
}

func (c Config) audience() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

func (c Config) issuerURL() string {
	if c.Issuer != "" {
		return normalizeIssuer(c.Issuer)
	}

	domain := strings.TrimSpace(c.Domain)
	if domain == "" {
		return ""
	}

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return normalizeIssuer(domain)
	}

	return fmt.Sprintf("https://%s/", strings.TrimSuffix(domain, "/"))
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return issuer
	}
	if strings.HasSuffix(issuer, "/") {
		return issuer
	}
	return issuer + "/"
}
