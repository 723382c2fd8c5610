package config

import (
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL())
	assert.Equal(t, 720*time.Hour, cfg.Tokens.RefreshTTL())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, time.Hour, cfg.Maintenance.JanitorInterval())
	assert.False(t, cfg.IsProduction())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("IDENTITY_DB_DRIVER", "postgres")
	t.Setenv("IDENTITY_DB_DSN", "postgres://identity@localhost/identity")
	t.Setenv("IDENTITY_TOKEN_AUDIENCE", "web, mobile ,")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("IDENTITY_MAX_LOGIN_ATTEMPTS", "not-a-number")
	t.Setenv("IDENTITY_RATE_LIMIT", "false")

	cfg := Defaults().ApplyEnv()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://identity@localhost/identity", cfg.Database.DSN)
	assert.Equal(t, []string{"web", "mobile"}, cfg.Tokens.Audience)
	assert.Equal(t, 2525, cfg.Mail.Port)
	assert.Equal(t, 5, cfg.Throttle.MaxLoginAttempts, "invalid numbers keep the default")
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestValidateRejectsDefaultKeyInProduction(t *testing.T) {
	cfg := Defaults()
	cfg.Env = "production"

	err := cfg.Validate()
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "INVALID_CONFIGURATION", richErr.TextCode)
	assert.Contains(t, richErr.Metadata, "tokens")

	cfg.Tokens.SigningKey = "a-real-secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateAuthorityAndMail(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
	}{
		{
			name:    "auth0 needs credentials",
			mutate:  func(c *Config) { c.Authority.Provider = "auth0" },
			section: "authority",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Authority.Provider = "ldap" },
			section: "authority",
		},
		{
			name:    "mail needs a host",
			mutate:  func(c *Config) { c.Mail.Enabled = true },
			section: "mail",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Tokens.AccessTTLExpression = "soon" },
			section: "tokens",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = "http" },
			section: "server",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Contains(t, richErr.Metadata, tt.section)
		})
	}
}
