// Package config holds the identityd settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultSigningKey is only accepted outside production.
const DefaultSigningKey = "change-me"

type Config struct {
	Env         string      `koanf:"env" json:"env"`
	Server      Server      `koanf:"server" json:"server"`
	Database    Database    `koanf:"database" json:"database"`
	Tokens      Tokens      `koanf:"tokens" json:"tokens"`
	Authority   Authority   `koanf:"authority" json:"authority"`
	Mail        Mail        `koanf:"mail" json:"mail"`
	Throttle    Throttle    `koanf:"throttle" json:"throttle"`
	RateLimit   RateLimit   `koanf:"rate_limit" json:"rate_limit"`
	Admin       Admin       `koanf:"admin" json:"admin"`
	Audit       Audit       `koanf:"audit" json:"audit"`
	Maintenance Maintenance `koanf:"maintenance" json:"maintenance"`
}

type Server struct {
	Port                      string `koanf:"port" json:"port"`
	ShutdownTimeoutExpression string `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	Metrics                   bool   `koanf:"metrics" json:"metrics"`
}

type Database struct {
	Driver       string `koanf:"driver" json:"driver"`
	DSN          string `koanf:"dsn" json:"-"`
	MaxOpenConns int    `koanf:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns" json:"max_idle_conns"`
}

type Tokens struct {
	SigningKey           string   `koanf:"signing_key" json:"-"`
	Issuer               string   `koanf:"issuer" json:"issuer"`
	Audience             []string `koanf:"audience" json:"audience"`
	AccessTTLExpression  string   `koanf:"access_ttl" json:"access_ttl"`
	RefreshTTLExpression string   `koanf:"refresh_ttl" json:"refresh_ttl"`
}

type Authority struct {
	// Provider is "auth0" or "memory".
	Provider                 string `koanf:"provider" json:"provider"`
	ProfessionalVerification string `koanf:"professional_verification" json:"professional_verification"`
	Domain                   string `koanf:"domain" json:"domain"`
	ClientID                 string `koanf:"client_id" json:"client_id"`
	ClientSecret             string `koanf:"client_secret" json:"-"`
	LoginClientID            string `koanf:"login_client_id" json:"login_client_id"`
	LoginClientSecret        string `koanf:"login_client_secret" json:"-"`
	Connection               string `koanf:"connection" json:"connection"`
	Audience                 string `koanf:"audience" json:"audience"`
	ValidateLoginTokens      bool   `koanf:"validate_login_tokens" json:"validate_login_tokens"`
	TimeoutExpression        string `koanf:"timeout" json:"timeout"`
}

type Mail struct {
	Enabled     bool   `koanf:"enabled" json:"enabled"`
	Host        string `koanf:"host" json:"host"`
	Port        int    `koanf:"port" json:"port"`
	Username    string `koanf:"username" json:"username"`
	Password    string `koanf:"password" json:"-"`
	From        string `koanf:"from" json:"from"`
	ReplyTo     string `koanf:"reply_to" json:"reply_to"`
	AdminEmail  string `koanf:"admin_email" json:"admin_email"`
	TemplateDir string `koanf:"template_dir" json:"template_dir"`
}

type Throttle struct {
	MaxLoginAttempts int    `koanf:"max_login_attempts" json:"max_login_attempts"`
	CoolDownPeriod   string `koanf:"cool_down_period" json:"cool_down_period"`
}

type RateLimit struct {
	Enabled   bool    `koanf:"enabled" json:"enabled"`
	PerSecond float64 `koanf:"per_second" json:"per_second"`
	Burst     int     `koanf:"burst" json:"burst"`
}

type Admin struct {
	Email    string `koanf:"email" json:"email"`
	Password string `koanf:"password" json:"-"`
}

type Audit struct {
	File       string `koanf:"file" json:"file"`
	MaxSize    int    `koanf:"max_size" json:"max_size"`
	MaxAge     int    `koanf:"max_age" json:"max_age"`
	MaxBackups int    `koanf:"max_backups" json:"max_backups"`
	Store      bool   `koanf:"store" json:"store"`
}

type Maintenance struct {
	JanitorIntervalExpression  string `koanf:"janitor_interval" json:"janitor_interval"`
	RefreshRetentionExpression string `koanf:"refresh_retention" json:"refresh_retention"`
}

// Defaults returns a development configuration backed by sqlite and the
// in-memory authority.
func Defaults() *Config {
	return &Config{
		Env: "development",
		Server: Server{
			Port:                      "8080",
			ShutdownTimeoutExpression: "10s",
			Metrics:                   true,
		},
		Database: Database{
			Driver:       "sqlite",
			DSN:          "file:identity.db?cache=shared",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Tokens: Tokens{
			SigningKey:           DefaultSigningKey,
			Issuer:               "identityd",
			Audience:             []string{"identity"},
			AccessTTLExpression:  "15m",
			RefreshTTLExpression: "720h",
		},
		Authority: Authority{
			Provider:                 "memory",
			ProfessionalVerification: "external",
			Connection:               "Username-Password-Authentication",
			TimeoutExpression:        "10s",
		},
		Mail: Mail{
			Port: 587,
		},
		Throttle: Throttle{
			MaxLoginAttempts: 5,
			CoolDownPeriod:   "24h",
		},
		RateLimit: RateLimit{
			Enabled:   true,
			PerSecond: 5,
			Burst:     10,
		},
		Audit: Audit{
			MaxSize:    50,
			MaxAge:     30,
			MaxBackups: 5,
			Store:      true,
		},
		Maintenance: Maintenance{
			JanitorIntervalExpression:  "1h",
			RefreshRetentionExpression: "168h",
		},
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ApplyEnv overrides values from IDENTITY_* environment variables. Unset
// variables keep the current value.
func (c *Config) ApplyEnv() *Config {
	c.Env = getenv("IDENTITY_ENV", getenv("ENV", c.Env))
	c.Server.Port = getenv("PORT", c.Server.Port)

	c.Database.Driver = getenv("IDENTITY_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getenv("IDENTITY_DB_DSN", getenv("DATABASE_URL", c.Database.DSN))

	c.Tokens.SigningKey = getenv("IDENTITY_SIGNING_KEY", getenv("JWT_SECRET", c.Tokens.SigningKey))
	c.Tokens.Issuer = getenv("IDENTITY_TOKEN_ISSUER", c.Tokens.Issuer)
	c.Tokens.AccessTTLExpression = getenv("IDENTITY_ACCESS_TTL", c.Tokens.AccessTTLExpression)
	c.Tokens.RefreshTTLExpression = getenv("IDENTITY_REFRESH_TTL", c.Tokens.RefreshTTLExpression)
	if aud := os.Getenv("IDENTITY_TOKEN_AUDIENCE"); aud != "" {
		c.Tokens.Audience = splitList(aud)
	}

	c.Authority.Provider = getenv("IDENTITY_AUTHORITY", c.Authority.Provider)
	c.Authority.ProfessionalVerification = getenv("IDENTITY_PROFESSIONAL_VERIFICATION", c.Authority.ProfessionalVerification)
	c.Authority.Domain = getenv("AUTH0_DOMAIN", c.Authority.Domain)
	c.Authority.ClientID = getenv("AUTH0_CLIENT_ID", c.Authority.ClientID)
	c.Authority.ClientSecret = getenv("AUTH0_CLIENT_SECRET", c.Authority.ClientSecret)
	c.Authority.LoginClientID = getenv("AUTH0_LOGIN_CLIENT_ID", c.Authority.LoginClientID)
	c.Authority.LoginClientSecret = getenv("AUTH0_LOGIN_CLIENT_SECRET", c.Authority.LoginClientSecret)
	c.Authority.Connection = getenv("AUTH0_CONNECTION", c.Authority.Connection)
	c.Authority.Audience = getenv("AUTH0_AUDIENCE", c.Authority.Audience)

	c.Mail.Enabled = getenvBool("IDENTITY_MAIL_ENABLED", c.Mail.Enabled)
	c.Mail.Host = getenv("SMTP_HOST", c.Mail.Host)
	c.Mail.Port = getenvInt("SMTP_PORT", c.Mail.Port)
	c.Mail.Username = getenv("SMTP_USERNAME", c.Mail.Username)
	c.Mail.Password = getenv("SMTP_PASSWORD", c.Mail.Password)
	c.Mail.From = getenv("SMTP_FROM", c.Mail.From)
	c.Mail.AdminEmail = getenv("IDENTITY_ADMIN_NOTIFY_EMAIL", c.Mail.AdminEmail)

	c.Throttle.MaxLoginAttempts = getenvInt("IDENTITY_MAX_LOGIN_ATTEMPTS", c.Throttle.MaxLoginAttempts)
	c.RateLimit.Enabled = getenvBool("IDENTITY_RATE_LIMIT", c.RateLimit.Enabled)

	c.Admin.Email = getenv("IDENTITY_ADMIN_EMAIL", c.Admin.Email)
	c.Admin.Password = getenv("IDENTITY_ADMIN_PASSWORD", c.Admin.Password)

	c.Audit.File = getenv("IDENTITY_AUDIT_FILE", c.Audit.File)
	return c
}

func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// Validate checks the configuration. It is also called by the config
// container after loading.
func (c *Config) Validate() error {
	err := validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Port, validation.Required, validation.By(isPort)),
			validation.Field(&c.Server.ShutdownTimeoutExpression, validation.By(isDuration)),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required, validation.In("postgres", "sqlite")),
			validation.Field(&c.Database.DSN, validation.Required),
		),
		"tokens": validation.ValidateStruct(&c.Tokens,
			validation.Field(&c.Tokens.SigningKey, validation.Required, validation.By(c.signingKeyAllowed)),
			validation.Field(&c.Tokens.Issuer, validation.Required),
			validation.Field(&c.Tokens.AccessTTLExpression, validation.Required, validation.By(isDuration)),
			validation.Field(&c.Tokens.RefreshTTLExpression, validation.Required, validation.By(isDuration)),
		),
		"authority": validation.ValidateStruct(&c.Authority,
			validation.Field(&c.Authority.Provider, validation.Required, validation.In("auth0", "memory")),
			validation.Field(&c.Authority.ProfessionalVerification, validation.In("external", "local")),
			validation.Field(&c.Authority.Domain, requiredIf(c.Authority.Provider == "auth0")...),
			validation.Field(&c.Authority.ClientID, requiredIf(c.Authority.Provider == "auth0")...),
			validation.Field(&c.Authority.ClientSecret, requiredIf(c.Authority.Provider == "auth0")...),
			validation.Field(&c.Authority.TimeoutExpression, validation.By(isDuration)),
		),
		"mail": validation.ValidateStruct(&c.Mail,
			validation.Field(&c.Mail.Host, requiredIf(c.Mail.Enabled)...),
			validation.Field(&c.Mail.From, requiredIf(c.Mail.Enabled)...),
		),
		"throttle": validation.ValidateStruct(&c.Throttle,
			validation.Field(&c.Throttle.MaxLoginAttempts, validation.Min(0)),
			validation.Field(&c.Throttle.CoolDownPeriod, validation.By(isDuration)),
		),
		"maintenance": validation.ValidateStruct(&c.Maintenance,
			validation.Field(&c.Maintenance.JanitorIntervalExpression, validation.By(isDuration)),
			validation.Field(&c.Maintenance.RefreshRetentionExpression, validation.By(isDuration)),
		),
	}.Filter()
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	if errs, ok := err.(validation.Errors); ok {
		for section, sectionErr := range errs {
			fields[section] = sectionErr.Error()
		}
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration").
		WithTextCode("INVALID_CONFIGURATION").
		WithMetadata(fields)
}

func (c *Config) signingKeyAllowed(value any) error {
	if c.IsProduction() && value.(string) == DefaultSigningKey {
		return fmt.Errorf("default signing key is not allowed in production")
	}
	return nil
}

func (t Tokens) AccessTTL() time.Duration  { return mustDuration(t.AccessTTLExpression) }
func (t Tokens) RefreshTTL() time.Duration { return mustDuration(t.RefreshTTLExpression) }

func (s Server) ShutdownTimeout() time.Duration { return mustDuration(s.ShutdownTimeoutExpression) }

func (a Authority) Timeout() time.Duration { return mustDuration(a.TimeoutExpression) }

func (m Maintenance) JanitorInterval() time.Duration  { return mustDuration(m.JanitorIntervalExpression) }
func (m Maintenance) RefreshRetention() time.Duration { return mustDuration(m.RefreshRetentionExpression) }

// mustDuration parses an expression already checked by Validate. Empty
// expressions yield zero.
func mustDuration(expr string) time.Duration {
	if expr == "" {
		return 0
	}
	dur, err := time.ParseDuration(expr)
	if err != nil {
		panic(fmt.Sprintf("unable to parse duration: expr %s", expr))
	}
	return dur
}

func requiredIf(cond bool) []validation.Rule {
	if cond {
		return []validation.Rule{validation.Required}
	}
	return nil
}

func isDuration(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	return nil
}

func isPort(value any) error {
	s, _ := value.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", s)
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
