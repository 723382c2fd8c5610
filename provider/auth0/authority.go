package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/authentication"
	"github.com/auth0/go-auth0/authentication/database"
	"github.com/auth0/go-auth0/authentication/oauth"
	"github.com/auth0/go-auth0/management"
	goerrors "github.com/goliatone/go-errors"

	identity "github.com/goliatone/go-identity"
)

const (
	metaAccountID        = "accountId"
	metaAccountType      = "accountType"
	metaActivationStatus = "activationStatus"
	metaRejectionReason  = "rejectionReason"
)

// UserManager is the subset of the management users API the authority uses.
// *management.UserManager satisfies it.
type UserManager interface {
	Read(ctx context.Context, id string, opts ...management.RequestOption) (*management.User, error)
	Create(ctx context.Context, u *management.User, opts ...management.RequestOption) error
	Update(ctx context.Context, id string, u *management.User, opts ...management.RequestOption) error
	ListByEmail(ctx context.Context, email string, opts ...management.RequestOption) ([]*management.User, error)
}

// CredentialClient runs the authentication API calls of the authority.
type CredentialClient interface {
	LoginWithPassword(ctx context.Context, email, password string) (string, error)
	SendPasswordSetup(ctx context.Context, email string) error
}

// Authority implements identity.ExternalAuthority against an Auth0 tenant.
type Authority struct {
	config      Config
	users       UserManager
	credentials CredentialClient
	tokens      *TokenValidator
	logger      identity.Logger
}

var _ identity.ExternalAuthority = (*Authority)(nil)

// AuthorityOption customizes an Authority.
type AuthorityOption func(*Authority)

// WithUserManager replaces the management users client.
func WithUserManager(users UserManager) AuthorityOption {
	return func(a *Authority) {
		if users != nil {
			a.users = users
		}
	}
}

// WithCredentialClient replaces the authentication client.
func WithCredentialClient(client CredentialClient) AuthorityOption {
	return func(a *Authority) {
		if client != nil {
			a.credentials = client
		}
	}
}

// WithTokenValidator verifies password grant access tokens.
func WithTokenValidator(v *TokenValidator) AuthorityOption {
	return func(a *Authority) {
		a.tokens = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger identity.Logger) AuthorityOption {
	return func(a *Authority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthority builds the management and authentication clients from cfg
// unless they are supplied as options.
func NewAuthority(ctx context.Context, cfg Config, opts ...AuthorityOption) (*Authority, error) {
	a := &Authority{
		config: cfg,
		logger: identity.NamedLogger("identity.auth0"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	domain := strings.TrimSpace(cfg.Domain)
	if (a.users == nil || a.credentials == nil) && domain == "" {
		return nil, fmt.Errorf("auth0: domain is required")
	}

	if a.users == nil {
		mgmt, err := management.New(
			domain,
			management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret),
		)
		if err != nil {
			return nil, fmt.Errorf("auth0: failed to create management client: %w", err)
		}
		a.users = mgmt.User
	}

	if a.credentials == nil {
		client, err := newCredentialClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.credentials = client
	}

	if a.tokens == nil && cfg.ValidateLoginTokens {
		v, err := NewTokenValidator(cfg)
		if err != nil {
			return nil, err
		}
		a.tokens = v
	}

	return a, nil
}

// FindIdentityByEmail returns the identity of email in the configured
// connection.
func (a *Authority) FindIdentityByEmail(ctx context.Context, email string) (*identity.RemoteIdentity, error) {
	email = identity.NormalizeEmail(email)
	users, err := a.users.ListByEmail(ctx, email)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, notFound(email)
		}
		return nil, err
	}

	var fallback *management.User
	for _, u := range users {
		if u == nil {
			continue
		}
		if hasConnection(u, a.config.connection()) {
			return toRemoteIdentity(u), nil
		}
		if fallback == nil {
			fallback = u
		}
	}
	if fallback != nil {
		return toRemoteIdentity(fallback), nil
	}
	return nil, notFound(email)
}

func (a *Authority) GetIdentity(ctx context.Context, remoteID string) (*identity.RemoteIdentity, error) {
	u, err := a.users.Read(ctx, remoteID)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, notFound(remoteID)
		}
		return nil, err
	}
	return toRemoteIdentity(u), nil
}

// CreateIdentity provisions a blocked identity with a random password the
// holder never learns. An existing identity for the email is returned as is.
func (a *Authority) CreateIdentity(ctx context.Context, spec identity.RemoteIdentitySpec) (*identity.RemoteIdentity, error) {
	existing, err := a.FindIdentityByEmail(ctx, spec.Email)
	if err == nil {
		return existing, nil
	}
	if !identity.IsRemoteIdentityNotFound(err) {
		return nil, err
	}

	metadata := map[string]any{}
	for k, v := range spec.Attributes {
		metadata[k] = v
	}
	if spec.AccountID != "" {
		metadata[metaAccountID] = spec.AccountID
	}

	u := &management.User{
		Connection:    auth0.String(a.config.connection()),
		Email:         auth0.String(identity.NormalizeEmail(spec.Email)),
		GivenName:     auth0.String(spec.FirstName),
		FamilyName:    auth0.String(spec.LastName),
		Password:      auth0.String(identity.RandomPassword()),
		Blocked:       auth0.Bool(true),
		EmailVerified: auth0.Bool(false),
		VerifyEmail:   auth0.Bool(false),
		AppMetadata:   &metadata,
	}

	if err := a.users.Create(ctx, u); err != nil {
		if isStatus(err, http.StatusConflict) {
			// lost a race with a concurrent create for the same email
			return a.FindIdentityByEmail(ctx, spec.Email)
		}
		return nil, err
	}

	a.logger.Info("auth0 identity created", "remote_id", u.GetID(), "account_id", spec.AccountID)
	return toRemoteIdentity(u), nil
}

// EnableIdentity unblocks the identity and tags it approved.
func (a *Authority) EnableIdentity(ctx context.Context, remoteID string) error {
	metadata := map[string]any{
		metaActivationStatus: string(identity.ActivationApproved),
		metaRejectionReason:  nil,
	}
	return a.update(ctx, remoteID, &management.User{
		Blocked:     auth0.Bool(false),
		AppMetadata: &metadata,
	})
}

// DisableIdentity blocks the identity and records the rejection reason.
func (a *Authority) DisableIdentity(ctx context.Context, remoteID, reason string) error {
	metadata := map[string]any{
		metaActivationStatus: string(identity.ActivationRejected),
	}
	if reason != "" {
		metadata[metaRejectionReason] = reason
	}
	return a.update(ctx, remoteID, &management.User{
		Blocked:     auth0.Bool(true),
		AppMetadata: &metadata,
	})
}

// SendCredentialSetup sends the connection's change password email so the
// holder can choose a password.
func (a *Authority) SendCredentialSetup(ctx context.Context, remoteID string) error {
	remote, err := a.GetIdentity(ctx, remoteID)
	if err != nil {
		return err
	}
	if remote.Email == "" {
		return fmt.Errorf("auth0: identity %s has no email", remoteID)
	}
	return a.credentials.SendPasswordSetup(ctx, remote.Email)
}

// PasswordLogin runs the password grant. Rejections by the tenant are
// reported as ErrRemoteCredentialsRejected.
func (a *Authority) PasswordLogin(ctx context.Context, email, password string) error {
	accessToken, err := a.credentials.LoginWithPassword(ctx, identity.NormalizeEmail(email), password)
	if err != nil {
		if isStatus(err, http.StatusUnauthorized) || isStatus(err, http.StatusForbidden) {
			clone := identity.ErrRemoteCredentialsRejected.Clone()
			clone.Source = err
			return clone
		}
		return err
	}

	if a.tokens == nil {
		return nil
	}

	claims, err := a.tokens.Validate(accessToken)
	if err != nil {
		return err
	}
	if status := claims.ActivationStatus(); status == string(identity.ActivationRejected) {
		return identity.ErrRemoteCredentialsRejected.Clone().WithMetadata(map[string]any{
			"activationStatus": status,
		})
	}
	return nil
}

// SetPassword replaces the identity password.
func (a *Authority) SetPassword(ctx context.Context, remoteID, password string) error {
	return a.update(ctx, remoteID, &management.User{
		Connection: auth0.String(a.config.connection()),
		Password:   auth0.String(password),
	})
}

func (a *Authority) update(ctx context.Context, remoteID string, u *management.User) error {
	if err := a.users.Update(ctx, remoteID, u); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return notFound(remoteID)
		}
		return err
	}
	return nil
}

func toRemoteIdentity(u *management.User) *identity.RemoteIdentity {
	attributes := map[string]string{}
	if u.AppMetadata != nil {
		for k, v := range *u.AppMetadata {
			if s, ok := v.(string); ok {
				attributes[k] = s
			}
		}
	}
	return &identity.RemoteIdentity{
		ID:         u.GetID(),
		Email:      u.GetEmail(),
		Enabled:    !u.GetBlocked(),
		Attributes: attributes,
	}
}

func hasConnection(u *management.User, connection string) bool {
	if u.GetConnection() == connection {
		return true
	}
	for _, ident := range u.Identities {
		if ident != nil && ident.GetConnection() == connection {
			return true
		}
	}
	return false
}

func notFound(key string) error {
	return identity.ErrRemoteIdentityNotFound.Clone().WithMetadata(map[string]any{
		"provider": "auth0",
		"key":      key,
	})
}

type statusError interface {
	Status() int
}

func isStatus(err error, status int) bool {
	var se statusError
	if errors.As(err, &se) {
		return se.Status() == status
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Code == status
	}
	return false
}

type credentialClient struct {
	auth       *authentication.Authentication
	connection string
	audience   string
}

func newCredentialClient(ctx context.Context, cfg Config) (*credentialClient, error) {
	clientID, clientSecret := cfg.loginCredentials()
	auth, err := authentication.New(
		ctx,
		strings.TrimSpace(cfg.Domain),
		authentication.WithClientID(clientID),
		authentication.WithClientSecret(clientSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("auth0: failed to create authentication client: %w", err)
	}
	return &credentialClient{
		auth:       auth,
		connection: cfg.connection(),
		audience:   cfg.audience(),
	}, nil
}

func (c *credentialClient) LoginWithPassword(ctx context.Context, email, password string) (string, error) {
	tokens, err := c.auth.OAuth.LoginWithPassword(ctx, oauth.LoginWithPasswordRequest{
		Username: email,
		Password: password,
		Audience: c.audience,
		Realm:    c.connection,
	}, oauth.IDTokenValidationOptions{})
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

func (c *credentialClient) SendPasswordSetup(ctx context.Context, email string) error {
	_, err := c.auth.Database.ChangePassword(ctx, database.ChangePasswordRequest{
		Email:      email,
		Connection: c.connection,
	})
	return err
}
