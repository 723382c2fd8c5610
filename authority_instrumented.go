package identity

import (
	"context"
	"time"
)

const (
	opFindIdentity        = "find_identity"
	opGetIdentity         = "get_identity"
	opCreateIdentity      = "create_identity"
	opEnableIdentity      = "enable_identity"
	opDisableIdentity     = "disable_identity"
	opSendCredentialSetup = "send_credential_setup"
	opPasswordLogin       = "password_login"
	opSetPassword         = "set_password"
)

// authorityClient wraps an ExternalAuthority so every call is timed and every
// failure is logged with the remote id and step, then surfaced as
// ExternalAuthorityFailure. ErrRemoteIdentityNotFound and
// ErrRemoteCredentialsRejected pass through untouched.
type authorityClient struct {
	authority ExternalAuthority
	metrics   Metrics
	logger    Logger
	now       func() time.Time
}

func newAuthorityClient(authority ExternalAuthority, o options) *authorityClient {
	if authority == nil {
		return nil
	}
	return &authorityClient{
		authority: authority,
		metrics:   o.metrics,
		logger:    o.provider.GetLogger("identity.authority"),
		now:       o.now,
	}
}

func (c *authorityClient) observe(op, remoteID string, started time.Time, err error) error {
	c.metrics.AuthorityCallObserved(op, c.now().Sub(started), err)
	if err == nil {
		return nil
	}
	if IsRemoteIdentityNotFound(err) || IsRemoteCredentialsRejected(err) {
		return err
	}

	c.logger.Error("external authority failure", "error", err, "step", op, "remote_id", remoteID)
	if IsExternalAuthorityFailure(err) {
		return err
	}
	return authorityFailure(op, remoteID, err)
}

func (c *authorityClient) findIdentityByEmail(ctx context.Context, email string) (*RemoteIdentity, error) {
	started := c.now()
	identity, err := c.authority.FindIdentityByEmail(ctx, email)
	return identity, c.observe(opFindIdentity, "", started, err)
}

func (c *authorityClient) getIdentity(ctx context.Context, remoteID string) (*RemoteIdentity, error) {
	started := c.now()
	identity, err := c.authority.GetIdentity(ctx, remoteID)
	return identity, c.observe(opGetIdentity, remoteID, started, err)
}

func (c *authorityClient) createIdentity(ctx context.Context, spec RemoteIdentitySpec) (*RemoteIdentity, error) {
	started := c.now()
	identity, err := c.authority.CreateIdentity(ctx, spec)
	remoteID := ""
	if identity != nil {
		remoteID = identity.ID
	}
	return identity, c.observe(opCreateIdentity, remoteID, started, err)
}

func (c *authorityClient) enableIdentity(ctx context.Context, remoteID string) error {
	started := c.now()
	return c.observe(opEnableIdentity, remoteID, started, c.authority.EnableIdentity(ctx, remoteID))
}

func (c *authorityClient) disableIdentity(ctx context.Context, remoteID, reason string) error {
	started := c.now()
	return c.observe(opDisableIdentity, remoteID, started, c.authority.DisableIdentity(ctx, remoteID, reason))
}

func (c *authorityClient) sendCredentialSetup(ctx context.Context, remoteID string) error {
	started := c.now()
	return c.observe(opSendCredentialSetup, remoteID, started, c.authority.SendCredentialSetup(ctx, remoteID))
}

func (c *authorityClient) passwordLogin(ctx context.Context, remoteID, email, password string) error {
	started := c.now()
	return c.observe(opPasswordLogin, remoteID, started, c.authority.PasswordLogin(ctx, email, password))
}

func (c *authorityClient) setPassword(ctx context.Context, remoteID, password string) error {
	started := c.now()
	return c.observe(opSetPassword, remoteID, started, c.authority.SetPassword(ctx, remoteID, password))
}
