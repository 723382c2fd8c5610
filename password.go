package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// ChangePasswordRequest is the input of ChangePassword.
type ChangePasswordRequest struct {
	CurrentPassword string
	NewPassword     string
}

// Validate checks the new password. The current password is only required
// for local credentials, which is checked by ChangePassword.
func (r ChangePasswordRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.NewPassword, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

// PasswordChangeResult reports what ChangePassword actually checked.
type PasswordChangeResult struct {
	// CurrentPasswordVerified is false when the credential is held by the
	// external authority and the current password could not be checked.
	CurrentPasswordVerified bool `json:"currentPasswordVerified"`
	// SessionsRevoked is the number of refresh tokens invalidated.
	SessionsRevoked int `json:"sessionsRevoked"`
}

// PasswordManager changes passwords and handles forgot password requests.
type PasswordManager struct {
	accounts      AccountStore
	refreshTokens RefreshTokenStore
	authority     *authorityClient
	hasher        PasswordHasher
	now           func() time.Time
	logger        Logger
	activity      activityRecorder
}

// NewPasswordManager wires a PasswordManager.
func NewPasswordManager(stores Stores, authority ExternalAuthority, opts ...Option) *PasswordManager {
	o := buildOptions("identity.password", opts)
	return &PasswordManager{
		accounts:      stores.Accounts,
		refreshTokens: stores.RefreshTokens,
		authority:     newAuthorityClient(authority, o),
		hasher:        o.hasher,
		now:           o.now,
		logger:        o.logger,
		activity:      activityRecorder{sink: o.activity, logger: o.logger, now: o.now},
	}
}

// ChangePassword updates the caller's password. Local credentials require the
// current password and reject an unchanged one. External credentials are
// updated at the authority without checking the current password, which the
// result reports.
func (m *PasswordManager) ChangePassword(ctx context.Context, principal Principal, req ChangePasswordRequest) (PasswordChangeResult, error) {
	if principal.IsZero() {
		return PasswordChangeResult{}, ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return PasswordChangeResult{}, err
	}

	account, err := m.accounts.GetByID(ctx, principal.AccountID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return PasswordChangeResult{}, ErrInvalidToken
		}
		return PasswordChangeResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}

	var result PasswordChangeResult

	switch cred := account.Credential().(type) {
	case LocalCredential:
		if req.CurrentPassword == "" {
			return result, ErrInvalidPassword
		}
		if err := m.hasher.ComparePasswordAndHash(req.CurrentPassword, cred.Hash); err != nil {
			if IsInvalidCredentials(err) {
				return result, ErrInvalidPassword
			}
			return result, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare password")
		}
		if err := m.hasher.ComparePasswordAndHash(req.NewPassword, cred.Hash); err == nil {
			return result, ErrPasswordUnchanged
		}

		hash, err := m.hasher.HashPassword(req.NewPassword)
		if err != nil {
			return result, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}
		if err := m.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
			return result, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
		}
		result.CurrentPasswordVerified = true

	case ExternallyManagedCredential:
		if m.authority == nil || cred.RemoteID == "" {
			return result, authorityFailure(opSetPassword, cred.RemoteID, missingRemoteCause(m.authority != nil))
		}
		if err := m.authority.setPassword(ctx, cred.RemoteID, req.NewPassword); err != nil {
			return result, err
		}
		result.CurrentPasswordVerified = false
		m.logger.Info("password changed at external authority without current password check",
			"account_id", account.ID,
			"remote_id", cred.RemoteID,
		)
	}

	revoked, err := m.refreshTokens.RevokeAllForAccount(ctx, account.ID, m.now())
	if err != nil {
		m.logger.Warn("failed to revoke sessions after password change", "error", err, "account_id", account.ID)
	}
	result.SessionsRevoked = revoked

	m.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     principal.Actor(),
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"current_password_verified": result.CurrentPasswordVerified,
		},
	})

	return result, nil
}

// RequestPasswordReset triggers the authority's credential setup action for
// activated professional accounts with an external credential. The outcome is
// never reported to the caller so it does not reveal which emails have accounts.
func (m *PasswordManager) RequestPasswordReset(ctx context.Context, email string) {
	email = NormalizeEmail(email)
	if email == "" {
		return
	}

	account, err := m.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !goerrors.IsNotFound(err) {
			m.logger.Warn("password reset lookup failed", "error", err)
		}
		return
	}

	cred, ok := account.Credential().(ExternallyManagedCredential)
	if !ok || !account.IsProfessional() || !account.IsActivated || cred.RemoteID == "" || m.authority == nil {
		m.logger.Debug("password reset not applicable", "account_id", account.ID)
		return
	}

	if err := m.authority.sendCredentialSetup(ctx, cred.RemoteID); err != nil {
		return
	}

	m.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		Actor:     ActorRef{ID: account.ID.String(), Type: ActorTypeAccount},
		AccountID: account.ID.String(),
	})
}
