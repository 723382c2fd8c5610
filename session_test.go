package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/memory"
)

func login(h *harness, email, password string, class identity.AccountClass) (identity.LoginResult, error) {
	return h.svc.Sessions.Login(h.ctx, identity.LoginRequest{Email: email, Password: password, Class: class})
}

func TestLogin_User(t *testing.T) {
	h := newHarness(t)
	h.registerUser("grace@example.com")

	result, err := login(h, "GRACE@example.com", "user-password-1", identity.ClassUser)
	require.NoError(t, err)
	require.Equal(t, identity.OutcomeAuthenticated, result.Outcome)
	require.NoError(t, result.Err())
	require.NotNil(t, result.Session)

	claims, err := h.svc.Tokens.Validate(result.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", claims.Email)
	assert.True(t, claims.HasRole(string(identity.RoleUser)))

	principal, err := claims.Principal()
	require.NoError(t, err)
	assert.Equal(t, result.Account().ID, principal.AccountID)

	stored := h.reload(result.Account())
	assert.NotNil(t, stored.LastLoginAt)
	assert.True(t, h.events.Has(identity.ActivityEventLoginSuccess))
}

func TestLogin_Rejections(t *testing.T) {
	h := newHarness(t)
	h.registerUser("grace@example.com")

	tests := []struct {
		name     string
		email    string
		password string
		class    identity.AccountClass
	}{
		{name: "wrong password", email: "grace@example.com", password: "wrong-password", class: identity.ClassAny},
		{name: "unknown email", email: "nobody@example.com", password: "user-password-1", class: identity.ClassAny},
		{name: "user on professional endpoint", email: "grace@example.com", password: "user-password-1", class: identity.ClassProfessional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := login(h, tt.email, tt.password, tt.class)
			require.NoError(t, err)
			assert.Equal(t, identity.OutcomeRejected, result.Outcome)
			assert.Nil(t, result.Session)
			assert.True(t, identity.IsInvalidCredentials(result.Err()))
		})
	}

	_, err := login(h, "", "", identity.ClassAny)
	assert.True(t, identity.IsValidationError(err))
}

func TestLogin_PendingAndRejectedProfessional(t *testing.T) {
	h := newHarness(t)
	account := h.registerProfessional("ada@example.com", "LIC-1")

	result, err := login(h, "ada@example.com", "anything", identity.ClassProfessional)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomePendingApproval, result.Outcome)
	assert.Equal(t, identity.ActivationPending, result.ActivationStatus)
	assert.True(t, identity.IsAccountNotActivated(result.Err()))
	assert.Zero(t, h.authority.Calls(memory.OpLogin), "pending accounts are not checked remotely")

	_, err = h.svc.Activation.Reject(h.ctx, h.admin(), account.ID, "license could not be verified")
	require.NoError(t, err)

	result, err = login(h, "ada@example.com", "anything", identity.ClassProfessional)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomePendingApproval, result.Outcome)
	assert.Equal(t, identity.ActivationRejected, result.ActivationStatus)

	var richErr *goerrors.Error
	require.True(t, errors.As(result.Err(), &richErr))
	assert.Equal(t, identity.TextCodeAccountNotActivated, richErr.TextCode)
	assert.Equal(t, string(identity.ActivationRejected), richErr.Metadata["activationStatus"])
	assert.Equal(t, "ada@example.com", richErr.Metadata["email"])
}

func TestLogin_ApprovedProfessionalExternal(t *testing.T) {
	h := newHarness(t)
	h.approvedProfessional("ada@example.com", "LIC-1", "remote-password-1")

	result, err := login(h, "ada@example.com", "remote-password-1", identity.ClassProfessional)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeAuthenticated, result.Outcome)
	assert.True(t, result.Session.User.IsActivated)

	result, err = login(h, "ada@example.com", "not-it", identity.ClassProfessional)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeRejected, result.Outcome)

	h.authority.FailOn(memory.OpLogin, errors.New("authority down"))
	_, err = login(h, "ada@example.com", "remote-password-1", identity.ClassProfessional)
	require.Error(t, err)
	assert.True(t, identity.IsExternalAuthorityFailure(err))
}

func TestLogin_ProfessionalLocalVerification(t *testing.T) {
	h := newHarness(t, withLocalVerification(), withoutAuthority())

	in := professionalInput("local@example.com", "LIC-2")
	in.Password = "local-password-1"
	reg, err := h.svc.Registration.Register(h.ctx, in)
	require.NoError(t, err)

	_, err = h.svc.Activation.Approve(h.ctx, h.admin(), reg.Account.ID)
	require.NoError(t, err)

	result, err := login(h, "local@example.com", "local-password-1", identity.ClassProfessional)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeAuthenticated, result.Outcome)
}

func TestLogin_ThrottlesAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.registerUser("grace@example.com")

	for i := 0; i <= identity.MaxLoginAttempts; i++ {
		result, err := login(h, "grace@example.com", "wrong-password", identity.ClassAny)
		require.NoError(t, err, "attempt %d", i+1)
		require.Equal(t, identity.OutcomeRejected, result.Outcome)
	}

	_, err := login(h, "grace@example.com", "user-password-1", identity.ClassAny)
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTooManyAttempts))
	assert.Equal(t, 429, identity.HTTPStatus(err))

	var richErr *goerrors.Error
	require.True(t, errors.As(err, &richErr))
	assert.NotEmpty(t, richErr.Metadata["retry_at"])

	h.clock.Advance(25 * time.Hour)

	result, err := login(h, "grace@example.com", "user-password-1", identity.ClassAny)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeAuthenticated, result.Outcome)

	stored := h.reload(result.Account())
	assert.Zero(t, stored.LoginAttempts)
}

func TestLogin_FailedAttemptCounter(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser("grace@example.com").Account

	for i := 0; i < 3; i++ {
		result, err := login(h, "grace@example.com", "wrong-password", identity.ClassAny)
		require.NoError(t, err)
		require.Equal(t, identity.OutcomeRejected, result.Outcome)
	}

	stored := h.reload(account)
	assert.Equal(t, 3, stored.LoginAttempts)
	require.NotNil(t, stored.LoginAttemptAt)

	result, err := login(h, "grace@example.com", "user-password-1", identity.ClassAny)
	require.NoError(t, err)
	require.Equal(t, identity.OutcomeAuthenticated, result.Outcome)

	stored = h.reload(account)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LoginAttemptAt)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLogin_CancelledContext(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()

	_, err := h.svc.Sessions.Login(ctx, identity.LoginRequest{Email: "a@example.com", Password: "x"})
	assert.Error(t, err)
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	h := newHarness(t)
	reg := h.registerUser("grace@example.com")
	first := reg.Session.RefreshToken

	second, err := h.svc.Sessions.Refresh(h.ctx, first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second.RefreshToken)
	assert.NotEmpty(t, second.AccessToken)

	_, err = h.svc.Sessions.Refresh(h.ctx, first)
	assert.True(t, identity.IsInvalidToken(err))
	assert.True(t, h.events.Has(identity.ActivityEventRefreshReuse))

	third, err := h.svc.Sessions.Refresh(h.ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, second.RefreshToken, third.RefreshToken)

	_, err = h.svc.Sessions.Refresh(h.ctx, "")
	assert.True(t, identity.IsInvalidToken(err))

	_, err = h.svc.Sessions.Refresh(h.ctx, "unknown-token")
	assert.True(t, identity.IsInvalidToken(err))
}

func TestRefresh_Expired(t *testing.T) {
	h := newHarness(t)
	reg := h.registerUser("grace@example.com")

	h.clock.Advance(identity.DefaultRefreshTokenTTL + time.Minute)

	_, err := h.svc.Sessions.Refresh(h.ctx, reg.Session.RefreshToken)
	assert.True(t, identity.IsInvalidToken(err))
}

func TestAccessToken_Expires(t *testing.T) {
	h := newHarness(t)
	reg := h.registerUser("grace@example.com")

	h.clock.Advance(identity.DefaultAccessTokenTTL + time.Minute)

	_, err := h.svc.Tokens.Validate(reg.Session.AccessToken)
	assert.True(t, identity.IsInvalidToken(err))
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	reg := h.registerUser("grace@example.com")

	require.NoError(t, h.svc.Sessions.Logout(h.ctx, reg.Session.RefreshToken))
	assert.True(t, h.events.Has(identity.ActivityEventLogout))

	_, err := h.svc.Sessions.Refresh(h.ctx, reg.Session.RefreshToken)
	assert.True(t, identity.IsInvalidToken(err))

	assert.NoError(t, h.svc.Sessions.Logout(h.ctx, reg.Session.RefreshToken))
	assert.NoError(t, h.svc.Sessions.Logout(h.ctx, "never-issued"))
	assert.NoError(t, h.svc.Sessions.Logout(h.ctx, ""))
}

func TestActivateAccount(t *testing.T) {
	h := newHarness(t)
	reg := h.registerUser("grace@example.com")

	account, err := h.svc.Sessions.ActivateAccount(h.ctx, reg.Account.ID)
	require.NoError(t, err)
	assert.True(t, account.IsActivated)

	pro := h.registerProfessional("ada@example.com", "LIC-1")
	_, err = h.svc.Sessions.ActivateAccount(h.ctx, pro.ID)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeInvalidTransition))
}
