package identity_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/memory"
)

func TestRegister_UserIsActiveWithSession(t *testing.T) {
	h := newHarness(t)

	reg := h.registerUser("  Grace@Example.COM ")
	require.NotNil(t, reg.Session)

	account := reg.Account
	assert.Equal(t, "grace@example.com", account.Email)
	assert.True(t, account.IsActivated)
	assert.Equal(t, identity.StepCompleted, account.RegistrationStep)
	assert.True(t, account.Roles.Has(identity.RoleUser))
	assert.NotEmpty(t, reg.Session.AccessToken)
	assert.NotEmpty(t, reg.Session.RefreshToken)
	assert.Equal(t, "grace@example.com", reg.Session.User.Email)

	_, isLocal := h.reload(account).Credential().(identity.LocalCredential)
	assert.True(t, isLocal)

	assert.Zero(t, h.authority.Calls(memory.OpCreate))
	assert.True(t, h.events.Has(identity.ActivityEventAccountRegistered))
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		input identity.RegistrationInput
	}{
		{
			name: "missing email",
			input: func() identity.RegistrationInput {
				in := userInput("")
				return in
			}(),
		},
		{
			name: "invalid email",
			input: func() identity.RegistrationInput {
				return userInput("not-an-email")
			}(),
		},
		{
			name: "short password",
			input: func() identity.RegistrationInput {
				in := userInput("short@example.com")
				in.Password = "short"
				return in
			}(),
		},
		{
			name: "missing first name",
			input: func() identity.RegistrationInput {
				in := userInput("nofirst@example.com")
				in.FirstName = "  "
				return in
			}(),
		},
		{
			name: "professional without license",
			input: func() identity.RegistrationInput {
				return professionalInput("nolicense@example.com", "")
			}(),
		},
		{
			name: "invalid phone",
			input: func() identity.RegistrationInput {
				in := userInput("phone@example.com")
				in.Phone = "12"
				return in
			}(),
		},
		{
			name: "negative experience",
			input: func() identity.RegistrationInput {
				in := professionalInput("years@example.com", "LIC-YEARS")
				in.Profile.YearsOfExperience = -1
				return in
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Registration.Register(h.ctx, tt.input)
			require.Error(t, err)
			assert.True(t, identity.IsValidationError(err), "got %v", err)
		})
	}

	assert.Zero(t, h.authority.Calls(memory.OpCreate))
}

func TestRegister_DuplicateEmailAndLicense(t *testing.T) {
	h := newHarness(t)

	h.registerUser("taken@example.com")
	_, err := h.svc.Registration.Register(h.ctx, userInput("TAKEN@example.com"))
	assert.True(t, identity.IsAccountAlreadyExists(err), "got %v", err)

	h.registerProfessional("first@example.com", "LIC-1")
	_, err = h.svc.Registration.Register(h.ctx, professionalInput("second@example.com", "LIC-1"))
	assert.True(t, identity.IsDuplicateLicense(err), "got %v", err)

	assert.Equal(t, 1, h.authority.Calls(memory.OpCreate))
}

func TestRegister_ProfessionalExternal(t *testing.T) {
	h := newHarness(t)

	account := h.registerProfessional("ada@example.com", "LIC-100")

	assert.False(t, account.IsActivated)
	assert.Equal(t, identity.ActivationPending, account.ActivationStatus)
	assert.Equal(t, identity.StepCompleted, account.RegistrationStep)
	assert.Equal(t, "+16502530000", account.Phone)

	stored := h.reload(account)
	cred, ok := stored.Credential().(identity.ExternallyManagedCredential)
	require.True(t, ok)
	assert.NotEmpty(t, cred.RemoteID)
	assert.Empty(t, stored.PasswordHash)

	remote, ok := h.authority.Lookup("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, cred.RemoteID, remote.ID)
	assert.False(t, remote.Enabled)
	assert.Equal(t, account.ID.String(), remote.Attributes["accountId"])
	assert.Equal(t, "PROFESSIONAL", remote.Attributes["accountType"])

	request, err := h.repo.ActivationRequests().GetByAccount(h.ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.ActivationPending, request.Status)

	assert.Equal(t, []identity.NotificationKind{
		identity.NotificationRegistrationReceived,
		identity.NotificationReviewRequired,
	}, h.notes.Kinds())

	review, ok := h.notes.Last(identity.NotificationReviewRequired)
	require.True(t, ok)
	assert.Equal(t, testReviewInbox, review.To)
	assert.Equal(t, "LIC-100", review.Data["licenseNumber"])
}

func TestRegister_ProfessionalKnownToAuthority(t *testing.T) {
	h := newHarness(t)
	h.authority.Seed("existing@example.com", "remote-secret", true)

	_, err := h.svc.Registration.Register(h.ctx, professionalInput("existing@example.com", "LIC-200"))
	require.Error(t, err)
	assert.True(t, identity.IsAccountAlreadyExists(err))

	_, err = h.repo.Accounts().GetByEmail(h.ctx, "existing@example.com")
	assert.Error(t, err)
	assert.Zero(t, h.authority.Calls(memory.OpCreate))
}

func TestRegister_ProfessionalRemoteCreateFails(t *testing.T) {
	h := newHarness(t)
	h.authority.FailOn(memory.OpCreate, errors.New("upstream unavailable"))

	_, err := h.svc.Registration.Register(h.ctx, professionalInput("broken@example.com", "LIC-300"))
	require.Error(t, err)
	assert.True(t, identity.IsRegistrationFailed(err))
	assert.True(t, identity.IsExternalAuthorityFailure(err))

	step, ok := identity.RegistrationFailedStep(err)
	require.True(t, ok)
	assert.Equal(t, identity.StepLocalAccountCreated, step)

	stored, err := h.repo.Accounts().GetByEmail(h.ctx, "broken@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity.StepLocalAccountCreated, stored.RegistrationStep)
	assert.Empty(t, stored.RemoteID)
	assert.Empty(t, h.notes.Kinds())
}

func TestNewService_ExternalVerificationRequiresAuthority(t *testing.T) {
	repo := newTestRepository(t)

	_, err := identity.NewService(repo.Stores(), nil, nil, identity.ServiceConfig{
		Tokens: identity.TokenConfig{SigningKey: []byte(testSigningKey)},
	}, nil)
	require.Error(t, err)
	assert.True(t, identity.IsValidationError(err))

	_, err = identity.NewService(repo.Stores(), nil, nil, identity.ServiceConfig{
		Tokens:                   identity.TokenConfig{SigningKey: []byte(testSigningKey)},
		ProfessionalVerification: identity.VerifyLocal,
	}, nil)
	assert.NoError(t, err)

	_, err = identity.NewService(identity.Stores{}, nil, nil, identity.ServiceConfig{
		ProfessionalVerification: identity.VerifyLocal,
	}, nil)
	assert.Error(t, err)
}

func TestRegister_ProfessionalLocalVerification(t *testing.T) {
	h := newHarness(t, withLocalVerification(), withoutAuthority())

	in := professionalInput("local@example.com", "LIC-500")
	_, err := h.svc.Registration.Register(h.ctx, in)
	require.Error(t, err, "local verification requires a password")
	assert.True(t, identity.IsValidationError(err))

	in.Password = "local-password-1"
	reg, err := h.svc.Registration.Register(h.ctx, in)
	require.NoError(t, err)
	assert.Nil(t, reg.Session)
	assert.Equal(t, identity.StepCompleted, reg.Account.RegistrationStep)

	_, isLocal := h.reload(reg.Account).Credential().(identity.LocalCredential)
	assert.True(t, isLocal)
}

func TestRegister_DeterministicIDs(t *testing.T) {
	h := newHarness(t, withDeterministicIDs())
	other := newHarness(t, withDeterministicIDs())

	first := h.registerUser("same@example.com")
	second := other.registerUser("same@example.com")
	assert.Equal(t, first.Account.ID, second.Account.ID)
}

func TestBootstrapAdmin(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Registration.BootstrapAdmin(h.ctx, testAdminEmail, "short")
	assert.True(t, identity.IsValidationError(err))

	admin, err := h.svc.Registration.BootstrapAdmin(h.ctx, testAdminEmail, testAdminPassword)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.True(t, admin.IsActivated)

	again, err := h.svc.Registration.BootstrapAdmin(h.ctx, testAdminEmail, "another-password")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
}
