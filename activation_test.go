package identity_test

import (
	"context"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/memory"
)

func TestApprove(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	account := h.registerProfessional("ada@example.com", "LIC-1")

	approved, err := h.svc.Activation.Approve(h.ctx, admin, account.ID,
		identity.WithTransitionMetadata(map[string]any{"ticket": "OPS-1"}))
	require.NoError(t, err)
	assert.True(t, approved.IsActivated)
	assert.Equal(t, identity.ActivationApproved, approved.ActivationStatus)
	assert.NotNil(t, approved.ActivatedAt)

	remote, ok := h.authority.Lookup("ada@example.com")
	require.True(t, ok)
	assert.True(t, remote.Enabled)
	assert.Equal(t, 1, remote.CredentialSetup)
	assert.Equal(t, string(identity.ActivationApproved), remote.Attributes["activationStatus"])

	request, err := h.repo.ActivationRequests().GetByAccount(h.ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.ActivationApproved, request.Status)
	assert.True(t, request.RemoteSynced)
	assert.Equal(t, admin.AccountID.String(), request.ResolvedBy)

	assert.Equal(t, 1, h.notes.Count(identity.NotificationAccountActivated))
	assert.True(t, h.events.Has(identity.ActivityEventActivationApproved))

	again, err := h.svc.Activation.Approve(h.ctx, admin, account.ID)
	require.NoError(t, err)
	assert.True(t, again.IsActivated)
	assert.Equal(t, 1, h.authority.Calls(memory.OpEnable))
	assert.Equal(t, 1, h.notes.Count(identity.NotificationAccountActivated))
}

func TestApprove_RequiresAdmin(t *testing.T) {
	h := newHarness(t)
	account := h.registerProfessional("ada@example.com", "LIC-1")
	user := h.registerUser("grace@example.com")

	for _, principal := range []identity.Principal{{}, identity.PrincipalFor(user.Account)} {
		_, err := h.svc.Activation.Approve(h.ctx, principal, account.ID)
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeForbidden))
		assert.Equal(t, 403, identity.HTTPStatus(err))
	}

	assert.False(t, h.reload(account).IsActivated)
}

func TestApprove_TargetErrors(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	user := h.registerUser("grace@example.com")

	_, err := h.svc.Activation.Approve(h.ctx, admin, user.Account.ID)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeNotProfessional))

	_, err = h.svc.Activation.Approve(h.ctx, admin, newUnknownID())
	assert.True(t, identity.IsAccountNotFound(err))
}

func TestApprove_RemoteFailureLeavesRequestUnsynced(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	account := h.registerProfessional("ada@example.com", "LIC-1")

	h.authority.FailOn(memory.OpEnable, errors.New("authority down"))

	approved, err := h.svc.Activation.Approve(h.ctx, admin, account.ID)
	require.Error(t, err)
	assert.True(t, identity.IsExternalAuthorityFailure(err))
	require.NotNil(t, approved)
	assert.True(t, approved.IsActivated)

	request, err := h.repo.ActivationRequests().GetByAccount(h.ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.ActivationApproved, request.Status)
	assert.False(t, request.RemoteSynced)
	assert.Zero(t, h.notes.Count(identity.NotificationAccountActivated))
}

func TestApprove_UnlinkedRemoteIdentity(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	account := h.registerProfessional("ada@example.com", "LIC-1")
	require.NoError(t, h.repo.Accounts().LinkRemoteIdentity(h.ctx, account.ID, "", account.RegistrationStep))

	_, err := h.svc.Activation.Approve(h.ctx, admin, account.ID)
	require.Error(t, err)
	assert.True(t, identity.IsExternalAuthorityFailure(err))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "remote identity is not linked to the account", richErr.Metadata["cause"])
	assert.Zero(t, h.authority.Calls(memory.OpEnable))

	request, err := h.repo.ActivationRequests().GetByAccount(h.ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, request.RemoteSynced)
}

func TestReject(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	account := h.registerProfessional("ada@example.com", "LIC-1")

	_, err := h.svc.Activation.Reject(h.ctx, admin, account.ID, "   ")
	assert.True(t, identity.IsValidationError(err))

	rejected, err := h.svc.Activation.Reject(h.ctx, admin, account.ID, "license expired")
	require.NoError(t, err)
	assert.False(t, rejected.IsActivated)
	assert.Equal(t, identity.ActivationRejected, rejected.ActivationStatus)

	remote, ok := h.authority.Lookup("ada@example.com")
	require.True(t, ok)
	assert.False(t, remote.Enabled)
	assert.Equal(t, "license expired", remote.Attributes["rejectionReason"])

	note, ok := h.notes.Last(identity.NotificationAccountRejected)
	require.True(t, ok)
	assert.Equal(t, "license expired", note.Data["reason"])
	assert.Equal(t, "ada@example.com", note.To)

	_, err = h.svc.Activation.Reject(h.ctx, admin, account.ID, "license expired")
	require.NoError(t, err)
	assert.Equal(t, 1, h.notes.Count(identity.NotificationAccountRejected), "same reason is not notified twice")
	assert.Equal(t, 2, h.authority.Calls(memory.OpDisable))

	_, err = h.svc.Activation.Reject(h.ctx, admin, account.ID, "license revoked")
	require.NoError(t, err)
	assert.Equal(t, 2, h.notes.Count(identity.NotificationAccountRejected))

	_, err = h.svc.Activation.Approve(h.ctx, admin, account.ID)
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTerminalState))
	assert.False(t, h.reload(account).IsActivated)
}

func TestReject_ApprovedAccount(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	account := h.approvedProfessional("ada@example.com", "LIC-1", "remote-password-1")

	rejected, err := h.svc.Activation.Reject(h.ctx, admin, account.ID, "complaint upheld")
	require.NoError(t, err)
	assert.False(t, rejected.IsActivated)
	assert.Nil(t, h.reload(account).ActivatedAt)

	result, err := login(h, "ada@example.com", "remote-password-1", identity.ClassProfessional)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomePendingApproval, result.Outcome)
	assert.Equal(t, identity.ActivationRejected, result.ActivationStatus)
}

func TestActivationLists(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()

	first := h.registerProfessional("one@example.com", "LIC-1")
	h.registerProfessional("two@example.com", "LIC-2")
	h.registerUser("grace@example.com")

	count, err := h.svc.Activation.CountPending(h.ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = h.svc.Activation.Approve(h.ctx, admin, first.ID)
	require.NoError(t, err)

	pending, err := h.svc.Activation.ListPending(h.ctx, admin)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "two@example.com", pending[0].Email)

	approved, err := h.svc.Activation.ListApproved(h.ctx, admin)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, first.ID, approved[0].ID)

	_, err = h.svc.Activation.ListPending(h.ctx, identity.Principal{})
	assert.True(t, identity.HasTextCode(err, identity.TextCodeForbidden))
}

func TestActivationLists_RejectedStayPending(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()

	first := h.registerProfessional("one@example.com", "LIC-1")
	second := h.registerProfessional("two@example.com", "LIC-2")

	_, err := h.svc.Activation.Reject(h.ctx, admin, second.ID, "license could not be verified")
	require.NoError(t, err)

	count, err := h.svc.Activation.CountPending(h.ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	pending, err := h.svc.Activation.ListPending(h.ctx, admin)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	statuses := map[string]identity.ActivationStatus{}
	for _, a := range pending {
		statuses[a.Email] = a.ActivationStatus
	}
	assert.Equal(t, identity.ActivationPending, statuses[first.Email])
	assert.Equal(t, identity.ActivationRejected, statuses[second.Email])
}

func TestActivationHooks(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	account := h.registerProfessional("ada@example.com", "LIC-1")

	var phases []string
	veto := errors.New("compliance hold")

	_, err := h.svc.Activation.Approve(h.ctx, admin, account.ID,
		identity.WithBeforeTransitionHook(func(_ context.Context, tc identity.TransitionContext) error {
			phases = append(phases, "before:"+string(tc.To))
			return veto
		}),
	)
	require.Error(t, err)
	assert.False(t, h.reload(account).IsActivated)

	_, err = h.svc.Activation.Approve(h.ctx, admin, account.ID,
		identity.WithBeforeTransitionHook(func(_ context.Context, tc identity.TransitionContext) error {
			phases = append(phases, "before:"+string(tc.To))
			return nil
		}),
		identity.WithAfterTransitionHook(func(_ context.Context, tc identity.TransitionContext) error {
			phases = append(phases, "after:"+string(tc.From))
			return nil
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"before:APPROVED",
		"before:APPROVED",
		"after:PENDING",
	}, phases)
}
