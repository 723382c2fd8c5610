package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/goliatone/go-identity"
)

func TestAuthority_Lifecycle(t *testing.T) {
	a := NewAuthority()
	ctx := context.Background()

	_, err := a.FindIdentityByEmail(ctx, "pro@example.com")
	assert.True(t, identity.IsRemoteIdentityNotFound(err))

	remote, err := a.CreateIdentity(ctx, identity.RemoteIdentitySpec{
		Email:     "Pro@Example.com",
		AccountID: "acc-1",
	})
	require.NoError(t, err)
	assert.False(t, remote.Enabled)
	assert.Equal(t, "acc-1", remote.Attributes["accountId"])

	again, err := a.CreateIdentity(ctx, identity.RemoteIdentitySpec{Email: "pro@example.com"})
	require.NoError(t, err)
	assert.Equal(t, remote.ID, again.ID)

	require.NoError(t, a.SetPassword(ctx, remote.ID, "S3cret!pw"))
	err = a.PasswordLogin(ctx, "pro@example.com", "S3cret!pw")
	assert.True(t, identity.IsRemoteCredentialsRejected(err), "disabled identities cannot log in")

	require.NoError(t, a.EnableIdentity(ctx, remote.ID))
	require.NoError(t, a.PasswordLogin(ctx, "pro@example.com", "S3cret!pw"))

	require.NoError(t, a.DisableIdentity(ctx, remote.ID, "fraud"))
	stored, ok := a.Lookup("pro@example.com")
	require.True(t, ok)
	assert.False(t, stored.Enabled)
	assert.Equal(t, "REJECTED", stored.Attributes["activationStatus"])
	assert.Equal(t, "fraud", stored.Attributes["rejectionReason"])

	require.NoError(t, a.SendCredentialSetup(ctx, remote.ID))
	stored, _ = a.Lookup("pro@example.com")
	assert.Equal(t, 1, stored.CredentialSetup)
	assert.Equal(t, 2, a.Calls(OpCreate))
}

func TestAuthority_FailOn(t *testing.T) {
	a := NewAuthority()
	boom := errors.New("tenant unavailable")
	a.FailOn(OpCreate, boom)

	_, err := a.CreateIdentity(context.Background(), identity.RemoteIdentitySpec{Email: "x@example.com"})
	assert.ErrorIs(t, err, boom)

	a.FailOn(OpCreate, nil)
	_, err = a.CreateIdentity(context.Background(), identity.RemoteIdentitySpec{Email: "x@example.com"})
	assert.NoError(t, err)

	err = a.EnableIdentity(context.Background(), "memory|unknown")
	assert.True(t, identity.IsRemoteIdentityNotFound(err))
}

func TestAuthority_Seed(t *testing.T) {
	a := NewAuthority()
	seeded := a.Seed("outside@example.com", "pw", true)
	require.NoError(t, a.PasswordLogin(context.Background(), "outside@example.com", "pw"))

	remote, err := a.FindIdentityByEmail(context.Background(), "outside@example.com")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, remote.ID)
}
