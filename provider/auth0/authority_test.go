package auth0

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/management"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/goliatone/go-identity"
)

type statusErr struct {
	status int
}

func (e statusErr) Error() string { return fmt.Sprintf("auth0 status %d", e.status) }
func (e statusErr) Status() int   { return e.status }

type fakeUsers struct {
	mu      sync.Mutex
	seq     int
	users   map[string]*management.User
	updates map[string][]*management.User
	fail    error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:   map[string]*management.User{},
		updates: map[string][]*management.User{},
	}
}

func (f *fakeUsers) Read(ctx context.Context, id string, opts ...management.RequestOption) (*management.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, statusErr{status: http.StatusNotFound}
	}
	return u, nil
}

func (f *fakeUsers) Create(ctx context.Context, u *management.User, opts ...management.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.seq++
	u.ID = auth0.String(fmt.Sprintf("auth0|%d", f.seq))
	f.users[u.GetID()] = u
	return nil
}

func (f *fakeUsers) Update(ctx context.Context, id string, u *management.User, opts ...management.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.users[id]
	if !ok {
		return statusErr{status: http.StatusNotFound}
	}
	if u.Blocked != nil {
		existing.Blocked = u.Blocked
	}
	if u.AppMetadata != nil {
		merged := map[string]any{}
		if existing.AppMetadata != nil {
			for k, v := range *existing.AppMetadata {
				merged[k] = v
			}
		}
		for k, v := range *u.AppMetadata {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		existing.AppMetadata = &merged
	}
	f.updates[id] = append(f.updates[id], u)
	return nil
}

func (f *fakeUsers) ListByEmail(ctx context.Context, email string, opts ...management.RequestOption) ([]*management.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*management.User{}
	for _, u := range f.users {
		if u.GetEmail() == email {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeCredentials struct {
	passwords map[string]string
	setups    []string
}

func (f *fakeCredentials) LoginWithPassword(ctx context.Context, email, password string) (string, error) {
	if f.passwords[email] != password {
		return "", statusErr{status: http.StatusForbidden}
	}
	return "access-token", nil
}

func (f *fakeCredentials) SendPasswordSetup(ctx context.Context, email string) error {
	f.setups = append(f.setups, email)
	return nil
}

func newTestAuthority(t *testing.T) (*Authority, *fakeUsers, *fakeCredentials) {
	t.Helper()
	users := newFakeUsers()
	creds := &fakeCredentials{passwords: map[string]string{}}
	a, err := NewAuthority(context.Background(), Config{},
		WithUserManager(users),
		WithCredentialClient(creds),
	)
	require.NoError(t, err)
	return a, users, creds
}

func proSpec(email string) identity.RemoteIdentitySpec {
	return identity.RemoteIdentitySpec{
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
		AccountID: "acc-1",
		Attributes: map[string]string{
			"accountType":      "PROFESSIONAL",
			"activationStatus": "PENDING",
		},
	}
}

func TestAuthority_CreateIdentityIsIdempotent(t *testing.T) {
	a, users, _ := newTestAuthority(t)
	ctx := context.Background()

	first, err := a.CreateIdentity(ctx, proSpec("Pro@Example.com"))
	require.NoError(t, err)
	assert.False(t, first.Enabled)
	assert.Equal(t, "pro@example.com", first.Email)
	assert.Equal(t, "acc-1", first.Attributes["accountId"])
	assert.Equal(t, "PENDING", first.Attributes["activationStatus"])

	created := users.users[first.ID]
	assert.Equal(t, DefaultConnection, created.GetConnection())
	assert.True(t, created.GetBlocked())
	assert.NotEmpty(t, created.GetPassword())

	second, err := a.CreateIdentity(ctx, proSpec("pro@example.com"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, users.users, 1)
}

func TestAuthority_CreateIdentityConflictRace(t *testing.T) {
	a, users, _ := newTestAuthority(t)
	users.fail = statusErr{status: http.StatusConflict}

	_, err := a.CreateIdentity(context.Background(), proSpec("race@example.com"))
	require.Error(t, err)
	assert.True(t, identity.IsRemoteIdentityNotFound(err))
}

func TestAuthority_EnableDisable(t *testing.T) {
	a, users, _ := newTestAuthority(t)
	ctx := context.Background()

	remote, err := a.CreateIdentity(ctx, proSpec("pro@example.com"))
	require.NoError(t, err)

	require.NoError(t, a.DisableIdentity(ctx, remote.ID, "license expired"))
	got, err := a.GetIdentity(ctx, remote.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "REJECTED", got.Attributes["activationStatus"])
	assert.Equal(t, "license expired", got.Attributes["rejectionReason"])

	require.NoError(t, a.EnableIdentity(ctx, remote.ID))
	got, err = a.GetIdentity(ctx, remote.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "APPROVED", got.Attributes["activationStatus"])
	assert.NotContains(t, got.Attributes, "rejectionReason")
	assert.Len(t, users.updates[remote.ID], 2)

	err = a.EnableIdentity(ctx, "auth0|missing")
	assert.True(t, identity.IsRemoteIdentityNotFound(err))
}

func TestAuthority_PasswordLogin(t *testing.T) {
	a, _, creds := newTestAuthority(t)
	creds.passwords["pro@example.com"] = "Secr3t!pass"

	require.NoError(t, a.PasswordLogin(context.Background(), "PRO@example.com", "Secr3t!pass"))

	err := a.PasswordLogin(context.Background(), "pro@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, identity.IsRemoteCredentialsRejected(err))
}

func TestAuthority_SendCredentialSetupAndSetPassword(t *testing.T) {
	a, users, creds := newTestAuthority(t)
	ctx := context.Background()

	remote, err := a.CreateIdentity(ctx, proSpec("pro@example.com"))
	require.NoError(t, err)

	require.NoError(t, a.SendCredentialSetup(ctx, remote.ID))
	assert.Equal(t, []string{"pro@example.com"}, creds.setups)

	require.NoError(t, a.SetPassword(ctx, remote.ID, "N3w!password"))
	last := users.updates[remote.ID][len(users.updates[remote.ID])-1]
	assert.Equal(t, "N3w!password", last.GetPassword())

	err = a.SendCredentialSetup(ctx, "auth0|missing")
	assert.True(t, identity.IsRemoteIdentityNotFound(err))
}

func TestAuthority_FindIdentityByEmailNotFound(t *testing.T) {
	a, _, _ := newTestAuthority(t)
	_, err := a.FindIdentityByEmail(context.Background(), "nobody@example.com")
	assert.True(t, identity.IsRemoteIdentityNotFound(err))
}

func TestNewAuthority_RequiresDomain(t *testing.T) {
	_, err := NewAuthority(context.Background(), Config{})
	require.Error(t, err)
}
