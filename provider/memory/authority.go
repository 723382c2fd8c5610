// Package memory is an in-process identity.ExternalAuthority for development
// and tests. Identities live in a map guarded by a mutex.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	identity "github.com/goliatone/go-identity"
)

// Identity is the stored state of one remote identity.
type Identity struct {
	ID              string
	Email           string
	Enabled         bool
	Password        string
	Attributes      map[string]string
	CredentialSetup int
}

// Authority implements identity.ExternalAuthority in memory.
type Authority struct {
	mu       sync.Mutex
	byID     map[string]*Identity
	byEmail  map[string]string
	failures map[string]error
	calls    map[string]int
}

var _ identity.ExternalAuthority = (*Authority)(nil)

func NewAuthority() *Authority {
	return &Authority{
		byID:     map[string]*Identity{},
		byEmail:  map[string]string{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

// Operation names accepted by FailOn and Calls.
const (
	OpFind        = "find"
	OpGet         = "get"
	OpCreate      = "create"
	OpEnable      = "enable"
	OpDisable     = "disable"
	OpSetup       = "setup"
	OpLogin       = "login"
	OpSetPassword = "set_password"
)

// FailOn makes every call of op return err until cleared with a nil err.
func (a *Authority) FailOn(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.failures, op)
		return
	}
	a.failures[op] = err
}

// Calls returns how many times op ran.
func (a *Authority) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// Lookup returns a copy of the identity stored for email.
func (a *Authority) Lookup(email string) (Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return Identity{}, false
	}
	return a.copyOf(a.byID[id]), true
}

// Seed stores an identity directly, used to model identities created
// outside the service.
func (a *Authority) Seed(email, password string, enabled bool) Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	ident := a.insert(identity.RemoteIdentitySpec{Email: email})
	ident.Password = password
	ident.Enabled = enabled
	return a.copyOf(ident)
}

func (a *Authority) begin(op string) error {
	a.calls[op]++
	return a.failures[op]
}

func (a *Authority) FindIdentityByEmail(ctx context.Context, email string) (*identity.RemoteIdentity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(OpFind); err != nil {
		return nil, err
	}
	id, ok := a.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return nil, identity.ErrRemoteIdentityNotFound
	}
	return a.remote(a.byID[id]), nil
}

func (a *Authority) GetIdentity(ctx context.Context, remoteID string) (*identity.RemoteIdentity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(OpGet); err != nil {
		return nil, err
	}
	ident, ok := a.byID[remoteID]
	if !ok {
		return nil, identity.ErrRemoteIdentityNotFound
	}
	return a.remote(ident), nil
}

func (a *Authority) CreateIdentity(ctx context.Context, spec identity.RemoteIdentitySpec) (*identity.RemoteIdentity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(OpCreate); err != nil {
		return nil, err
	}
	if id, ok := a.byEmail[identity.NormalizeEmail(spec.Email)]; ok {
		return a.remote(a.byID[id]), nil
	}
	return a.remote(a.insert(spec)), nil
}

func (a *Authority) insert(spec identity.RemoteIdentitySpec) *Identity {
	attributes := map[string]string{}
	for k, v := range spec.Attributes {
		attributes[k] = v
	}
	if spec.AccountID != "" {
		attributes["accountId"] = spec.AccountID
	}
	ident := &Identity{
		ID:         "memory|" + uuid.NewString(),
		Email:      identity.NormalizeEmail(spec.Email),
		Password:   identity.RandomPassword(),
		Attributes: attributes,
	}
	a.byID[ident.ID] = ident
	a.byEmail[ident.Email] = ident.ID
	return ident
}

func (a *Authority) EnableIdentity(ctx context.Context, remoteID string) error {
	return a.mutate(OpEnable, remoteID, func(ident *Identity) {
		ident.Enabled = true
		ident.Attributes["activationStatus"] = string(identity.ActivationApproved)
		delete(ident.Attributes, "rejectionReason")
	})
}

func (a *Authority) DisableIdentity(ctx context.Context, remoteID, reason string) error {
	return a.mutate(OpDisable, remoteID, func(ident *Identity) {
		ident.Enabled = false
		ident.Attributes["activationStatus"] = string(identity.ActivationRejected)
		if reason != "" {
			ident.Attributes["rejectionReason"] = reason
		}
	})
}

func (a *Authority) SendCredentialSetup(ctx context.Context, remoteID string) error {
	return a.mutate(OpSetup, remoteID, func(ident *Identity) {
		ident.CredentialSetup++
	})
}

func (a *Authority) SetPassword(ctx context.Context, remoteID, password string) error {
	return a.mutate(OpSetPassword, remoteID, func(ident *Identity) {
		ident.Password = password
	})
}

// PasswordLogin accepts the stored password of an enabled identity.
func (a *Authority) PasswordLogin(ctx context.Context, email, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(OpLogin); err != nil {
		return err
	}
	id, ok := a.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return identity.ErrRemoteCredentialsRejected
	}
	ident := a.byID[id]
	if !ident.Enabled || ident.Password != password {
		return identity.ErrRemoteCredentialsRejected
	}
	return nil
}

func (a *Authority) mutate(op, remoteID string, fn func(*Identity)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(op); err != nil {
		return err
	}
	ident, ok := a.byID[remoteID]
	if !ok {
		return identity.ErrRemoteIdentityNotFound.Clone().WithMetadata(map[string]any{
			"remote_id": remoteID,
		})
	}
	fn(ident)
	return nil
}

func (a *Authority) remote(ident *Identity) *identity.RemoteIdentity {
	attributes := make(map[string]string, len(ident.Attributes))
	for k, v := range ident.Attributes {
		attributes[k] = v
	}
	return &identity.RemoteIdentity{
		ID:         ident.ID,
		Email:      ident.Email,
		Enabled:    ident.Enabled,
		Attributes: attributes,
	}
}

func (a *Authority) copyOf(ident *Identity) Identity {
	out := *ident
	out.Attributes = make(map[string]string, len(ident.Attributes))
	for k, v := range ident.Attributes {
		out.Attributes[k] = v
	}
	return out
}
