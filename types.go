package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountStore persists Account records. It is the single source of truth for
// profile data and the local activation flag.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByLicense(ctx context.Context, license string) (bool, error)

	LinkRemoteIdentity(ctx context.Context, id uuid.UUID, remoteID string, step RegistrationStep) error
	UpdateRegistrationStep(ctx context.Context, id uuid.UUID, step RegistrationStep) error
	UpdateActivation(ctx context.Context, id uuid.UUID, update ActivationUpdate) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error

	RecordFailedLogin(ctx context.Context, id uuid.UUID, attempts int, at time.Time) error
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	ListByActivation(ctx context.Context, role Role, activated bool) ([]*Account, error)
	CountByActivation(ctx context.Context, role Role, activated bool) (int, error)
	ListUnfinishedRegistrations(ctx context.Context, olderThan time.Time, limit int) ([]*Account, error)
}

// ActivationUpdate is the set of columns changed by an activation transition.
type ActivationUpdate struct {
	IsActivated bool
	Status      ActivationStatus
	ActivatedAt *time.Time
}

// ActivationRequestStore persists the review records created for professional
// accounts.
type ActivationRequestStore interface {
	Create(ctx context.Context, request *ActivationRequest) error
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*ActivationRequest, error)
	Resolve(ctx context.Context, accountID uuid.UUID, resolution ActivationResolution) error
	MarkRemoteSynced(ctx context.Context, accountID uuid.UUID, synced bool) error
	ListUnsynced(ctx context.Context, limit int) ([]*ActivationRequest, error)
}

// ActivationResolution records how an admin resolved a request.
type ActivationResolution struct {
	Status     ActivationStatus
	Reason     string
	ResolvedBy string
	ResolvedAt time.Time
}

// RefreshTokenStore persists refresh tokens by their hash.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// Revoke flips the revoked flag if it is not already set and reports
	// whether this call did it.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// Rotate revokes old and inserts replacement in one transaction. It fails
	// with ErrInvalidToken when old was already revoked.
	Rotate(ctx context.Context, oldID string, replacement *RefreshToken, at time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, at time.Time) (int, error)
}

// RemoteIdentity is the part of an external identity record the core reads.
type RemoteIdentity struct {
	ID         string
	Email      string
	Enabled    bool
	Attributes map[string]string
}

// RemoteIdentitySpec describes an identity to provision remotely.
type RemoteIdentitySpec struct {
	Email      string
	FirstName  string
	LastName   string
	AccountID  string
	Attributes map[string]string
}

// ExternalAuthority is the contract the core needs from the external identity
// authority. Implementations return ErrRemoteIdentityNotFound and
// ErrRemoteCredentialsRejected for those outcomes, anything else is treated
// as an authority failure.
type ExternalAuthority interface {
	FindIdentityByEmail(ctx context.Context, email string) (*RemoteIdentity, error)
	GetIdentity(ctx context.Context, remoteID string) (*RemoteIdentity, error)
	// CreateIdentity provisions a disabled identity without usable
	// credentials. When an identity with the same email already exists it is
	// returned unchanged.
	CreateIdentity(ctx context.Context, spec RemoteIdentitySpec) (*RemoteIdentity, error)
	EnableIdentity(ctx context.Context, remoteID string) error
	DisableIdentity(ctx context.Context, remoteID, reason string) error
	SendCredentialSetup(ctx context.Context, remoteID string) error
	PasswordLogin(ctx context.Context, email, password string) error
	SetPassword(ctx context.Context, remoteID, password string) error
}

// PasswordHasher hashes and compares local passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Metrics receives counters from the core components.
type Metrics interface {
	LoginObserved(outcome string)
	RefreshObserved(outcome string)
	RegistrationObserved(role Role, outcome string)
	ActivationObserved(action, outcome string)
	AuthorityCallObserved(op string, elapsed time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) LoginObserved(string)                              {}
func (noopMetrics) RefreshObserved(string)                            {}
func (noopMetrics) RegistrationObserved(Role, string)                 {}
func (noopMetrics) ActivationObserved(string, string)                 {}
func (noopMetrics) AuthorityCallObserved(string, time.Duration, error) {}

// Stores groups the persistence collaborators of the core components.
type Stores struct {
	Accounts      AccountStore
	Requests      ActivationRequestStore
	RefreshTokens RefreshTokenStore
}
