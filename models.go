package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivationStatus tracks where a professional account is in review.
type ActivationStatus string

const (
	// ActivationPending is awaiting an administrator decision
	ActivationPending ActivationStatus = "PENDING"
	// ActivationApproved accounts may authenticate
	ActivationApproved ActivationStatus = "APPROVED"
	// ActivationRejected is terminal
	ActivationRejected ActivationStatus = "REJECTED"
)

// RegistrationStep is the furthest completed step of a professional
// registration. StepRemoteIdentityCreated and StepActivationRequestCreated
// are only reported by errors, the persisted marker moves past them in the
// same write that completes the next step.
type RegistrationStep string

const (
	StepNone                     RegistrationStep = ""
	StepLocalAccountCreated      RegistrationStep = "local_account_created"
	StepRemoteIdentityCreated    RegistrationStep = "remote_identity_created"
	StepRemoteIdentityLinked     RegistrationStep = "remote_identity_linked"
	StepActivationRequestCreated RegistrationStep = "activation_request_created"
	StepCompleted                RegistrationStep = "completed"
)

var stepOrder = map[RegistrationStep]int{
	StepNone:                     0,
	StepLocalAccountCreated:      1,
	StepRemoteIdentityCreated:    2,
	StepRemoteIdentityLinked:     3,
	StepActivationRequestCreated: 4,
	StepCompleted:                5,
}

// Reached reports whether s is at or past other.
func (s RegistrationStep) Reached(other RegistrationStep) bool {
	return stepOrder[s] >= stepOrder[other]
}

// Profile holds professional specific attributes.
type Profile struct {
	Specialization    string `json:"specialization,omitempty"`
	Organization      string `json:"organization,omitempty"`
	YearsOfExperience int    `json:"yearsOfExperience,omitempty"`
}

// Account is the local record of anyone able to authenticate.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID                    uuid.UUID        `bun:"id,pk,type:uuid" json:"id"`
	Email                 string           `bun:"email,notnull,unique" json:"email"`
	PasswordHash          string           `bun:"password_hash,nullzero" json:"-"`
	RemoteID              string           `bun:"remote_id,nullzero" json:"-"`
	FirstName             string           `bun:"first_name,notnull" json:"firstName"`
	LastName              string           `bun:"last_name,notnull" json:"lastName"`
	Phone                 string           `bun:"phone,nullzero" json:"phone,omitempty"`
	Roles                 Roles            `bun:"roles,notnull,type:varchar(128)" json:"roles"`
	LicenseNumber         string           `bun:"license_number,nullzero,unique" json:"licenseNumber,omitempty"`
	Profile               Profile          `bun:"profile,type:json" json:"profile"`
	IsActivated           bool             `bun:"is_activated,notnull" json:"isActivated"`
	ActivationStatus      ActivationStatus `bun:"activation_status,nullzero" json:"activationStatus,omitempty"`
	ActivationRequestedAt *time.Time       `bun:"activation_requested_at,nullzero" json:"activationRequestedAt,omitempty"`
	ActivatedAt           *time.Time       `bun:"activated_at,nullzero" json:"activatedAt,omitempty"`
	LoginAttempts         int              `bun:"login_attempts,notnull" json:"-"`
	LoginAttemptAt        *time.Time       `bun:"login_attempt_at,nullzero" json:"-"`
	LastLoginAt           *time.Time       `bun:"last_login_at,nullzero" json:"lastLoginAt,omitempty"`
	RegistrationStep      RegistrationStep `bun:"registration_step,nullzero" json:"-"`
	CreatedAt             time.Time        `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt             time.Time        `bun:"updated_at,notnull" json:"updatedAt"`
}

// IsProfessional reports whether the account holds the professional role.
func (a *Account) IsProfessional() bool {
	return a != nil && a.Roles.Has(RoleProfessional)
}

// IsAdmin reports whether the account holds the admin role.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Roles.Has(RoleAdmin)
}

// FullName joins first and last name.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// View returns the public projection of the account.
func (a *Account) View() AccountView {
	return AccountView{
		ID:                    a.ID.String(),
		Email:                 a.Email,
		FirstName:             a.FirstName,
		LastName:              a.LastName,
		Phone:                 a.Phone,
		Roles:                 a.Roles.Strings(),
		LicenseNumber:         a.LicenseNumber,
		Profile:               a.Profile,
		IsActivated:           a.IsActivated,
		ActivationStatus:      string(a.ActivationStatus),
		ActivationRequestedAt: a.ActivationRequestedAt,
		ActivatedAt:           a.ActivatedAt,
		LastLoginAt:           a.LastLoginAt,
	}
}

// AccountView is the JSON projection returned to callers. It never carries
// credential material.
type AccountView struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	FirstName             string     `json:"firstName"`
	LastName              string     `json:"lastName"`
	Phone                 string     `json:"phone,omitempty"`
	Roles                 []string   `json:"roles"`
	LicenseNumber         string     `json:"licenseNumber,omitempty"`
	Profile               Profile    `json:"profile"`
	IsActivated           bool       `json:"isActivated"`
	ActivationStatus      string     `json:"activationStatus,omitempty"`
	ActivationRequestedAt *time.Time `json:"activationRequestedAt,omitempty"`
	ActivatedAt           *time.Time `json:"activatedAt,omitempty"`
	LastLoginAt           *time.Time `json:"lastLoginAt,omitempty"`
}

// ActivationRequest is the review record of one professional account.
type ActivationRequest struct {
	bun.BaseModel `bun:"table:activation_requests,alias:actr"`

	ID           uuid.UUID        `bun:"id,pk,type:uuid" json:"id"`
	AccountID    uuid.UUID        `bun:"account_id,notnull,unique,type:uuid" json:"accountId"`
	Snapshot     map[string]any   `bun:"snapshot,type:json" json:"snapshot"`
	IsPending    bool             `bun:"is_pending,notnull" json:"isPending"`
	Status       ActivationStatus `bun:"status,notnull" json:"status"`
	Reason       string           `bun:"reason,nullzero" json:"reason,omitempty"`
	RequestedAt  time.Time        `bun:"requested_at,notnull" json:"requestedAt"`
	ResolvedAt   *time.Time       `bun:"resolved_at,nullzero" json:"resolvedAt,omitempty"`
	ResolvedBy   string           `bun:"resolved_by,nullzero" json:"resolvedBy,omitempty"`
	RemoteSynced bool             `bun:"remote_synced,notnull" json:"remoteSynced"`
}

// NewActivationRequest snapshots the credential relevant fields of account.
func NewActivationRequest(account *Account, now time.Time) *ActivationRequest {
	return &ActivationRequest{
		ID:        uuid.New(),
		AccountID: account.ID,
		Snapshot: map[string]any{
			"email":          account.Email,
			"firstName":      account.FirstName,
			"lastName":       account.LastName,
			"licenseNumber":  account.LicenseNumber,
			"specialization": account.Profile.Specialization,
			"organization":   account.Profile.Organization,
			"remoteId":       account.RemoteID,
		},
		IsPending:    true,
		Status:       ActivationPending,
		RequestedAt:  now,
		RemoteSynced: true,
	}
}

// RefreshToken is one renewable session. Only the hash of the token value is
// stored.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rtk"`

	ID         string     `bun:"id,pk" json:"id"`
	TokenHash  string     `bun:"token_hash,notnull,unique" json:"-"`
	AccountID  uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"accountId"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull" json:"expiresAt"`
	Revoked    bool       `bun:"revoked,notnull" json:"revoked"`
	RevokedAt  *time.Time `bun:"revoked_at,nullzero" json:"revokedAt,omitempty"`
	ReplacedBy string     `bun:"replaced_by,nullzero" json:"replacedBy,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"createdAt"`
}

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsable reports whether the token can still be redeemed.
func (t *RefreshToken) IsUsable(now time.Time) bool {
	return t != nil && !t.Revoked && !t.IsExpired(now)
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
