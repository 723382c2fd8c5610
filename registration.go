package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// RegistrationInput is the profile submitted at registration.
type RegistrationInput struct {
	Email         string
	Password      string
	FirstName     string
	LastName      string
	Phone         string
	Role          Role
	LicenseNumber string
	Profile       Profile
}

// RegistrationConfig tunes the RegistrationCoordinator.
type RegistrationConfig struct {
	// ProfessionalVerification must match the SessionManager setting. With
	// VerifyLocal professionals register with a password and no remote
	// identity is provisioned.
	ProfessionalVerification VerificationMode
	// DeterministicIDs derives account ids from the email so caller retries
	// produce the same id.
	DeterministicIDs bool
	// AdminEmail receives review.required notifications.
	AdminEmail string
	// PhoneRegion is used to parse numbers without a country prefix.
	PhoneRegion      string
	OperationTimeout time.Duration
}

func (c RegistrationConfig) withDefaults() RegistrationConfig {
	if c.ProfessionalVerification == "" {
		c.ProfessionalVerification = VerifyExternal
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = "US"
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	return c
}

// Registration is the result of Register. Session is only set for accounts
// active from registration.
type Registration struct {
	Account *Account
	Session *SessionTokens
}

// Validate checks the input for the given verification mode.
func (in RegistrationInput) Validate(mode VerificationMode) error {
	passwordRules := []validation.Rule{}
	if in.Role != RoleProfessional || mode == VerifyLocal {
		passwordRules = append(passwordRules, validation.Required, validation.Length(minPasswordLength, maxPasswordLength))
	}

	licenseRules := []validation.Rule{}
	if in.Role == RoleProfessional {
		licenseRules = append(licenseRules, validation.Required, validation.Length(3, 64))
	}

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Role, validation.Required, validation.In(RoleUser, RoleProfessional)),
		validation.Field(&in.Password, passwordRules...),
		validation.Field(&in.LicenseNumber, licenseRules...),
		validation.Field(&in.Profile),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

// Validate implements validation.Validatable.
func (p Profile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Specialization, validation.Length(0, 200)),
		validation.Field(&p.Organization, validation.Length(0, 200)),
		validation.Field(&p.YearsOfExperience, validation.By(func(value any) error {
			if years, _ := value.(int); years < 0 || years > 80 {
				return errors.New("must be between 0 and 80")
			}
			return nil
		})),
	)
}

// NormalizePhone returns number in E.164, or an empty string for empty input.
func NormalizePhone(number, region string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", nil
	}
	parsed, err := phonenumbers.Parse(number, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", validationMessage("phone", "must be a valid phone number")
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// RegistrationCoordinator creates accounts. Regular accounts are written in
// one step. Professional accounts run a saga across the local store and the
// external authority, recording the furthest completed step on the account.
type RegistrationCoordinator struct {
	accounts  AccountStore
	requests  ActivationRequestStore
	issuer    sessionIssuer
	authority *authorityClient
	notifier  Notifier
	hasher    PasswordHasher
	cfg       RegistrationConfig
	now       func() time.Time
	logger    Logger
	metrics   Metrics
	activity  activityRecorder
}

// NewRegistrationCoordinator wires a RegistrationCoordinator.
func NewRegistrationCoordinator(stores Stores, tokens *TokenService, authority ExternalAuthority, notifier Notifier, cfg RegistrationConfig, opts ...Option) *RegistrationCoordinator {
	o := buildOptions("identity.registration", opts)
	return &RegistrationCoordinator{
		accounts:  stores.Accounts,
		requests:  stores.Requests,
		issuer:    sessionIssuer{tokens: tokens, refreshTokens: stores.RefreshTokens},
		authority: newAuthorityClient(authority, o),
		notifier:  normalizeNotifier(notifier),
		hasher:    o.hasher,
		cfg:       cfg.withDefaults(),
		now:       o.now,
		logger:    o.logger,
		metrics:   o.metrics,
		activity:  activityRecorder{sink: o.activity, logger: o.logger, now: o.now},
	}
}

// Register creates an account for in.Role.
func (c *RegistrationCoordinator) Register(ctx context.Context, in RegistrationInput) (*Registration, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during registration")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	var (
		reg *Registration
		err error
	)
	if in.Role == RoleProfessional {
		reg, err = c.registerProfessional(ctx, in)
	} else {
		reg, err = c.registerUser(ctx, in)
	}

	c.metrics.RegistrationObserved(in.Role, registrationOutcome(err))
	return reg, err
}

func registrationOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case IsValidationError(err):
		return "invalid"
	case IsAccountAlreadyExists(err), IsDuplicateLicense(err):
		return "conflict"
	default:
		return "failed"
	}
}

func (c *RegistrationCoordinator) prepare(ctx context.Context, in RegistrationInput) (*Account, error) {
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)

	if err := in.Validate(c.cfg.ProfessionalVerification); err != nil {
		return nil, err
	}

	phone, err := NormalizePhone(in.Phone, c.cfg.PhoneRegion)
	if err != nil {
		return nil, err
	}

	exists, err := c.accounts.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email uniqueness")
	}
	if exists {
		return nil, ErrAccountAlreadyExists
	}

	if in.LicenseNumber != "" {
		taken, err := c.accounts.ExistsByLicense(ctx, in.LicenseNumber)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check license uniqueness")
		}
		if taken {
			return nil, ErrDuplicateLicense
		}
	}

	now := c.now()
	account := &Account{
		ID:            c.accountID(in.Email),
		Email:         in.Email,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Phone:         phone,
		Roles:         NewRoles(in.Role),
		LicenseNumber: in.LicenseNumber,
		Profile:       in.Profile,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if in.Password != "" && (in.Role != RoleProfessional || c.cfg.ProfessionalVerification == VerifyLocal) {
		hash, err := c.hasher.HashPassword(in.Password)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}
		account.SetCredential(LocalCredential{Hash: hash})
	}

	return account, nil
}

func (c *RegistrationCoordinator) accountID(email string) uuid.UUID {
	if c.cfg.DeterministicIDs {
		if id, err := hashid.NewUUID(email); err == nil {
			return id
		}
		c.logger.Warn("could not derive deterministic account id")
	}
	return uuid.New()
}

func (c *RegistrationCoordinator) registerUser(ctx context.Context, in RegistrationInput) (*Registration, error) {
	account, err := c.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	now := c.now()
	account.IsActivated = true
	account.ActivatedAt = &now
	account.RegistrationStep = StepCompleted

	if err := c.accounts.Create(ctx, account); err != nil {
		if IsAccountAlreadyExists(err) || IsDuplicateLicense(err) {
			return nil, err
		}
		return nil, registrationFailed(StepNone, account.ID.String(), err)
	}

	session, err := c.issuer.issue(ctx, account)
	if err != nil {
		return nil, registrationFailed(StepCompleted, account.ID.String(), err)
	}

	c.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     ActorRef{ID: account.ID.String(), Type: ActorTypeAccount},
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"role": string(in.Role)},
	})

	return &Registration{Account: account, Session: session}, nil
}

func (c *RegistrationCoordinator) registerProfessional(ctx context.Context, in RegistrationInput) (*Registration, error) {
	external := c.cfg.ProfessionalVerification == VerifyExternal
	if external && c.authority == nil {
		return nil, authorityFailure(opCreateIdentity, "", errMissingAuthority)
	}

	account, err := c.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	if external {
		remote, err := c.authority.findIdentityByEmail(ctx, account.Email)
		if err == nil && remote != nil {
			return nil, ErrAccountAlreadyExists.Clone().WithMetadata(map[string]any{
				"source": "external_authority",
			})
		}
		if err != nil && !IsRemoteIdentityNotFound(err) {
			return nil, err
		}
	}

	now := c.now()
	account.IsActivated = false
	account.ActivationStatus = ActivationPending
	account.ActivationRequestedAt = &now
	account.RegistrationStep = StepLocalAccountCreated

	// step 1
	if err := c.accounts.Create(ctx, account); err != nil {
		if IsAccountAlreadyExists(err) || IsDuplicateLicense(err) {
			return nil, err
		}
		return nil, c.failed(StepNone, account, err)
	}

	if external {
		// step 2
		remote, err := c.authority.createIdentity(ctx, RemoteIdentitySpecFor(account))
		if err != nil {
			return nil, c.failed(StepLocalAccountCreated, account, err)
		}

		// step 3
		if err := c.accounts.LinkRemoteIdentity(ctx, account.ID, remote.ID, StepRemoteIdentityLinked); err != nil {
			return nil, c.failed(StepRemoteIdentityCreated, account, err)
		}
		account.SetCredential(ExternallyManagedCredential{RemoteID: remote.ID})
		account.RegistrationStep = StepRemoteIdentityLinked
	}

	// step 4
	request := NewActivationRequest(account, now)
	if err := c.requests.Create(ctx, request); err != nil {
		return nil, c.failed(account.RegistrationStep, account, err)
	}

	if err := c.accounts.UpdateRegistrationStep(ctx, account.ID, StepCompleted); err != nil {
		return nil, c.failed(StepActivationRequestCreated, account, err)
	}
	account.RegistrationStep = StepCompleted

	// step 5, best effort
	dispatch(ctx, c.notifier, c.logger,
		accountNotification(NotificationRegistrationReceived, account, nil),
		c.reviewNotification(account),
	)

	c.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     ActorRef{ID: account.ID.String(), Type: ActorTypeAccount},
		AccountID: account.ID.String(),
		ToStatus:  ActivationPending,
		Metadata:  map[string]any{"role": string(RoleProfessional)},
	})

	return &Registration{Account: account}, nil
}

func (c *RegistrationCoordinator) failed(step RegistrationStep, account *Account, err error) error {
	c.logger.Error("professional registration failed",
		"error", err,
		"step", string(step),
		"account_id", account.ID,
		"remote_id", account.RemoteID,
	)
	return registrationFailed(step, account.ID.String(), err)
}

func (c *RegistrationCoordinator) reviewNotification(account *Account) Notification {
	n := accountNotification(NotificationReviewRequired, account, map[string]any{
		"specialization": account.Profile.Specialization,
		"organization":   account.Profile.Organization,
	})
	n.To = c.cfg.AdminEmail
	return n
}

// RemoteIdentitySpecFor describes the remote identity of a professional
// account.
func RemoteIdentitySpecFor(account *Account) RemoteIdentitySpec {
	return RemoteIdentitySpec{
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
		AccountID: account.ID.String(),
		Attributes: map[string]string{
			"accountId":        account.ID.String(),
			"accountType":      "PROFESSIONAL",
			"activationStatus": string(ActivationPending),
		},
	}
}

// BootstrapAdmin ensures an administrator account exists for email. An
// existing account is returned unchanged.
func (c *RegistrationCoordinator) BootstrapAdmin(ctx context.Context, email, password string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, validationError(err)
	}

	existing, err := c.accounts.GetByEmail(ctx, email)
	if err == nil {
		if !existing.IsAdmin() {
			c.logger.Warn("bootstrap admin email belongs to a non admin account", "account_id", existing.ID)
		}
		return existing, nil
	}
	if !goerrors.IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load admin account")
	}

	if len(password) < minPasswordLength {
		return nil, validationMessage("password", "admin password is too short")
	}

	hash, err := c.hasher.HashPassword(password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := c.now()
	account := &Account{
		ID:               c.accountID(email),
		Email:            email,
		FirstName:        "Admin",
		LastName:         "Account",
		Roles:            NewRoles(RoleAdmin),
		IsActivated:      true,
		ActivatedAt:      &now,
		RegistrationStep: StepCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	account.SetCredential(LocalCredential{Hash: hash})

	if err := c.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	c.logger.Info("bootstrap admin created", "account_id", account.ID)
	return account, nil
}
