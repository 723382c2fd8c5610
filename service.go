package identity

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ServiceConfig holds the settings shared by the core components. The
// professional verification mode is set once here so registration and login
// cannot disagree.
type ServiceConfig struct {
	Tokens                   TokenConfig
	ProfessionalVerification VerificationMode
	MaxLoginAttempts         int
	CoolDownPeriod           string
	DeterministicIDs         bool
	AdminEmail               string
	PhoneRegion              string
	OperationTimeout         time.Duration
}

// Service groups the core components wired against the same stores,
// authority and token issuer.
type Service struct {
	Tokens       *TokenService
	Registration *RegistrationCoordinator
	Activation   *ActivationWorkflow
	Sessions     *SessionManager
	Passwords    *PasswordManager
	Reconciler   *Reconciler
}

// NewService validates the collaborators and wires every component. The
// authority may be nil only when professional passwords are verified locally.
func NewService(stores Stores, authority ExternalAuthority, notifier Notifier, cfg ServiceConfig, opts []Option, wopts ...WorkflowOption) (*Service, error) {
	if err := stores.Validate(); err != nil {
		return nil, err
	}

	mode := cfg.ProfessionalVerification
	if mode == "" {
		mode = VerifyExternal
	}
	if !mode.IsValid() {
		return nil, goerrors.New("unknown professional verification mode", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation).
			WithMetadata(map[string]any{"mode": string(mode)})
	}
	if mode == VerifyExternal && authority == nil {
		return nil, goerrors.New("external verification requires an external authority", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation)
	}

	tokens := NewTokenService(cfg.Tokens, opts...)
	workflow := NewActivationWorkflow(stores, authority, notifier, opts, wopts...)

	return &Service{
		Tokens: tokens,
		Registration: NewRegistrationCoordinator(stores, tokens, authority, notifier, RegistrationConfig{
			ProfessionalVerification: mode,
			DeterministicIDs:         cfg.DeterministicIDs,
			AdminEmail:               cfg.AdminEmail,
			PhoneRegion:              cfg.PhoneRegion,
			OperationTimeout:         cfg.OperationTimeout,
		}, opts...),
		Activation: workflow,
		Sessions: NewSessionManager(stores, tokens, authority, SessionConfig{
			MaxLoginAttempts:         cfg.MaxLoginAttempts,
			CoolDownPeriod:           cfg.CoolDownPeriod,
			ProfessionalVerification: mode,
			OperationTimeout:         cfg.OperationTimeout,
		}, opts...),
		Passwords:  NewPasswordManager(stores, authority, opts...),
		Reconciler: NewReconciler(stores, authority, workflow, opts...),
	}, nil
}

// Validate reports a missing store.
func (s Stores) Validate() error {
	missing := []string{}
	if s.Accounts == nil {
		missing = append(missing, "accounts")
	}
	if s.Requests == nil {
		missing = append(missing, "activation_requests")
	}
	if s.RefreshTokens == nil {
		missing = append(missing, "refresh_tokens")
	}
	if len(missing) > 0 {
		return goerrors.New("stores should be initialized", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"missing": missing})
	}
	return nil
}
