package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	// MaxLoginAttempts is the number of failures tolerated inside CoolDownPeriod
	MaxLoginAttempts = 5
	// CoolDownPeriod is the window failed attempts are counted in
	CoolDownPeriod = "24h"

	defaultOperationTimeout = 10 * time.Second
)

// VerificationMode selects how professional passwords are verified.
type VerificationMode string

const (
	// VerifyExternal delegates the check to the external authority
	VerifyExternal VerificationMode = "external"
	// VerifyLocal checks a locally held hash
	VerifyLocal VerificationMode = "local"
)

// IsValid reports whether m is a known mode.
func (m VerificationMode) IsValid() bool {
	return m == VerifyExternal || m == VerifyLocal
}

// AccountClass restricts which accounts a login endpoint accepts.
type AccountClass string

const (
	ClassAny          AccountClass = ""
	ClassUser         AccountClass = "user"
	ClassProfessional AccountClass = "professional"
)

func (c AccountClass) accepts(account *Account) bool {
	switch c {
	case ClassProfessional:
		return account.IsProfessional()
	case ClassUser:
		return !account.IsProfessional()
	default:
		return true
	}
}

// LoginOutcome distinguishes the results of a login attempt.
type LoginOutcome int

const (
	// OutcomeRejected means the credentials did not match
	OutcomeRejected LoginOutcome = iota
	// OutcomeAuthenticated carries a session
	OutcomeAuthenticated
	// OutcomePendingApproval means the account exists but is not activated
	OutcomePendingApproval
)

func (o LoginOutcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomePendingApproval:
		return "pending_approval"
	default:
		return "rejected"
	}
}

// SessionTokens is an access and refresh token pair.
type SessionTokens struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
	ExpiresAt    time.Time   `json:"-"`
	User         AccountView `json:"user"`
}

// LoginResult is the outcome of Login. Only OutcomeAuthenticated carries a
// session; OutcomePendingApproval carries the activation status.
type LoginResult struct {
	Outcome          LoginOutcome
	Session          *SessionTokens
	ActivationStatus ActivationStatus
	Email            string
	account          *Account
}

// Err converts non authenticated outcomes into their taxonomy error.
func (r LoginResult) Err() error {
	switch r.Outcome {
	case OutcomeAuthenticated:
		return nil
	case OutcomePendingApproval:
		return notActivated(r.ActivationStatus, r.Email)
	default:
		return ErrInvalidCredentials
	}
}

// Account returns the account the result refers to, nil for rejected
// credentials.
func (r LoginResult) Account() *Account {
	return r.account
}

// LoginRequest is the input of Login.
type LoginRequest struct {
	Email    string
	Password string
	Class    AccountClass
}

// SessionConfig tunes the SessionManager.
type SessionConfig struct {
	MaxLoginAttempts         int
	CoolDownPeriod           string
	ProfessionalVerification VerificationMode
	OperationTimeout         time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = MaxLoginAttempts
	}
	if c.CoolDownPeriod == "" {
		c.CoolDownPeriod = CoolDownPeriod
	}
	if c.ProfessionalVerification == "" {
		c.ProfessionalVerification = VerifyExternal
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	return c
}

// sessionIssuer mints access tokens and persists fresh refresh tokens.
type sessionIssuer struct {
	tokens        *TokenService
	refreshTokens RefreshTokenStore
}

func (s sessionIssuer) issue(ctx context.Context, account *Account) (*SessionTokens, error) {
	plain, record, err := s.tokens.NewRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshTokens.Create(ctx, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh token")
	}
	return s.pair(account, plain)
}

func (s sessionIssuer) pair(account *Account, refresh string) (*SessionTokens, error) {
	access, expiresAt, err := s.tokens.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}
	return &SessionTokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		ExpiresAt:    expiresAt,
		User:         account.View(),
	}, nil
}

// SessionManager authenticates accounts and manages their refresh tokens.
type SessionManager struct {
	accounts      AccountStore
	refreshTokens RefreshTokenStore
	issuer        sessionIssuer
	authority     *authorityClient
	hasher        PasswordHasher
	cfg           SessionConfig
	now           func() time.Time
	logger        Logger
	metrics       Metrics
	activity      activityRecorder
}

// NewSessionManager wires a SessionManager. authority may be nil when
// professional passwords are verified locally.
func NewSessionManager(stores Stores, tokens *TokenService, authority ExternalAuthority, cfg SessionConfig, opts ...Option) *SessionManager {
	o := buildOptions("identity.session", opts)
	return &SessionManager{
		accounts:      stores.Accounts,
		refreshTokens: stores.RefreshTokens,
		issuer:        sessionIssuer{tokens: tokens, refreshTokens: stores.RefreshTokens},
		authority:     newAuthorityClient(authority, o),
		hasher:        o.hasher,
		cfg:           cfg.withDefaults(),
		now:           o.now,
		logger:        o.logger,
		metrics:       o.metrics,
		activity:      activityRecorder{sink: o.activity, logger: o.logger, now: o.now},
	}
}

// Login verifies credentials. Rejected credentials and unactivated
// professional accounts are reported through the result, the error is
// reserved for validation, throttling and infrastructure failures.
func (s *SessionManager) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	select {
	case <-ctx.Done():
		return LoginResult{}, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during login")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	result, err := s.login(ctx, req)
	outcome := result.Outcome.String()
	if err != nil {
		outcome = "error"
		if HasTextCode(err, TextCodeTooManyAttempts) {
			outcome = "throttled"
		}
	}
	s.metrics.LoginObserved(outcome)
	return result, err
}

func (s *SessionManager) login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, validationMessage("credentials", "email and password are required")
	}

	rejected := LoginResult{Outcome: OutcomeRejected, Email: email}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			s.logger.Debug("login for unknown email")
			return rejected, nil
		}
		return LoginResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}

	if !req.Class.accepts(account) {
		s.logger.Debug("login rejected by account class filter", "account_id", account.ID, "class", string(req.Class))
		return rejected, nil
	}

	attempts, window, err := s.effectiveAttempts(account)
	if err != nil {
		return LoginResult{}, err
	}
	if attempts > s.cfg.MaxLoginAttempts {
		meta := map[string]any{
			"attempts":  attempts,
			"cool_down": s.cfg.CoolDownPeriod,
		}
		if account.LoginAttemptAt != nil {
			meta["retry_at"] = window.ResetAt(*account.LoginAttemptAt).UTC().Format(time.RFC3339)
		}
		return LoginResult{}, ErrTooManyLoginAttempts.Clone().WithMetadata(meta)
	}

	if account.IsProfessional() && !account.IsActivated {
		s.activity.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginPending,
			Actor:     ActorRef{ID: account.ID.String(), Type: ActorTypeAccount},
			AccountID: account.ID.String(),
			ToStatus:  s.activationStatus(account),
		})
		return LoginResult{
			Outcome:          OutcomePendingApproval,
			ActivationStatus: s.activationStatus(account),
			Email:            account.Email,
			account:          account,
		}, nil
	}

	ok, err := s.verifyPassword(ctx, account, req.Password)
	if err != nil {
		return LoginResult{}, err
	}

	if !ok {
		if err := s.accounts.RecordFailedLogin(ctx, account.ID, attempts+1, s.now()); err != nil {
			return LoginResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record login attempt")
		}
		account.LoginAttempts = attempts + 1
		s.activity.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{ID: account.ID.String(), Type: ActorTypeAccount},
			AccountID: account.ID.String(),
			Metadata:  map[string]any{"attempts": attempts + 1},
		})
		return rejected, nil
	}

	now := s.now()
	if err := s.accounts.RecordSuccessfulLogin(ctx, account.ID, now); err != nil {
		return LoginResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record login")
	}
	account.LoginAttempts = 0
	account.LoginAttemptAt = nil
	account.LastLoginAt = &now

	session, err := s.issuer.issue(ctx, account)
	if err != nil {
		return LoginResult{}, err
	}

	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: account.ID.String(), Type: ActorTypeAccount},
		AccountID: account.ID.String(),
	})

	return LoginResult{
		Outcome: OutcomeAuthenticated,
		Session: session,
		Email:   account.Email,
		account: account,
	}, nil
}

// effectiveAttempts ignores failures recorded outside the cool down window.
func (s *SessionManager) effectiveAttempts(account *Account) (int, AttemptWindow, error) {
	window, err := ParseAttemptWindow(s.cfg.CoolDownPeriod)
	if err != nil {
		return 0, window, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid login cool down period")
	}
	return window.Effective(s.now(), account.LoginAttempts, account.LoginAttemptAt), window, nil
}

func (s *SessionManager) activationStatus(account *Account) ActivationStatus {
	if account.ActivationStatus == "" {
		return ActivationPending
	}
	return account.ActivationStatus
}

// verifyPassword reports whether password matches. Non professional accounts
// always use their local hash. Professional accounts use the configured
// verification mode and the credential variant must agree with it.
func (s *SessionManager) verifyPassword(ctx context.Context, account *Account, password string) (bool, error) {
	mode := VerifyLocal
	if account.IsProfessional() {
		mode = s.cfg.ProfessionalVerification
	}

	switch cred := account.Credential().(type) {
	case LocalCredential:
		if mode != VerifyLocal {
			s.logger.Warn("local credential on account verified externally", "account_id", account.ID)
			return false, nil
		}
		err := s.hasher.ComparePasswordAndHash(password, cred.Hash)
		if err == nil {
			return true, nil
		}
		if IsInvalidCredentials(err) {
			return false, nil
		}
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare password")

	case ExternallyManagedCredential:
		if mode != VerifyExternal {
			s.logger.Warn("external credential on account verified locally", "account_id", account.ID)
			return false, nil
		}
		if s.authority == nil || cred.RemoteID == "" {
			return false, authorityFailure(opPasswordLogin, cred.RemoteID, missingRemoteCause(s.authority != nil))
		}
		err := s.authority.passwordLogin(ctx, cred.RemoteID, account.Email, password)
		if err == nil {
			return true, nil
		}
		if IsRemoteCredentialsRejected(err) {
			return false, nil
		}
		return false, err
	}

	return false, nil
}

// Refresh redeems a refresh token once and returns a new pair.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during refresh")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	session, err := s.refresh(ctx, refreshToken)
	switch {
	case err == nil:
		s.metrics.RefreshObserved("rotated")
	case IsInvalidToken(err):
		s.metrics.RefreshObserved("invalid")
	default:
		s.metrics.RefreshObserved("error")
	}
	return session, err
}

func (s *SessionManager) refresh(ctx context.Context, plain string) (*SessionTokens, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return nil, ErrInvalidToken
	}

	record, err := s.refreshTokens.GetByHash(ctx, HashRefreshToken(plain))
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load refresh token")
	}

	now := s.now()

	if record.Revoked {
		if record.ReplacedBy != "" {
			s.logger.Warn("rotated refresh token presented again",
				"token_id", record.ID,
				"account_id", record.AccountID,
				"replaced_by", record.ReplacedBy,
			)
			s.activity.record(ctx, ActivityEvent{
				EventType: ActivityEventRefreshReuse,
				AccountID: record.AccountID.String(),
				Metadata: map[string]any{
					"token_id":    record.ID,
					"replaced_by": record.ReplacedBy,
				},
			})
		}
		return nil, ErrInvalidToken
	}

	if record.IsExpired(now) {
		if _, err := s.refreshTokens.Revoke(ctx, record.ID, now); err != nil {
			s.logger.Warn("failed to revoke expired refresh token", "error", err, "token_id", record.ID)
		}
		return nil, ErrInvalidToken
	}

	account, err := s.accounts.GetByID(ctx, record.AccountID)
	if err != nil && !goerrors.IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	if err != nil || !account.IsActivated {
		if _, err := s.refreshTokens.Revoke(ctx, record.ID, now); err != nil {
			s.logger.Warn("failed to revoke refresh token", "error", err, "token_id", record.ID)
		}
		return nil, ErrInvalidToken
	}

	nextPlain, next, err := s.issuer.tokens.NewRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}

	if err := s.refreshTokens.Rotate(ctx, record.ID, next, now); err != nil {
		if IsInvalidToken(err) {
			s.logger.Warn("refresh token revoked concurrently", "token_id", record.ID)
			return nil, ErrInvalidToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate refresh token")
	}

	return s.issuer.pair(account, nextPlain)
}

// Logout revokes the refresh token if it exists. Unknown tokens are not an
// error.
func (s *SessionManager) Logout(ctx context.Context, refreshToken string) error {
	plain := strings.TrimSpace(refreshToken)
	if plain == "" {
		return nil
	}

	record, err := s.refreshTokens.GetByHash(ctx, HashRefreshToken(plain))
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load refresh token")
	}

	revoked, err := s.refreshTokens.Revoke(ctx, record.ID, s.now())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh token")
	}

	if revoked {
		s.activity.record(ctx, ActivityEvent{
			EventType: ActivityEventLogout,
			Actor:     ActorRef{ID: record.AccountID.String(), Type: ActorTypeAccount},
			AccountID: record.AccountID.String(),
		})
	}
	return nil
}

// ActivateAccount activates a non professional account. Professional
// accounts go through the ActivationWorkflow.
func (s *SessionManager) ActivateAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}

	if account.IsProfessional() {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"reason": "professional accounts are activated by an administrator",
		})
	}

	if account.IsActivated {
		return account, nil
	}

	now := s.now()
	if err := s.accounts.UpdateActivation(ctx, account.ID, ActivationUpdate{
		IsActivated: true,
		Status:      account.ActivationStatus,
		ActivatedAt: &now,
	}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
	}

	account.IsActivated = true
	account.ActivatedAt = &now

	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountActivated,
		AccountID: account.ID.String(),
	})
	return account, nil
}
