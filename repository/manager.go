package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"

	identity "github.com/goliatone/go-identity"
)

// Logger is the module logger.
type Logger = identity.Logger

func defaultLogger() Logger { return identity.NamedLogger("identity.repository") }

// Manager owns the bun stores of one database.
type Manager struct {
	db            *bun.DB
	accounts      *AccountStore
	requests      *ActivationRequestStore
	refreshTokens *RefreshTokenStore
	auditEvents   *AuditEventStore
}

// RepositoryManager exposes the stores and their transaction scope.
type RepositoryManager interface {
	Validate() error
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Stores() identity.Stores
}

var _ RepositoryManager = (*Manager)(nil)

// NewManager wires every store to db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:            db,
		accounts:      NewAccountStore(db),
		requests:      NewActivationRequestStore(db),
		refreshTokens: NewRefreshTokenStore(db),
		auditEvents:   NewAuditEventStore(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}
	if m.requests == nil {
		return errors.New("repository activation requests should be initialized")
	}
	if m.refreshTokens == nil {
		return errors.New("repository refresh tokens should be initialized")
	}
	if m.auditEvents == nil {
		return errors.New("repository audit events should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// Stores returns the stores consumed by the identity service.
func (m *Manager) Stores() identity.Stores {
	return identity.Stores{
		Accounts:      m.accounts,
		Requests:      m.requests,
		RefreshTokens: m.refreshTokens,
	}
}

func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Accounts() *AccountStore {
	return m.accounts
}

func (m *Manager) ActivationRequests() *ActivationRequestStore {
	return m.requests
}

func (m *Manager) RefreshTokens() *RefreshTokenStore {
	return m.refreshTokens
}

func (m *Manager) AuditEvents() *AuditEventStore {
	return m.auditEvents
}
