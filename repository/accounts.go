package repository

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	identity "github.com/goliatone/go-identity"
)

// AccountStore is the bun backed identity.AccountStore.
type AccountStore struct {
	repo repository.Repository[*identity.Account]
	db   bun.IDB
	now  func() time.Time
}

var _ identity.AccountStore = (*AccountStore)(nil)

// NewAccountStore returns a store on db.
func NewAccountStore(db *bun.DB) *AccountStore {
	repo := repository.NewRepository[*identity.Account](db, repository.ModelHandlers[*identity.Account]{
		NewRecord: func() *identity.Account { return &identity.Account{} },
		GetID: func(a *identity.Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *identity.Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
	return &AccountStore{repo: repo, db: db, now: utcNow}
}

func (s *AccountStore) Create(ctx context.Context, account *identity.Account) error {
	prepareAccountDefaults(account, s.now())
	if _, err := s.repo.CreateTx(ctx, s.db, account); err != nil {
		return accountConflict(err)
	}
	return nil
}

func prepareAccountDefaults(account *identity.Account, now time.Time) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = identity.NormalizeEmail(account.Email)
	account.LicenseNumber = strings.TrimSpace(account.LicenseNumber)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	if account.Roles == nil {
		account.Roles = identity.NewRoles(identity.RoleUser)
	}
}

func (s *AccountStore) GetByID(ctx context.Context, id uuid.UUID) (*identity.Account, error) {
	account, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFound(err, map[string]any{"id": id.String()})
	}
	return account, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return s.getBy(ctx, "email", identity.NormalizeEmail(email))
}

func (s *AccountStore) getBy(ctx context.Context, column string, value any) (*identity.Account, error) {
	account := &identity.Account{}
	err := s.db.NewSelect().
		Model(account).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, map[string]any{column: value})
	}
	return account, nil
}

func (s *AccountStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.db.NewSelect().
		Model((*identity.Account)(nil)).
		Where("email = ?", identity.NormalizeEmail(email)).
		Exists(ctx)
}

func (s *AccountStore) ExistsByLicense(ctx context.Context, license string) (bool, error) {
	license = strings.TrimSpace(license)
	if license == "" {
		return false, nil
	}
	return s.db.NewSelect().
		Model((*identity.Account)(nil)).
		Where("license_number = ?", license).
		Exists(ctx)
}

func (s *AccountStore) LinkRemoteIdentity(ctx context.Context, id uuid.UUID, remoteID string, step identity.RegistrationStep) error {
	q := s.db.NewUpdate().
		Model((*identity.Account)(nil)).
		Set("remote_id = ?", remoteID).
		Set("password_hash = NULL").
		Set("registration_step = ?", string(step)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id)
	return s.execOne(ctx, q, id)
}

func (s *AccountStore) UpdateRegistrationStep(ctx context.Context, id uuid.UUID, step identity.RegistrationStep) error {
	q := s.db.NewUpdate().
		Model((*identity.Account)(nil)).
		Set("registration_step = ?", string(step)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id)
	return s.execOne(ctx, q, id)
}

func (s *AccountStore) UpdateActivation(ctx context.Context, id uuid.UUID, update identity.ActivationUpdate) error {
	q := s.db.NewUpdate().
		Model((*identity.Account)(nil)).
		Set("is_activated = ?", update.IsActivated).
		Set("activation_status = ?", string(update.Status)).
		Set("activated_at = ?", nullTime(update.ActivatedAt)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id)
	return s.execOne(ctx, q, id)
}

func (s *AccountStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	q := s.db.NewUpdate().
		Model((*identity.Account)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id)
	return s.execOne(ctx, q, id)
}

func (s *AccountStore) RecordFailedLogin(ctx context.Context, id uuid.UUID, attempts int, at time.Time) error {
	q := s.db.NewUpdate().
		Model((*identity.Account)(nil)).
		Set("login_attempts = ?", attempts).
		Set("login_attempt_at = ?", at.UTC()).
		Where("id = ?", id)
	return s.execOne(ctx, q, id)
}

func (s *AccountStore) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := s.db.NewUpdate().
		Model((*identity.Account)(nil)).
		Set("last_login_at = ?", at.UTC()).
		Set("login_attempt_at = NULL").
		Set("login_attempts = 0").
		Where("id = ?", id)
	return s.execOne(ctx, q, id)
}

// ListByActivation lists accounts holding role by activation flag. Rejected
// accounts are unactivated and appear with the pending ones.
func (s *AccountStore) ListByActivation(ctx context.Context, role identity.Role, activated bool) ([]*identity.Account, error) {
	accounts := make([]*identity.Account, 0)
	err := s.activationQuery(role, activated).
		Model(&accounts).
		Order("activation_requested_at ASC", "created_at ASC").
		Scan(ctx)
	if err != nil && !isNoRows(err) {
		return nil, err
	}
	return accounts, nil
}

func (s *AccountStore) CountByActivation(ctx context.Context, role identity.Role, activated bool) (int, error) {
	return s.activationQuery(role, activated).
		Model((*identity.Account)(nil)).
		Count(ctx)
}

// activationQuery filters on the activation flag only, so rejected accounts
// are listed with the pending ones.
func (s *AccountStore) activationQuery(role identity.Role, activated bool) *bun.SelectQuery {
	return s.db.NewSelect().
		Where("roles LIKE ?", identity.RoleFilterPattern(role)).
		Where("is_activated = ?", activated)
}

// ListUnfinishedRegistrations returns accounts whose registration stopped
// before completion and that were created before olderThan.
func (s *AccountStore) ListUnfinishedRegistrations(ctx context.Context, olderThan time.Time, limit int) ([]*identity.Account, error) {
	accounts := make([]*identity.Account, 0)
	q := s.db.NewSelect().
		Model(&accounts).
		Where("registration_step IS NOT NULL").
		Where("registration_step <> ?", string(identity.StepCompleted)).
		Where("created_at < ?", olderThan.UTC()).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !isNoRows(err) {
		return nil, err
	}
	return accounts, nil
}

func (s *AccountStore) execOne(ctx context.Context, q *bun.UpdateQuery, id uuid.UUID) error {
	res, err := q.Exec(ctx)
	if err != nil {
		return accountConflict(err)
	}
	return expectRow(res, nil, id)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
