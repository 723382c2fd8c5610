package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	identity "github.com/goliatone/go-identity"
)

// ActivationRequestStore is the bun backed identity.ActivationRequestStore.
type ActivationRequestStore struct {
	db bun.IDB
}

var _ identity.ActivationRequestStore = (*ActivationRequestStore)(nil)

func NewActivationRequestStore(db bun.IDB) *ActivationRequestStore {
	return &ActivationRequestStore{db: db}
}

func (s *ActivationRequestStore) Create(ctx context.Context, request *identity.ActivationRequest) error {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = utcNow()
	}
	_, err := s.db.NewInsert().Model(request).Exec(ctx)
	return err
}

func (s *ActivationRequestStore) GetByAccount(ctx context.Context, accountID uuid.UUID) (*identity.ActivationRequest, error) {
	request := &identity.ActivationRequest{}
	err := s.db.NewSelect().
		Model(request).
		Where("account_id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, map[string]any{"account_id": accountID.String()})
	}
	return request, nil
}

// Resolve closes the request and flags it for remote synchronization.
func (s *ActivationRequestStore) Resolve(ctx context.Context, accountID uuid.UUID, resolution identity.ActivationResolution) error {
	at := resolution.ResolvedAt
	if at.IsZero() {
		at = utcNow()
	}
	res, err := s.db.NewUpdate().
		Model((*identity.ActivationRequest)(nil)).
		Set("is_pending = ?", false).
		Set("status = ?", string(resolution.Status)).
		Set("reason = ?", nullString(resolution.Reason)).
		Set("resolved_at = ?", at.UTC()).
		Set("resolved_by = ?", nullString(resolution.ResolvedBy)).
		Set("remote_synced = ?", false).
		Where("account_id = ?", accountID).
		Exec(ctx)
	return expectRow(res, err, accountID)
}

func (s *ActivationRequestStore) MarkRemoteSynced(ctx context.Context, accountID uuid.UUID, synced bool) error {
	res, err := s.db.NewUpdate().
		Model((*identity.ActivationRequest)(nil)).
		Set("remote_synced = ?", synced).
		Where("account_id = ?", accountID).
		Exec(ctx)
	return expectRow(res, err, accountID)
}

// ListUnsynced returns resolved requests whose remote side effect has not
// been confirmed, oldest resolution first.
func (s *ActivationRequestStore) ListUnsynced(ctx context.Context, limit int) ([]*identity.ActivationRequest, error) {
	requests := make([]*identity.ActivationRequest, 0)
	q := s.db.NewSelect().
		Model(&requests).
		Where("remote_synced = ?", false).
		Where("is_pending = ?", false).
		Order("resolved_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !isNoRows(err) {
		return nil, err
	}
	return requests, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
