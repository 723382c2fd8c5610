package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	identity "github.com/goliatone/go-identity"
)

// RefreshTokenStore is the bun backed identity.RefreshTokenStore.
type RefreshTokenStore struct {
	db *bun.DB
}

var _ identity.RefreshTokenStore = (*RefreshTokenStore)(nil)

func NewRefreshTokenStore(db *bun.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

func (s *RefreshTokenStore) Create(ctx context.Context, token *identity.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, token)
}

func insertRefreshToken(ctx context.Context, db bun.IDB, token *identity.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = utcNow()
	}
	_, err := db.NewInsert().Model(token).Exec(ctx)
	return err
}

func (s *RefreshTokenStore) GetByHash(ctx context.Context, hash string) (*identity.RefreshToken, error) {
	token := &identity.RefreshToken{}
	err := s.db.NewSelect().
		Model(token).
		Where("token_hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, map[string]any{"token": "refresh"})
	}
	return token, nil
}

// Revoke only touches unrevoked rows so concurrent callers see a single
// winner.
func (s *RefreshTokenStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	return revokeRefreshToken(ctx, s.db, id, "", at)
}

func revokeRefreshToken(ctx context.Context, db bun.IDB, id, replacedBy string, at time.Time) (bool, error) {
	res, err := db.NewUpdate().
		Model((*identity.RefreshToken)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", at.UTC()).
		Set("replaced_by = ?", nullString(replacedBy)).
		Where("id = ?", id).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Rotate revokes oldID and stores replacement in one transaction. The
// conditional update decides the winner when two refreshes race.
func (s *RefreshTokenStore) Rotate(ctx context.Context, oldID string, replacement *identity.RefreshToken, at time.Time) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		revoked, err := revokeRefreshToken(ctx, tx, oldID, replacement.ID, at)
		if err != nil {
			return err
		}
		if !revoked {
			return identity.ErrInvalidToken.Clone().WithMetadata(map[string]any{
				"reason": "already_rotated",
			})
		}
		return insertRefreshToken(ctx, tx, replacement)
	})
}

func (s *RefreshTokenStore) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, at time.Time) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*identity.RefreshToken)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", at.UTC()).
		Where("account_id = ?", accountID).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteExpired removes tokens that expired before cutoff.
func (s *RefreshTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*identity.RefreshToken)(nil)).
		Where("expires_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
