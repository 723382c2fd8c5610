package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditEvent is one persisted activity event.
type AuditEvent struct {
	bun.BaseModel `bun:"table:audit_events,alias:aud"`

	ID         uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	EventType  string         `bun:"event_type,notnull" json:"eventType"`
	ActorID    string         `bun:"actor_id,nullzero" json:"actorId,omitempty"`
	ActorType  string         `bun:"actor_type,nullzero" json:"actorType,omitempty"`
	AccountID  string         `bun:"account_id,nullzero" json:"accountId,omitempty"`
	FromStatus string         `bun:"from_status,nullzero" json:"fromStatus,omitempty"`
	ToStatus   string         `bun:"to_status,nullzero" json:"toStatus,omitempty"`
	Metadata   map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	OccurredAt time.Time      `bun:"occurred_at,notnull" json:"occurredAt"`
}

// AuditEventStore appends and reads audit events.
type AuditEventStore struct {
	db bun.IDB
}

func NewAuditEventStore(db bun.IDB) *AuditEventStore {
	return &AuditEventStore{db: db}
}

func (s *AuditEventStore) Insert(ctx context.Context, event *AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = utcNow()
	}
	_, err := s.db.NewInsert().Model(event).Exec(ctx)
	return err
}

// ListByAccount returns the newest events of an account first.
func (s *AuditEventStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*AuditEvent, error) {
	events := make([]*AuditEvent, 0)
	q := s.db.NewSelect().
		Model(&events).
		Where("account_id = ?", accountID).
		Order("occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !isNoRows(err) {
		return nil, err
	}
	return events, nil
}
