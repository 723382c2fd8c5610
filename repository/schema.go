package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	identity "github.com/goliatone/go-identity"
)

type index struct {
	model   any
	name    string
	columns []string
}

// CreateSchema creates the tables and indexes from the bun models. It is
// used for sqlite and tests, postgres deployments run Migrate.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*identity.Account)(nil),
		(*identity.ActivationRequest)(nil),
		(*identity.RefreshToken)(nil),
		(*AuditEvent)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []index{
		{(*identity.Account)(nil), "accounts_activation_idx", []string{"is_activated", "activation_status"}},
		{(*identity.Account)(nil), "accounts_registration_step_idx", []string{"registration_step", "created_at"}},
		{(*identity.ActivationRequest)(nil), "activation_requests_unsynced_idx", []string{"remote_synced", "is_pending"}},
		{(*identity.RefreshToken)(nil), "refresh_tokens_account_idx", []string{"account_id", "revoked"}},
		{(*AuditEvent)(nil), "audit_events_account_idx", []string{"account_id", "occurred_at"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
