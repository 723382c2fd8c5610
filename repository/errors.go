package repository

import (
	"database/sql"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	identity "github.com/goliatone/go-identity"
)

const pgUniqueViolation = "23505"

// ErrRecordNotFound is returned by stores when a lookup matches nothing.
var ErrRecordNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode("RECORD_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

func notFound(err error, meta map[string]any) error {
	if err == nil {
		return nil
	}
	if !isNoRows(err) {
		return err
	}
	clone := ErrRecordNotFound.Clone()
	clone.Source = err
	return clone.WithMetadata(meta)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

func missing(meta map[string]any) error {
	return ErrRecordNotFound.Clone().WithMetadata(meta)
}

// uniqueConstraint returns the constraint or column named by a unique
// violation from postgres (pgx or lib/pq) or sqlite.
func uniqueConstraint(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return pqErr.Constraint, true
	}

	msg := err.Error()
	if idx := strings.Index(msg, "UNIQUE constraint failed: "); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("UNIQUE constraint failed: "):]), true
	}
	return "", false
}

// accountConflict maps unique violations on accounts to the taxonomy.
func accountConflict(err error) error {
	constraint, ok := uniqueConstraint(err)
	if !ok {
		return err
	}
	if strings.Contains(constraint, "license") {
		return identity.ErrDuplicateLicense
	}
	return identity.ErrAccountAlreadyExists
}

func expectRow(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return missing(map[string]any{"id": id.String()})
	}
	return nil
}
