package errorutil

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ClassifyStoreError maps persistence errors onto the domain taxonomy.
// resource names the missing entity for NOT_FOUND messages.
func ClassifyStoreError(err error, resource string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound(resource, nil)
	}
	if IsTransient(err) {
		return NewTransientError(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return NewConflict(resource+" already exists", nil)
		case "23503":
			return NewNotFound(resource, nil)
		case "23514", "22001":
			return NewValidationError("value rejected by store", map[string]any{"constraint": pgErr.ConstraintName})
		}
	}
	return err
}

// IsTransient reports whether err is worth retrying: timeouts, lost
// connections, serialization failures and deadlocks.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
