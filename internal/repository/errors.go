package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrEntryNotFound     = errors.New("time entry not found")
	ErrActiveEntryExists = errors.New("active time entry already exists for user")
	// ErrInvariantViolation is returned when a write would break a time_entries
	// check constraint (negative duration, end before start, unknown source).
	ErrInvariantViolation = errors.New("time entry invariant violated")
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"

	activeEntryIndex = "uq_time_entries_active_user"
	entryTaskFK      = "time_entries_task_id_fkey"
)

// translateError maps Postgres constraint failures on time_entries onto the
// package sentinels. Anything else is returned unchanged.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgForeignKeyViolation:
		// The task was deleted after it was looked up.
		if pgErr.ConstraintName == entryTaskFK {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, pgErr.Message)
		}
	case pgUniqueViolation:
		if pgErr.ConstraintName == activeEntryIndex {
			return fmt.Errorf("%w: %s", ErrActiveEntryExists, pgErr.Message)
		}
	case pgCheckViolation:
		return fmt.Errorf("%w: %s (%s)", ErrInvariantViolation, pgErr.Message, pgErr.ConstraintName)
	}
	return err
}
