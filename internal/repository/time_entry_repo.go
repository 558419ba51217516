package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"worklog-backend/internal/models"
)

const entryColumns = `id, task_id, project_id, user_id, source, start_time, end_time, duration_seconds`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewEntry holds the caller-supplied columns of a new active entry.
type NewEntry struct {
	TaskID    uuid.UUID
	ProjectID *uuid.UUID
	UserID    uuid.UUID
	Source    string
	StartTime time.Time
}

// EntryTx is the set of Entry Store operations available inside one
// transaction. Nothing written through it is visible to other transactions
// until the enclosing InTx call commits.
type EntryTx interface {
	// LockUser blocks until this transaction holds the per-user timer lock.
	// The lock is released when the transaction ends.
	LockUser(ctx context.Context, userID uuid.UUID) error
	// Now reads the database clock once. All writes in a timer operation use
	// the same reading.
	Now(ctx context.Context) (time.Time, error)
	FindActiveEntry(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error)
	FindActiveEntryForTask(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error)
	CloseEntry(ctx context.Context, id uuid.UUID, endTime time.Time) (*models.TimeEntry, error)
	CreateEntry(ctx context.Context, e NewEntry) (*models.TimeEntry, error)
	CloseAllActiveForUser(ctx context.Context, userID uuid.UUID, endTime time.Time) ([]*models.TimeEntry, error)
}

type TimeEntryRepo struct {
	pool *pgxpool.Pool
}

func NewTimeEntryRepo(pool *pgxpool.Pool) *TimeEntryRepo {
	return &TimeEntryRepo{pool: pool}
}

// InTx runs fn inside a single transaction. If fn returns an error, or ctx is
// cancelled before commit, the transaction rolls back and any transaction
// scoped lock taken through LockUser is released.
func (r *TimeEntryRepo) InTx(ctx context.Context, fn func(tx EntryTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(&timeEntryTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translateError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// ActiveForUser reads the user's running entry outside of any timer
// transaction.
func (r *TimeEntryRepo) ActiveForUser(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error) {
	return findActive(ctx, r.pool, userID, "")
}

func (r *TimeEntryRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectTimeEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT te.id, te.task_id, te.project_id, te.user_id, te.source,
			te.start_time, te.end_time, te.duration_seconds, t.name
		FROM time_entries te
		JOIN tasks t ON te.task_id = t.id
		WHERE te.project_id = $1
		  AND te.duration_seconds IS NOT NULL
		ORDER BY te.start_time DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ProjectTimeEntry
	for rows.Next() {
		e := &models.ProjectTimeEntry{}
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.ProjectID, &e.UserID, &e.Source,
			&e.StartTime, &e.EndTime, &e.DurationSeconds, &e.TaskName,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type timeEntryTx struct {
	q querier
}

func (t *timeEntryTx) LockUser(ctx context.Context, userID uuid.UUID) error {
	_, err := t.q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1)::bigint)", userID.String())
	if err != nil {
		return fmt.Errorf("failed to acquire timer lock: %w", err)
	}
	return nil
}

// Now uses clock_timestamp() rather than now(): now() is frozen at
// transaction start, which can precede the start time of an entry committed
// by a transaction that held the lock before us.
func (t *timeEntryTx) Now(ctx context.Context) (time.Time, error) {
	var ts time.Time
	if err := t.q.QueryRow(ctx, "SELECT clock_timestamp()").Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("failed to read database clock: %w", err)
	}
	return ts, nil
}

func (t *timeEntryTx) FindActiveEntry(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error) {
	return findActive(ctx, t.q, userID, " FOR UPDATE")
}

func (t *timeEntryTx) FindActiveEntryForTask(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM time_entries
		WHERE user_id = $1 AND task_id = $2 AND end_time IS NULL
		FOR UPDATE`

	e, err := scanEntry(t.q.QueryRow(ctx, query, userID, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

// CloseEntry moves an active entry to closed. Duration is derived from the
// row's own start_time in the same statement. A negative result trips
// time_entries_duration_nonneg and is reported as ErrInvariantViolation.
func (t *timeEntryTx) CloseEntry(ctx context.Context, id uuid.UUID, endTime time.Time) (*models.TimeEntry, error) {
	query := `UPDATE time_entries
		SET end_time = $2,
			duration_seconds = FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - start_time)))::int
		WHERE id = $1 AND end_time IS NULL
		RETURNING ` + entryColumns

	e, err := scanEntry(t.q.QueryRow(ctx, query, id, endTime))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return e, nil
}

func (t *timeEntryTx) CreateEntry(ctx context.Context, ne NewEntry) (*models.TimeEntry, error) {
	if !models.ValidSource(ne.Source) {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvariantViolation, ne.Source)
	}

	query := `INSERT INTO time_entries (id, task_id, project_id, user_id, source, start_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + entryColumns

	e, err := scanEntry(t.q.QueryRow(ctx, query,
		uuid.New(), ne.TaskID, ne.ProjectID, ne.UserID, ne.Source, ne.StartTime,
	))
	if err != nil {
		return nil, translateError(err)
	}
	return e, nil
}

func (t *timeEntryTx) CloseAllActiveForUser(ctx context.Context, userID uuid.UUID, endTime time.Time) ([]*models.TimeEntry, error) {
	query := `UPDATE time_entries
		SET end_time = $2,
			duration_seconds = FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - start_time)))::int
		WHERE user_id = $1 AND end_time IS NULL
		RETURNING ` + entryColumns

	rows, err := t.q.Query(ctx, query, userID, endTime)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var closed []*models.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		closed = append(closed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}
	return closed, nil
}

func findActive(ctx context.Context, q querier, userID uuid.UUID, suffix string) (*models.TimeEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM time_entries
		WHERE user_id = $1 AND end_time IS NULL` + suffix

	e, err := scanEntry(q.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

func scanEntry(row pgx.Row) (*models.TimeEntry, error) {
	e := &models.TimeEntry{}
	err := row.Scan(
		&e.ID, &e.TaskID, &e.ProjectID, &e.UserID, &e.Source,
		&e.StartTime, &e.EndTime, &e.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
