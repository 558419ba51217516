package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"worklog-backend/internal/lock"
	"worklog-backend/internal/models"
	"worklog-backend/internal/repository"
)

// EntryStore is the transactional time entry storage the engine runs on.
type EntryStore interface {
	InTx(ctx context.Context, fn func(tx repository.EntryTx) error) error
	ActiveForUser(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectTimeEntry, error)
}

type TaskLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

// TimerPublisher pushes committed timer changes to the user's open sessions.
type TimerPublisher interface {
	PublishTimerUpdate(ctx context.Context, userID uuid.UUID, update models.TimerUpdate) error
}

const (
	msgTaskNotFound      = "Task not found"
	msgNoActiveTimer     = "No active timer found"
	msgActiveTimerExists = "Active timer already exists for this user"
	msgMissingIdentity   = "Authentication required"
	publishTimeout       = 2 * time.Second
)

// TimerService is the per-user timer state machine. A user is either idle or
// tracking exactly one task; Start switches tasks by closing whatever is
// running, Stop returns the user to idle.
type TimerService struct {
	entries   EntryStore
	tasks     TaskLookup
	gate      lock.Gate
	publisher TimerPublisher
}

func NewTimerService(entries EntryStore, tasks TaskLookup, gate lock.Gate, publisher TimerPublisher) *TimerService {
	return &TimerService{
		entries:   entries,
		tasks:     tasks,
		gate:      gate,
		publisher: publisher,
	}
}

// Start begins tracking taskID for userID. Any entry already running for the
// user is closed at the same instant the new one starts.
func (s *TimerService) Start(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error) {
	if err := validateIDs(userID, taskID); err != nil {
		return nil, err
	}

	task, err := s.lookupTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var (
		entry   *models.TimeEntry
		stopped []*models.TimeEntry
	)
	err = s.withGate(ctx, userID, func(tx repository.EntryTx, now time.Time) error {
		closed, err := tx.CloseAllActiveForUser(ctx, userID, now)
		if err != nil {
			return err
		}
		created, err := tx.CreateEntry(ctx, repository.NewEntry{
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			UserID:    userID,
			Source:    models.SourceManual,
			StartTime: now,
		})
		if err != nil {
			return err
		}
		entry, stopped = created, closed
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "start", userID, taskID)
	}

	for _, e := range stopped {
		log.Info().
			Str("user_id", userID.String()).
			Str("task_id", e.TaskID.String()).
			Str("entry_id", e.ID.String()).
			Int("duration_seconds", derefInt(e.DurationSeconds)).
			Msg("timer stopped by task switch")
	}
	log.Info().
		Str("user_id", userID.String()).
		Str("task_id", taskID.String()).
		Str("entry_id", entry.ID.String()).
		Msg("timer started")

	s.publish(ctx, userID, models.TimerUpdate{
		Action:       models.TimerActionStart,
		UserID:       userID,
		TimeEntry:    entry,
		StoppedCount: len(stopped),
	})
	return entry, nil
}

// Stop closes the user's running entry for taskID.
func (s *TimerService) Stop(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error) {
	if err := validateIDs(userID, taskID); err != nil {
		return nil, err
	}

	if _, err := s.lookupTask(ctx, taskID); err != nil {
		return nil, err
	}

	var entry *models.TimeEntry
	err := s.withGate(ctx, userID, func(tx repository.EntryTx, now time.Time) error {
		active, err := tx.FindActiveEntryForTask(ctx, userID, taskID)
		if err != nil {
			return err
		}
		closed, err := tx.CloseEntry(ctx, active.ID, now)
		if err != nil {
			return err
		}
		entry = closed
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "stop", userID, taskID)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("task_id", taskID.String()).
		Str("entry_id", entry.ID.String()).
		Int("duration_seconds", derefInt(entry.DurationSeconds)).
		Msg("timer stopped")

	s.publish(ctx, userID, models.TimerUpdate{
		Action:    models.TimerActionStop,
		UserID:    userID,
		TimeEntry: entry,
	})
	return entry, nil
}

// Active returns the user's running entry, or nil when the user is idle.
func (s *TimerService) Active(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: msgMissingIdentity}
	}

	entry, err := s.entries.ActiveForUser(ctx, userID)
	if errors.Is(err, repository.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load active timer")
		return nil, err
	}
	return entry, nil
}

// ProjectEntries lists the closed entries of a project, newest first.
func (s *TimerService) ProjectEntries(ctx context.Context, userID, projectID uuid.UUID) ([]*models.ProjectTimeEntry, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: msgMissingIdentity}
	}
	if projectID == uuid.Nil {
		return nil, &ValidationError{Fields: map[string]string{"project_id": "Project ID is required"}}
	}

	entries, err := s.entries.ListByProject(ctx, projectID)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID.String()).Msg("failed to list project time entries")
		return nil, err
	}
	if entries == nil {
		entries = []*models.ProjectTimeEntry{}
	}
	return entries, nil
}

// withGate runs fn in one store transaction while holding the user's gate.
// Gates that are not transaction scoped are acquired before the transaction
// begins, so waiting never pins a database connection. The clock is read once,
// after the gate is held, so every write in fn sees the same instant and that
// instant is never earlier than a previous holder's writes. The gate is
// released after the transaction has ended.
func (s *TimerService) withGate(ctx context.Context, userID uuid.UUID, fn func(tx repository.EntryTx, now time.Time) error) error {
	var release lock.Release
	defer func() {
		if release != nil {
			release()
		}
	}()

	txScoped := s.gate.TxScoped()
	if !txScoped {
		var err error
		if release, err = s.gate.Acquire(ctx, nil, userID); err != nil {
			return err
		}
	}

	return s.entries.InTx(ctx, func(tx repository.EntryTx) error {
		if txScoped {
			var err error
			if release, err = s.gate.Acquire(ctx, tx, userID); err != nil {
				return err
			}
		}

		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		return fn(tx, now)
	})
}

func (s *TimerService) lookupTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return nil, &NotFoundError{Message: msgTaskNotFound}
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID.String()).Msg("failed to load task")
		return nil, err
	}
	return task, nil
}

// translate turns store errors into service errors. Raw storage errors are
// logged here and never leave the service.
func (s *TimerService) translate(err error, op string, userID, taskID uuid.UUID) error {
	switch {
	case errors.Is(err, repository.ErrEntryNotFound):
		return &NotFoundError{Message: msgNoActiveTimer}
	case errors.Is(err, repository.ErrTaskNotFound):
		return &NotFoundError{Message: msgTaskNotFound}
	case errors.Is(err, repository.ErrActiveEntryExists):
		log.Warn().Err(err).
			Str("op", op).
			Str("user_id", userID.String()).
			Str("task_id", taskID.String()).
			Msg("active timer uniqueness violation")
		return &ConflictError{Message: msgActiveTimerExists}
	}

	log.Error().Err(err).
		Str("op", op).
		Str("user_id", userID.String()).
		Str("task_id", taskID.String()).
		Msg("timer operation failed")
	return err
}

// publish is best effort: the operation has already committed.
func (s *TimerService) publish(ctx context.Context, userID uuid.UUID, update models.TimerUpdate) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.PublishTimerUpdate(pubCtx, userID, update); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Str("action", update.Action).Msg("failed to publish timer update")
	}
}

func validateIDs(userID, taskID uuid.UUID) error {
	if userID == uuid.Nil {
		return &UnauthorizedError{Message: msgMissingIdentity}
	}
	if taskID == uuid.Nil {
		return &ValidationError{Fields: map[string]string{"task_id": "Task ID is required"}}
	}
	return nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
