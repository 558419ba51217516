//go:build integration

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"worklog-backend/internal/database/dbtest"
	"worklog-backend/internal/lock"
	"worklog-backend/internal/models"
	"worklog-backend/internal/repository"
)

func TestTimerService_Postgres_ConcurrentStarts(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	redisClient := dbtest.StartRedis(t)

	gates := map[string]lock.Gate{
		"advisory": lock.NewTxGate(),
		"redis":    lock.NewRedisGate(redisClient, 10*time.Second),
	}

	for name, gate := range gates {
		t.Run(name, func(t *testing.T) {
			f := dbtest.SeedFixture(t, pool)
			svc := NewTimerService(repository.NewTimeEntryRepo(pool), repository.NewTaskRepo(pool), gate,
				NewRedisPublisher(redisClient))

			const n = 10
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				task := f.TaskIDs[i%2]
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := svc.Start(context.Background(), f.UserID, task); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Errorf("start: %v", err)
			}

			var total, active, negative int
			err := pool.QueryRow(context.Background(), `
				SELECT COUNT(*),
					COUNT(*) FILTER (WHERE end_time IS NULL),
					COUNT(*) FILTER (WHERE duration_seconds < 0 OR end_time < start_time)
				FROM time_entries WHERE user_id = $1`, f.UserID).Scan(&total, &active, &negative)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if total != n || active != 1 || negative != 0 {
				t.Fatalf("expected %d entries with one active and none invalid, got total=%d active=%d invalid=%d",
					n, total, active, negative)
			}
		})
	}
}

func TestTimerService_Postgres_StartStopCycle(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	f := dbtest.SeedFixture(t, pool)
	svc := NewTimerService(repository.NewTimeEntryRepo(pool), repository.NewTaskRepo(pool), lock.NewTxGate(), nil)
	ctx := context.Background()

	started, err := svc.Start(ctx, f.UserID, f.TaskIDs[0])
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.ProjectID == nil || *started.ProjectID != f.ProjectID {
		t.Fatalf("expected project copied from task")
	}

	stopped, err := svc.Stop(ctx, f.UserID, f.TaskIDs[0])
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.ID != started.ID || stopped.DurationSeconds == nil || *stopped.DurationSeconds < 0 {
		t.Fatalf("unexpected stopped entry %+v", stopped)
	}

	_, err = svc.Stop(ctx, f.UserID, f.TaskIDs[0])
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Message != msgNoActiveTimer {
		t.Fatalf("expected no active timer, got %v", err)
	}
}

func TestTimerService_Postgres_CancelledWaiterRollsBack(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	f := dbtest.SeedFixture(t, pool)
	repo := repository.NewTimeEntryRepo(pool)
	svc := NewTimerService(repo, repository.NewTaskRepo(pool), lock.NewTxGate(), nil)

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		repo.InTx(context.Background(), func(tx repository.EntryTx) error {
			if err := tx.LockUser(context.Background(), f.UserID); err != nil {
				return err
			}
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := svc.Start(ctx, f.UserID, f.TaskIDs[0])
	close(done)
	if err == nil {
		t.Fatalf("expected start to give up while the lock is held")
	}

	var count int
	if err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM time_entries WHERE user_id = $1`, f.UserID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected nothing written, got %d entries", count)
	}
}

func TestTimerService_Postgres_RedisWaiterHoldsNoConnection(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	redisClient := dbtest.StartRedis(t)
	f := dbtest.SeedFixture(t, pool)
	gate := lock.NewRedisGate(redisClient, 10*time.Second)
	svc := NewTimerService(repository.NewTimeEntryRepo(pool), repository.NewTaskRepo(pool), gate, nil)

	release, err := gate.Acquire(context.Background(), nil, f.UserID)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Start(context.Background(), f.UserID, f.TaskIDs[0])
		done <- err
	}()

	time.Sleep(300 * time.Millisecond)
	if acquired := pool.Stat().AcquiredConns(); acquired != 0 {
		t.Fatalf("expected no pooled connection while waiting on redis, got %d", acquired)
	}

	release()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("start did not proceed after release")
	}
}

func TestTimerService_Postgres_TaskDeletedBeforeInsert(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	f := dbtest.SeedFixture(t, pool)

	// The lookup still sees a task that no longer exists in the database.
	ghost := uuid.New()
	tasks := &stubTaskLookup{tasks: map[uuid.UUID]*models.Task{
		ghost: {ID: ghost, ProjectID: &f.ProjectID, Name: "Deleted"},
	}}
	svc := NewTimerService(repository.NewTimeEntryRepo(pool), tasks, lock.NewTxGate(), nil)

	_, err := svc.Start(context.Background(), f.UserID, ghost)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Message != msgTaskNotFound {
		t.Fatalf("expected task not found, got %v", err)
	}
}
