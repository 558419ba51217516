//go:build integration

// Package dbtest starts throwaway Postgres and Redis containers for
// integration tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"worklog-backend/internal/database"
)

// StartPostgres runs postgres:16-alpine with the embedded migrations applied
// and returns a pool connected to it.
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "worklog",
			"POSTGRES_USER":     "worklog",
			"POSTGRES_PASSWORD": "secret",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(90 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://worklog:secret@%s:%s/worklog?sslmode=disable", host, port.Port())

	pool, err := database.NewPostgresPool(dsn)
	if err != nil {
		t.Fatalf("postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.RunMigrations(pool, database.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// StartRedis runs redis:7-alpine and returns a client connected to it.
func StartRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Fixture is a user owning a project with two tasks.
type Fixture struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	TaskIDs   [2]uuid.UUID
}

// SeedFixture inserts a fresh user, project and two tasks.
func SeedFixture(t *testing.T, pool *pgxpool.Pool) Fixture {
	t.Helper()
	ctx := context.Background()
	var f Fixture

	if err := pool.QueryRow(ctx,
		`INSERT INTO users (name, email) VALUES ('Tester', 'tester+' || gen_random_uuid() || '@example.com') RETURNING id`,
	).Scan(&f.UserID); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO projects (name, owner_id) VALUES ('Project', $1) RETURNING id`, f.UserID,
	).Scan(&f.ProjectID); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	for i, name := range []string{"Write report", "Review PR"} {
		if err := pool.QueryRow(ctx,
			`INSERT INTO tasks (project_id, name) VALUES ($1, $2) RETURNING id`, f.ProjectID, name,
		).Scan(&f.TaskIDs[i]); err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}
	return f
}
