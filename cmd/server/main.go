package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"worklog-backend/internal/config"
	"worklog-backend/internal/database"
	"worklog-backend/internal/handlers"
	"worklog-backend/internal/lock"
	"worklog-backend/internal/middleware"
	"worklog-backend/internal/repository"
	"worklog-backend/internal/router"
	"worklog-backend/internal/services"
	"worklog-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	setupLogging(cfg)
	log.Info().Str("env", cfg.Env).Msg("starting worklog backend")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()
	log.Info().Msg("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClients.Close()
	log.Info().Msg("redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, database.Migrations()); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// ──── Step 5: Timer Engine ────
	var gate lock.Gate
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		gate = lock.NewRedisGate(redisClients.Locks, cfg.LockTTL)
	default:
		gate = lock.NewTxGate()
	}
	log.Info().Str("lock_backend", cfg.LockBackend).Msg("timer gate configured")

	timerService := services.NewTimerService(
		repository.NewTimeEntryRepo(pool),
		repository.NewTaskRepo(pool),
		gate,
		services.NewRedisPublisher(redisClients.PubSub),
	)

	// ──── Step 6: HTTP ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	defer wsHub.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	go rateLimiter.RunCleanup(ctx)

	r := router.New(jwtAuth, handlers.NewTimerHandler(timerService), wsHub, router.Options{
		FrontendURL:    cfg.FrontendURL,
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    rateLimiter,
		HealthChecks: map[string]router.HealthCheck{
			"postgres": pool.Ping,
			"redis":    redisClients.Ping,
		},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("worklog backend ready")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
