package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"worklog-backend/internal/handlers"
	"worklog-backend/internal/middleware"
	"worklog-backend/internal/websocket"
)

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	FrontendURL    string
	RequestTimeout time.Duration
	RateLimiter    *middleware.RateLimiter
	HealthChecks   map[string]HealthCheck
}

func New(
	jwtAuth *middleware.JWTAuth,
	timerHandler *handlers.TimerHandler,
	wsHub *websocket.Hub,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.FrontendURL))

	r.Get("/health", healthHandler(opts.HealthChecks))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)

		// WebSocket authenticates with ?token= and stays open past the request timeout.
		r.Get("/ws", wsHub.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			if opts.RateLimiter != nil {
				r.Use(opts.RateLimiter.Middleware)
			}
			if opts.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(opts.RequestTimeout))
			}

			// ──── Timer Routes ────
			r.Route("/timer", func(r chi.Router) {
				r.Post("/start", timerHandler.Start)
				r.Post("/stop", timerHandler.Stop)
				r.Get("/active", timerHandler.Active)
			})

			r.Route("/tasks/{taskId}/timer", func(r chi.Router) {
				r.Post("/start", timerHandler.Start)
				r.Post("/stop", timerHandler.Stop)
			})

			// ──── Project Routes ────
			r.Get("/projects/{id}/time-entries", timerHandler.ProjectEntries)
		})
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
