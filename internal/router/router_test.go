package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"worklog-backend/internal/handlers"
	"worklog-backend/internal/middleware"
	"worklog-backend/internal/models"
	"worklog-backend/internal/websocket"
)

type recordingTimers struct {
	lastOp   string
	lastUser uuid.UUID
	lastTask uuid.UUID
}

func (s *recordingTimers) Start(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error) {
	s.lastOp, s.lastUser, s.lastTask = "start", userID, taskID
	return &models.TimeEntry{ID: uuid.New(), TaskID: taskID, UserID: userID}, nil
}

func (s *recordingTimers) Stop(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error) {
	s.lastOp, s.lastUser, s.lastTask = "stop", userID, taskID
	return &models.TimeEntry{ID: uuid.New(), TaskID: taskID, UserID: userID}, nil
}

func (s *recordingTimers) Active(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error) {
	s.lastOp, s.lastUser = "active", userID
	return nil, nil
}

func (s *recordingTimers) ProjectEntries(ctx context.Context, userID, projectID uuid.UUID) ([]*models.ProjectTimeEntry, error) {
	s.lastOp, s.lastUser = "entries", userID
	return []*models.ProjectTimeEntry{}, nil
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *recordingTimers, string, uuid.UUID) {
	t.Helper()
	jwtAuth := middleware.NewJWTAuth("router-secret")
	userID := uuid.New()
	token, err := jwtAuth.GenerateAccessToken(userID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	timers := &recordingTimers{}
	h := New(jwtAuth, handlers.NewTimerHandler(timers), websocket.NewHub(nil, jwtAuth), Options{
		FrontendURL:    "http://localhost:5173",
		RequestTimeout: 5 * time.Second,
		RateLimiter:    middleware.NewRateLimiter(100, time.Minute),
		HealthChecks:   checks,
	})
	return h, timers, token, userID
}

func TestRouter_TimerRoutes(t *testing.T) {
	h, timers, token, userID := newTestRouter(t, nil)
	taskID := uuid.New()
	projectID := uuid.New()

	tests := []struct {
		method string
		path   string
		op     string
		status int
	}{
		{http.MethodPost, "/api/v1/tasks/" + taskID.String() + "/timer/start", "start", http.StatusCreated},
		{http.MethodPost, "/api/v1/tasks/" + taskID.String() + "/timer/stop", "stop", http.StatusOK},
		{http.MethodGet, "/api/v1/timer/active", "active", http.StatusOK},
		{http.MethodGet, "/api/v1/projects/" + projectID.String() + "/time-entries", "entries", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if timers.lastOp != tc.op || timers.lastUser != userID {
				t.Fatalf("expected %s for %s, got %s for %s", tc.op, userID, timers.lastOp, timers.lastUser)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Fatalf("expected request id header")
			}
			if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Fatalf("expected security headers on api routes")
			}
		})
	}

	if timers.lastTask != taskID {
		t.Fatalf("expected task from path, got %s", timers.lastTask)
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	h, timers, _, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/timer/start", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if timers.lastOp != "" {
		t.Fatalf("handler must not run without identity")
	}
}

func TestRouter_Health(t *testing.T) {
	t.Run("all up", func(t *testing.T) {
		h, _, _, _ := newTestRouter(t, map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("dependency down", func(t *testing.T) {
		h, _, _, _ := newTestRouter(t, map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("dial tcp: connection refused") },
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "degraded" || body.Checks["redis"] != "down" || body.Checks["postgres"] != "ok" {
			t.Fatalf("unexpected health body %+v", body)
		}
	})
}

// slowTimers blocks Start until the request context ends.
type slowTimers struct {
	recordingTimers
}

func (s *slowTimers) Start(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRouter_RequestTimeoutAnswers504(t *testing.T) {
	jwtAuth := middleware.NewJWTAuth("router-secret")
	token, err := jwtAuth.GenerateAccessToken(uuid.New())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	h := New(jwtAuth, handlers.NewTimerHandler(&slowTimers{}), websocket.NewHub(nil, jwtAuth), Options{
		FrontendURL:    "http://localhost:5173",
		RequestTimeout: 50 * time.Millisecond,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/"+uuid.NewString()+"/timer/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rr.Code, rr.Body.String())
	}
}
