package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"worklog-backend/internal/middleware"
	"worklog-backend/internal/models"
)

type timerService interface {
	Start(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error)
	Stop(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeEntry, error)
	Active(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error)
	ProjectEntries(ctx context.Context, userID, projectID uuid.UUID) ([]*models.ProjectTimeEntry, error)
}

type TimerHandler struct {
	timers timerService
}

func NewTimerHandler(timers timerService) *TimerHandler {
	return &TimerHandler{timers: timers}
}

func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	taskID, ok := taskIDFromRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.timers.Start(r.Context(), userID, taskID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"time_entry": entry,
	})
}

func (h *TimerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	taskID, ok := taskIDFromRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.timers.Stop(r.Context(), userID, taskID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time_entry": entry,
	})
}

// Active returns the caller's running entry, or null when idle.
func (h *TimerHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	entry, err := h.timers.Active(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time_entry": entry,
	})
}

func (h *TimerHandler) ProjectEntries(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid project ID", r))
		return
	}

	entries, err := h.timers.ProjectEntries(r.Context(), userID, projectID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time_entries": entries,
	})
}

// taskIDFromRequest reads the task from the {taskId} route parameter, falling
// back to a {"task_id": "..."} body. It writes the 400 response itself.
func taskIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "taskId")

	if raw == "" {
		var req struct {
			TaskID string `json:"task_id"`
		}
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
				return uuid.Nil, false
			}
		}
		raw = req.TaskID
	}

	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"task_id": "Task ID is required"}, r))
		return uuid.Nil, false
	}

	taskID, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid task ID", r))
		return uuid.Nil, false
	}
	return taskID, true
}
