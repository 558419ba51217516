package models

import "github.com/google/uuid"

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	WSTypeTimerUpdate = "timer_update"

	TimerActionStart = "start"
	TimerActionStop  = "stop"
)

// TimerUpdate is pushed to every open session of a user after a start or stop
// commits.
type TimerUpdate struct {
	Action       string     `json:"action"`
	UserID       uuid.UUID  `json:"user_id"`
	TimeEntry    *TimeEntry `json:"time_entry"`
	StoppedCount int        `json:"stopped_count,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
