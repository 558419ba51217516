package models

import (
	"time"

	"github.com/google/uuid"
)

// Entry sources accepted by the time_entries_source_ck constraint.
const (
	SourceManual = "manual"
)

// TimeEntry is one continuous span of tracked work. An entry with a nil
// EndTime is the user's running timer.
type TimeEntry struct {
	ID              uuid.UUID  `json:"id"`
	TaskID          uuid.UUID  `json:"task_id"`
	ProjectID       *uuid.UUID `json:"project_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Source          string     `json:"source"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	DurationSeconds *int       `json:"duration_seconds"`
}

func (e *TimeEntry) IsActive() bool {
	return e.EndTime == nil
}

// ProjectTimeEntry is a closed entry listed under its project, with the task
// name joined in for display.
type ProjectTimeEntry struct {
	TimeEntry
	TaskName string `json:"task_name"`
}

// ValidSource reports whether s belongs to the fixed source vocabulary.
func ValidSource(s string) bool {
	switch s {
	case SourceManual:
		return true
	}
	return false
}

// ElapsedSeconds returns floor(end - start) in whole seconds, rounding toward
// negative infinity like FLOOR in SQL.
func ElapsedSeconds(start, end time.Time) int {
	d := end.Sub(start)
	secs := int(d / time.Second)
	if d < 0 && d%time.Second != 0 {
		secs--
	}
	return secs
}
