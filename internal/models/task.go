package models

import "github.com/google/uuid"

// Task is the slice of the surrounding application's task record that the
// timer needs.
type Task struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID *uuid.UUID `json:"project_id"`
	Name      string     `json:"name"`
}
