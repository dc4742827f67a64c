package models

import "github.com/google/uuid"

// Worker is a member of an organization whose presence is tracked.
// The organization binding is immutable once assigned.
type Worker struct {
	WorkerID uuid.UUID
	OrgID    uuid.UUID
	Name     string
	Phone    string
	JobTitle string
}
