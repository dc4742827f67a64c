package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the check-in state of a worker's shift session.
type SessionStatus string

const (
	StatusCheckedOut SessionStatus = "checked_out"
	StatusCheckedIn  SessionStatus = "checked_in"
)

// Session represents a worker's current shift. Exactly one session exists
// per worker at any instant; no history is retained.
type Session struct {
	WorkerID    uuid.UUID
	Status      SessionStatus
	CheckInTime *time.Time // nil while checked out
}
