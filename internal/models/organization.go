package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant in the system. Workers and managers
// each belong to exactly one organization at a time.
type Organization struct {
	OrgID     uuid.UUID // UUIDv7
	Name      string    // globally unique
	CreatedBy uuid.UUID // user who created the organization
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role describes a user's function inside an organization.
type Role string

const (
	RoleWorker  Role = "worker"
	RoleManager Role = "manager"
)

// Membership binds a user to an organization with a role. A user holds at
// most one membership; moving between organizations is not supported.
type Membership struct {
	OrgID    uuid.UUID
	UserID   uuid.UUID
	Role     Role
	JoinedAt time.Time
}
