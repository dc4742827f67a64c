package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/crewtrack/crewtrack/internal/models"
)

// Sentinel errors for directory store operations
var (
	ErrOrgNotFound        = errors.New("organization not found")
	ErrOrgAlreadyExists   = errors.New("organization already exists")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrAlreadyMember      = errors.New("user already belongs to another organization")
	ErrWorkerNotFound     = errors.New("worker profile not found")
	ErrUnavailable        = errors.New("store unavailable")
)

// DirectoryStore is the durable record storage for organizations and
// memberships. Implementations must provide read-your-writes consistency
// and surface downstream failures as ErrUnavailable so callers can retry
// with backoff.
type DirectoryStore interface {
	// CreateOrganization creates a new organization.
	// Returns ErrOrgAlreadyExists if the name is already taken.
	CreateOrganization(ctx context.Context, org *models.Organization) error

	// GetOrganization retrieves an organization by ID.
	// Returns ErrOrgNotFound if the organization doesn't exist.
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// GetOrganizationByName retrieves an organization by its unique name.
	// Returns ErrOrgNotFound if the organization doesn't exist.
	GetOrganizationByName(ctx context.Context, name string) (*models.Organization, error)

	// PutMembership records a user's membership. Re-joining the same
	// organization is an idempotent upsert (the role may change);
	// joining a different organization returns ErrAlreadyMember.
	PutMembership(ctx context.Context, m *models.Membership) error

	// GetMembership retrieves the membership for a user.
	// Returns ErrMembershipNotFound if the user has none.
	GetMembership(ctx context.Context, userID uuid.UUID) (*models.Membership, error)

	// DeleteMembership removes a user's membership.
	// Returns ErrMembershipNotFound if the user has none.
	DeleteMembership(ctx context.Context, userID uuid.UUID) error

	// ListMembers returns all memberships of an organization.
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error)

	// PutWorkerProfile upserts a worker's profile. The organization
	// binding is immutable: re-writing a profile under a different
	// organization returns ErrAlreadyMember.
	PutWorkerProfile(ctx context.Context, w *models.Worker) error

	// GetWorkerProfile retrieves a worker's profile.
	// Returns ErrWorkerNotFound if none exists.
	GetWorkerProfile(ctx context.Context, workerID uuid.UUID) (*models.Worker, error)

	// ListWorkerProfiles returns the profiles of all workers in an
	// organization.
	ListWorkerProfiles(ctx context.Context, orgID uuid.UUID) ([]*models.Worker, error)
}
