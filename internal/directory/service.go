package directory

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/store"
)

// Sentinel errors for membership operations
var (
	// ErrDuplicateName means the organization name is already taken.
	ErrDuplicateName = errors.New("organization name already taken")

	// ErrNotFound means the organization does not exist.
	ErrNotFound = errors.New("organization not found")

	// ErrInvalidCredential means the supplied manager join password was
	// wrong.
	ErrInvalidCredential = errors.New("invalid manager credential")

	// ErrAlreadyMember means the user already belongs to a different
	// organization.
	ErrAlreadyMember = errors.New("user already belongs to an organization")
)

// Service is the membership authority: it decides organization roles and
// enforces name uniqueness. The fan-out router consults it on every
// delivery, so role checks must be cheap and side-effect free.
type Service struct {
	store store.DirectoryStore

	// managerJoinKey is the deployment-level secret required to join an
	// organization as a manager.
	managerJoinKey []byte
}

// NewService creates the membership authority over a directory store.
func NewService(st store.DirectoryStore, managerJoinKey string) *Service {
	return &Service{
		store:          st,
		managerJoinKey: []byte(managerJoinKey),
	}
}

// CreateOrganization creates an organization with a globally unique name
// and records the creator as its first manager.
func (s *Service) CreateOrganization(ctx context.Context, name string, creatorID uuid.UUID) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, fmt.Errorf("organization name is required")
	}

	// Memberships are single-org, so a creator with any existing
	// membership cannot take the manager seat. Checking up front keeps a
	// doomed create from committing the org row and consuming the name.
	existing, err := s.membership(ctx, creatorID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return uuid.Nil, ErrAlreadyMember
	}

	now := time.Now()
	org := &models.Organization{
		OrgID:     uuid.Must(uuid.NewV7()),
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateOrganization(ctx, org); err != nil {
		if errors.Is(err, store.ErrOrgAlreadyExists) {
			return uuid.Nil, ErrDuplicateName
		}
		return uuid.Nil, fmt.Errorf("failed to create organization: %w", err)
	}

	if err := s.putMembership(ctx, org.OrgID, creatorID, models.RoleManager); err != nil {
		return uuid.Nil, err
	}

	log.Info().Str("org_id", org.OrgID.String()).Str("name", name).Msg("Organization created")
	return org.OrgID, nil
}

// JoinAsWorker adds a user to an organization as a worker.
func (s *Service) JoinAsWorker(ctx context.Context, orgID, userID uuid.UUID) error {
	if _, err := s.getOrganization(ctx, orgID); err != nil {
		return err
	}
	return s.putMembership(ctx, orgID, userID, models.RoleWorker)
}

// JoinAsWorkerByName joins by organization name; the organization must
// already exist.
func (s *Service) JoinAsWorkerByName(ctx context.Context, name string, userID uuid.UUID) (uuid.UUID, error) {
	org, err := retryUnavailable(ctx, func() (*models.Organization, error) {
		return s.store.GetOrganizationByName(ctx, name)
	})
	if err != nil {
		if errors.Is(err, store.ErrOrgNotFound) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to look up organization: %w", err)
	}

	if err := s.putMembership(ctx, org.OrgID, userID, models.RoleWorker); err != nil {
		return uuid.Nil, err
	}
	return org.OrgID, nil
}

// JoinAsManager adds a user to an organization as a manager, gated by the
// manager join password.
func (s *Service) JoinAsManager(ctx context.Context, orgID, userID uuid.UUID, suppliedPassword string) error {
	if _, err := s.getOrganization(ctx, orgID); err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(suppliedPassword), s.managerJoinKey) != 1 {
		return ErrInvalidCredential
	}

	return s.putMembership(ctx, orgID, userID, models.RoleManager)
}

// IsManagerOf reports whether the user currently holds manager membership
// of the organization.
func (s *Service) IsManagerOf(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	m, err := s.membership(ctx, userID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	return m.OrgID == orgID && m.Role == models.RoleManager, nil
}

// IsWorkerOf reports whether the user currently holds worker membership of
// the organization.
func (s *Service) IsWorkerOf(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	m, err := s.membership(ctx, userID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	return m.OrgID == orgID && m.Role == models.RoleWorker, nil
}

// OrganizationOf returns the organization a user belongs to.
// Returns ErrNotFound when the user has no membership.
func (s *Service) OrganizationOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	m, err := s.membership(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	if m == nil {
		return uuid.Nil, ErrNotFound
	}
	return m.OrgID, nil
}

// RevokeMembership removes a user's membership of the organization.
// Subsequent watch deliveries to a revoked manager cease within one
// delivery cycle.
func (s *Service) RevokeMembership(ctx context.Context, orgID, userID uuid.UUID) error {
	m, err := s.membership(ctx, userID)
	if err != nil {
		return err
	}
	if m == nil || m.OrgID != orgID {
		return ErrNotFound
	}

	if err := s.store.DeleteMembership(ctx, userID); err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to revoke membership: %w", err)
	}

	log.Info().Str("org_id", orgID.String()).Str("user_id", userID.String()).Msg("Membership revoked")
	return nil
}

// ListMembers returns the memberships of an organization.
func (s *Service) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	return retryUnavailable(ctx, func() ([]*models.Membership, error) {
		return s.store.ListMembers(ctx, orgID)
	})
}

// UpdateWorkerProfile writes a member's profile. The organization binding
// comes from the user's membership, never from the caller.
func (s *Service) UpdateWorkerProfile(ctx context.Context, userID uuid.UUID, name, phone, jobTitle string) error {
	m, err := s.membership(ctx, userID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotFound
	}

	w := &models.Worker{
		WorkerID: userID,
		OrgID:    m.OrgID,
		Name:     name,
		Phone:    phone,
		JobTitle: jobTitle,
	}

	if err := retryUnavailableErr(ctx, func() error {
		return s.store.PutWorkerProfile(ctx, w)
	}); err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to update worker profile: %w", err)
	}

	return nil
}

// WorkerProfile returns a member's profile, or nil when none has been
// written yet.
func (s *Service) WorkerProfile(ctx context.Context, workerID uuid.UUID) (*models.Worker, error) {
	w, err := retryUnavailable(ctx, func() (*models.Worker, error) {
		return s.store.GetWorkerProfile(ctx, workerID)
	})
	if err != nil {
		if errors.Is(err, store.ErrWorkerNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get worker profile: %w", err)
	}
	return w, nil
}

// ListWorkerProfiles returns the profiles of an organization's workers.
func (s *Service) ListWorkerProfiles(ctx context.Context, orgID uuid.UUID) ([]*models.Worker, error) {
	return retryUnavailable(ctx, func() ([]*models.Worker, error) {
		return s.store.ListWorkerProfiles(ctx, orgID)
	})
}

// getOrganization fetches an org, mapping store sentinels to service ones.
func (s *Service) getOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	org, err := retryUnavailable(ctx, func() (*models.Organization, error) {
		return s.store.GetOrganization(ctx, orgID)
	})
	if err != nil {
		if errors.Is(err, store.ErrOrgNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// membership fetches a user's membership; a missing membership is returned
// as nil rather than an error so role checks can answer false.
func (s *Service) membership(ctx context.Context, userID uuid.UUID) (*models.Membership, error) {
	m, err := retryUnavailable(ctx, func() (*models.Membership, error) {
		return s.store.GetMembership(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// putMembership writes a membership, mapping cross-org conflicts.
func (s *Service) putMembership(ctx context.Context, orgID, userID uuid.UUID, role models.Role) error {
	m := &models.Membership{
		OrgID:    orgID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
	}

	if err := s.store.PutMembership(ctx, m); err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to put membership: %w", err)
	}
	return nil
}
