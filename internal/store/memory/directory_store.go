package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/store"
)

// DirectoryStore implements store.DirectoryStore using in-memory storage.
// This implementation is for development and testing - data is lost on restart.
type DirectoryStore struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization // org_id -> Organization
	orgsByName    map[string]uuid.UUID               // name -> org_id
	memberships   map[uuid.UUID]*models.Membership   // user_id -> Membership
	membersByOrg  map[uuid.UUID][]uuid.UUID          // org_id -> []user_id
	workers       map[uuid.UUID]*models.Worker       // worker_id -> Worker
}

// NewDirectoryStore creates a new in-memory directory store.
func NewDirectoryStore() *DirectoryStore {
	return &DirectoryStore{
		organizations: make(map[uuid.UUID]*models.Organization),
		orgsByName:    make(map[string]uuid.UUID),
		memberships:   make(map[uuid.UUID]*models.Membership),
		membersByOrg:  make(map[uuid.UUID][]uuid.UUID),
		workers:       make(map[uuid.UUID]*models.Worker),
	}
}

// CreateOrganization creates a new organization, enforcing name uniqueness.
func (s *DirectoryStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.organizations[org.OrgID]; exists {
		return store.ErrOrgAlreadyExists
	}
	if _, exists := s.orgsByName[org.Name]; exists {
		return store.ErrOrgAlreadyExists
	}

	// Clone to avoid external modifications
	clone := *org
	s.organizations[org.OrgID] = &clone
	s.orgsByName[org.Name] = org.OrgID

	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *DirectoryStore) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return nil, store.ErrOrgNotFound
	}

	clone := *org
	return &clone, nil
}

// GetOrganizationByName retrieves an organization by its unique name.
func (s *DirectoryStore) GetOrganizationByName(ctx context.Context, name string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgID, exists := s.orgsByName[name]
	if !exists {
		return nil, store.ErrOrgNotFound
	}

	clone := *s.organizations[orgID]
	return &clone, nil
}

// PutMembership records a user's membership. Joining the same organization
// again updates the role in place; a membership in a different organization
// is rejected.
func (s *DirectoryStore) PutMembership(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.memberships[m.UserID]; exists {
		if existing.OrgID != m.OrgID {
			return store.ErrAlreadyMember
		}
		clone := *m
		clone.JoinedAt = existing.JoinedAt
		s.memberships[m.UserID] = &clone
		return nil
	}

	clone := *m
	if clone.JoinedAt.IsZero() {
		clone.JoinedAt = time.Now()
	}
	s.memberships[m.UserID] = &clone
	s.membersByOrg[m.OrgID] = append(s.membersByOrg[m.OrgID], m.UserID)

	return nil
}

// GetMembership retrieves the membership for a user.
func (s *DirectoryStore) GetMembership(ctx context.Context, userID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.memberships[userID]
	if !exists {
		return nil, store.ErrMembershipNotFound
	}

	clone := *m
	return &clone, nil
}

// DeleteMembership removes a user's membership.
func (s *DirectoryStore) DeleteMembership(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.memberships[userID]
	if !exists {
		return store.ErrMembershipNotFound
	}

	s.removeFromOrgIndex(m.OrgID, userID)
	delete(s.memberships, userID)
	// A profile cannot outlive its membership.
	delete(s.workers, userID)

	return nil
}

// ListMembers returns all memberships of an organization.
func (s *DirectoryStore) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userIDs := s.membersByOrg[orgID]
	result := make([]*models.Membership, 0, len(userIDs))
	for _, userID := range userIDs {
		clone := *s.memberships[userID]
		result = append(result, &clone)
	}

	return result, nil
}

// PutWorkerProfile upserts a worker's profile, keeping the organization
// binding immutable.
func (s *DirectoryStore) PutWorkerProfile(ctx context.Context, w *models.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.workers[w.WorkerID]; exists && existing.OrgID != w.OrgID {
		return store.ErrAlreadyMember
	}

	clone := *w
	s.workers[w.WorkerID] = &clone

	return nil
}

// GetWorkerProfile retrieves a worker's profile.
func (s *DirectoryStore) GetWorkerProfile(ctx context.Context, workerID uuid.UUID) (*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.workers[workerID]
	if !exists {
		return nil, store.ErrWorkerNotFound
	}

	clone := *w
	return &clone, nil
}

// ListWorkerProfiles returns the profiles of all workers in an organization.
func (s *DirectoryStore) ListWorkerProfiles(ctx context.Context, orgID uuid.UUID) ([]*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Worker, 0)
	for _, w := range s.workers {
		if w.OrgID == orgID {
			clone := *w
			result = append(result, &clone)
		}
	}

	return result, nil
}

// removeFromOrgIndex removes a user ID from the organization's member list.
func (s *DirectoryStore) removeFromOrgIndex(orgID, userID uuid.UUID) {
	userIDs := s.membersByOrg[orgID]
	for i, id := range userIDs {
		if id == userID {
			s.membersByOrg[orgID] = append(userIDs[:i], userIDs[i+1:]...)
			break
		}
	}
	// Clean up empty entries
	if len(s.membersByOrg[orgID]) == 0 {
		delete(s.membersByOrg, orgID)
	}
}
