package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/store"
)

// DirectoryStore implements store.DirectoryStore using PostgreSQL.
type DirectoryStore struct {
	pool *pgxpool.Pool
}

// NewDirectoryStore creates a new PostgreSQL-backed directory store.
// The connection pool may be shared with other stores.
func NewDirectoryStore(pool *pgxpool.Pool) *DirectoryStore {
	return &DirectoryStore{
		pool: pool,
	}
}

// CreateOrganization creates a new organization. The unique constraint on
// the name column enforces global name uniqueness.
func (s *DirectoryStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (
			org_id, name, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := s.pool.Exec(ctx, query,
		org.OrgID,
		org.Name,
		org.CreatedBy,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrgAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("name", org.Name).
		Msg("Created organization")

	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *DirectoryStore) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	query := `
		SELECT org_id, name, created_by, created_at, updated_at
		FROM organizations
		WHERE org_id = $1
	`

	var org models.Organization
	err := s.pool.QueryRow(ctx, query, orgID).Scan(
		&org.OrgID,
		&org.Name,
		&org.CreatedBy,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	return &org, nil
}

// GetOrganizationByName retrieves an organization by its unique name.
func (s *DirectoryStore) GetOrganizationByName(ctx context.Context, name string) (*models.Organization, error) {
	query := `
		SELECT org_id, name, created_by, created_at, updated_at
		FROM organizations
		WHERE name = $1
	`

	var org models.Organization
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&org.OrgID,
		&org.Name,
		&org.CreatedBy,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization by name: %w", mapPostgresError(err))
	}

	return &org, nil
}

// PutMembership records a user's membership. The user_id primary key makes
// a second membership in a different organization a conflict rather than an
// insert; re-joining the same organization updates the role.
func (s *DirectoryStore) PutMembership(ctx context.Context, m *models.Membership) error {
	joinedAt := m.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}

	query := `
		INSERT INTO memberships (user_id, org_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET role = EXCLUDED.role
		WHERE memberships.org_id = EXCLUDED.org_id
	`

	tag, err := s.pool.Exec(ctx, query, m.UserID, m.OrgID, m.Role, joinedAt)
	if err != nil {
		return fmt.Errorf("failed to put membership: %w", mapPostgresError(err))
	}

	// A no-op upsert means the existing row belongs to a different org.
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyMember
	}

	return nil
}

// GetMembership retrieves the membership for a user.
func (s *DirectoryStore) GetMembership(ctx context.Context, userID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT user_id, org_id, role, joined_at
		FROM memberships
		WHERE user_id = $1
	`

	var m models.Membership
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&m.UserID,
		&m.OrgID,
		&m.Role,
		&m.JoinedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", mapPostgresError(err))
	}

	return &m, nil
}

// DeleteMembership removes a user's membership.
func (s *DirectoryStore) DeleteMembership(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}

	return nil
}

// PutWorkerProfile upserts a worker's profile. The conditional upsert
// keeps the organization binding immutable.
func (s *DirectoryStore) PutWorkerProfile(ctx context.Context, w *models.Worker) error {
	query := `
		INSERT INTO workers (worker_id, org_id, name, phone, job_title)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (worker_id) DO UPDATE
		SET name = EXCLUDED.name, phone = EXCLUDED.phone, job_title = EXCLUDED.job_title
		WHERE workers.org_id = EXCLUDED.org_id
	`

	tag, err := s.pool.Exec(ctx, query, w.WorkerID, w.OrgID, w.Name, w.Phone, w.JobTitle)
	if err != nil {
		return fmt.Errorf("failed to put worker profile: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyMember
	}

	return nil
}

// GetWorkerProfile retrieves a worker's profile.
func (s *DirectoryStore) GetWorkerProfile(ctx context.Context, workerID uuid.UUID) (*models.Worker, error) {
	query := `
		SELECT worker_id, org_id, name, phone, job_title
		FROM workers
		WHERE worker_id = $1
	`

	var w models.Worker
	err := s.pool.QueryRow(ctx, query, workerID).Scan(
		&w.WorkerID,
		&w.OrgID,
		&w.Name,
		&w.Phone,
		&w.JobTitle,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("failed to get worker profile: %w", mapPostgresError(err))
	}

	return &w, nil
}

// ListWorkerProfiles returns the profiles of all workers in an organization.
func (s *DirectoryStore) ListWorkerProfiles(ctx context.Context, orgID uuid.UUID) ([]*models.Worker, error) {
	query := `
		SELECT worker_id, org_id, name, phone, job_title
		FROM workers
		WHERE org_id = $1
		ORDER BY name
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker profiles: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*models.Worker
	for rows.Next() {
		var w models.Worker
		if err := rows.Scan(&w.WorkerID, &w.OrgID, &w.Name, &w.Phone, &w.JobTitle); err != nil {
			return nil, fmt.Errorf("failed to scan worker profile: %w", err)
		}
		result = append(result, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate worker profiles: %w", mapPostgresError(err))
	}

	return result, nil
}

// ListMembers returns all memberships of an organization.
func (s *DirectoryStore) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	query := `
		SELECT user_id, org_id, role, joined_at
		FROM memberships
		WHERE org_id = $1
		ORDER BY joined_at
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.UserID, &m.OrgID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		result = append(result, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", mapPostgresError(err))
	}

	return result, nil
}
