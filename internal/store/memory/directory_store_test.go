package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/store"
)

func newOrg(name string) *models.Organization {
	now := time.Now()
	return &models.Organization{
		OrgID:     uuid.Must(uuid.NewV7()),
		Name:      name,
		CreatedBy: uuid.Must(uuid.NewV7()),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestDirectoryStoreOrganizations(t *testing.T) {
	ctx := context.Background()

	t.Run("create and get organization", func(t *testing.T) {
		st := NewDirectoryStore()
		org := newOrg("acme")
		require.NoError(t, st.CreateOrganization(ctx, org))

		got, err := st.GetOrganization(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, org.Name, got.Name)

		byName, err := st.GetOrganizationByName(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, org.OrgID, byName.OrgID)
	})

	t.Run("duplicate name is rejected", func(t *testing.T) {
		st := NewDirectoryStore()
		require.NoError(t, st.CreateOrganization(ctx, newOrg("acme")))

		err := st.CreateOrganization(ctx, newOrg("acme"))
		require.ErrorIs(t, err, store.ErrOrgAlreadyExists)
	})

	t.Run("missing organization returns not found", func(t *testing.T) {
		st := NewDirectoryStore()
		_, err := st.GetOrganization(ctx, uuid.Must(uuid.NewV7()))
		require.ErrorIs(t, err, store.ErrOrgNotFound)

		_, err = st.GetOrganizationByName(ctx, "nope")
		require.ErrorIs(t, err, store.ErrOrgNotFound)
	})

	t.Run("returned organization is a copy", func(t *testing.T) {
		st := NewDirectoryStore()
		org := newOrg("acme")
		require.NoError(t, st.CreateOrganization(ctx, org))

		got, err := st.GetOrganization(ctx, org.OrgID)
		require.NoError(t, err)
		got.Name = "mutated"

		again, err := st.GetOrganization(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, "acme", again.Name)
	})
}

func TestDirectoryStoreMemberships(t *testing.T) {
	ctx := context.Background()

	t.Run("put and get membership", func(t *testing.T) {
		st := NewDirectoryStore()
		org := newOrg("acme")
		require.NoError(t, st.CreateOrganization(ctx, org))

		userID := uuid.Must(uuid.NewV7())
		require.NoError(t, st.PutMembership(ctx, &models.Membership{
			OrgID:  org.OrgID,
			UserID: userID,
			Role:   models.RoleWorker,
		}))

		m, err := st.GetMembership(ctx, userID)
		require.NoError(t, err)
		require.Equal(t, org.OrgID, m.OrgID)
		require.Equal(t, models.RoleWorker, m.Role)
		require.False(t, m.JoinedAt.IsZero())
	})

	t.Run("rejoining same org updates role", func(t *testing.T) {
		st := NewDirectoryStore()
		org := newOrg("acme")
		require.NoError(t, st.CreateOrganization(ctx, org))

		userID := uuid.Must(uuid.NewV7())
		require.NoError(t, st.PutMembership(ctx, &models.Membership{OrgID: org.OrgID, UserID: userID, Role: models.RoleWorker}))
		require.NoError(t, st.PutMembership(ctx, &models.Membership{OrgID: org.OrgID, UserID: userID, Role: models.RoleManager}))

		m, err := st.GetMembership(ctx, userID)
		require.NoError(t, err)
		require.Equal(t, models.RoleManager, m.Role)

		members, err := st.ListMembers(ctx, org.OrgID)
		require.NoError(t, err)
		require.Len(t, members, 1)
	})

	t.Run("joining a second org is rejected", func(t *testing.T) {
		st := NewDirectoryStore()
		orgA := newOrg("a")
		orgB := newOrg("b")
		require.NoError(t, st.CreateOrganization(ctx, orgA))
		require.NoError(t, st.CreateOrganization(ctx, orgB))

		userID := uuid.Must(uuid.NewV7())
		require.NoError(t, st.PutMembership(ctx, &models.Membership{OrgID: orgA.OrgID, UserID: userID, Role: models.RoleWorker}))

		err := st.PutMembership(ctx, &models.Membership{OrgID: orgB.OrgID, UserID: userID, Role: models.RoleWorker})
		require.ErrorIs(t, err, store.ErrAlreadyMember)
	})

	t.Run("delete membership removes from org listing", func(t *testing.T) {
		st := NewDirectoryStore()
		org := newOrg("acme")
		require.NoError(t, st.CreateOrganization(ctx, org))

		userID := uuid.Must(uuid.NewV7())
		require.NoError(t, st.PutMembership(ctx, &models.Membership{OrgID: org.OrgID, UserID: userID, Role: models.RoleWorker}))
		require.NoError(t, st.DeleteMembership(ctx, userID))

		_, err := st.GetMembership(ctx, userID)
		require.ErrorIs(t, err, store.ErrMembershipNotFound)

		members, err := st.ListMembers(ctx, org.OrgID)
		require.NoError(t, err)
		require.Empty(t, members)

		require.ErrorIs(t, st.DeleteMembership(ctx, userID), store.ErrMembershipNotFound)
	})
}

func TestDirectoryStoreWorkerProfiles(t *testing.T) {
	ctx := context.Background()

	t.Run("put and get profile", func(t *testing.T) {
		st := NewDirectoryStore()
		org := newOrg("acme")
		require.NoError(t, st.CreateOrganization(ctx, org))

		workerID := uuid.Must(uuid.NewV7())
		require.NoError(t, st.PutMembership(ctx, &models.Membership{OrgID: org.OrgID, UserID: workerID, Role: models.RoleWorker}))
		require.NoError(t, st.PutWorkerProfile(ctx, &models.Worker{
			WorkerID: workerID,
			OrgID:    org.OrgID,
			Name:     "Sam",
			Phone:    "555-0100",
			JobTitle: "Electrician",
		}))

		w, err := st.GetWorkerProfile(ctx, workerID)
		require.NoError(t, err)
		require.Equal(t, "Sam", w.Name)

		profiles, err := st.ListWorkerProfiles(ctx, org.OrgID)
		require.NoError(t, err)
		require.Len(t, profiles, 1)
	})

	t.Run("org binding is immutable", func(t *testing.T) {
		st := NewDirectoryStore()
		orgA := newOrg("a")
		orgB := newOrg("b")
		require.NoError(t, st.CreateOrganization(ctx, orgA))
		require.NoError(t, st.CreateOrganization(ctx, orgB))

		workerID := uuid.Must(uuid.NewV7())
		require.NoError(t, st.PutWorkerProfile(ctx, &models.Worker{WorkerID: workerID, OrgID: orgA.OrgID, Name: "Sam"}))

		err := st.PutWorkerProfile(ctx, &models.Worker{WorkerID: workerID, OrgID: orgB.OrgID, Name: "Sam"})
		require.ErrorIs(t, err, store.ErrAlreadyMember)
	})

	t.Run("revoking membership drops the profile", func(t *testing.T) {
		st := NewDirectoryStore()
		org := newOrg("acme")
		require.NoError(t, st.CreateOrganization(ctx, org))

		workerID := uuid.Must(uuid.NewV7())
		require.NoError(t, st.PutMembership(ctx, &models.Membership{OrgID: org.OrgID, UserID: workerID, Role: models.RoleWorker}))
		require.NoError(t, st.PutWorkerProfile(ctx, &models.Worker{WorkerID: workerID, OrgID: org.OrgID, Name: "Sam"}))
		require.NoError(t, st.DeleteMembership(ctx, workerID))

		_, err := st.GetWorkerProfile(ctx, workerID)
		require.ErrorIs(t, err, store.ErrWorkerNotFound)
	})
}
