package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crewtrack/crewtrack/internal/directory"
	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/presence"
	"github.com/crewtrack/crewtrack/internal/sampler"
	"github.com/crewtrack/crewtrack/internal/telemetry"
)

// Sentinel errors for session transitions
var (
	// ErrPermissionDenied means the positioning capability was refused;
	// the session cannot start.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrAlreadyCheckedIn is a recoverable idempotency notice: the worker
	// was already checked in and no state changed. Callers may treat it
	// as success.
	ErrAlreadyCheckedIn = errors.New("already checked in")

	// ErrAlreadyCheckedOut is the matching notice for check-out.
	ErrAlreadyCheckedOut = errors.New("already checked out")

	// ErrNoOrganization means the worker holds no organization
	// membership and cannot check in.
	ErrNoOrganization = errors.New("worker has no organization")
)

// WorkerResolver supplies the organization binding for a worker.
type WorkerResolver interface {
	OrganizationOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// Engine is the per-worker check-in/check-out state machine. It owns the
// session half of each presence row and drives the sampler lifecycle.
// Concurrent transitions for the same worker are serialized per key, so a
// race between two devices resolves to exactly one checked-in session and
// one sampler task.
type Engine struct {
	presence   *presence.Store
	sampler    *sampler.Manager
	positioner sampler.Positioner
	resolver   WorkerResolver

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewEngine creates a session engine.
func NewEngine(store *presence.Store, mgr *sampler.Manager, positioner sampler.Positioner, resolver WorkerResolver) *Engine {
	return &Engine{
		presence:   store,
		sampler:    mgr,
		positioner: positioner,
		resolver:   resolver,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

// workerLock returns the mutex serializing transitions for one worker.
func (e *Engine) workerLock(workerID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[workerID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[workerID] = l
	}
	return l
}

// CheckIn transitions a worker to checked in and starts their sampling
// task. It requires an organization membership and both positioning
// permission grants. A double check-in returns the current presence with
// ErrAlreadyCheckedIn and spawns nothing.
func (e *Engine) CheckIn(ctx context.Context, workerID uuid.UUID) (models.Presence, error) {
	l := e.workerLock(workerID)
	l.Lock()
	defer l.Unlock()

	if p, ok := e.presence.Get(workerID); ok && p.Session.Status == models.StatusCheckedIn {
		return p, ErrAlreadyCheckedIn
	}

	if _, err := e.resolver.OrganizationOf(ctx, workerID); err != nil {
		// Only a confirmed missing membership is a domain verdict; a
		// resolver outage must stay retryable rather than read as
		// "no organization".
		if errors.Is(err, directory.ErrNotFound) {
			return models.Presence{}, fmt.Errorf("%w: %w", ErrNoOrganization, err)
		}
		return models.Presence{}, fmt.Errorf("failed to resolve organization: %w", err)
	}

	granted, err := e.positioner.RequestForegroundPermission(ctx, workerID)
	if err != nil {
		return models.Presence{}, fmt.Errorf("foreground permission request failed: %w", err)
	}
	if !granted {
		return models.Presence{}, ErrPermissionDenied
	}

	granted, err = e.positioner.RequestBackgroundPermission(ctx, workerID)
	if err != nil {
		return models.Presence{}, fmt.Errorf("background permission request failed: %w", err)
	}
	if !granted {
		return models.Presence{}, ErrPermissionDenied
	}

	now := time.Now()
	p := e.presence.SetStatus(workerID, models.StatusCheckedIn, &now)

	if err := e.sampler.Start(workerID); err != nil {
		// Roll back rather than leave a checked-in session with no
		// producer behind it.
		e.presence.SetStatus(workerID, models.StatusCheckedOut, nil)
		return models.Presence{}, fmt.Errorf("failed to start sampler: %w", err)
	}

	telemetry.GetMetrics().CheckInsTotal.Add(ctx, 1)
	log.Info().Str("worker_id", workerID.String()).Time("check_in_time", now).Msg("Worker checked in")

	return p, nil
}

// CheckOut transitions a worker to checked out, stops their sampling task
// and clears the last sample. Idempotent: checking out an already
// checked-out worker returns ErrAlreadyCheckedOut with no state change.
func (e *Engine) CheckOut(ctx context.Context, workerID uuid.UUID) (models.Presence, error) {
	l := e.workerLock(workerID)
	l.Lock()
	defer l.Unlock()

	p, ok := e.presence.Get(workerID)
	if !ok || p.Session.Status == models.StatusCheckedOut {
		if !ok {
			p = models.Presence{Session: models.Session{WorkerID: workerID, Status: models.StatusCheckedOut}}
		}
		return p, ErrAlreadyCheckedOut
	}

	// Stop is fire-and-forget; if it cannot reach the scheduler the
	// staleness rule covers the orphaned task's final sample.
	e.sampler.Stop(workerID)

	p = e.presence.SetStatus(workerID, models.StatusCheckedOut, nil)

	telemetry.GetMetrics().CheckOutsTotal.Add(ctx, 1)
	log.Info().Str("worker_id", workerID.String()).Msg("Worker checked out")

	return p, nil
}
