package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/presence"
	"github.com/crewtrack/crewtrack/internal/telemetry"
)

// taskPrefix namespaces sampler task IDs on the host scheduler.
const taskPrefix = "location-tracking/"

// TaskDescriptor describes one durable sampling task. Descriptors are
// re-derivable from session state, so any runtime can resume sampling
// after a restart without relying on in-memory closures.
type TaskDescriptor struct {
	WorkerID     uuid.UUID
	Interval     time.Duration
	Displacement float64
	NextTick     time.Time
}

// Manager owns the background sampling task for every checked-in worker:
// one durable, restartable task per worker, keyed by worker ID.
type Manager struct {
	policy     Policy
	positioner Positioner
	scheduler  Scheduler
	presence   *presence.Store

	mu    sync.Mutex
	tasks map[uuid.UUID]*task
}

// task tracks per-worker trigger state. Fields are only touched from the
// task's scheduler goroutine and from Stop, guarded by mu.
type task struct {
	workerID uuid.UUID

	mu            sync.Mutex
	hasLast       bool
	lastLat       float64
	lastLon       float64
	lastPublished time.Time
	failures      int
}

// NewManager creates a sampler manager. The policy must be valid.
func NewManager(policy Policy, positioner Positioner, scheduler Scheduler, store *presence.Store) *Manager {
	return &Manager{
		policy:     policy,
		positioner: positioner,
		scheduler:  scheduler,
		presence:   store,
		tasks:      make(map[uuid.UUID]*task),
	}
}

// Policy returns the cadence policy the manager runs with.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Start begins sampling for a worker. Starting an already-active worker is
// a no-op, so concurrent check-ins can never spawn duplicate tasks.
func (m *Manager) Start(workerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[workerID]; exists {
		return nil
	}

	t := &task{workerID: workerID}
	if err := m.scheduler.ScheduleRecurring(taskPrefix+workerID.String(), m.policy.Tick, t.makeTick(m)); err != nil {
		return err
	}
	m.tasks[workerID] = t

	log.Debug().Str("worker_id", workerID.String()).Msg("Sampler task started")
	return nil
}

// Stop cancels the worker's sampling task. Fire-and-forget: stop is
// best-effort, and orphaned sessions are covered by the staleness rule
// applied by observers.
func (m *Manager) Stop(workerID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[workerID]; !exists {
		return
	}

	m.scheduler.Cancel(taskPrefix + workerID.String())
	delete(m.tasks, workerID)

	log.Debug().Str("worker_id", workerID.String()).Msg("Sampler task stopped")
}

// Active reports whether a sampling task is running for the worker.
func (m *Manager) Active(workerID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.tasks[workerID]
	return exists
}

// ActiveCount returns the number of running sampling tasks.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Descriptors returns the durable task descriptors for all running tasks.
func (m *Manager) Descriptors() []TaskDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]TaskDescriptor, 0, len(m.tasks))
	for _, t := range m.tasks {
		t.mu.Lock()
		next := t.lastPublished.Add(m.policy.Interval)
		t.mu.Unlock()
		result = append(result, TaskDescriptor{
			WorkerID:     t.workerID,
			Interval:     m.policy.Interval,
			Displacement: m.policy.Displacement,
			NextTick:     next,
		})
	}
	return result
}

// Resume restarts sampling tasks for every worker whose session is still
// checked in, without duplicating tasks that survived. Returns the number
// of tasks started.
func (m *Manager) Resume(ctx context.Context) int {
	started := 0
	for _, p := range m.presence.Snapshot() {
		if p.Session.Status != models.StatusCheckedIn {
			continue
		}
		if m.Active(p.Session.WorkerID) {
			continue
		}
		if err := m.Start(p.Session.WorkerID); err != nil {
			log.Error().Err(err).Str("worker_id", p.Session.WorkerID.String()).Msg("Failed to resume sampler task")
			continue
		}
		started++
	}

	if started > 0 {
		log.Info().Int("count", started).Msg("Resumed sampler tasks")
	}
	return started
}

// makeTick builds the scheduler tick handler for this task.
func (t *task) makeTick(m *Manager) TickHandler {
	return func(ctx context.Context) {
		t.tick(ctx, m)
	}
}

// tick reads the position and publishes a sample when either trigger fires.
func (t *task) tick(ctx context.Context, m *Manager) {
	started := time.Now()

	pos, err := m.positioner.CurrentPosition(ctx, t.workerID)
	if err != nil {
		t.recordFailure(m, err)
		return
	}

	t.mu.Lock()

	t.failures = 0

	now := time.Now()
	trigger := !t.hasLast ||
		now.Sub(t.lastPublished) >= m.policy.Interval ||
		distanceMeters(t.lastLat, t.lastLon, pos.Latitude, pos.Longitude) >= m.policy.Displacement
	if !trigger {
		t.mu.Unlock()
		return
	}

	sample := models.LocationSample{
		WorkerID:   t.workerID,
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		Heading:    pos.Heading,
		SampleTime: now,
	}

	if err := m.presence.SetSample(sample); err != nil {
		// Stop takes the manager lock, which Descriptors holds while
		// visiting each task lock, so t.mu must be released first.
		t.mu.Unlock()
		if errors.Is(err, presence.ErrNotCheckedIn) {
			// The session ended underneath us; the in-flight sample is
			// dropped and the task torn down.
			m.Stop(t.workerID)
			return
		}
		log.Error().Err(err).Str("worker_id", t.workerID.String()).Msg("Failed to publish sample")
		return
	}

	t.hasLast = true
	t.lastLat = pos.Latitude
	t.lastLon = pos.Longitude
	t.lastPublished = now
	t.mu.Unlock()

	metrics := telemetry.GetMetrics()
	metrics.SamplesProducedTotal.Add(ctx, 1)
	metrics.SampleProduceDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
}

// recordFailure counts a failed position read. A single failure is dropped;
// the configured number of consecutive failures escalates to a degraded
// event while the session stays checked in.
func (t *task) recordFailure(m *Manager, err error) {
	t.mu.Lock()
	t.failures++
	failures := t.failures
	if failures >= m.policy.MaxFailures {
		t.failures = 0
	}
	t.mu.Unlock()

	metrics := telemetry.GetMetrics()
	metrics.SampleFailuresTotal.Add(context.Background(), 1)

	if failures < m.policy.MaxFailures {
		log.Debug().Err(err).Str("worker_id", t.workerID.String()).Int("consecutive", failures).Msg("Dropped failed sample")
		return
	}

	metrics.SamplerDegradedTotal.Add(context.Background(), 1)
	m.presence.PublishDegraded(t.workerID)
	log.Warn().Err(err).Str("worker_id", t.workerID.String()).Int("consecutive", failures).Msg("Sampler degraded")
}
