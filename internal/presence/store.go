package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/telemetry"
)

// ErrNotCheckedIn is returned when a sample arrives for a worker whose
// session is checked out. In-flight samples for a just-checked-out worker
// are dropped rather than delivered.
var ErrNotCheckedIn = errors.New("worker is not checked in")

// Store is the authoritative current-state table mapping each worker to
// their session status and last known location sample. It is the only
// mutable shared state in the engine.
//
// Mutation is serialized per worker: the session engine writes status, the
// sampler writes samples, and each write is atomic for its row, so no
// observer ever sees a sample for a checked-out worker. All writes publish
// change events to subscribers, preserving per-worker ordering.
type Store struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*row

	subMu   sync.RWMutex
	subs    map[int]chan Event
	nextSub int
}

type row struct {
	mu      sync.Mutex
	session models.Session
	sample  *models.LocationSample
}

// NewStore creates an empty presence store.
func NewStore() *Store {
	return &Store{
		rows: make(map[uuid.UUID]*row),
		subs: make(map[int]chan Event),
	}
}

// getRow returns the row for a worker, creating it checked-out on first use.
func (s *Store) getRow(workerID uuid.UUID) *row {
	s.mu.RLock()
	r, ok := s.rows[workerID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rows[workerID]; ok {
		return r
	}
	r = &row{
		session: models.Session{
			WorkerID: workerID,
			Status:   models.StatusCheckedOut,
		},
	}
	s.rows[workerID] = r
	return r
}

// SetStatus transitions a worker's session. Transitioning to checked-out
// clears the worker's sample in the same critical section, so session
// status and sample can never be observed out of step.
func (s *Store) SetStatus(workerID uuid.UUID, status models.SessionStatus, checkInTime *time.Time) models.Presence {
	r := s.getRow(workerID)

	r.mu.Lock()
	r.session.Status = status
	r.session.CheckInTime = checkInTime
	if status == models.StatusCheckedOut {
		r.sample = nil
	}
	p := r.presence()
	s.publish(Event{Type: EventSessionChanged, WorkerID: workerID, Presence: p})
	r.mu.Unlock()

	return p
}

// SetSample records a location sample for a checked-in worker. Samples for
// checked-out workers are rejected with ErrNotCheckedIn and dropped.
func (s *Store) SetSample(sample models.LocationSample) error {
	r := s.getRow(sample.WorkerID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.Status != models.StatusCheckedIn {
		return ErrNotCheckedIn
	}

	clone := sample
	r.sample = &clone
	s.publish(Event{Type: EventSampleUpdated, WorkerID: sample.WorkerID, Presence: r.presence()})

	return nil
}

// PublishDegraded emits an informational event for a worker whose sampler
// is failing. The row itself is unchanged.
func (s *Store) PublishDegraded(workerID uuid.UUID) {
	r := s.getRow(workerID)

	r.mu.Lock()
	s.publish(Event{Type: EventSamplerDegraded, WorkerID: workerID, Presence: r.presence()})
	r.mu.Unlock()
}

// Get returns the latest committed presence for a worker.
func (s *Store) Get(workerID uuid.UUID) (models.Presence, bool) {
	s.mu.RLock()
	r, ok := s.rows[workerID]
	s.mu.RUnlock()
	if !ok {
		return models.Presence{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence(), true
}

// Snapshot returns the presence of every known worker.
func (s *Store) Snapshot() []models.Presence {
	s.mu.RLock()
	rows := make([]*row, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	s.mu.RUnlock()

	result := make([]models.Presence, 0, len(rows))
	for _, r := range rows {
		r.mu.Lock()
		result = append(result, r.presence())
		r.mu.Unlock()
	}
	return result
}

// Subscribe returns a channel of presence change events and an unsubscribe
// function. Delivery is best-effort: if the subscriber falls behind the
// event is dropped for that tick and the next change carries fresher state.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, buffer)
	s.subs[id] = ch
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.subMu.Unlock()
	}

	return ch, unsubscribe
}

// publish fans an event out to all subscribers. Callers hold the worker's
// row lock, which is what keeps per-worker ordering.
func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber full, drop this event for that subscriber
			telemetry.GetMetrics().EventsDroppedTotal.Add(context.Background(), 1)
			log.Debug().Str("worker_id", ev.WorkerID.String()).Str("type", string(ev.Type)).Msg("Subscriber channel full, dropping event")
		}
	}
}

// presence clones the row into a value the caller may keep. Callers must
// hold r.mu.
func (r *row) presence() models.Presence {
	p := models.Presence{Session: r.session}
	if r.sample != nil {
		clone := *r.sample
		p.Sample = &clone
	}
	return p
}
