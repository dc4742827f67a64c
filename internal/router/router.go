package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/presence"
	"github.com/crewtrack/crewtrack/internal/telemetry"
)

// ErrNotAuthorized means the supervisor does not hold manager membership
// of the organization. Authorization failures are fatal to the request;
// visibility is never silently widened.
var ErrNotAuthorized = errors.New("not authorized to watch organization")

// MembershipAuthority answers role checks. The router consults it at
// delivery time, not only when a watch is opened, so revoked managers stop
// receiving data within one delivery cycle.
type MembershipAuthority interface {
	IsManagerOf(ctx context.Context, userID, orgID uuid.UUID) (bool, error)
}

// WorkerResolver supplies the organization a worker belongs to. The
// binding is immutable, so the router caches it per worker.
type WorkerResolver interface {
	OrganizationOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// Options tunes the router's delivery behavior.
type Options struct {
	// WatchBuffer is the per-watch channel capacity.
	WatchBuffer int

	// FeedBuffer is the capacity of the router's subscription to the
	// presence store feed.
	FeedBuffer int

	// IdleTimeout tears down a watch whose channel has been continuously
	// full for this long; a watch with no transport draining it must not
	// leak.
	IdleTimeout time.Duration

	// SweepInterval is how often idle watches are collected.
	SweepInterval time.Duration
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		WatchBuffer:   16,
		FeedBuffer:    256,
		IdleTimeout:   30 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// Router maintains the live set of watches and delivers each presence
// store change to every watch whose organization matches. Delivery is
// push, best-effort, with per-worker ordering (a single dispatch goroutine
// consumes the store feed in publish order).
type Router struct {
	presence  *presence.Store
	authority MembershipAuthority
	resolver  WorkerResolver
	opts      Options

	mu      sync.Mutex
	watches map[uuid.UUID]*Watch
	orgOf   map[uuid.UUID]uuid.UUID // worker -> org, immutable binding

	unsubscribe func()
	stopSweep   chan struct{}
	done        chan struct{}
}

// Watch is a supervisor's live subscription to an organization's presence
// data.
type Watch struct {
	WatchID      uuid.UUID
	SupervisorID uuid.UUID
	OrgID        uuid.UUID

	router *Router
	ch     chan presence.Event
	once   sync.Once

	mu        sync.Mutex
	closed    bool
	fullSince time.Time // zero while the channel is draining
}

// Events returns the stream of presence events for the watched
// organization. The channel closes when the watch closes.
func (w *Watch) Events() <-chan presence.Event {
	return w.ch
}

// Close releases the watch. Idempotent.
func (w *Watch) Close() {
	w.once.Do(func() {
		w.router.remove(w.WatchID)
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.ch)
		telemetry.GetMetrics().ActiveWatches.Add(context.Background(), -1)
		log.Debug().Str("watch_id", w.WatchID.String()).Str("org_id", w.OrgID.String()).Msg("Watch closed")
	})
}

// deliver pushes an event without blocking. Returns false when the event
// was dropped because the channel is full or the watch already closed.
func (w *Watch) deliver(ev presence.Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}

	select {
	case w.ch <- ev:
		w.fullSince = time.Time{}
		return true
	default:
		if w.fullSince.IsZero() {
			w.fullSince = time.Now()
		}
		return false
	}
}

// New creates a router over the presence store.
func New(store *presence.Store, authority MembershipAuthority, resolver WorkerResolver, opts Options) *Router {
	if opts.WatchBuffer <= 0 {
		opts.WatchBuffer = DefaultOptions().WatchBuffer
	}
	if opts.FeedBuffer <= 0 {
		opts.FeedBuffer = DefaultOptions().FeedBuffer
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultOptions().IdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}

	return &Router{
		presence:  store,
		authority: authority,
		resolver:  resolver,
		opts:      opts,
		watches:   make(map[uuid.UUID]*Watch),
		orgOf:     make(map[uuid.UUID]uuid.UUID),
		stopSweep: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the presence feed and begins dispatching. The given
// context bounds membership re-checks during delivery.
func (r *Router) Start(ctx context.Context) {
	feed, unsubscribe := r.presence.Subscribe(r.opts.FeedBuffer)
	r.unsubscribe = unsubscribe

	go r.dispatchLoop(ctx, feed)
	go r.sweepLoop()
}

// Stop closes the feed subscription and every open watch. Safe on a
// router that was never started; only a started router has loops to wait
// out.
func (r *Router) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		close(r.stopSweep)
		<-r.done
	}

	r.mu.Lock()
	open := make([]*Watch, 0, len(r.watches))
	for _, w := range r.watches {
		open = append(open, w)
	}
	r.mu.Unlock()

	for _, w := range open {
		w.Close()
	}
}

// OpenWatch authorizes and registers a supervisor's watch on an
// organization, seeding it with a snapshot of currently checked-in
// workers before any live event is delivered.
func (r *Router) OpenWatch(ctx context.Context, supervisorID, orgID uuid.UUID) (*Watch, error) {
	ok, err := r.authority.IsManagerOf(ctx, supervisorID, orgID)
	if err != nil {
		return nil, fmt.Errorf("membership check failed: %w", err)
	}
	if !ok {
		return nil, ErrNotAuthorized
	}

	w := &Watch{
		WatchID:      uuid.Must(uuid.NewV7()),
		SupervisorID: supervisorID,
		OrgID:        orgID,
		router:       r,
		ch:           make(chan presence.Event, r.opts.WatchBuffer),
	}

	// Registering under the lock after seeding keeps the snapshot ahead
	// of any live event for the same workers.
	r.mu.Lock()
	for _, p := range r.presence.Snapshot() {
		if p.Session.Status != models.StatusCheckedIn {
			continue
		}
		workerOrg, err := r.resolveOrgLocked(ctx, p.Session.WorkerID)
		if err != nil || workerOrg != orgID {
			continue
		}
		select {
		case w.ch <- presence.Event{Type: presence.EventSessionChanged, WorkerID: p.Session.WorkerID, Presence: p}:
		default:
		}
	}
	r.watches[w.WatchID] = w
	r.mu.Unlock()

	telemetry.GetMetrics().ActiveWatches.Add(ctx, 1)
	log.Info().
		Str("watch_id", w.WatchID.String()).
		Str("supervisor_id", supervisorID.String()).
		Str("org_id", orgID.String()).
		Msg("Watch opened")

	return w, nil
}

// remove unregisters a watch.
func (r *Router) remove(watchID uuid.UUID) {
	r.mu.Lock()
	delete(r.watches, watchID)
	r.mu.Unlock()
}

// dispatchLoop consumes the presence feed and fans each event out to the
// matching watches. A single goroutine preserves per-worker ordering.
func (r *Router) dispatchLoop(ctx context.Context, feed <-chan presence.Event) {
	defer close(r.done)

	for ev := range feed {
		r.dispatch(ctx, ev)
	}
}

// dispatch delivers one event to every authorized watch of the worker's
// organization.
func (r *Router) dispatch(ctx context.Context, ev presence.Event) {
	r.mu.Lock()
	orgID, err := r.resolveOrgLocked(ctx, ev.WorkerID)
	if err != nil {
		r.mu.Unlock()
		log.Debug().Err(err).Str("worker_id", ev.WorkerID.String()).Msg("Cannot resolve worker organization, dropping event")
		return
	}

	targets := make([]*Watch, 0, len(r.watches))
	for _, w := range r.watches {
		if w.OrgID == orgID {
			targets = append(targets, w)
		}
	}
	r.mu.Unlock()

	metrics := telemetry.GetMetrics()
	for _, w := range targets {
		// Membership is re-validated on every delivery; a revoked
		// manager keeps an open handle that goes silent.
		ok, err := r.authority.IsManagerOf(ctx, w.SupervisorID, orgID)
		if err != nil {
			log.Debug().Err(err).Str("watch_id", w.WatchID.String()).Msg("Membership re-check failed, skipping delivery")
			continue
		}
		if !ok {
			continue
		}

		if w.deliver(ev) {
			metrics.DeliveriesTotal.Add(ctx, 1)
		} else {
			// Watch full: drop this tick, the next change carries
			// fresher state.
			metrics.EventsDroppedTotal.Add(ctx, 1)
		}
	}
}

// sweepLoop periodically tears down watches whose channel has been full
// beyond the idle timeout.
func (r *Router) sweepLoop() {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopSweep:
			return
		}
	}
}

// sweep collects idle watches.
func (r *Router) sweep() {
	now := time.Now()

	r.mu.Lock()
	var idle []*Watch
	for _, w := range r.watches {
		w.mu.Lock()
		if !w.fullSince.IsZero() && now.Sub(w.fullSince) > r.opts.IdleTimeout {
			idle = append(idle, w)
		}
		w.mu.Unlock()
	}
	r.mu.Unlock()

	for _, w := range idle {
		telemetry.GetMetrics().WatchesTornDownTotal.Add(context.Background(), 1)
		log.Warn().Str("watch_id", w.WatchID.String()).Str("org_id", w.OrgID.String()).Msg("Tearing down idle watch")
		w.Close()
	}
}

// resolveOrgLocked returns the cached org binding for a worker, consulting
// the resolver on first sight. Callers hold r.mu.
func (r *Router) resolveOrgLocked(ctx context.Context, workerID uuid.UUID) (uuid.UUID, error) {
	if orgID, ok := r.orgOf[workerID]; ok {
		return orgID, nil
	}

	orgID, err := r.resolver.OrganizationOf(ctx, workerID)
	if err != nil {
		return uuid.Nil, err
	}
	r.orgOf[workerID] = orgID
	return orgID, nil
}

