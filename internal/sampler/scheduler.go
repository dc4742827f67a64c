package sampler

import (
	"context"
	"sync"
	"time"
)

// TickHandler is invoked on every scheduler tick.
type TickHandler func(ctx context.Context)

// Scheduler is the durable background-task scheduler supplied by the host
// environment. The host may pause and resume tasks across process
// lifecycle events; the sampler re-derives its tasks from session state on
// resume, so a scheduler only needs to call the handler roughly on the
// requested interval. Implementations must invoke the handler for one task
// sequentially, never concurrently.
type Scheduler interface {
	// ScheduleRecurring registers a recurring task. Scheduling an already
	// registered task ID is a no-op.
	ScheduleRecurring(taskID string, interval time.Duration, onTick TickHandler) error

	// Cancel stops a task. Cancelling an unknown task ID is a no-op;
	// cancellation is best-effort.
	Cancel(taskID string)
}

// TickerScheduler is an in-process Scheduler backed by one goroutine and
// ticker per task.
type TickerScheduler struct {
	mu    sync.Mutex
	tasks map[string]chan struct{}

	ctx context.Context
}

// NewTickerScheduler creates a scheduler whose task handlers run under the
// given context.
func NewTickerScheduler(ctx context.Context) *TickerScheduler {
	return &TickerScheduler{
		tasks: make(map[string]chan struct{}),
		ctx:   ctx,
	}
}

// ScheduleRecurring starts a goroutine that calls onTick on the interval
// until the task is cancelled or the scheduler context ends.
func (s *TickerScheduler) ScheduleRecurring(taskID string, interval time.Duration, onTick TickHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; exists {
		return nil
	}

	stopCh := make(chan struct{})
	s.tasks[taskID] = stopCh

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				onTick(s.ctx)
			case <-stopCh:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Cancel stops the task's goroutine.
func (s *TickerScheduler) Cancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stopCh, exists := s.tasks[taskID]; exists {
		close(stopCh)
		delete(s.tasks, taskID)
	}
}
