package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeviceReport is one position fix pushed by a worker's device, together
// with the permission grants the device currently holds.
type DeviceReport struct {
	Position   Position
	Foreground bool
	Background bool
}

// ReportGateway implements Positioner over device-pushed reports. Devices
// push their latest fix and permission state; the sampling tasks read the
// most recent report. A report older than MaxAge reads as unavailable,
// which feeds the sampler's failure counting and keeps a silent device
// from being mistaken for a stationary one.
type ReportGateway struct {
	maxAge time.Duration

	mu      sync.RWMutex
	reports map[uuid.UUID]deviceState
}

type deviceState struct {
	report     DeviceReport
	reportedAt time.Time
}

// NewReportGateway creates a gateway. maxAge bounds how long a pushed fix
// stays readable.
func NewReportGateway(maxAge time.Duration) *ReportGateway {
	return &ReportGateway{
		maxAge:  maxAge,
		reports: make(map[uuid.UUID]deviceState),
	}
}

// Report records the latest device report for a worker.
func (g *ReportGateway) Report(workerID uuid.UUID, report DeviceReport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports[workerID] = deviceState{report: report, reportedAt: time.Now()}
}

// Forget drops a worker's report, typically on check-out.
func (g *ReportGateway) Forget(workerID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reports, workerID)
}

// RequestForegroundPermission reports the grant carried by the worker's
// latest device report.
func (g *ReportGateway) RequestForegroundPermission(ctx context.Context, workerID uuid.UUID) (bool, error) {
	state, ok := g.fresh(workerID)
	if !ok {
		return false, nil
	}
	return state.report.Foreground, nil
}

// RequestBackgroundPermission reports the background grant.
func (g *ReportGateway) RequestBackgroundPermission(ctx context.Context, workerID uuid.UUID) (bool, error) {
	state, ok := g.fresh(workerID)
	if !ok {
		return false, nil
	}
	return state.report.Background, nil
}

// CurrentPosition returns the worker's last pushed fix, or
// ErrPositionUnavailable when the device has gone quiet.
func (g *ReportGateway) CurrentPosition(ctx context.Context, workerID uuid.UUID) (Position, error) {
	state, ok := g.fresh(workerID)
	if !ok {
		return Position{}, ErrPositionUnavailable
	}
	return state.report.Position, nil
}

func (g *ReportGateway) fresh(workerID uuid.UUID) (deviceState, bool) {
	g.mu.RLock()
	state, ok := g.reports[workerID]
	g.mu.RUnlock()

	if !ok {
		return deviceState{}, false
	}
	if g.maxAge > 0 && time.Since(state.reportedAt) > g.maxAge {
		return deviceState{}, false
	}
	return state, true
}
