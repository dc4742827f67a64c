package sampler

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrPositionUnavailable is returned by a Positioner when a position read
// fails transiently. A single failed read is dropped, not retried; the
// next scheduled tick tries again.
var ErrPositionUnavailable = errors.New("position unavailable")

// Position is one raw reading from the positioning capability.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Heading   *float64
}

// Positioner is the positioning capability for workers' devices. The
// engine never talks to location hardware directly; the surrounding
// runtime supplies an implementation keyed by worker, since one engine
// process hosts sampling for many workers at once.
type Positioner interface {
	// RequestForegroundPermission asks for foreground location access on
	// the worker's device.
	RequestForegroundPermission(ctx context.Context, workerID uuid.UUID) (bool, error)

	// RequestBackgroundPermission asks for background location access.
	// Check-in requires both grants.
	RequestBackgroundPermission(ctx context.Context, workerID uuid.UUID) (bool, error)

	// CurrentPosition reads the worker's device position.
	CurrentPosition(ctx context.Context, workerID uuid.UUID) (Position, error)
}
