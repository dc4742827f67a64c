package presence

import (
	"github.com/google/uuid"

	"github.com/crewtrack/crewtrack/internal/models"
)

// EventType identifies the kind of presence change carried by an Event.
type EventType string

const (
	// EventSessionChanged is emitted on every check-in/check-out transition.
	EventSessionChanged EventType = "session_changed"

	// EventSampleUpdated is emitted when a worker's location sample lands.
	EventSampleUpdated EventType = "sample_updated"

	// EventSamplerDegraded is informational: the sampler failed several
	// consecutive position reads but the session remains checked in.
	EventSamplerDegraded EventType = "sampler_degraded"
)

// Event is one presence change, delivered to subscribers in the order
// produced for any given worker.
type Event struct {
	Type     EventType
	WorkerID uuid.UUID
	Presence models.Presence
}
