package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationSample is one position report for a worker. Samples are
// ephemeral: each one supersedes the previous, and check-out clears the
// last sample.
type LocationSample struct {
	WorkerID   uuid.UUID
	Latitude   float64
	Longitude  float64
	Accuracy   *float64 // metres, when the positioner reports it
	Heading    *float64 // degrees
	SampleTime time.Time
}

// Presence is the combination of a worker's session status and their most
// recent location sample.
type Presence struct {
	Session Session
	Sample  *LocationSample // nil unless checked in and at least one sample landed
}

// StaleFactor is how many sampling intervals may pass without a fresh
// sample before observers must treat the presence as possibly stale.
// Background delivery is best-effort, so an orphaned session can stop
// producing samples without ever checking out.
const StaleFactor = 3

// Stale reports whether the last sample is older than StaleFactor times
// the sampling interval. A checked-out presence is never stale, and a
// checked-in presence with no sample yet is judged from the check-in time.
func (p Presence) Stale(now time.Time, interval time.Duration) bool {
	if p.Session.Status != StatusCheckedIn {
		return false
	}
	threshold := time.Duration(StaleFactor) * interval
	if p.Sample == nil {
		if p.Session.CheckInTime == nil {
			return false
		}
		return now.Sub(*p.Session.CheckInTime) > threshold
	}
	return now.Sub(p.Sample.SampleTime) > threshold
}
