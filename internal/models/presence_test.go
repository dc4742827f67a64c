package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPresenceStale(t *testing.T) {
	interval := 10 * time.Second
	now := time.Now()

	t.Run("checked out is never stale", func(t *testing.T) {
		p := Presence{
			Session: Session{WorkerID: uuid.Must(uuid.NewV7()), Status: StatusCheckedOut},
		}
		require.False(t, p.Stale(now, interval))
	})

	t.Run("fresh sample is not stale", func(t *testing.T) {
		checkIn := now.Add(-time.Minute)
		sampleTime := now.Add(-5 * time.Second)
		p := Presence{
			Session: Session{Status: StatusCheckedIn, CheckInTime: &checkIn},
			Sample:  &LocationSample{SampleTime: sampleTime},
		}
		require.False(t, p.Stale(now, interval))
	})

	t.Run("sample older than three intervals is stale", func(t *testing.T) {
		checkIn := now.Add(-time.Hour)
		sampleTime := now.Add(-31 * time.Second)
		p := Presence{
			Session: Session{Status: StatusCheckedIn, CheckInTime: &checkIn},
			Sample:  &LocationSample{SampleTime: sampleTime},
		}
		require.True(t, p.Stale(now, interval))
	})

	t.Run("no sample yet is judged from check-in time", func(t *testing.T) {
		recent := now.Add(-5 * time.Second)
		p := Presence{
			Session: Session{Status: StatusCheckedIn, CheckInTime: &recent},
		}
		require.False(t, p.Stale(now, interval))

		old := now.Add(-time.Minute)
		p.Session.CheckInTime = &old
		require.True(t, p.Stale(now, interval))
	})
}
