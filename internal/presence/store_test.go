package presence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crewtrack/crewtrack/internal/models"
)

func sampleFor(workerID uuid.UUID, lat, lon float64) models.LocationSample {
	return models.LocationSample{
		WorkerID:   workerID,
		Latitude:   lat,
		Longitude:  lon,
		SampleTime: time.Now(),
	}
}

func TestStoreSessionAndSample(t *testing.T) {
	t.Run("sample requires checked in session", func(t *testing.T) {
		st := NewStore()
		workerID := uuid.Must(uuid.NewV7())

		err := st.SetSample(sampleFor(workerID, 1, 2))
		require.ErrorIs(t, err, ErrNotCheckedIn)

		now := time.Now()
		st.SetStatus(workerID, models.StatusCheckedIn, &now)
		require.NoError(t, st.SetSample(sampleFor(workerID, 1, 2)))

		p, ok := st.Get(workerID)
		require.True(t, ok)
		require.Equal(t, models.StatusCheckedIn, p.Session.Status)
		require.NotNil(t, p.Sample)
		require.Equal(t, 1.0, p.Sample.Latitude)
	})

	t.Run("check out clears the sample", func(t *testing.T) {
		st := NewStore()
		workerID := uuid.Must(uuid.NewV7())

		now := time.Now()
		st.SetStatus(workerID, models.StatusCheckedIn, &now)
		require.NoError(t, st.SetSample(sampleFor(workerID, 1, 2)))

		p := st.SetStatus(workerID, models.StatusCheckedOut, nil)
		require.Equal(t, models.StatusCheckedOut, p.Session.Status)
		require.Nil(t, p.Sample)
		require.Nil(t, p.Session.CheckInTime)

		// A sample never survives the session that produced it.
		got, ok := st.Get(workerID)
		require.True(t, ok)
		require.Nil(t, got.Sample)

		require.ErrorIs(t, st.SetSample(sampleFor(workerID, 3, 4)), ErrNotCheckedIn)
	})

	t.Run("returned presence is a copy", func(t *testing.T) {
		st := NewStore()
		workerID := uuid.Must(uuid.NewV7())

		now := time.Now()
		st.SetStatus(workerID, models.StatusCheckedIn, &now)
		require.NoError(t, st.SetSample(sampleFor(workerID, 1, 2)))

		p, ok := st.Get(workerID)
		require.True(t, ok)
		p.Sample.Latitude = 99

		again, _ := st.Get(workerID)
		require.Equal(t, 1.0, again.Sample.Latitude)
	})

	t.Run("snapshot covers all workers", func(t *testing.T) {
		st := NewStore()
		now := time.Now()
		for range 3 {
			st.SetStatus(uuid.Must(uuid.NewV7()), models.StatusCheckedIn, &now)
		}
		require.Len(t, st.Snapshot(), 3)
	})
}

func TestStoreSubscriptions(t *testing.T) {
	t.Run("events arrive in publish order for a worker", func(t *testing.T) {
		st := NewStore()
		workerID := uuid.Must(uuid.NewV7())

		ch, cancel := st.Subscribe(16)
		defer cancel()

		now := time.Now()
		st.SetStatus(workerID, models.StatusCheckedIn, &now)
		require.NoError(t, st.SetSample(sampleFor(workerID, 1, 2)))
		require.NoError(t, st.SetSample(sampleFor(workerID, 3, 4)))
		st.SetStatus(workerID, models.StatusCheckedOut, nil)

		want := []EventType{EventSessionChanged, EventSampleUpdated, EventSampleUpdated, EventSessionChanged}
		for i, wantType := range want {
			select {
			case ev := <-ch:
				require.Equal(t, wantType, ev.Type, "event %d", i)
				require.Equal(t, workerID, ev.WorkerID)
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for event %d", i)
			}
		}

		// The final event carries the cleared state.
		st.SetStatus(workerID, models.StatusCheckedIn, &now)
		ev := <-ch
		require.Equal(t, EventSessionChanged, ev.Type)
		require.Nil(t, ev.Presence.Sample)
	})

	t.Run("degraded event preserves presence", func(t *testing.T) {
		st := NewStore()
		workerID := uuid.Must(uuid.NewV7())

		now := time.Now()
		st.SetStatus(workerID, models.StatusCheckedIn, &now)

		ch, cancel := st.Subscribe(16)
		defer cancel()

		st.PublishDegraded(workerID)

		ev := <-ch
		require.Equal(t, EventSamplerDegraded, ev.Type)
		require.Equal(t, models.StatusCheckedIn, ev.Presence.Session.Status)
	})

	t.Run("slow subscriber drops instead of blocking", func(t *testing.T) {
		st := NewStore()
		workerID := uuid.Must(uuid.NewV7())

		ch, cancel := st.Subscribe(1)
		defer cancel()

		now := time.Now()
		st.SetStatus(workerID, models.StatusCheckedIn, &now)
		// Fills beyond the buffer; publishes must not block.
		for range 10 {
			require.NoError(t, st.SetSample(sampleFor(workerID, 1, 2)))
		}

		require.Len(t, ch, 1)
	})

	t.Run("cancel stops delivery", func(t *testing.T) {
		st := NewStore()
		workerID := uuid.Must(uuid.NewV7())

		ch, cancel := st.Subscribe(16)
		cancel()

		now := time.Now()
		st.SetStatus(workerID, models.StatusCheckedIn, &now)
		require.Empty(t, ch)
	})
}
