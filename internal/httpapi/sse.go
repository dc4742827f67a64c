package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/crewtrack/crewtrack/internal/presence"
)

// watchEvent is the wire shape for one server-sent event on a watch
// stream.
type watchEvent struct {
	Type     string           `json:"type"`
	WorkerID string           `json:"worker_id"`
	Presence presenceResponse `json:"presence"`
}

// handleWatch streams presence events for an organization as server-sent
// events. Authorization is enforced when the watch opens and re-checked
// on every delivery inside the router, so a revoked manager's stream goes
// quiet and is then torn down rather than leaking further updates.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	orgID, ok := pathUUID(w, r, "org")
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	watch, err := s.router.OpenWatch(r.Context(), userID, orgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer watch.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := zerolog.Ctx(r.Context())
	log.Info().
		Str("watch_id", watch.WatchID.String()).
		Str("org_id", orgID.String()).
		Msg("Watch opened")

	// Heartbeats keep intermediaries from timing out a quiet stream.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-watch.Events():
			if !open {
				// Torn down by the router: idle watch or revoked access.
				log.Info().Str("watch_id", watch.WatchID.String()).Msg("Watch closed by router")
				return
			}
			if err := s.writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, ev presence.Event) error {
	payload, err := json.Marshal(watchEvent{
		Type:     string(ev.Type),
		WorkerID: ev.WorkerID.String(),
		Presence: s.presenceResponse(ev.Presence, ""),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}
