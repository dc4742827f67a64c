package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crewtrack/crewtrack/internal/directory"
	"github.com/crewtrack/crewtrack/internal/identity"
	"github.com/crewtrack/crewtrack/internal/router"
	"github.com/crewtrack/crewtrack/internal/session"
	"github.com/crewtrack/crewtrack/internal/store"
)

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps engine errors to HTTP statuses. Idempotency
// notices are reported as success-with-notice, authorization failures
// never widen visibility, and downstream outages surface as 503 so
// clients retry with backoff.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadyCheckedIn),
		errors.Is(err, session.ErrAlreadyCheckedOut):
		// Handled by the caller as success-with-notice; kept here as a
		// fallback.
		writeJSON(w, http.StatusOK, map[string]string{"notice": err.Error()})
	case errors.Is(err, session.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "location permission denied")
	case errors.Is(err, session.ErrNoOrganization):
		writeError(w, http.StatusConflict, "worker has no organization")
	case errors.Is(err, router.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, directory.ErrDuplicateName):
		writeError(w, http.StatusConflict, "organization name already taken")
	case errors.Is(err, directory.ErrAlreadyMember):
		writeError(w, http.StatusConflict, "user already belongs to an organization")
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, "organization not found")
	case errors.Is(err, directory.ErrInvalidCredential),
		errors.Is(err, identity.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrAccountExists):
		writeError(w, http.StatusConflict, "account already exists")
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, identity.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
