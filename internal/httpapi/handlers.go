package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/sampler"
	"github.com/crewtrack/crewtrack/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type createOrgRequest struct {
	Name string `json:"name"`
}

type joinManagerRequest struct {
	Password string `json:"password"`
}

type presenceResponse struct {
	WorkerID    string          `json:"worker_id"`
	Status      string          `json:"status"`
	CheckInTime *time.Time      `json:"check_in_time,omitempty"`
	Sample      *sampleResponse `json:"sample,omitempty"`
	Stale       bool            `json:"stale"`
	Notice      string          `json:"notice,omitempty"`
}

type sampleResponse struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	SampleTime time.Time `json:"sample_time"`
}

func (s *Server) presenceResponse(p models.Presence, notice string) presenceResponse {
	resp := presenceResponse{
		WorkerID:    p.Session.WorkerID.String(),
		Status:      string(p.Session.Status),
		CheckInTime: p.Session.CheckInTime,
		Stale:       p.Stale(time.Now(), s.policy.Interval),
		Notice:      notice,
	}
	if p.Sample != nil {
		resp.Sample = &sampleResponse{
			Latitude:   p.Sample.Latitude,
			Longitude:  p.Sample.Longitude,
			Accuracy:   p.Sample.Accuracy,
			Heading:    p.Sample.Heading,
			SampleTime: p.Sample.SampleTime,
		}
	}
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	userID, err := s.identity.CreateAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := s.tokens.Mint(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{UserID: userID.String(), Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, err := s.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := s.tokens.Mint(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{UserID: userID.String(), Token: token})
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req createOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "organization name is required")
		return
	}

	orgID, err := s.directory.CreateOrganization(r.Context(), req.Name, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"org_id": orgID.String()})
}

func (s *Server) handleJoinAsWorker(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	orgID, ok := pathUUID(w, r, "org")
	if !ok {
		return
	}

	if err := s.directory.JoinAsWorker(r.Context(), orgID, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"org_id": orgID.String(), "role": string(models.RoleWorker)})
}

func (s *Server) handleJoinAsManager(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	orgID, ok := pathUUID(w, r, "org")
	if !ok {
		return
	}

	var req joinManagerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.directory.JoinAsManager(r.Context(), orgID, userID, req.Password); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"org_id": orgID.String(), "role": string(models.RoleManager)})
}

func (s *Server) handleRevokeMembership(w http.ResponseWriter, r *http.Request) {
	callerID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	orgID, ok := pathUUID(w, r, "org")
	if !ok {
		return
	}
	userID, ok := pathUUID(w, r, "user")
	if !ok {
		return
	}

	isManager, err := s.directory.IsManagerOf(r.Context(), callerID, orgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !isManager {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}

	if err := s.directory.RevokeMembership(r.Context(), orgID, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type profileRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	JobTitle string `json:"job_title"`
}

type memberResponse struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	JobTitle string `json:"job_title,omitempty"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.directory.UpdateWorkerProfile(r.Context(), userID, req.Name, req.Phone, req.JobTitle); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListMembers returns an organization's roster with profiles, for
// managers of that organization only.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	callerID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	orgID, ok := pathUUID(w, r, "org")
	if !ok {
		return
	}

	isManager, err := s.directory.IsManagerOf(r.Context(), callerID, orgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !isManager {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}

	members, err := s.directory.ListMembers(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	profiles, err := s.directory.ListWorkerProfiles(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	profileByID := make(map[string]*models.Worker, len(profiles))
	for _, p := range profiles {
		profileByID[p.WorkerID.String()] = p
	}

	result := make([]memberResponse, 0, len(members))
	for _, m := range members {
		entry := memberResponse{UserID: m.UserID.String(), Role: string(m.Role)}
		if p, ok := profileByID[entry.UserID]; ok {
			entry.Name = p.Name
			entry.Phone = p.Phone
			entry.JobTitle = p.JobTitle
		}
		result = append(result, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{"members": result})
}

type reportPositionRequest struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Heading    *float64 `json:"heading,omitempty"`
	Foreground bool     `json:"foreground"`
	Background bool     `json:"background"`
}

// handleReportPosition ingests a device's latest fix and permission state.
// The sampling task decides whether the fix becomes a published sample;
// devices push on their own schedule without touching presence directly.
func (s *Server) handleReportPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req reportPositionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	s.gateway.Report(userID, sampler.DeviceReport{
		Position: sampler.Position{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Accuracy:  req.Accuracy,
			Heading:   req.Heading,
		},
		Foreground: req.Foreground,
		Background: req.Background,
	})

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	p, err := s.engine.CheckIn(r.Context(), userID)
	switch {
	case errors.Is(err, session.ErrAlreadyCheckedIn):
		// No-op by design: the second tap confirms the existing session.
		writeJSON(w, http.StatusOK, s.presenceResponse(p, "already checked in"))
	case err != nil:
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("worker_id", userID.String()).Msg("Check-in failed")
		writeDomainError(w, err)
	default:
		writeJSON(w, http.StatusOK, s.presenceResponse(p, ""))
	}
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	p, err := s.engine.CheckOut(r.Context(), userID)
	switch {
	case errors.Is(err, session.ErrAlreadyCheckedOut):
		writeJSON(w, http.StatusOK, s.presenceResponse(p, "already checked out"))
	case err != nil:
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("worker_id", userID.String()).Msg("Check-out failed")
		writeDomainError(w, err)
	default:
		writeJSON(w, http.StatusOK, s.presenceResponse(p, ""))
	}
}
