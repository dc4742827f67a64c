package httpapi

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/crewtrack/crewtrack/internal/directory"
	"github.com/crewtrack/crewtrack/internal/identity"
	"github.com/crewtrack/crewtrack/internal/logger"
	"github.com/crewtrack/crewtrack/internal/presence"
	"github.com/crewtrack/crewtrack/internal/router"
	"github.com/crewtrack/crewtrack/internal/sampler"
	"github.com/crewtrack/crewtrack/internal/session"
)

// Server is the HTTP+SSE surface over the presence engine. It is a thin
// presentation adapter: every operation delegates to the engine, the
// directory or the router.
type Server struct {
	identity  identity.Provider
	tokens    *identity.Tokens
	directory *directory.Service
	engine    *session.Engine
	router    *router.Router
	presence  *presence.Store
	gateway   *sampler.ReportGateway
	policy    sampler.Policy
}

// Config collects the collaborators the server needs.
type Config struct {
	Identity  identity.Provider
	Tokens    *identity.Tokens
	Directory *directory.Service
	Engine    *session.Engine
	Router    *router.Router
	Presence  *presence.Store
	Gateway   *sampler.ReportGateway
	Policy    sampler.Policy
}

// NewServer creates the HTTP API server.
func NewServer(cfg Config) *Server {
	return &Server{
		identity:  cfg.Identity,
		tokens:    cfg.Tokens,
		directory: cfg.Directory,
		engine:    cfg.Engine,
		router:    cfg.Router,
		presence:  cfg.Presence,
		gateway:   cfg.Gateway,
		policy:    cfg.Policy,
	}
}

// Handler builds the full middleware and routing stack.
func (s *Server) Handler(log zerolog.Logger, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Public endpoints
	mux.HandleFunc("POST /v1/accounts", s.handleCreateAccount)
	mux.HandleFunc("POST /v1/login", s.handleLogin)

	// Authenticated endpoints
	authed := http.NewServeMux()
	authed.HandleFunc("POST /v1/orgs", s.handleCreateOrganization)
	authed.HandleFunc("POST /v1/orgs/{org}/workers", s.handleJoinAsWorker)
	authed.HandleFunc("POST /v1/orgs/{org}/managers", s.handleJoinAsManager)
	authed.HandleFunc("DELETE /v1/orgs/{org}/members/{user}", s.handleRevokeMembership)
	authed.HandleFunc("GET /v1/orgs/{org}/members", s.handleListMembers)
	authed.HandleFunc("PUT /v1/profile", s.handleUpdateProfile)
	authed.HandleFunc("POST /v1/checkin", s.handleCheckIn)
	authed.HandleFunc("POST /v1/checkout", s.handleCheckOut)
	authed.HandleFunc("POST /v1/positions", s.handleReportPosition)
	authed.HandleFunc("GET /v1/orgs/{org}/watch", s.handleWatch)
	mux.Handle("/v1/", BearerAuth(s.tokens)(authed))

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := c.Handler(mux)
	handler = ClientIPMiddleware()(handler)
	handler = logger.HTTPRequests(log)(handler)

	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
