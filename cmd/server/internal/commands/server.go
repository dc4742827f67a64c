package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/crewtrack/crewtrack/internal/directory"
	"github.com/crewtrack/crewtrack/internal/httpapi"
	"github.com/crewtrack/crewtrack/internal/identity"
	"github.com/crewtrack/crewtrack/internal/logger"
	"github.com/crewtrack/crewtrack/internal/models"
	"github.com/crewtrack/crewtrack/internal/presence"
	"github.com/crewtrack/crewtrack/internal/router"
	"github.com/crewtrack/crewtrack/internal/sampler"
	"github.com/crewtrack/crewtrack/internal/session"
	"github.com/crewtrack/crewtrack/internal/store"
	memorystore "github.com/crewtrack/crewtrack/internal/store/memory"
	postgresstore "github.com/crewtrack/crewtrack/internal/store/postgres"
	"github.com/crewtrack/crewtrack/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"localhost:8080" env:"CREWTRACK_LISTEN"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost" env:"CREWTRACK_CORS_ORIGINS"`

	// Auth configuration
	TokenSigningSecret string        `help:"secret key for HMAC signing of bearer tokens" env:"CREWTRACK_TOKEN_SECRET"`
	ManagerJoinKey     string        `help:"key managers must supply to join an organization" env:"CREWTRACK_MANAGER_JOIN_KEY"`
	SessionTTL         time.Duration `help:"bearer token TTL" default:"24h" env:"CREWTRACK_SESSION_TTL"`

	// Sampling configuration
	PolicyFile string `help:"path to a YAML sampling policy file" default:"" env:"CREWTRACK_POLICY_FILE"`

	// Development and operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"CREWTRACK_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"CREWTRACK_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"CREWTRACK_POSTGRES_AUTO_MIGRATE"`
}

func (c *ServerCmd) Validate() error {
	if c.TokenSigningSecret == "" {
		return errors.New("token signing secret is required (--token-signing-secret or CREWTRACK_TOKEN_SECRET)")
	}
	if len(c.TokenSigningSecret) < 32 {
		return errors.New("token signing secret must be at least 32 bytes (256 bits) for HMAC-SHA256")
	}
	if c.ManagerJoinKey == "" {
		return errors.New("manager join key is required (--manager-join-key or CREWTRACK_MANAGER_JOIN_KEY)")
	}
	if c.StoreType == "postgres" && c.PostgresStore.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "crewtrack-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create the directory store based on store type
	var directoryStore store.DirectoryStore

	switch c.StoreType {
	case "postgres":
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		directoryStore = postgresstore.NewDirectoryStore(pool)
		log.Info().Msg("Using PostgreSQL directory store")

	default:
		directoryStore = memorystore.NewDirectoryStore()
		log.Info().Msg("Using in-memory directory store")
	}

	// Load the sampling policy
	policy := sampler.DefaultPolicy()
	if c.PolicyFile != "" {
		var err error
		policy, err = sampler.LoadPolicy(c.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load sampling policy: %w", err)
		}
		log.Info().Str("path", c.PolicyFile).Dur("interval", policy.Interval).
			Float64("displacement_m", policy.Displacement).Msg("Loaded sampling policy")
	}

	// Assemble the engine
	directorySvc := directory.NewService(directoryStore, c.ManagerJoinKey)
	presenceStore := presence.NewStore()

	// Device reports older than the staleness threshold read as
	// unavailable, so a silent device degrades instead of pinning its
	// last fix.
	gateway := sampler.NewReportGateway(models.StaleFactor * policy.Interval)
	scheduler := sampler.NewTickerScheduler(ctx)
	mgr := sampler.NewManager(policy, gateway, scheduler, presenceStore)
	engine := session.NewEngine(presenceStore, mgr, gateway, directorySvc)

	rtr := router.New(presenceStore, directorySvc, directorySvc, router.DefaultOptions())
	rtr.Start(ctx)
	defer rtr.Stop()

	// Restart sampling for any session that survived a restart.
	mgr.Resume(ctx)

	tokens, err := identity.NewTokens([]byte(c.TokenSigningSecret), "crewtrack", c.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to create token minter: %w", err)
	}

	api := httpapi.NewServer(httpapi.Config{
		Identity:  identity.NewMemoryProvider(),
		Tokens:    tokens,
		Directory: directorySvc,
		Engine:    engine,
		Router:    rtr,
		Presence:  presenceStore,
		Gateway:   gateway,
		Policy:    policy,
	})

	srv := configureHTTPServer(c.Listen, api.Handler(log, c.CORSOrigins))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
