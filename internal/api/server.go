// Package api provides the HTTP REST API for netman. It exposes device
// discovery, scanning, credentials, the type registry and schedules.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/netman/internal/api/handlers"
	"github.com/anstrom/netman/internal/api/middleware"
	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
)

const (
	serverShutdownTimeout = 30 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Service is everything the API needs from the device service.
type Service interface {
	apihandlers.DeviceService
	apihandlers.CredentialService
}

// Dependencies are the collaborators the API routes to. Database, Scheduler
// and Metrics may be nil.
type Dependencies struct {
	Service   Service
	Jobs      JobQueue
	Registry  *registry.Registry
	Database  apihandlers.DatabasePinger
	Scheduler apihandlers.Scheduler
	Metrics   Metrics
}

// JobQueue accepts background jobs and reports its backlog.
type JobQueue interface {
	apihandlers.JobSubmitter
	apihandlers.QueueReporter
}

// Metrics records HTTP requests and exposes a Prometheus registry.
type Metrics interface {
	middleware.HTTPRecorder
	GetRegistry() *prometheus.Registry
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     config.APIConfig
	logRequest bool
	deps       Dependencies
	logger     *logging.Logger
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies, logger *logging.Logger) (*Server, error) {
	if deps.Service == nil || deps.Jobs == nil || deps.Registry == nil {
		return nil, fmt.Errorf("api server requires a device service, a job queue and a type registry")
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		router:     mux.NewRouter(),
		config:     cfg.API,
		logRequest: cfg.Logging.RequestLogging,
		deps:       deps,
		logger:     logger.WithComponent("api"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:        s.handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}
	return s, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the full handler chain, CORS included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	maxSize := s.config.MaxRequestSize

	health := apihandlers.NewHealthHandler(s.deps.Database, s.deps.Jobs, s.logger)
	devices := apihandlers.NewDeviceHandler(s.deps.Service, s.deps.Jobs, s.logger, maxSize)
	credentials := apihandlers.NewCredentialHandler(s.deps.Service, s.deps.Registry, s.logger, maxSize)
	types := apihandlers.NewTypeHandler(s.deps.Registry)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/status", health.Status).Methods(http.MethodGet)

	api.HandleFunc("/types", types.ListTypes).Methods(http.MethodGet)
	api.HandleFunc("/types/{id}", types.GetType).Methods(http.MethodGet)

	// Literal paths before {id} so "discover" is not parsed as an ID.
	api.HandleFunc("/devices", devices.ListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/discover", devices.DiscoverDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}", devices.GetDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", devices.DeleteDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{id}/scan", devices.ScanDevice).Methods(http.MethodPost)
	api.HandleFunc("/sweep", devices.SweepNetwork).Methods(http.MethodPost)

	api.HandleFunc("/credentials", credentials.ListCredentials).Methods(http.MethodGet)
	api.HandleFunc("/credentials", credentials.CreateCredential).Methods(http.MethodPost)
	api.HandleFunc("/credentials/{id}", credentials.DeleteCredential).Methods(http.MethodDelete)

	if s.deps.Scheduler != nil {
		schedules := apihandlers.NewScheduleHandler(s.deps.Scheduler, s.logger)
		api.HandleFunc("/schedules", schedules.ListSchedules).Methods(http.MethodGet)
		api.HandleFunc("/schedules/{name}/trigger", schedules.TriggerSchedule).Methods(http.MethodPost)
	}

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}
}

// setupMiddleware configures middleware for the router. Recovery runs
// outermost so a panic in any later middleware is still answered.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	if s.logRequest {
		s.router.Use(middleware.Logging(s.logger))
	}
	if s.deps.Metrics != nil {
		s.router.Use(middleware.Metrics(s.deps.Metrics))
	}
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())
}

// handler wraps the router with CORS. It sits outside the router so
// preflight requests are answered without a matching route.
func (s *Server) handler() http.Handler {
	if len(s.config.AllowedOrigins) == 0 {
		return s.router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(s.config.AllowedOrigins),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
	)(s.router)
}
