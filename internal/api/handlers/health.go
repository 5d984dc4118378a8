// Package handlers provides HTTP request handlers for the netman API.
// This file implements health check and system status endpoints.
package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/anstrom/netman/internal/logging"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// QueueReporter reports the worker pool backlog.
type QueueReporter interface {
	QueueLength() int
}

// Timeout constants.
const (
	healthCheckTimeout = 5 * time.Second
)

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// Version is set at build time.
var Version = "dev"

// HealthHandler handles health check and status endpoints.
type HealthHandler struct {
	database  DatabasePinger
	queue     QueueReporter
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. Either dependency may be nil.
func NewHealthHandler(database DatabasePinger, queue QueueReporter, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		database:  database,
		queue:     queue,
		logger:    logger.WithFields("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// LivenessResponse represents a simple liveness check response.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// StatusResponse represents a detailed status response.
type StatusResponse struct {
	Version     string    `json:"version"`
	GoVersion   string    `json:"go_version"`
	PID         int       `json:"pid"`
	StartTime   time.Time `json:"start_time"`
	Uptime      string    `json:"uptime"`
	Goroutines  int       `json:"goroutines"`
	QueueLength int       `json:"queue_length"`
	Timestamp   time.Time `json:"timestamp"`
}

// Health performs a health check of the service dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]string),
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			response.Status = StatusUnhealthy
			response.Checks["database"] = "failed: " + err.Error()
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = StatusNotConfigured
	}

	if h.queue != nil {
		response.Checks["workers"] = "ok"
	} else {
		response.Checks["workers"] = StatusNotConfigured
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}

// Liveness performs a simple liveness check without dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
	})
}

// Status reports process information and the worker backlog.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version:    Version,
		GoVersion:  runtime.Version(),
		PID:        os.Getpid(),
		StartTime:  h.startTime,
		Uptime:     time.Since(h.startTime).String(),
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now().UTC(),
	}
	if h.queue != nil {
		response.QueueLength = h.queue.QueueLength()
	}
	writeJSON(w, r, http.StatusOK, response)
}
