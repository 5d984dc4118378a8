// Package handlers provides HTTP request handlers for the netman API.
// This file implements device listing, discovery and scan endpoints.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/api/middleware"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/services"
	"github.com/anstrom/netman/internal/workers"
)

// DeviceService is the part of services.DeviceService the device endpoints use.
type DeviceService interface {
	Discover(ctx context.Context, req services.DiscoverRequest) (*device.Device, error)
	Scan(ctx context.Context, id uuid.UUID) (*device.Device, error)
	Get(ctx context.Context, id uuid.UUID) (*device.Device, error)
	List(ctx context.Context, filter db.DeviceFilter) ([]*device.Device, int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Sweep(ctx context.Context, network string) ([]string, error)
	DiscoverJob(req services.DiscoverRequest) *workers.DiscoverJob
	ScanJob(id uuid.UUID) *workers.ScanJob
}

// JobSubmitter queues background jobs; *workers.Pool implements it.
type JobSubmitter interface {
	Submit(job workers.Job) error
}

// DeviceHandler handles device endpoints.
type DeviceHandler struct {
	service        DeviceService
	jobs           JobSubmitter
	validator      *validator.Validate
	logger         *logging.Logger
	maxRequestSize int64
}

// NewDeviceHandler creates a new device handler.
func NewDeviceHandler(
	service DeviceService,
	jobs JobSubmitter,
	logger *logging.Logger,
	maxRequestSize int64,
) *DeviceHandler {
	return &DeviceHandler{
		service:        service,
		jobs:           jobs,
		validator:      validator.New(),
		logger:         logger.WithFields("handler", "devices"),
		maxRequestSize: maxRequestSize,
	}
}

// SweepRequest asks for a network sweep.
type SweepRequest struct {
	Network string `json:"network" validate:"required,cidr"`
}

// JobResponse acknowledges a queued job.
type JobResponse struct {
	Status    string     `json:"status"`
	IP        string     `json:"ip,omitempty"`
	DeviceID  *uuid.UUID `json:"device_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id"`
}

// SweepResponse lists the hosts a sweep queued for discovery.
type SweepResponse struct {
	Network   string    `json:"network"`
	Hosts     []string  `json:"hosts"`
	Queued    int       `json:"queued"`
	Timestamp time.Time `json:"timestamp"`
}

// ListDevices returns a page of stored devices, optionally filtered by type and name.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	params, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	query := r.URL.Query()
	devices, total, err := h.service.List(r.Context(), db.DeviceFilter{
		Type:   query.Get("type"),
		Name:   query.Get("name"),
		Limit:  params.PageSize,
		Offset: params.Offset,
	})
	if err != nil {
		handleServiceError(w, r, err, "list", "devices", h.logger)
		return
	}
	if devices == nil {
		devices = []*device.Device{}
	}
	writePaginatedResponse(w, r, devices, params, total)
}

// GetDevice returns one device.
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	dev, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "get", "device", h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, dev)
}

// DeleteDevice removes one device.
func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err, "delete", "device", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscoverDevice queues discovery of an address or stored device. With
// ?wait=true it runs inline and returns the stored device.
func (h *DeviceHandler) DiscoverDevice(w http.ResponseWriter, r *http.Request) {
	var req services.DiscoverRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	if wait(r) {
		dev, err := h.service.Discover(r.Context(), req)
		if err != nil {
			handleServiceError(w, r, err, "discover", "device", h.logger)
			return
		}
		writeJSON(w, r, http.StatusOK, dev)
		return
	}

	if err := h.jobs.Submit(h.service.DiscoverJob(req)); err != nil {
		handleServiceError(w, r, err, "queue discovery of", "device", h.logger)
		return
	}
	h.logger.Info("Discovery queued", "request_id", middleware.GetRequestID(r), "ip", req.IP)
	writeJSON(w, r, http.StatusAccepted, JobResponse{
		Status:    "queued",
		IP:        req.IP,
		DeviceID:  req.DeviceID,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

// ScanDevice queues a rescan of a stored device. With ?wait=true it runs
// inline and returns the updated device.
func (h *DeviceHandler) ScanDevice(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if wait(r) {
		dev, err := h.service.Scan(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err, "scan", "device", h.logger)
			return
		}
		writeJSON(w, r, http.StatusOK, dev)
		return
	}

	// Resolve first so unknown IDs fail here rather than in the worker.
	if _, err := h.service.Get(r.Context(), id); err != nil {
		handleServiceError(w, r, err, "get", "device", h.logger)
		return
	}
	if err := h.jobs.Submit(h.service.ScanJob(id)); err != nil {
		handleServiceError(w, r, err, "queue scan of", "device", h.logger)
		return
	}
	writeJSON(w, r, http.StatusAccepted, JobResponse{
		Status:    "queued",
		DeviceID:  &id,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

// SweepNetwork finds responsive hosts in a network and queues their discovery.
func (h *DeviceHandler) SweepNetwork(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	hosts, err := h.service.Sweep(r.Context(), req.Network)
	if err != nil {
		handleServiceError(w, r, err, "sweep", "network", h.logger)
		return
	}

	queued := 0
	for _, ip := range hosts {
		if err := h.jobs.Submit(h.service.DiscoverJob(services.DiscoverRequest{IP: ip})); err != nil {
			h.logger.Warn("Stopped queueing sweep results", "network", req.Network,
				"queued", queued, "hosts", len(hosts), "error", err)
			break
		}
		queued++
	}

	if hosts == nil {
		hosts = []string{}
	}
	writeJSON(w, r, http.StatusAccepted, SweepResponse{
		Network:   req.Network,
		Hosts:     hosts,
		Queued:    queued,
		Timestamp: time.Now().UTC(),
	})
}

func wait(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("wait"))
	return err == nil && v
}
