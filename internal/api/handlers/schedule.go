// Package handlers provides HTTP request handlers for the netman API.
// This file implements schedule listing and manual triggering.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/scheduler"
)

// Scheduler is the part of *scheduler.Scheduler the schedule endpoints use.
type Scheduler interface {
	Entries() []scheduler.Entry
	Trigger(name string) error
}

// ScheduleHandler handles schedule endpoints.
type ScheduleHandler struct {
	scheduler Scheduler
	logger    *logging.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(s Scheduler, logger *logging.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduler: s,
		logger:    logger.WithFields("handler", "schedule"),
	}
}

// ScheduleResponse represents a schedule response.
type ScheduleResponse struct {
	Name    string     `json:"name"`
	Kind    string     `json:"kind"`
	Cron    string     `json:"cron"`
	Network string     `json:"network,omitempty"`
	Running bool       `json:"running"`
	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func scheduleToResponse(e scheduler.Entry) ScheduleResponse {
	resp := ScheduleResponse{
		Name:    e.Name,
		Kind:    e.Kind,
		Cron:    e.Cron,
		Network: e.Network,
		Running: e.Running,
	}
	if !e.LastRun.IsZero() {
		last := e.LastRun.UTC()
		resp.LastRun = &last
	}
	if !e.NextRun.IsZero() {
		next := e.NextRun.UTC()
		resp.NextRun = &next
	}
	return resp
}

// ListSchedules returns every configured schedule.
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	entries := h.scheduler.Entries()
	schedules := make([]ScheduleResponse, 0, len(entries))
	for _, e := range entries {
		schedules = append(schedules, scheduleToResponse(e))
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": schedules})
}

// TriggerSchedule starts a schedule run in the background.
func (h *ScheduleHandler) TriggerSchedule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	found := false
	for _, e := range h.scheduler.Entries() {
		if e.Name == name {
			found = true
			break
		}
	}
	if !found {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("schedule %s not found", name))
		return
	}

	go func() {
		if err := h.scheduler.Trigger(name); err != nil {
			h.logger.Error("Triggered schedule failed", "name", name, "error", err)
		}
	}()

	writeJSON(w, r, http.StatusAccepted, map[string]interface{}{
		"status":    "triggered",
		"name":      name,
		"timestamp": time.Now().UTC(),
	})
}
