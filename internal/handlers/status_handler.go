// -----------------------------------------------------------------------
// Status and scheduler-control HTTP handlers
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
)

// StatusHandler serves health, stats, and scheduler control endpoints
type StatusHandler struct {
	scheduler interfaces.SchedulerService
	startedAt time.Time
}

// NewStatusHandler creates the handler
func NewStatusHandler(scheduler interfaces.SchedulerService) *StatusHandler {
	return &StatusHandler{
		scheduler: scheduler,
		startedAt: time.Now(),
	}
}

// Status handles GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": common.GetVersion(),
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"paused":  h.scheduler.IsPaused(),
	})
}

// Stats handles GET /api/scheduler/stats
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Stats())
}

// Pause handles POST /api/scheduler/pause
func (h *StatusHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"state": "paused"})
}

// Resume handles POST /api/scheduler/resume
func (h *StatusHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"state": "running"})
}
