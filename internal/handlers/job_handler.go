// -----------------------------------------------------------------------
// Job HTTP handlers - submission, inspection, cancellation
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/jobs"
	"github.com/ternarybob/mitto/internal/models"
)

// JobHandler serves the /api/jobs and /api/sessions endpoints
type JobHandler struct {
	scheduler interfaces.SchedulerService
	storage   interfaces.JobStorage
	logger    arbor.ILogger
}

// NewJobHandler creates the handler
func NewJobHandler(scheduler interfaces.SchedulerService, storage interfaces.JobStorage) *JobHandler {
	return &JobHandler{
		scheduler: scheduler,
		storage:   storage,
		logger:    common.GetLogger(),
	}
}

// Submit handles POST /api/jobs
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.scheduler.Submit(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrSchedulerStopped):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, jobs.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, jobs.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// List handles GET /api/jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := models.JobListFilter{
		SessionID: query.Get("session_id"),
		Category:  query.Get("category"),
	}
	if status := query.Get("status"); status != "" {
		parsed := models.JobStatus(status)
		if !parsed.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown status: "+status)
			return
		}
		filter.Status = parsed
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	filter.IncludeCleared = query.Get("include_cleared") == "true"

	list, err := h.storage.ListJobs(filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// Get handles GET /api/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.storage.GetJob(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to get job")
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/jobs/{id}/cancel
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.scheduler.Cancel(id); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to cancel job")
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

// CancelSession handles POST /api/sessions/{id}/cancel
func (h *JobHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	count, err := h.scheduler.CancelSession(sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to cancel session")
		writeError(w, http.StatusInternalServerError, "failed to cancel session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"canceled": count})
}

// ClearSession handles POST /api/sessions/{id}/clear.
// Only terminal jobs are cleared; active ones stay visible.
func (h *JobHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	list, err := h.storage.ListJobs(models.JobListFilter{SessionID: sessionID})
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to list session jobs")
		writeError(w, http.StatusInternalServerError, "failed to clear session history")
		return
	}

	var ids []string
	for _, job := range list {
		if job.IsTerminal() {
			ids = append(ids, job.ID)
		}
	}

	count, err := h.storage.MarkCleared(ids)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to clear session history")
		writeError(w, http.StatusInternalServerError, "failed to clear session history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": count})
}
