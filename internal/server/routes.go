package server

import (
	"net/http"

	"github.com/ternarybob/mitto/internal/handlers"
)

// buildRoutes registers every endpoint on a fresh mux
func buildRoutes(job *handlers.JobHandler, status *handlers.StatusHandler, ws *handlers.WebSocketHandler) http.Handler {
	mux := http.NewServeMux()

	// Jobs
	mux.HandleFunc("POST /api/jobs", job.Submit)
	mux.HandleFunc("GET /api/jobs", job.List)
	mux.HandleFunc("GET /api/jobs/{id}", job.Get)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", job.Cancel)

	// Sessions
	mux.HandleFunc("POST /api/sessions/{id}/cancel", job.CancelSession)
	mux.HandleFunc("POST /api/sessions/{id}/clear", job.ClearSession)

	// Scheduler control and health
	mux.HandleFunc("GET /api/status", status.Status)
	mux.HandleFunc("GET /api/scheduler/stats", status.Stats)
	mux.HandleFunc("POST /api/scheduler/pause", status.Pause)
	mux.HandleFunc("POST /api/scheduler/resume", status.Resume)

	// Event stream
	mux.HandleFunc("GET /ws", ws.Handle)

	return chain(mux, recoveryMiddleware, corsMiddleware, loggingMiddleware)
}
