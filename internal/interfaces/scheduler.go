package interfaces

import (
	"context"

	"github.com/ternarybob/mitto/internal/models"
)

// SchedulerService is the single entry point for the job lifecycle.
// Submissions flow through admission and the priority queue; everything
// downstream of Submit is asynchronous.
type SchedulerService interface {
	// Submit validates, persists, and enqueues a new job.
	// The returned job is in the queued state.
	Submit(ctx context.Context, req *models.SubmitRequest) (*models.Job, error)

	// Cancel cancels one job by ID, wherever it is in its lifecycle
	Cancel(jobID string) error

	// CancelSession cancels every active job for a session.
	// Returns the number of jobs canceled.
	CancelSession(sessionID string) (int, error)

	// Pause stops dequeuing new work; running jobs continue
	Pause()

	// Resume restarts dequeuing
	Resume()

	// IsPaused reports whether the scheduler is paused
	IsPaused() bool

	// Stats returns a snapshot of queue and admission state
	Stats() models.QueueStats

	// Start launches the drain loop and background sweeps
	Start(ctx context.Context) error

	// Stop cancels running jobs and halts the loops
	Stop() error
}
