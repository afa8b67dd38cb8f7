package interfaces

import (
	"time"

	"github.com/ternarybob/mitto/internal/models"
)

// JobStorage persists jobs. Implementations must make CompareAndSetStatus
// atomic with respect to concurrent callers on the same process.
type JobStorage interface {
	// CreateJob persists a new job record
	CreateJob(job *models.Job) error

	// GetJob retrieves a job by ID. Returns ErrJobNotFound if absent.
	GetJob(id string) (*models.Job, error)

	// SaveJob overwrites an existing job record
	SaveJob(job *models.Job) error

	// CompareAndSetStatus atomically replaces the job only if its stored
	// status equals expected. Returns false without error when the stored
	// status no longer matches.
	CompareAndSetStatus(job *models.Job, expected models.JobStatus) (bool, error)

	// ListActiveJobs returns jobs in a non-terminal status, newest first.
	// An empty category matches all categories; a limit of zero means no
	// limit.
	ListActiveJobs(category string, limit int) ([]*models.Job, error)

	// ListJobs returns jobs matching the filter, newest first
	ListJobs(filter models.JobListFilter) ([]*models.Job, error)

	// FindStaleAcknowledged returns acknowledged jobs not updated since cutoff
	FindStaleAcknowledged(cutoff time.Time) ([]*models.Job, error)

	// MarkCleared soft-deletes the given jobs, hiding them from default
	// listings. Returns the number of jobs marked.
	MarkCleared(ids []string) (int, error)

	// DeleteOlderThan hard-deletes jobs older than cutoff. When terminalOnly
	// is set only terminal jobs (by EndTime) are removed; otherwise any job
	// whose last update predates cutoff goes too. Returns the number deleted.
	DeleteOlderThan(cutoff time.Time, terminalOnly bool) (int, error)

	// Close releases the underlying store
	Close() error
}
