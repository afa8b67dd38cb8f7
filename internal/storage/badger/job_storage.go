// -----------------------------------------------------------------------
// Job persistence over badgerhold
// -----------------------------------------------------------------------

package badger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/jobs"
	"github.com/ternarybob/mitto/internal/models"
)

// activeStatuses is every non-terminal status, for index queries
var activeStatuses = []interface{}{
	models.JobStatusIdle,
	models.JobStatusPreparing,
	models.JobStatusQueued,
	models.JobStatusAcknowledged,
	models.JobStatusRunning,
}

// JobStorage implements interfaces.JobStorage over a badgerhold store.
//
// Badger has no conditional update, so CompareAndSetStatus serializes the
// read-check-write under a store-level mutex. That is sufficient here
// because exactly one process owns the database.
type JobStorage struct {
	store *badgerhold.Store
	mu    sync.Mutex
}

// NewJobStorage creates job storage backed by the given connection
func NewJobStorage(conn *Connection) interfaces.JobStorage {
	return &JobStorage{store: conn.Store()}
}

// CreateJob persists a new job record
func (s *JobStorage) CreateJob(job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("cannot create job without ID")
	}
	if err := s.store.Insert(job.ID, job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *JobStorage) GetJob(id string) (*models.Job, error) {
	var job models.Job
	if err := s.store.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// SaveJob overwrites an existing job record
func (s *JobStorage) SaveJob(job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("cannot save job without ID")
	}
	if err := s.store.Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// CompareAndSetStatus replaces the stored record only if its status still
// equals expected. Returns false when another writer got there first.
func (s *JobStorage) CompareAndSetStatus(job *models.Job, expected models.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current models.Job
	if err := s.store.Get(job.ID, &current); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, job.ID)
		}
		return false, fmt.Errorf("failed to read job %s: %w", job.ID, err)
	}

	if current.Status != expected {
		return false, nil
	}

	if err := s.store.Update(job.ID, job); err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return true, nil
}

// ListActiveJobs returns jobs in a non-terminal status, newest first.
// Category narrows the result when set; limit of zero means no limit.
func (s *JobStorage) ListActiveJobs(category string, limit int) ([]*models.Job, error) {
	var found []models.Job
	query := badgerhold.Where("Status").In(activeStatuses...).
		SortBy("CreatedAt").Reverse()
	if err := s.store.Find(&found, query); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	results := make([]*models.Job, 0, len(found))
	for i := range found {
		job := &found[i]
		if category != "" && job.Category != category {
			continue
		}
		results = append(results, job)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// ListJobs returns jobs matching the filter, newest first
func (s *JobStorage) ListJobs(filter models.JobListFilter) ([]*models.Job, error) {
	var query *badgerhold.Query
	if filter.SessionID != "" {
		query = badgerhold.Where("SessionID").Eq(filter.SessionID).Index("SessionID")
	} else if filter.Status != "" {
		query = badgerhold.Where("Status").Eq(filter.Status).Index("Status")
	} else if filter.Category != "" {
		query = badgerhold.Where("Category").Eq(filter.Category).Index("Category")
	} else {
		query = badgerhold.Where("ID").Ne("")
	}

	var found []models.Job
	if err := s.store.Find(&found, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	// Secondary filters applied in memory; the indexed field did the
	// heavy lifting above.
	results := make([]*models.Job, 0, len(found))
	for i := range found {
		job := &found[i]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Category != "" && job.Category != filter.Category {
			continue
		}
		if filter.SessionID != "" && job.SessionID != filter.SessionID {
			continue
		}
		if !filter.IncludeCleared && job.Cleared {
			continue
		}
		results = append(results, job)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// FindStaleAcknowledged returns acknowledged jobs whose last update is
// older than cutoff
func (s *JobStorage) FindStaleAcknowledged(cutoff time.Time) ([]*models.Job, error) {
	var found []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusAcknowledged).Index("Status").
		And("LastUpdate").Lt(cutoff)
	if err := s.store.Find(&found, query); err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}
	return toPointers(found), nil
}

// MarkCleared soft-deletes the given jobs. Missing IDs are skipped.
func (s *JobStorage) MarkCleared(ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		var job models.Job
		if err := s.store.Get(id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			return count, fmt.Errorf("failed to read job %s: %w", id, err)
		}
		if job.Cleared {
			continue
		}
		job.Cleared = true
		job.UpdatedAt = time.Now()
		if err := s.store.Update(job.ID, &job); err != nil {
			return count, fmt.Errorf("failed to mark job %s cleared: %w", job.ID, err)
		}
		count++
	}
	return count, nil
}

// DeleteOlderThan removes jobs older than cutoff. With terminalOnly set,
// only terminal jobs are considered and EndTime is the age anchor; without
// it any job whose last update predates cutoff is removed. EndTime is a
// pointer field, so the age check happens in memory after an indexed scan.
func (s *JobStorage) DeleteOlderThan(cutoff time.Time, terminalOnly bool) (int, error) {
	var query *badgerhold.Query
	if terminalOnly {
		query = badgerhold.Where("Status").In(
			models.JobStatusCompleted,
			models.JobStatusFailed,
			models.JobStatusCanceled,
		).Index("Status")
	} else {
		query = badgerhold.Where("ID").Ne("")
	}

	var found []models.Job
	if err := s.store.Find(&found, query); err != nil {
		return 0, fmt.Errorf("failed to list jobs for retention: %w", err)
	}

	count := 0
	for i := range found {
		job := &found[i]
		if !retentionExpired(job, cutoff, terminalOnly) {
			continue
		}
		if err := s.store.Delete(job.ID, &models.Job{}); err != nil {
			return count, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}
		count++
	}
	return count, nil
}

// retentionExpired anchors terminal jobs on EndTime and everything else on
// the last update time
func retentionExpired(job *models.Job, cutoff time.Time, terminalOnly bool) bool {
	if job.Status.IsTerminal() {
		return job.EndTime != nil && job.EndTime.Before(cutoff)
	}
	if terminalOnly {
		return false
	}
	return job.UpdatedAt.Before(cutoff)
}

// Close is a no-op; the connection owner closes the store
func (s *JobStorage) Close() error {
	return nil
}

func toPointers(found []models.Job) []*models.Job {
	out := make([]*models.Job, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out
}
