// -----------------------------------------------------------------------
// Priority queue - ordered buffer between admission and execution
// -----------------------------------------------------------------------

package jobs

import (
	"sort"
	"sync"

	"github.com/ternarybob/mitto/internal/models"
)

// queueEntry pairs a job with its enqueue sequence number for FIFO
// tie-breaking.
type queueEntry struct {
	job *models.Job
	seq uint64
}

// PriorityQueue orders pending jobs by: priority category membership first,
// then numeric priority descending, then enqueue order. It never blocks;
// dequeuing is driven by the scheduler's drain loop.
type PriorityQueue struct {
	mu          sync.Mutex
	entries     []*queueEntry
	nextSeq     uint64
	priorityCat map[string]bool
}

// NewPriorityQueue creates a queue. Jobs in priorityCategories always sort
// ahead of jobs that are not, regardless of numeric priority.
func NewPriorityQueue(priorityCategories []string) *PriorityQueue {
	cats := make(map[string]bool, len(priorityCategories))
	for _, c := range priorityCategories {
		cats[c] = true
	}
	return &PriorityQueue{priorityCat: cats}
}

// less reports whether entry i sorts ahead of entry j
func (q *PriorityQueue) less(i, j *queueEntry) bool {
	iPri := q.priorityCat[i.job.Category]
	jPri := q.priorityCat[j.job.Category]
	if iPri != jPri {
		return iPri
	}
	if i.job.Priority != j.job.Priority {
		return i.job.Priority > j.job.Priority
	}
	return i.seq < j.seq
}

// Enqueue inserts a job in sorted position
func (q *PriorityQueue) Enqueue(job *models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := &queueEntry{job: job, seq: q.nextSeq}
	q.nextSeq++

	idx := sort.Search(len(q.entries), func(i int) bool {
		return q.less(entry, q.entries[i])
	})
	q.entries = append(q.entries, nil)
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = entry
}

// DequeueAdmissible removes and returns the highest-ordered job for which
// admit returns true. admit runs under the queue lock, so a true return
// is atomic with the job's removal; concurrent removals by ID or session
// cannot observe a job that is neither queued nor claimed. Jobs that fail
// the check stay in place with their order preserved. Returns nil when
// nothing is admitted.
func (q *PriorityQueue) DequeueAdmissible(admit func(job *models.Job) bool) *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.entries {
		if admit(entry.job) {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return entry.job
		}
	}
	return nil
}

// Remove deletes one job by ID. Returns the job if it was queued.
func (q *PriorityQueue) Remove(jobID string) *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.entries {
		if entry.job.ID == jobID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return entry.job
		}
	}
	return nil
}

// RemoveSession deletes every queued job for a session, returning them
func (q *PriorityQueue) RemoveSession(sessionID string) []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeWhere(func(j *models.Job) bool { return j.SessionID == sessionID })
}

// RemoveCategory deletes every queued job in a category, returning them.
// A non-empty sessionID narrows the removal to that session's jobs.
func (q *PriorityQueue) RemoveCategory(category, sessionID string) []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeWhere(func(j *models.Job) bool {
		return j.Category == category && (sessionID == "" || j.SessionID == sessionID)
	})
}

func (q *PriorityQueue) removeWhere(match func(*models.Job) bool) []*models.Job {
	var removed []*models.Job
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if match(entry.job) {
			removed = append(removed, entry.job)
		} else {
			kept = append(kept, entry)
		}
	}
	// Zero the tail so removed entries are not retained
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	return removed
}

// Contains reports whether a job is currently queued
func (q *PriorityQueue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range q.entries {
		if entry.job.ID == jobID {
			return true
		}
	}
	return false
}

// Len returns the number of queued jobs
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns the queued jobs in dequeue order
func (q *PriorityQueue) Snapshot() []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Job, len(q.entries))
	for i, entry := range q.entries {
		out[i] = entry.job
	}
	return out
}
