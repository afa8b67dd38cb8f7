// -----------------------------------------------------------------------
// Admission controller - concurrency limits and cancellation registry
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"sync"

	"github.com/ternarybob/mitto/internal/common"
)

// trackedJob is one in-flight job's registry entry
type trackedJob struct {
	sessionID string
	category  string
	cancel    context.CancelFunc
	canceled  bool
}

// AdmissionController enforces global, per-session, and per-category
// concurrency limits and owns the cancellation token for every job in
// flight. All checks are O(1) against counters; nothing here touches
// storage.
type AdmissionController struct {
	mu       sync.Mutex
	config   *common.SchedulerConfig
	active   map[string]*trackedJob
	sessions map[string]int
	category map[string]int
}

// NewAdmissionController creates a controller with the configured limits
func NewAdmissionController(config *common.SchedulerConfig) *AdmissionController {
	return &AdmissionController{
		config:   config,
		active:   make(map[string]*trackedJob),
		sessions: make(map[string]int),
		category: make(map[string]int),
	}
}

// HasCapacity reports whether a job for the session and category could be
// admitted right now, with a human-readable reason on rejection.
func (a *AdmissionController) HasCapacity(sessionID, category string) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasCapacityLocked(sessionID, category)
}

func (a *AdmissionController) hasCapacityLocked(sessionID, category string) (bool, string) {
	if len(a.active) >= a.config.GlobalLimit {
		return false, "global limit reached"
	}
	if a.sessions[sessionID] >= a.config.SessionLimit {
		return false, "session limit reached"
	}
	if a.category[category] >= a.config.LimitForCategory(category) {
		return false, "category limit reached"
	}
	return true, ""
}

// TryAdmit atomically checks capacity and registers the job. On success it
// returns a context derived from parent whose cancellation is owned by the
// registry. Callers must call Release when the job finishes.
func (a *AdmissionController) TryAdmit(parent context.Context, jobID, sessionID, category string) (context.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.active[jobID]; exists {
		return nil, false
	}
	if ok, _ := a.hasCapacityLocked(sessionID, category); !ok {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	a.active[jobID] = &trackedJob{
		sessionID: sessionID,
		category:  category,
		cancel:    cancel,
	}
	a.sessions[sessionID]++
	a.category[category]++

	return ctx, true
}

// RunWithTracking admits the job, runs fn with the registry-owned context,
// and releases the slot when fn returns. Admission and release always pair,
// so counters cannot leak on a panic in fn either. Returns false without
// running fn when the job could not be admitted.
func (a *AdmissionController) RunWithTracking(parent context.Context, jobID, sessionID, category string, fn func(ctx context.Context)) bool {
	ctx, ok := a.TryAdmit(parent, jobID, sessionID, category)
	if !ok {
		return false
	}
	defer a.Release(jobID)
	fn(ctx)
	return true
}

// Release removes the job from the registry and decrements its counters.
// Safe to call for a job that was never admitted.
func (a *AdmissionController) Release(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tracked, ok := a.active[jobID]
	if !ok {
		return
	}
	tracked.cancel()
	delete(a.active, jobID)

	if a.sessions[tracked.sessionID] <= 1 {
		delete(a.sessions, tracked.sessionID)
	} else {
		a.sessions[tracked.sessionID]--
	}
	if a.category[tracked.category] <= 1 {
		delete(a.category, tracked.category)
	} else {
		a.category[tracked.category]--
	}
}

// Cancel cancels one in-flight job. Returns false if the job is not
// currently tracked.
func (a *AdmissionController) Cancel(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	tracked, ok := a.active[jobID]
	if !ok {
		return false
	}
	tracked.canceled = true
	tracked.cancel()
	return true
}

// CancelSession cancels every in-flight job for a session.
// Returns the number of jobs canceled.
func (a *AdmissionController) CancelSession(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for _, tracked := range a.active {
		if tracked.sessionID == sessionID && !tracked.canceled {
			tracked.canceled = true
			tracked.cancel()
			count++
		}
	}
	return count
}

// CancelAll cancels every in-flight job. Used during shutdown.
func (a *AdmissionController) CancelAll() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for _, tracked := range a.active {
		if !tracked.canceled {
			tracked.canceled = true
			tracked.cancel()
			count++
		}
	}
	return count
}

// IsActive reports whether the job is currently tracked
func (a *AdmissionController) IsActive(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[jobID]
	return ok
}

// IsCancelled reports whether a tracked job has been canceled but not yet
// released. Lets the run loop distinguish cancellation from provider
// failure when the stream error is ambiguous.
func (a *AdmissionController) IsCancelled(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	tracked, ok := a.active[jobID]
	return ok && tracked.canceled
}

// Snapshot returns current in-flight counts
func (a *AdmissionController) Snapshot() (total int, perSession map[string]int, perCategory map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	perSession = make(map[string]int, len(a.sessions))
	for k, v := range a.sessions {
		perSession[k] = v
	}
	perCategory = make(map[string]int, len(a.category))
	for k, v := range a.category {
		perCategory[k] = v
	}
	return len(a.active), perSession, perCategory
}
