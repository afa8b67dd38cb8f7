// -----------------------------------------------------------------------
// Scheduler - composition root for the job lifecycle
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/models"
)

// Scheduler wires the queue, admission controller, storage, and providers
// into one lifecycle. Submit is the only way work enters the system;
// everything after it is asynchronous and observed through events.
type Scheduler struct {
	config    *common.SchedulerConfig
	storage   interfaces.JobStorage
	providers interfaces.ProviderRegistry
	events    interfaces.EventService
	queue     *PriorityQueue
	admission *AdmissionController
	validate  *validator.Validate
	logger    arbor.ILogger

	mu       sync.Mutex
	paused   bool
	started  bool
	stopped  bool
	rootCtx  context.Context
	rootStop context.CancelFunc
	wg       sync.WaitGroup

	totalSubmitted atomic.Uint64
	totalCompleted atomic.Uint64
	totalFailed    atomic.Uint64
	totalCanceled  atomic.Uint64
}

// NewScheduler creates a scheduler. Start must be called before Submit.
func NewScheduler(
	config *common.SchedulerConfig,
	storage interfaces.JobStorage,
	providers interfaces.ProviderRegistry,
	events interfaces.EventService,
) *Scheduler {
	return &Scheduler{
		config:    config,
		storage:   storage,
		providers: providers,
		events:    events,
		queue:     NewPriorityQueue(config.PriorityCategories),
		admission: NewAdmissionController(config),
		validate:  validator.New(),
		logger:    common.GetLogger(),
	}
}

// Start recovers persisted state and launches the drain loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.rootCtx, s.rootStop = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.recoverPersistedJobs(); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.drainLoop()

	s.logger.Info().
		Int("global_limit", s.config.GlobalLimit).
		Int("session_limit", s.config.SessionLimit).
		Msg("Scheduler started")

	return nil
}

// Stop cancels in-flight jobs and waits for their goroutines to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	canceled := s.admission.CancelAll()
	s.rootStop()
	s.wg.Wait()

	s.logger.Info().
		Int("canceled", canceled).
		Msg("Scheduler stopped")

	return nil
}

// Submit validates the request, persists a new job in the queued state,
// and enqueues it. The job runs as soon as admission allows.
func (s *Scheduler) Submit(ctx context.Context, req *models.SubmitRequest) (*models.Job, error) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}
	s.mu.Unlock()

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid submit request: %w", err)
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = s.providers.Default().Name()
	}
	if _, err := s.providers.Get(providerName); err != nil {
		return nil, err
	}

	job := models.NewJob(req.SessionID, req.Category, providerName, strings.TrimSpace(req.Input), req.Priority)
	job.MergeMetadata(req.Metadata)

	queued, err := Transition(job, models.JobStatusQueued, Fields{})
	if err != nil {
		return nil, err
	}

	if err := s.storage.CreateJob(queued); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.totalSubmitted.Add(1)
	s.queue.Enqueue(queued)
	s.publishStatus(queued)

	s.logger.Info().
		Str("job_id", queued.ID).
		Str("session_id", queued.SessionID).
		Str("category", queued.Category).
		Int("priority", queued.Priority).
		Msg("Job submitted")

	s.drain()

	return queued, nil
}

// Requeue puts a recovered job back into the in-memory queue.
// Used by the recovery sweep after it repairs an abandoned claim.
func (s *Scheduler) Requeue(job *models.Job) {
	if s.queue.Contains(job.ID) || s.admission.IsActive(job.ID) {
		return
	}
	s.queue.Enqueue(job)
	s.drain()
}

// IsTracked reports whether a job is currently queued or in flight in
// this process. The recovery sweep uses it to leave live claims alone.
func (s *Scheduler) IsTracked(jobID string) bool {
	return s.queue.Contains(jobID) || s.admission.IsActive(jobID)
}

// Cancel cancels one job wherever it currently is: queued jobs are removed
// and finalized directly, in-flight jobs have their context canceled and
// are finalized by the run loop. Canceling a terminal job is a no-op.
func (s *Scheduler) Cancel(jobID string) error {
	if queued := s.queue.Remove(jobID); queued != nil {
		return s.finalizeCanceled(queued, "canceled while queued")
	}

	if s.admission.Cancel(jobID) {
		s.logger.Info().Str("job_id", jobID).Msg("Cancellation signaled to running job")
		return nil
	}

	job, err := s.storage.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	// Active in storage but tracked nowhere: an abandoned claim from a
	// previous process. Finalize it directly.
	return s.finalizeCanceled(job, "canceled while untracked")
}

// CancelSession cancels every active job for a session, queued or running
func (s *Scheduler) CancelSession(sessionID string) (int, error) {
	count := 0

	for _, job := range s.queue.RemoveSession(sessionID) {
		if err := s.finalizeCanceled(job, "session canceled"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize canceled job")
			continue
		}
		count++
	}

	count += s.admission.CancelSession(sessionID)

	return count, nil
}

// Pause stops the drain loop from dequeuing. Running jobs continue.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.publishSchedulerState("paused")
	s.logger.Info().Msg("Scheduler paused")
}

// Resume restarts dequeuing and immediately drains
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.publishSchedulerState("running")
	s.logger.Info().Msg("Scheduler resumed")
	s.drain()
}

// IsPaused reports whether dequeuing is suspended
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stats returns a snapshot of queue depth and admission counters
func (s *Scheduler) Stats() models.QueueStats {
	total, perSession, perCategory := s.admission.Snapshot()
	return models.QueueStats{
		QueueDepth:     s.queue.Len(),
		Running:        total,
		GlobalLimit:    s.config.GlobalLimit,
		PerSession:     perSession,
		PerCategory:    perCategory,
		TotalSubmitted: s.totalSubmitted.Load(),
		TotalCompleted: s.totalCompleted.Load(),
		TotalFailed:    s.totalFailed.Load(),
		TotalCanceled:  s.totalCanceled.Load(),
	}
}

// recoverPersistedJobs reloads non-terminal jobs after a restart.
// Queued and acknowledged jobs go back into the queue; jobs recorded as
// running belong to a dead process and are failed.
func (s *Scheduler) recoverPersistedJobs() error {
	active, err := s.storage.ListActiveJobs("", 0)
	if err != nil {
		return err
	}

	requeued, failed := 0, 0
	for _, job := range active {
		switch job.Status {
		case models.JobStatusQueued:
			s.queue.Enqueue(job)
			requeued++
		case models.JobStatusAcknowledged:
			repaired, err := Transition(job, models.JobStatusQueued, Fields{})
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to requeue acknowledged job")
				continue
			}
			if ok, err := s.storage.CompareAndSetStatus(repaired, models.JobStatusAcknowledged); err != nil || !ok {
				continue
			}
			s.queue.Enqueue(repaired)
			requeued++
		case models.JobStatusRunning, models.JobStatusPreparing, models.JobStatusIdle:
			errText := "interrupted by restart"
			finalized, err := Transition(job, models.JobStatusFailed, Fields{ErrorText: &errText})
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize interrupted job")
				continue
			}
			if err := s.storage.SaveJob(finalized); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist interrupted job")
				continue
			}
			failed++
		}
	}

	if requeued > 0 || failed > 0 {
		s.logger.Info().
			Int("requeued", requeued).
			Int("interrupted", failed).
			Msg("Recovered persisted jobs")
	}

	return nil
}

// drainLoop is the safety-net ticker. The primary drain triggers are
// submission and job completion; the ticker catches anything those miss,
// such as capacity freed by an external cancellation.
func (s *Scheduler) drainLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.DrainIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-s.rootCtx.Done():
			return
		case <-ticker.C:
			s.drain()
		}
	}
}

// drain starts every queued job the admission controller will accept.
// Admission happens inside the dequeue callback, under the queue lock,
// so a job is never outside both the queue and the registry: cancellation
// always finds it in one place or the other, and a job that fails
// admission keeps its position.
func (s *Scheduler) drain() {
	s.mu.Lock()
	if s.paused || s.stopped || !s.started {
		s.mu.Unlock()
		return
	}
	rootCtx := s.rootCtx
	s.mu.Unlock()

	for {
		job := s.queue.DequeueAdmissible(func(j *models.Job) bool {
			return s.tryStart(rootCtx, j)
		})
		if job == nil {
			return
		}
	}
}

// tryStart hands the job to a worker goroutine and reports success only
// once the worker holds an admission slot, so the caller can remove the
// job from the queue atomically with its registration.
func (s *Scheduler) tryStart(rootCtx context.Context, job *models.Job) bool {
	if ok, _ := s.admission.HasCapacity(job.SessionID, job.Category); !ok {
		return false
	}

	admitted := make(chan bool, 1)
	s.wg.Add(1)
	go s.run(rootCtx, job, admitted)
	return <-admitted
}

// run holds an admission slot for the whole of one job's execution.
// RunWithTracking pairs admission with release, so the slot is freed no
// matter how execute exits; the follow-up drain reuses the freed
// capacity. The admitted signal fires before execution starts, while the
// dequeue callback is still waiting on it.
func (s *Scheduler) run(rootCtx context.Context, job *models.Job, admitted chan<- bool) {
	defer s.wg.Done()

	ok := s.admission.RunWithTracking(rootCtx, job.ID, job.SessionID, job.Category, func(ctx context.Context) {
		admitted <- true
		s.execute(ctx, job)
	})
	if !ok {
		admitted <- false
		return
	}

	s.drain()
}

// execute runs one admitted job to a terminal state
func (s *Scheduler) execute(ctx context.Context, job *models.Job) {
	acked, err := s.advance(job, models.JobStatusAcknowledged, Fields{})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to acknowledge job")
		return
	}

	running, err := s.advance(acked, models.JobStatusRunning, Fields{})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to start job")
		return
	}

	provider, err := s.providers.Get(running.Provider)
	if err != nil {
		s.finalizeFailed(running, FailureInternal, err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeoutDuration())
	defer cancel()

	collector := newPartialCollector(s, running, s.config.PartialFlushIntervalDuration())

	result, err := provider.Invoke(runCtx, running, collector)
	if err != nil {
		s.finalizeRunError(running, runCtx, err)
		return
	}

	fields := Fields{
		Output:    &result.Output,
		Telemetry: &result.Telemetry,
	}
	completed, err := s.advance(running, models.JobStatusCompleted, fields)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record completion")
		return
	}

	s.totalCompleted.Add(1)
	s.logger.Info().
		Str("job_id", completed.ID).
		Int("tokens_received", completed.Telemetry.TokensReceived).
		Msg("Job completed")
}

// finalizeRunError maps a provider or context error onto a terminal state
func (s *Scheduler) finalizeRunError(job *models.Job, runCtx context.Context, err error) {
	kind := ClassifyError(err)

	// The provider may surface a canceled context as its own error type;
	// the registry knows whether cancellation was requested.
	if s.admission.IsCancelled(job.ID) {
		kind = FailureCanceled
	} else if kind == FailureCanceled && runCtx.Err() == context.DeadlineExceeded {
		kind = FailureTimeout
	}

	switch kind {
	case FailureCanceled:
		if err := s.finalizeCanceled(job, "canceled while running"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize canceled job")
		}
	case FailureTimeout:
		s.finalizeFailed(job, kind, fmt.Errorf("exceeded job timeout of %s", s.config.JobTimeoutDuration()))
	default:
		s.finalizeFailed(job, kind, err)
	}
}

func (s *Scheduler) finalizeFailed(job *models.Job, kind FailureKind, cause error) {
	errText := fmt.Sprintf("%s: %v", kind, cause)
	failed, err := s.advance(job, models.JobStatusFailed, Fields{ErrorText: &errText})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record failure")
		return
	}
	s.totalFailed.Add(1)
	s.logger.Warn().
		Str("job_id", failed.ID).
		Str("kind", string(kind)).
		Str("error", errText).
		Msg("Job failed")
}

func (s *Scheduler) finalizeCanceled(job *models.Job, reason string) error {
	canceled, err := s.advance(job, models.JobStatusCanceled, Fields{ErrorText: &reason})
	if err != nil {
		return err
	}
	s.totalCanceled.Add(1)
	s.logger.Info().
		Str("job_id", canceled.ID).
		Str("reason", reason).
		Msg("Job canceled")
	return nil
}

// advance applies a transition, persists it, and publishes the change.
// A failed write is logged but never aborts the in-flight operation: the
// run keeps going with the in-memory record, and the next write or the
// recovery sweep reconciles storage.
func (s *Scheduler) advance(job *models.Job, status models.JobStatus, fields Fields) (*models.Job, error) {
	updated, err := Transition(job, status, fields)
	if err != nil {
		return nil, err
	}
	if err := s.storage.SaveJob(updated); err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", updated.ID).
			Str("status", string(status)).
			Msg("Failed to persist status change")
	}
	s.publishStatus(updated)
	return updated, nil
}

func (s *Scheduler) publishStatus(job *models.Job) {
	if s.events == nil {
		return
	}
	s.events.Publish(interfaces.Event{
		Type:      interfaces.EventTypeJobStatusChanged,
		Timestamp: time.Now(),
		JobID:     job.ID,
		SessionID: job.SessionID,
		Payload:   job,
	})
}

func (s *Scheduler) publishSchedulerState(state string) {
	if s.events == nil {
		return
	}
	s.events.Publish(interfaces.Event{
		Type:      interfaces.EventTypeSchedulerState,
		Timestamp: time.Now(),
		Payload:   map[string]string{"state": state},
	})
}

// partialCollector accumulates streamed output and persists it at a
// bounded rate so observers can read progress without hammering storage.
type partialCollector struct {
	scheduler *Scheduler
	job       *models.Job
	interval  time.Duration

	mu        sync.Mutex
	buf       strings.Builder
	lastFlush time.Time
}

func newPartialCollector(s *Scheduler, job *models.Job, interval time.Duration) *partialCollector {
	return &partialCollector{
		scheduler: s,
		job:       job,
		interval:  interval,
		lastFlush: time.Now(),
	}
}

// Append accumulates one streamed fragment, publishes a progress event,
// and flushes the partial output to storage when the interval has elapsed.
func (c *partialCollector) Append(delta string) {
	c.mu.Lock()
	c.buf.WriteString(delta)
	shouldFlush := time.Since(c.lastFlush) >= c.interval
	if shouldFlush {
		c.lastFlush = time.Now()
	}
	partial := c.buf.String()
	c.mu.Unlock()

	if c.scheduler.events != nil {
		c.scheduler.events.Publish(interfaces.Event{
			Type:      interfaces.EventTypeJobProgress,
			Timestamp: time.Now(),
			JobID:     c.job.ID,
			SessionID: c.job.SessionID,
			Payload:   map[string]interface{}{"chars": len(partial)},
		})
	}

	if !shouldFlush {
		return
	}

	snapshot := c.job.Clone()
	snapshot.Output = partial
	snapshot.Telemetry.CharsReceived = len(partial)
	snapshot.UpdatedAt = time.Now()
	snapshot.LastUpdate = snapshot.UpdatedAt
	if err := c.scheduler.storage.SaveJob(snapshot); err != nil {
		c.scheduler.logger.Debug().Err(err).Str("job_id", c.job.ID).Msg("Partial output flush failed")
	}
}

// Reset discards accumulated output. Providers call it when a retry
// restarts the stream, so replayed fragments start from an empty buffer.
func (c *partialCollector) Reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
}
