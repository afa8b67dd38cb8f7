// -----------------------------------------------------------------------
// Background sweeps - stale-claim recovery and terminal-job retention
// -----------------------------------------------------------------------

package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/models"
)

// SweepService runs the periodic maintenance passes: requeuing jobs whose
// acknowledgment went stale, and deleting terminal jobs past the retention
// window. Both sweeps are idempotent and safe to run at any time.
type SweepService struct {
	config    *common.SchedulerConfig
	storage   interfaces.JobStorage
	scheduler *Scheduler
	cron      *cron.Cron
	logger    arbor.ILogger
}

// NewSweepService creates the sweep service. Start schedules the sweeps
// on the configured cron specs.
func NewSweepService(config *common.SchedulerConfig, storage interfaces.JobStorage, scheduler *Scheduler) *SweepService {
	return &SweepService{
		config:    config,
		storage:   storage,
		scheduler: scheduler,
		cron:      cron.New(),
		logger:    common.GetLogger(),
	}
}

// Start registers and launches the cron entries
func (s *SweepService) Start() error {
	if _, err := s.cron.AddFunc(s.config.RecoverySchedule, func() {
		if _, err := s.RunRecovery(); err != nil {
			s.logger.Warn().Err(err).Msg("Recovery sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid recovery schedule %q: %w", s.config.RecoverySchedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.RetentionSchedule, func() {
		if _, err := s.RunRetention(); err != nil {
			s.logger.Warn().Err(err).Msg("Retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.config.RetentionSchedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("recovery", s.config.RecoverySchedule).
		Str("retention", s.config.RetentionSchedule).
		Msg("Background sweeps scheduled")

	return nil
}

// Stop halts the cron scheduler, waiting for a running sweep to finish
func (s *SweepService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunRecovery requeues acknowledged jobs whose last update is older than
// the stale threshold. The status swap is conditional, so a claim that
// advanced between the read and the write is left untouched. Returns the
// number of jobs requeued.
func (s *SweepService) RunRecovery() (int, error) {
	cutoff := time.Now().Add(-s.config.StaleThresholdDuration())

	stale, err := s.storage.FindStaleAcknowledged(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	requeued := 0
	for _, job := range stale {
		if s.scheduler != nil && s.scheduler.IsTracked(job.ID) {
			continue
		}

		repaired, err := Transition(job, models.JobStatusQueued, Fields{})
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cannot requeue stale job")
			continue
		}

		ok, err := s.storage.CompareAndSetStatus(repaired, models.JobStatusAcknowledged)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Stale job requeue failed")
			continue
		}
		if !ok {
			// Advanced concurrently; no longer stale
			continue
		}

		if s.scheduler != nil {
			s.scheduler.Requeue(repaired)
		}
		requeued++

		s.logger.Info().
			Str("job_id", job.ID).
			Str("last_update", job.LastUpdate.Format(time.RFC3339)).
			Msg("Requeued stale acknowledged job")
	}

	return requeued, nil
}

// RunRetention hard-deletes terminal jobs older than the retention age.
// Returns the number of jobs deleted.
func (s *SweepService) RunRetention() (int, error) {
	cutoff := time.Now().Add(-s.config.RetentionAgeDuration())

	deleted, err := s.storage.DeleteOlderThan(cutoff, true)
	if err != nil {
		return 0, fmt.Errorf("retention delete failed: %w", err)
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Retention sweep removed old jobs")
	}

	return deleted, nil
}
