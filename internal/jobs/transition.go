// -----------------------------------------------------------------------
// Job status state machine
// -----------------------------------------------------------------------

package jobs

import (
	"fmt"
	"time"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/models"
)

// Placeholder values synthesized when a terminal transition arrives
// without the payload its status requires.
const (
	placeholderOutput    = "(no output produced)"
	placeholderErrorText = "unknown error"
	canceledErrorText    = "canceled by request"
)

// Fields carries the optional updates applied alongside a status change
type Fields struct {
	StartTime *time.Time
	EndTime   *time.Time
	Output    *string
	ErrorText *string
	Telemetry *models.Telemetry
	Metadata  map[string]interface{}
}

// Transition returns a copy of job moved to newStatus with fields applied
// and its timestamp and payload invariants repaired. The input job is
// never mutated.
//
// The only rejected move is out of a terminal status: terminal states are
// sinks, and the caller gets the job back unchanged alongside
// ErrInvalidTransition. Re-applying the terminal status a job already
// holds is idempotent, refreshing only the update timestamps, so
// duplicate completion signals are harmless. Everything else is repaired
// rather than refused.
func Transition(job *models.Job, newStatus models.JobStatus, fields Fields) (*models.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("transition: nil job")
	}
	if !newStatus.IsValid() {
		return job.Clone(), fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	now := time.Now()

	if job.Status.IsTerminal() {
		updated := job.Clone()
		touch(updated, now)
		if job.Status == newStatus {
			return updated, nil
		}
		common.GetLogger().Warn().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Str("requested", string(newStatus)).
			Msg("Refusing transition out of terminal status")
		return updated, fmt.Errorf("%w: %s -> %s for job %s", ErrInvalidTransition, job.Status, newStatus, job.ID)
	}

	updated := job.Clone()
	updated.Status = newStatus
	touch(updated, now)

	if fields.Output != nil {
		updated.Output = *fields.Output
	}
	if fields.ErrorText != nil {
		updated.ErrorText = *fields.ErrorText
	}
	if fields.Telemetry != nil {
		updated.Telemetry = *fields.Telemetry
	}
	updated.MergeMetadata(fields.Metadata)

	if newStatus.IsTerminal() {
		applyTerminalFields(updated, newStatus, fields, now)
	} else {
		applyActiveFields(updated, fields, now)
	}

	return updated, nil
}

// touch refreshes the update timestamps, keeping them monotonic
func touch(job *models.Job, now time.Time) {
	if now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
	job.LastUpdate = job.UpdatedAt
}

// applyActiveFields anchors the start timestamp and repairs a stray end
// timestamp on a job entering an active status.
func applyActiveFields(job *models.Job, fields Fields, now time.Time) {
	if fields.StartTime != nil {
		t := *fields.StartTime
		job.StartTime = &t
	} else if job.StartTime == nil {
		t := now
		job.StartTime = &t
	}

	if job.EndTime != nil {
		common.GetLogger().Warn().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Clearing end timestamp on active job")
		job.EndTime = nil
	}
}

// applyTerminalFields sets the end timestamp (supplied > existing > now)
// and synthesizes the payload the terminal status requires when the
// caller omitted it, logging the repair so the gap stays visible.
func applyTerminalFields(job *models.Job, status models.JobStatus, fields Fields, now time.Time) {
	switch {
	case fields.EndTime != nil:
		t := *fields.EndTime
		job.EndTime = &t
	case job.EndTime != nil:
		// keep it
	default:
		t := now
		job.EndTime = &t
	}

	switch status {
	case models.JobStatusCompleted:
		if job.Output == "" {
			common.GetLogger().Warn().
				Str("job_id", job.ID).
				Msg("Job completed without output, synthesizing placeholder")
			job.Output = placeholderOutput
		}
		job.ErrorText = ""
	case models.JobStatusFailed:
		if job.ErrorText == "" {
			common.GetLogger().Warn().
				Str("job_id", job.ID).
				Msg("Job failed without error detail, synthesizing placeholder")
			job.ErrorText = placeholderErrorText
		}
		job.Output = ""
	case models.JobStatusCanceled:
		if job.ErrorText == "" {
			job.ErrorText = canceledErrorText
		}
		job.Output = ""
	}
}
