// -----------------------------------------------------------------------
// Job - Durable record of one unit of externally-serviced work
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the closed set of lifecycle states. New values are only
// constructed by the transition function in internal/jobs; everything else
// treats this type as opaque.
type JobStatus string

const (
	JobStatusIdle         JobStatus = "idle"
	JobStatusPreparing    JobStatus = "preparing"
	JobStatusQueued       JobStatus = "queued"
	JobStatusAcknowledged JobStatus = "acknowledged"
	JobStatusRunning      JobStatus = "running"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCanceled     JobStatus = "canceled"
)

// IsTerminal returns true for statuses that are sinks: once reached, a job
// never transitions again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// IsActive returns true for every non-terminal status
func (s JobStatus) IsActive() bool {
	return !s.IsTerminal()
}

// IsValid reports whether s is one of the known status values
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusIdle, JobStatusPreparing, JobStatusQueued, JobStatusAcknowledged,
		JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Telemetry carries advisory usage counters reported by the provider.
// Never used for control flow.
type Telemetry struct {
	TokensSent     int `json:"tokens_sent"`
	TokensReceived int `json:"tokens_received"`
	CharsReceived  int `json:"chars_received"`
}

// Job represents the persisted record of one unit of submitted work.
//
// Field invariants (enforced by the transition function, not the store):
//   - EndTime is set iff Status is terminal
//   - StartTime is set when the job enters any active status; a job
//     canceled straight from idle may lack one
//   - completed jobs carry a non-empty Output and no ErrorText;
//     failed/canceled jobs carry a non-empty ErrorText and no Output
//   - UpdatedAt is monotonically non-decreasing
type Job struct {
	ID        string `json:"id" badgerhold:"key"`
	SessionID string `json:"session_id" badgerholdIndex:"SessionID"`
	Category  string `json:"category" badgerholdIndex:"Category"`
	Provider  string `json:"provider"`

	Status     JobStatus  `json:"status" badgerholdIndex:"Status"`
	Priority   int        `json:"priority"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUpdate time.Time  `json:"last_update"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`

	Input     string `json:"input"`
	Output    string `json:"output"`
	ErrorText string `json:"error_text,omitempty"`

	Telemetry Telemetry `json:"telemetry"`

	// Metadata is an open extension map for category-specific data
	// (output path, model identifier, priority hints). Merged, never
	// replaced, on update.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Cleared is a soft-delete flag set by bulk history clearing,
	// independent of Status.
	Cleared bool `json:"cleared"`
}

// NewJob creates a job in the idle state
func NewJob(sessionID, category, provider, input string, priority int) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Category:   category,
		Provider:   provider,
		Status:     JobStatusIdle,
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastUpdate: now,
		Input:      input,
		Metadata:   make(map[string]interface{}),
	}
}

// IsTerminal returns true if the job has reached a sink status
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	clone := *j
	if j.StartTime != nil {
		t := *j.StartTime
		clone.StartTime = &t
	}
	if j.EndTime != nil {
		t := *j.EndTime
		clone.EndTime = &t
	}
	clone.Metadata = make(map[string]interface{}, len(j.Metadata))
	for k, v := range j.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// MergeMetadata merges entries into the job's metadata map. New keys win,
// unspecified keys persist.
func (j *Job) MergeMetadata(entries map[string]interface{}) {
	if len(entries) == 0 {
		return
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]interface{}, len(entries))
	}
	for k, v := range entries {
		j.Metadata[k] = v
	}
}

// GetMetadataString retrieves a string value from metadata
func (j *Job) GetMetadataString(key string) (string, bool) {
	val, ok := j.Metadata[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}
