// -----------------------------------------------------------------------
// Error taxonomy for the job lifecycle
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by scheduler and storage operations
var (
	// ErrJobNotFound indicates the referenced job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueFull indicates the submission was rejected by admission limits
	ErrQueueFull = errors.New("queue full")

	// ErrSchedulerStopped indicates the scheduler is shut down
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// ErrInvalidTransition indicates an attempt to move a job out of a
	// terminal status, or to a status outside the closed set
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownProvider indicates the requested provider is not registered
	ErrUnknownProvider = errors.New("unknown provider")
)

// FailureKind classifies why a job run failed, for retry decisions and
// operator-facing reporting. External failures are subdivided so the
// caller can render backoff hints for rate limits and quota exhaustion.
type FailureKind string

const (
	FailureCanceled    FailureKind = "canceled"
	FailureTimeout     FailureKind = "timeout"
	FailureRateLimited FailureKind = "rate_limited"
	FailureQuota       FailureKind = "quota_exhausted"
	FailureNetwork     FailureKind = "network_error"
	FailureMalformed   FailureKind = "malformed_response"
	FailureProvider    FailureKind = "provider_error"
	FailureInternal    FailureKind = "internal_error"
)

// JobError wraps a provider or lifecycle failure with its classification
type JobError struct {
	Kind FailureKind
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError wraps err with an explicit classification
func NewJobError(kind FailureKind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

// ClassifyError maps an error from a job run to its failure kind.
// Context cancellation is distinguished from deadline expiry so canceled
// jobs are never recorded as failures.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}

	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "quota", "resource_exhausted", "resource exhausted"):
		return FailureQuota
	case containsAny(msg, "429", "rate limit", "rate-limit", "too many requests", "overloaded"):
		return FailureRateLimited
	case containsAny(msg, "connection refused", "connection reset", "no such host",
		"broken pipe", "unexpected eof", "network", "unavailable"):
		return FailureNetwork
	case containsAny(msg, "unmarshal", "malformed", "unexpected end of json", "invalid character"):
		return FailureMalformed
	}

	return FailureProvider
}

// IsRateLimitKind reports whether the kind represents quota pressure
func IsRateLimitKind(kind FailureKind) bool {
	return kind == FailureRateLimited || kind == FailureQuota
}

func containsAny(msg string, patterns ...string) bool {
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
