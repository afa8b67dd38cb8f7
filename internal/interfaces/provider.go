package interfaces

import (
	"context"

	"github.com/ternarybob/mitto/internal/models"
)

// ProviderResult is the final output of one provider invocation
type ProviderResult struct {
	Output    string
	Telemetry models.Telemetry
}

// OutputSink receives streamed output fragments as they arrive. Reset
// discards everything delivered so far; providers call it when a retry
// restarts a stream from the beginning, so fragments from the failed
// attempt are never duplicated downstream.
type OutputSink interface {
	Append(delta string)
	Reset()
}

// Provider executes a job's input against an external model service.
// Invoke blocks until the stream finishes, the context is canceled, or
// the service errors. sink may be nil.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, job *models.Job, sink OutputSink) (*ProviderResult, error)
}

// ProviderRegistry resolves providers by name
type ProviderRegistry interface {
	Get(name string) (Provider, error)
	Default() Provider
}
