package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/jobs"
	"github.com/ternarybob/mitto/internal/models"
)

// staticProvider is a stand-in provider that echoes its own name
type staticProvider struct {
	name string
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) Invoke(ctx context.Context, job *models.Job, sink interfaces.OutputSink) (*interfaces.ProviderResult, error) {
	if sink != nil {
		sink.Append(p.name)
	}
	return &interfaces.ProviderResult{Output: p.name}, nil
}

func TestRegistryWithExplicitProviders(t *testing.T) {
	r := NewRegistryWith(&staticProvider{name: "claude"}, &staticProvider{name: "gemini"})

	assert.Equal(t, "claude", r.Default().Name(), "first registered provider is the default")

	gemini, err := r.Get("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", gemini.Name())

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, jobs.ErrUnknownProvider)
}
