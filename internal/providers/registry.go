// -----------------------------------------------------------------------
// Provider registry - resolves providers by name
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"fmt"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/jobs"
)

// Registry holds the configured providers, keyed by name
type Registry struct {
	providers   map[string]interfaces.Provider
	defaultName string
}

// NewRegistry builds a registry from configuration. Providers without an
// API key are skipped with a log line; at least one must be usable.
func NewRegistry(ctx context.Context, config *common.Config) (*Registry, error) {
	logger := common.GetLogger()
	r := &Registry{providers: make(map[string]interfaces.Provider)}

	if config.Claude.APIKey != "" {
		claude, err := NewClaudeProvider(&config.Claude)
		if err != nil {
			return nil, err
		}
		r.register(claude)
	} else {
		logger.Warn().Msg("Claude provider disabled: no API key configured")
	}

	if config.Gemini.APIKey != "" {
		gemini, err := NewGeminiProvider(ctx, &config.Gemini)
		if err != nil {
			return nil, err
		}
		r.register(gemini)
	} else {
		logger.Warn().Msg("Gemini provider disabled: no API key configured")
	}

	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no providers configured: set ANTHROPIC_API_KEY or GEMINI_API_KEY")
	}

	return r, nil
}

// NewRegistryWith builds a registry from explicit providers, first one
// becoming the default. Used by tests and embedders.
func NewRegistryWith(provider interfaces.Provider, extra ...interfaces.Provider) *Registry {
	r := &Registry{providers: make(map[string]interfaces.Provider)}
	r.register(provider)
	for _, p := range extra {
		r.register(p)
	}
	return r
}

func (r *Registry) register(p interfaces.Provider) {
	r.providers[p.Name()] = p
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
}

// Get resolves a provider by name
func (r *Registry) Get(name string) (interfaces.Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrUnknownProvider, name)
	}
	return p, nil
}

// Default returns the first registered provider
func (r *Registry) Default() interfaces.Provider {
	return r.providers[r.defaultName]
}
