// -----------------------------------------------------------------------
// Gemini provider - streams job input through the Google GenAI API
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/models"
)

// GeminiProvider executes jobs against the Google GenAI API
type GeminiProvider struct {
	config *common.GeminiConfig
	client *genai.Client
	logger arbor.ILogger
}

// NewGeminiProvider creates the provider
func NewGeminiProvider(ctx context.Context, config *common.GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini provider requires an API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		config: config,
		client: client,
		logger: common.GetLogger(),
	}, nil
}

// Name returns the provider identifier used in submit requests
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Invoke streams the job input through GenAI, forwarding text chunks as
// they arrive. Rate-limit failures are retried with backoff before being
// surfaced to the scheduler.
func (p *GeminiProvider) Invoke(ctx context.Context, job *models.Job, sink interfaces.OutputSink) (*interfaces.ProviderResult, error) {
	var result *interfaces.ProviderResult

	err := WithRetry(ctx, DefaultRetryConfig(), p.logger, func() error {
		// Each attempt restarts the stream from scratch; fragments from
		// a failed attempt must not be duplicated downstream.
		if sink != nil {
			sink.Reset()
		}
		r, err := p.stream(ctx, job, sink)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *GeminiProvider) stream(ctx context.Context, job *models.Job, sink interfaces.OutputSink) (*interfaces.ProviderResult, error) {
	var config *genai.GenerateContentConfig
	if p.config.Temperature > 0 {
		config = &genai.GenerateContentConfig{Temperature: genai.Ptr(p.config.Temperature)}
	}

	p.logger.Debug().
		Str("job_id", job.ID).
		Str("model", p.config.Model).
		Msg("Starting Gemini stream")

	var output strings.Builder
	var telemetry models.Telemetry

	for chunk, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, genai.Text(job.Input), config) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("gemini stream error: %w", err)
		}

		text := chunk.Text()
		if text != "" {
			output.WriteString(text)
			if sink != nil {
				sink.Append(text)
			}
		}

		if chunk.UsageMetadata != nil {
			telemetry.TokensSent = int(chunk.UsageMetadata.PromptTokenCount)
			telemetry.TokensReceived = int(chunk.UsageMetadata.CandidatesTokenCount)
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	telemetry.CharsReceived = output.Len()
	return &interfaces.ProviderResult{
		Output:    output.String(),
		Telemetry: telemetry,
	}, nil
}
