// -----------------------------------------------------------------------
// Claude provider - streams job input through the Anthropic Messages API
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/models"
)

// ClaudeProvider executes jobs against the Anthropic Messages API
type ClaudeProvider struct {
	config *common.ClaudeConfig
	client anthropic.Client
	logger arbor.ILogger
}

// NewClaudeProvider creates the provider. Fails fast when no API key is
// configured so misconfiguration surfaces at startup, not on first job.
func NewClaudeProvider(config *common.ClaudeConfig) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("claude provider requires an API key")
	}
	return &ClaudeProvider{
		config: config,
		client: anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		logger: common.GetLogger(),
	}, nil
}

// Name returns the provider identifier used in submit requests
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Invoke streams the job input through the Messages API, forwarding text
// deltas as they arrive. Blocks until the stream ends or ctx is done.
func (p *ClaudeProvider) Invoke(ctx context.Context, job *models.Job, sink interfaces.OutputSink) (*interfaces.ProviderResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(job.Input)),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}

	p.logger.Debug().
		Str("job_id", job.ID).
		Str("model", p.config.Model).
		Msg("Starting Claude stream")

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var output strings.Builder
	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				output.WriteString(deltaVariant.Text)
				if sink != nil {
					sink.Append(deltaVariant.Text)
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("claude stream error: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	text := output.String()
	return &interfaces.ProviderResult{
		Output: text,
		Telemetry: models.Telemetry{
			TokensSent:     int(message.Usage.InputTokens),
			TokensReceived: int(message.Usage.OutputTokens),
			CharsReceived:  len(text),
		},
	}, nil
}
