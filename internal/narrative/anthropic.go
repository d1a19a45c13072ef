package narrative

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/pkg/anthropic"
)

const defaultMaxTokens = 1024

// AnthropicGenerator writes narratives with Claude.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates a generator. A nil client yields ErrNotConfigured on
// every call.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64) *AnthropicGenerator {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicGenerator{client: client, model: model, maxTokens: maxTokens}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, report *model.EnrichedReport) (string, error) {
	if g.client == nil {
		return "", ErrNotConfigured
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    []anthropic.SystemBlock{{Text: SystemPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: BuildPrompt(report)}},
	})
	if err != nil {
		return "", eris.Wrap(err, "narrative: anthropic")
	}
	resp.Usage.LogCost(g.model, "narrative")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.Wrapf(ErrEmptyResponse, "narrative: anthropic stop_reason=%s", resp.StopReason)
	}
	return text, nil
}
