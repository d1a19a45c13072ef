package narrative

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/resilience"
)

// OpenAIGenerator writes narratives with the OpenAI chat completions API.
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates a generator. A nil client yields ErrNotConfigured on
// every call.
func NewOpenAI(client *openai.Client, model string, maxTokens int) *OpenAIGenerator {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIGenerator{client: client, model: model, maxTokens: maxTokens}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, report *model.EnrichedReport) (string, error) {
	if g.client == nil {
		return "", ErrNotConfigured
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(report)},
		},
		MaxCompletionTokens: g.maxTokens,
	})
	if err != nil {
		return "", classifyOpenAI(eris.Wrap(err, "narrative: openai"), err)
	}

	if len(resp.Choices) == 0 {
		return "", eris.Wrap(ErrEmptyResponse, "narrative: openai returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", eris.Wrapf(ErrEmptyResponse, "narrative: openai finish_reason=%s", resp.Choices[0].FinishReason)
	}
	return text, nil
}

func classifyOpenAI(wrapped, cause error) error {
	var apiErr *openai.APIError
	if errors.As(cause, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.HTTPStatusCode) {
			return resilience.NewTransientError(wrapped, apiErr.HTTPStatusCode)
		}
		return resilience.NewPermanentError(wrapped, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(cause, &reqErr) && reqErr.HTTPStatusCode != 0 {
		if resilience.IsTransientHTTPStatus(reqErr.HTTPStatusCode) {
			return resilience.NewTransientError(wrapped, reqErr.HTTPStatusCode)
		}
		return resilience.NewPermanentError(wrapped, reqErr.HTTPStatusCode)
	}
	if errors.Is(cause, context.Canceled) {
		return wrapped
	}
	return resilience.NewTransientError(wrapped, 0)
}
