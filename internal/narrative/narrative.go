// Package narrative turns an enriched sighting into an analyst-style summary
// using a hosted language model.
package narrative

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/sells-group/sightings/internal/config"
	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/pkg/anthropic"
)

var (
	// ErrNotConfigured is returned when the selected provider has no
	// credential. Retrying cannot fix it.
	ErrNotConfigured = eris.New("narrative: provider credential not configured")
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = eris.New("narrative: empty response")
)

// Generator writes a narrative for a report.
type Generator interface {
	Generate(ctx context.Context, report *model.EnrichedReport) (string, error)
}

// New builds the generator selected by cfg.Narrative.Provider. A missing
// credential does not fail here; Generate returns ErrNotConfigured instead so
// the failure surfaces on the pipeline step that needs it.
func New(cfg *config.Config) (Generator, error) {
	switch cfg.Narrative.Provider {
	case "anthropic", "":
		var client anthropic.Client
		if cfg.Anthropic.Key != "" {
			client = anthropic.NewClient(cfg.Anthropic.Key)
		}
		return NewAnthropic(client, cfg.Anthropic.Model, cfg.Narrative.MaxTokens), nil
	case "openai":
		var client *openai.Client
		if cfg.OpenAI.Key != "" {
			oc := openai.DefaultConfig(cfg.OpenAI.Key)
			if cfg.OpenAI.BaseURL != "" {
				oc.BaseURL = cfg.OpenAI.BaseURL
			}
			client = openai.NewClientWithConfig(oc)
		}
		return NewOpenAI(client, cfg.OpenAI.Model, int(cfg.Narrative.MaxTokens)), nil
	default:
		return nil, eris.Errorf("narrative: unknown provider %q", cfg.Narrative.Provider)
	}
}
