package llm

import (
	"context"
	"fmt"

	"github.com/askmill/askmill/internal/config"
	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/pkg/log"
)

// NewProvider creates the appropriate LLMProvider based on configuration.
func NewProvider(ctx context.Context, cfg *config.LLMConfig) (core.LLMProvider, error) {
	log.FromCtx(ctx).Info().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Msg("starting llm provider")

	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.Model), nil
	case "anthropic":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.Model), nil
	case "ollama":
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaAPIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
