package config

import (
	"context"

	"github.com/caarlos0/env/v11"

	"github.com/askmill/askmill/pkg/log"
)

type LLMConfig struct {
	Provider string `env:"ASKMILL_LLM_PROVIDER" envDefault:"openai"`
	Model    string `env:"ASKMILL_LLM_MODEL" envDefault:"gpt-4o-mini"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OllamaBaseURL   string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaAPIKey    string `env:"OLLAMA_API_KEY"`

	Temperature     float64 `env:"ASKMILL_TEMPERATURE" envDefault:"0.2"`
	MaxOutputTokens int     `env:"ASKMILL_MAX_OUTPUT_TOKENS" envDefault:"1024"`
}

func NewLLMConfig(ctx context.Context) *LLMConfig {
	c := &LLMConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse LLM config")
	}
	return c
}
