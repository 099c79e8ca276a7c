package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/askmill/askmill/pkg/log"
)

type RAGConfig struct {
	MaxContextTokens  int `env:"ASKMILL_MAX_CONTEXT_TOKENS" envDefault:"3500"`
	ReservedTokens    int `env:"ASKMILL_RESERVED_TOKENS" envDefault:"600"`
	MinFragmentTokens int `env:"ASKMILL_MIN_FRAGMENT_TOKENS" envDefault:"100"`
	MaxQueryLength    int `env:"ASKMILL_MAX_QUERY_LENGTH" envDefault:"1000"`
	DefaultTopK       int `env:"ASKMILL_DEFAULT_TOP_K" envDefault:"5"`
	MaxTurns          int `env:"ASKMILL_MAX_TURNS" envDefault:"10"`

	CacheTTL   time.Duration `env:"ASKMILL_CACHE_TTL" envDefault:"1h"`
	MaxRetries int           `env:"ASKMILL_MAX_RETRIES" envDefault:"3"`

	RequestTimeout time.Duration `env:"ASKMILL_REQUEST_TIMEOUT" envDefault:"2m"`

	// Confidence weights. The score is a heuristic, not a calibrated
	// probability; these exist so it can be tuned without a rebuild.
	ConfidenceBase           float64 `env:"ASKMILL_CONFIDENCE_BASE" envDefault:"0.5"`
	ConfidenceCitationBonus  float64 `env:"ASKMILL_CONFIDENCE_CITATION_BONUS" envDefault:"0.2"`
	ConfidenceRelevanceScale float64 `env:"ASKMILL_CONFIDENCE_RELEVANCE_SCALE" envDefault:"0.2"`
	ConfidenceHedgePenalty   float64 `env:"ASKMILL_CONFIDENCE_HEDGE_PENALTY" envDefault:"0.3"`
}

func NewRAGConfig(ctx context.Context) *RAGConfig {
	c := &RAGConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse RAG config")
	}
	return c
}
