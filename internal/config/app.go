package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/askmill/askmill/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"ASKMILL_RUNTIME_PATH" envDefault:".askmill"`

	// Transport flags
	EnableHTTP bool   `env:"ASKMILL_ENABLE_HTTP" envDefault:"true"`
	HTTPAddr   string `env:"ASKMILL_HTTP_ADDR" envDefault:":8080"`
	EnableMCP  bool   `env:"ASKMILL_ENABLE_MCP" envDefault:"false"`

	// Retrieval collaborator
	RetrieverBaseURL string `env:"ASKMILL_RETRIEVER_URL" envDefault:"http://localhost:9200"`

	// Conversation persistence: "memory" or "sqlite"
	ConversationBackend string `env:"ASKMILL_CONVERSATION_BACKEND" envDefault:"memory"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse app config")
	}
	return c
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.RuntimePath, "askmill.db")
}
