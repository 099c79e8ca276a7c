package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/askmill/askmill/internal/config"
	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/providers/llm"
	"github.com/askmill/askmill/internal/providers/retriever"
	"github.com/askmill/askmill/internal/service/cache"
	"github.com/askmill/askmill/internal/service/memory"
	"github.com/askmill/askmill/internal/service/rag"
	"github.com/askmill/askmill/internal/storage/sqlite"
	"github.com/askmill/askmill/internal/transport/httpapi"
	"github.com/askmill/askmill/internal/transport/mcpserver"
	"github.com/askmill/askmill/pkg/log"
	"github.com/askmill/askmill/pkg/srv"
)

// engine bundles what both the long-running transports and the one-shot
// command need.
type engine struct {
	orchestrator *rag.Orchestrator
	cache        *cache.ResponseCache
	cleanups     []srv.Service
}

func newEngine(ctx context.Context, appCfg *config.AppConfig) *engine {
	logger := log.FromCtx(ctx)

	ragCfg := config.NewRAGConfig(ctx)
	llmCfg := config.NewLLMConfig(ctx)

	provider, err := llm.NewProvider(ctx, llmCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize LLM provider")
	}

	conversations, cleanups := initConversationStore(ctx, appCfg, ragCfg)

	responseCache := cache.New(ragCfg.CacheTTL)

	orchestrator := rag.NewOrchestrator(
		rag.Options{
			MaxContextTokens:  ragCfg.MaxContextTokens,
			ReservedTokens:    ragCfg.ReservedTokens,
			MinFragmentTokens: ragCfg.MinFragmentTokens,
			MaxQueryLength:    ragCfg.MaxQueryLength,
			DefaultTopK:       ragCfg.DefaultTopK,
			MaxTurns:          ragCfg.MaxTurns,
			Temperature:       llmCfg.Temperature,
			MaxOutputTokens:   llmCfg.MaxOutputTokens,
			RequestTimeout:    ragCfg.RequestTimeout,
			MaxRetries:        ragCfg.MaxRetries,
			Weights: rag.ConfidenceWeights{
				Base:           ragCfg.ConfidenceBase,
				CitationBonus:  ragCfg.ConfidenceCitationBonus,
				RelevanceScale: ragCfg.ConfidenceRelevanceScale,
				HedgePenalty:   ragCfg.ConfidenceHedgePenalty,
			},
		},
		retriever.NewHTTPRetriever(appCfg.RetrieverBaseURL),
		provider,
		responseCache,
		conversations,
	)

	return &engine{
		orchestrator: orchestrator,
		cache:        responseCache,
		cleanups:     cleanups,
	}
}

func NewServices(ctx context.Context) []srv.Service {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// init env
	if err := initEnv(ctx, config.NewAppConfig(ctx).RuntimePath); err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	// Re-read after the .env file may have added values.
	appCfg := config.NewAppConfig(ctx)

	eng := newEngine(ctx, appCfg)
	services = append(services, eng.cleanups...)

	if appCfg.EnableHTTP {
		services = append(services, httpapi.NewServer(eng.orchestrator, eng.cache, appCfg.HTTPAddr))
	}
	if appCfg.EnableMCP {
		services = append(services, mcpserver.NewServer(eng.orchestrator))
	}

	if !appCfg.EnableHTTP && !appCfg.EnableMCP {
		logger.Fatal().Msg("no transports enabled, set ASKMILL_ENABLE_HTTP or ASKMILL_ENABLE_MCP")
	}

	return services
}

func initConversationStore(ctx context.Context, appCfg *config.AppConfig, ragCfg *config.RAGConfig) (core.ConversationStore, []srv.Service) {
	logger := log.FromCtx(ctx)

	switch appCfg.ConversationBackend {
	case "sqlite":
		db, err := sqlite.NewDB(ctx, appCfg.GetDatabasePath())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize conversation storage")
		}
		return sqlite.NewTurns(db, ragCfg.MaxTurns), []srv.Service{srv.NewCleanup(db.Close)}
	case "memory", "":
		return memory.NewStore(ragCfg.MaxTurns), nil
	default:
		logger.Fatal().Str("backend", appCfg.ConversationBackend).Msg("unknown conversation backend")
		return nil, nil
	}
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
