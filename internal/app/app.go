// Package app wires the application together: storage backend, provider
// client, retriever, orchestrator. Both the serve and ingest commands build
// an App and pick the pieces they need.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/beaconai/beacon/db"
	"github.com/beaconai/beacon/internal/chat"
	"github.com/beaconai/beacon/internal/config"
	"github.com/beaconai/beacon/internal/database"
	"github.com/beaconai/beacon/internal/knowledge"
	"github.com/beaconai/beacon/internal/llm"
	"github.com/beaconai/beacon/internal/log"
	"github.com/beaconai/beacon/internal/prompt"
	"github.com/beaconai/beacon/internal/thread"
)

// App is the application container.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	Pool         *pgxpool.Pool // nil when memory-backed
	ThreadStore  thread.Store
	Index        knowledge.Index
	Retriever    *knowledge.Retriever // nil when retrieval is disabled
	Orchestrator *chat.Orchestrator
}

// Setup builds the container from configuration. With the postgres backend
// it connects the pool and applies migrations before anything else.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	switch cfg.Storage.Backend {
	case "postgres":
		if err := db.Run(cfg.Storage.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := database.Connect(ctx, cfg.Storage.DatabaseURL, cfg.Storage.MaxConns, logger)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		a.Pool = pool
		a.ThreadStore = thread.NewPostgresStore(pool, logger)
		a.Index = knowledge.NewPgvectorIndex(pool, logger)
	case "memory", "":
		a.ThreadStore = thread.NewMemoryStore(logger)
		a.Index = knowledge.NewMemoryIndex()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		EmbedModel: cfg.Provider.EmbedModel,
		Timeout:    cfg.Provider.Timeout,
		Logger:     logger,
	})

	if cfg.Retrieval.Enabled {
		a.Retriever = knowledge.NewRetriever(client, a.Index, knowledge.RetrieverConfig{
			TopK:      cfg.Retrieval.TopK,
			Threshold: cfg.Retrieval.Threshold,
			Timeout:   cfg.Retrieval.Timeout,
			CacheSize: cfg.Retrieval.CacheSize,
			Logger:    logger,
		})
	}

	assembler := prompt.New(prompt.Config{
		SystemPrompt: cfg.Chat.SystemPrompt,
		HistoryLimit: cfg.Chat.HistoryLimit,
		MaxTokens:    cfg.Chat.PromptBudget,
	})

	retry := chat.DefaultRetryPolicy()
	if cfg.Chat.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Chat.RetryAttempts
	}

	var limiter *rate.Limiter
	if cfg.Chat.ProviderRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Chat.ProviderRPS), 1)
	}

	a.Orchestrator = chat.New(a.ThreadStore, a.Retriever, assembler, client, chat.Config{
		MaxTokens:    cfg.Chat.MaxTokens,
		Temperature:  cfg.Chat.Temperature,
		HistoryLimit: cfg.Chat.HistoryLimit,
		Retry:        retry,
		Breaker:      chat.NewBreaker(cfg.Chat.BreakerFailures, cfg.Chat.BreakerCooldown),
		Limiter:      limiter,
		Logger:       logger,
	})

	logger.Info("application ready",
		"storage", cfg.Storage.Backend,
		"retrieval", cfg.Retrieval.Enabled,
		"model", cfg.Provider.Model,
	)
	return a, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
}
