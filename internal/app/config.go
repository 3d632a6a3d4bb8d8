package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"llm-gateway/internal/cache"
	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/repository/postgres"
	"llm-gateway/internal/repository/sqlite"
	"llm-gateway/internal/service/chat"
	"llm-gateway/internal/service/conversation"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/service/session"
	"llm-gateway/internal/service/stats"
	"llm-gateway/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig

	Cache         cache.HistoryCache
	Provider      llm.LLMProvider
	Tracer        tracing.Tracer
	Conversations *conversation.ConversationStore
	Sessions      *session.Lifecycle
	Stats         *stats.Aggregator
	Chat          *chat.ChatService
}

// OpenDatabase connects to the store selected by DB_DRIVER and applies migrations
func OpenDatabase(dbConfig config.DatabaseConfig) (db.Database, error) {
	switch dbConfig.Driver {
	case "postgres":
		pg, err := postgres.NewPostgresDB(dbConfig)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "", "sqlite":
		logger.Log.WithField("path", dbConfig.SQLitePath).Info("Opening SQLite database")
		lite, err := sqlite.NewSQLiteDB(dbConfig.SQLitePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", dbConfig.Driver)
	}
}

// NewStatsConfig wires only what reporting needs: the store and the aggregator
func NewStatsConfig(ctx context.Context, appConfig *config.AppConfig) (*Config, error) {
	pricing, err := appConfig.ResolvePricing()
	if err != nil {
		return nil, err
	}

	database, err := OpenDatabase(appConfig.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	c := &Config{
		DB:        database,
		AppConfig: appConfig,
		Cache:     cache.NewMemoryCache(),
	}
	c.Conversations = conversation.NewConversationStore(database, c.Cache)
	c.Stats = stats.NewAggregator(c.Conversations, pricing)
	return c, nil
}

// NewConfig wires the full gateway: store, cache, provider, tracer and services
func NewConfig(ctx context.Context, appConfig *config.AppConfig) (*Config, error) {
	pricing, err := appConfig.ResolvePricing()
	if err != nil {
		return nil, err
	}

	database, err := OpenDatabase(appConfig.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c := &Config{DB: database, AppConfig: appConfig}

	c.Cache, err = cache.New(ctx, appConfig.Cache)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create history cache: %w", err)
	}

	c.Provider, err = llm.NewLLMProvider(ctx, &appConfig.LLM)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	c.Tracer = tracing.New(appConfig.Tracing)
	c.Conversations = conversation.NewConversationStore(database, c.Cache)
	// No invalidators: ConversationStore.Delete evicts the history cache itself.
	c.Sessions = session.NewLifecycle(c.Conversations)
	c.Stats = stats.NewAggregator(c.Conversations, pricing)
	c.Chat = chat.NewChatService(chat.Dependencies{
		Store:    c.Conversations,
		Sessions: c.Sessions,
		Provider: c.Provider,
		Stats:    c.Stats,
		Tracer:   c.Tracer,
	}, chat.Options{
		SystemPrompt: appConfig.LLM.SystemPrompt,
		PreambleAck:  appConfig.LLM.PreambleAck,
		Yield:        appConfig.LLM.StreamYield,
	})

	logger.Log.WithFields(logrus.Fields{
		"db_driver":     appConfig.Database.Driver,
		"cache_backend": appConfig.Cache.Backend,
		"provider":      appConfig.LLM.Provider,
		"model":         c.Provider.GetDefaultModel(),
		"auth":          appConfig.AuthEnabled(),
	}).Info("Gateway dependencies initialized")

	return c, nil
}

// Close flushes the tracer and releases the cache and database connections
func (c *Config) Close() error {
	var errs []error
	if t, ok := c.Tracer.(interface{ Close() }); ok {
		t.Close()
	}
	if closer, ok := c.Cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}

