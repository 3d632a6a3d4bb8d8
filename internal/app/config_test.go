package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"llm-gateway/internal/cache"
	"llm-gateway/internal/config"
	"llm-gateway/internal/tracing"
	"llm-gateway/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAppConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		Database: config.DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "gateway.db"),
		},
		LLM: config.LLMConfig{
			Provider:          "openrouter",
			OpenRouterAPIKey:  "test-key",
			OpenRouterBaseURL: "http://127.0.0.1:1",
			Model:             "test/model",
			Timeout:           time.Second,
			TokenizerEncoding: "cl100k_base",
			SystemPrompt:      config.DefaultSystemPrompt,
			PreambleAck:       config.DefaultPreambleAck,
		},
		Pricing: config.PricingConfig{
			InputPerToken:  usage.DefaultInputRate,
			OutputPerToken: usage.DefaultOutputRate,
		},
		Cache: config.CacheConfig{Backend: "memory"},
	}
}

func TestNewConfig(t *testing.T) {
	c, err := NewConfig(context.Background(), testAppConfig(t))
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Chat)
	assert.IsType(t, &cache.MemoryCache{}, c.Cache)
	assert.IsType(t, tracing.NoopTracer{}, c.Tracer)
	assert.Equal(t, "test/model", c.Provider.GetDefaultModel())

	// The wired services share one store.
	ctx := context.Background()
	id, created, err := c.Sessions.ResolveOrCreate(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)

	history, err := c.Chat.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)

	global, err := c.Chat.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, global.TotalChats)

	require.NoError(t, c.Chat.DeleteSession(ctx, id))
	_, cached, err := c.Cache.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, cached, "Expected DeleteSession to evict the cached history")

	record, err := c.DB.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestNewConfig_Failures(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Cache.Backend = "memcached"
	_, err := NewConfig(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testAppConfig(t)
	cfg.LLM.Provider = "unknown"
	_, err = NewConfig(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testAppConfig(t)
	cfg.Pricing.InputPerToken = "cheap"
	_, err = NewConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewStatsConfig(t *testing.T) {
	c, err := NewStatsConfig(context.Background(), testAppConfig(t))
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Chat)
	global, err := c.Stats.ComputeGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, global.TotalChats)
}

func TestOpenDatabase_UnknownDriver(t *testing.T) {
	_, err := OpenDatabase(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
