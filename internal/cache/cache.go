package cache

import (
	"context"
	"fmt"

	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// HistoryCache keeps the ordered turns of recently used sessions.
//
// Append only extends an entry that is already cached; a session that was never
// warmed stays absent so the next Get reloads it in full from the store.
type HistoryCache interface {
	// Get returns a copy of the cached turns and whether the session was cached.
	Get(ctx context.Context, sessionID string) ([]db.Turn, bool, error)
	Set(ctx context.Context, sessionID string, turns []db.Turn) error
	Append(ctx context.Context, sessionID string, turns ...db.Turn) error
	Delete(ctx context.Context, sessionID string) error
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.CacheConfig) (HistoryCache, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Log.Info("Using in-memory history cache")
		return NewMemoryCache(), nil
	case "redis":
		c, err := NewRedisCache(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Log.WithFields(logrus.Fields{"addr": cfg.RedisAddr, "db": cfg.RedisDB}).Info("Using redis history cache")
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
