package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"llm-gateway/internal/config"
	"llm-gateway/internal/repository/db"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "llm-gateway:history:"

// RedisCache stores each session as a redis list of JSON encoded turns.
// Empty histories are not representable as a list, so they are never cached.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redis and verifies the connection with PING.
func NewRedisCache(ctx context.Context, cfg config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisCacheWithClient(client, cfg.TTL), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

func encodeTurns(turns []db.Turn) ([]any, error) {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("error encoding turn: %w", err)
		}
		values = append(values, b)
	}
	return values, nil
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) ([]db.Turn, bool, error) {
	raw, err := c.client.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("error reading cached history: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	turns := make([]db.Turn, 0, len(raw))
	for _, item := range raw {
		var t db.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, false, fmt.Errorf("error decoding cached turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, true, nil
}

func (c *RedisCache) Set(ctx context.Context, sessionID string, turns []db.Turn) error {
	values, err := encodeTurns(turns)
	if err != nil {
		return err
	}
	k := key(sessionID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		if len(values) > 0 {
			pipe.RPush(ctx, k, values...)
			if c.ttl > 0 {
				pipe.Expire(ctx, k, c.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error caching history: %w", err)
	}
	return nil
}

func (c *RedisCache) Append(ctx context.Context, sessionID string, turns ...db.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values, err := encodeTurns(turns)
	if err != nil {
		return err
	}
	k := key(sessionID)
	// RPUSHX inside MULTI extends only an existing list, all turns at once.
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPushX(ctx, k, values...)
		if c.ttl > 0 {
			pipe.Expire(ctx, k, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error appending cached history: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("error deleting cached history: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
