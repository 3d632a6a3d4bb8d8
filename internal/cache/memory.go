package cache

import (
	"context"
	"sync"

	"llm-gateway/internal/repository/db"
)

// MemoryCache is a process-local HistoryCache.
type MemoryCache struct {
	mu       sync.RWMutex
	sessions map[string][]db.Turn
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string][]db.Turn)}
}

func (c *MemoryCache) Get(_ context.Context, sessionID string) ([]db.Turn, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	turns, ok := c.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return append([]db.Turn{}, turns...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, sessionID string, turns []db.Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[sessionID] = append([]db.Turn{}, turns...)
	return nil
}

func (c *MemoryCache) Append(_ context.Context, sessionID string, turns ...db.Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	// Fresh backing array so copies handed out earlier never observe the extension.
	extended := make([]db.Turn, 0, len(existing)+len(turns))
	extended = append(extended, existing...)
	c.sessions[sessionID] = append(extended, turns...)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, sessionID)
	return nil
}

// Len reports the number of cached sessions.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
