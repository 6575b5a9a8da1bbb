package pipeline

import (
	"context"
	"sync"

	"stratis-backend/internal/models"
)

// MemoryCache is an in-process ResearchCache for the CLI and tests.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]*models.ResearchData
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]*models.ResearchData)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*models.ResearchData, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[key]
	return data, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, data *models.ResearchData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
	return nil
}
