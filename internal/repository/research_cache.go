package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"stratis-backend/internal/models"
)

// ResearchCache keeps research in Redis for a run and its later
// regenerations. It satisfies pipeline.ResearchCache.
type ResearchCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewResearchCache(redisClient *redis.Client, ttl time.Duration) *ResearchCache {
	return &ResearchCache{redis: redisClient, ttl: ttl}
}

func (c *ResearchCache) Get(ctx context.Context, key string) (*models.ResearchData, bool, error) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	data := &models.ResearchData{}
	if err := json.Unmarshal(raw, data); err != nil {
		// A corrupt entry is treated as a miss and researched again.
		return nil, false, nil
	}
	return data, true, nil
}

func (c *ResearchCache) Put(ctx context.Context, key string, data *models.ResearchData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, raw, c.ttl).Err()
}
