package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"stratis-backend/internal/models"
)

const (
	QueueGeneration   = "queue:article-generation"
	QueueRegeneration = "queue:article-regeneration"
)

// ErrRunActive is returned when the user already has a run in flight.
var ErrRunActive = errors.New("a generation is already in progress")

// releaseIfOwner deletes a lock only while it still holds the caller's value.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunQueue hands jobs to the worker pool and guards the one-active-run-per-
// user rule.
type RunQueue struct {
	redis   *redis.Client
	lockTTL time.Duration
}

func NewRunQueue(redisClient *redis.Client, lockTTL time.Duration) *RunQueue {
	return &RunQueue{redis: redisClient, lockTTL: lockTTL}
}

func QueueFor(kind models.RunKind) string {
	if kind == models.RunKindRegenerate {
		return QueueRegeneration
	}
	return QueueGeneration
}

func activeRunKey(userID uuid.UUID) string {
	return fmt.Sprintf("active_run:%s", userID)
}

// AcquireUser claims the user's active-run slot for runID.
func (q *RunQueue) AcquireUser(ctx context.Context, userID, runID uuid.UUID) error {
	ok, err := q.redis.SetNX(ctx, activeRunKey(userID), runID.String(), q.lockTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRunActive
	}
	return nil
}

// ReleaseUser frees the slot if runID still owns it.
func (q *RunQueue) ReleaseUser(ctx context.Context, userID, runID uuid.UUID) error {
	return releaseIfOwner.Run(ctx, q.redis, []string{activeRunKey(userID)}, runID.String()).Err()
}

func (q *RunQueue) Enqueue(ctx context.Context, job models.Job) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, QueueFor(job.Kind), string(jobBytes)).Err()
}

func (q *RunQueue) Depth(ctx context.Context, queue string) (int64, error) {
	return q.redis.LLen(ctx, queue).Result()
}
