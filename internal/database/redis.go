package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients splits run traffic from run update fan-out. Subscribers hold
// their connection for as long as a socket is open, so they get a client of
// their own and never starve the workers' BLPOP calls.
type RedisClients struct {
	// Runs carries the job queue, the per-user active run guard and the
	// research cache.
	Runs    *redis.Client
	// Updates publishes run snapshots and backs the WebSocket subscriptions.
	Updates *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := dialRedis(ctx, opt, "runs")
	if err != nil {
		return nil, err
	}
	updates, err := dialRedis(ctx, opt, "updates")
	if err != nil {
		runs.Close()
		return nil, err
	}
	return &RedisClients{Runs: runs, Updates: updates}, nil
}

func dialRedis(ctx context.Context, base *redis.Options, role string) (*redis.Client, error) {
	opt := *base
	opt.ClientName = "stratis-" + role
	client := redis.NewClient(&opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis (%s): %w", role, err)
	}
	return client, nil
}

// Ping reports whether both connections still answer.
func (r *RedisClients) Ping(ctx context.Context) error {
	return errors.Join(r.Runs.Ping(ctx).Err(), r.Updates.Ping(ctx).Err())
}

func (r *RedisClients) Close() {
	r.Runs.Close()
	r.Updates.Close()
}
