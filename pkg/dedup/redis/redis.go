package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const prefix = "aurum:signal:"

// Guard keeps signal keys in redis so the window survives restarts and is
// shared between processes.
type Guard struct {
	client *redis.Client
	window time.Duration
}

func New(ctx context.Context, addr string, window time.Duration) (*Guard, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: couldn't connect to %s: %w", addr, err)
	}
	return &Guard{client: client, window: window}, nil
}

func (g *Guard) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, prefix+key, time.Now().UTC().Format(time.RFC3339), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis: couldn't set %s: %w", key, err)
	}
	return ok, nil
}

func (g *Guard) Close() error {
	return g.client.Close()
}
