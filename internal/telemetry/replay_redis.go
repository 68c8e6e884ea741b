package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard shares consumed fingerprints between instances. SET NX with a
// TTL gives the same atomic check-then-insert as MemoryGuard.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

// NewRedisGuard creates a guard storing keys under prefix.
func NewRedisGuard(client redis.Cmdable, prefix string, window time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, window: window}
}

func (g *RedisGuard) Consume(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, 1, g.window).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ConnectRedis builds a client from a redis:// URL or a host:port address
// and checks that the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
