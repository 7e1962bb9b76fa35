package support

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisURLEnvKey  = "redisUrl"
	defaultRedisURL = "redis://localhost:8946"
	redisDialWait   = 5 * time.Second
)

// RedisURL reads the connection URL from the environment.
func RedisURL() string {
	return GetEnv(redisURLEnvKey, defaultRedisURL)
}

// OpenRedis connects and pings. The caller owns the returned client.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url %q: %w", url, err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, redisDialWait)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
