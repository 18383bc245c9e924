// Package redis opens the shared client the relay's Redis-backed pieces
// (bus, history log, room directory, name claims) are built on.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/frozenbots60-source/kust-chat/config"
)

// Connect dials the configured server and verifies it with a ping, so a bad
// address fails at startup instead of on the first publish. The caller owns
// the returned client and closes it on shutdown.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis at %s:%s unreachable: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}
