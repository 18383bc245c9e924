package hub

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NameDirectory reserves display names with compare-and-swap semantics:
// Claim atomically succeeds for exactly one caller per name.
type NameDirectory interface {
	Claim(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// LocalNames reserves names within one process.
type LocalNames struct {
	mu    sync.Mutex
	taken map[string]bool
}

func NewLocalNames() *LocalNames {
	return &LocalNames{taken: make(map[string]bool)}
}

func (n *LocalNames) Claim(_ context.Context, name string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.taken[name] {
		return false, nil
	}
	n.taken[name] = true
	return true, nil
}

func (n *LocalNames) Release(_ context.Context, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.taken, name)
	return nil
}

// RedisNames reserves names across all processes sharing one Redis, using
// SETNX as the compare-and-swap. The TTL bounds leakage if a process dies
// before releasing.
type RedisNames struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisNames(client *redis.Client, ttl time.Duration) *RedisNames {
	return &RedisNames{client: client, ttl: ttl}
}

func nameKey(name string) string {
	return "name:" + name
}

func (n *RedisNames) Claim(ctx context.Context, name string) (bool, error) {
	return n.client.SetNX(ctx, nameKey(name), "1", n.ttl).Result()
}

func (n *RedisNames) Release(ctx context.Context, name string) error {
	return n.client.Del(ctx, nameKey(name)).Err()
}
