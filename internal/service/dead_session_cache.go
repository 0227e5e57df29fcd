package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// deadSessionCacheTTL bounds how long a dead-session verdict is trusted
// without consulting the database. Session IDs are never reused, so a
// cached verdict can only go stale in the harmless direction.
const deadSessionCacheTTL = 5 * time.Minute

// DeadSessionCache remembers session IDs already known to be absent,
// expired or invalidated, so hot validation paths skip the database for
// credentials that keep being replayed after logout. Implementations fail
// open: an error means "consult the database".
type DeadSessionCache interface {
	Contains(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string, ttl time.Duration) error
}

type NoopDeadSessionCache struct{}

func NewNoopDeadSessionCache() *NoopDeadSessionCache { return &NoopDeadSessionCache{} }

func (c *NoopDeadSessionCache) Contains(context.Context, string) (bool, error) { return false, nil }

func (c *NoopDeadSessionCache) Mark(context.Context, string, time.Duration) error { return nil }

type InMemoryDeadSessionCache struct {
	mu    sync.RWMutex
	store map[string]time.Time
}

func NewInMemoryDeadSessionCache() *InMemoryDeadSessionCache {
	return &InMemoryDeadSessionCache{store: make(map[string]time.Time)}
}

func (c *InMemoryDeadSessionCache) Contains(_ context.Context, id string) (bool, error) {
	now := time.Now()
	c.mu.RLock()
	expiresAt, ok := c.store[id]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		if exp, ok := c.store[id]; ok && now.After(exp) {
			delete(c.store, id)
		}
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryDeadSessionCache) Mark(_ context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[id] = time.Now().Add(ttl)
	return nil
}

// RedisDeadSessionCache shares dead-session verdicts across instances, so
// a logout on one replica suppresses replays hitting another.
type RedisDeadSessionCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDeadSessionCache(client redis.UniversalClient, prefix string) *RedisDeadSessionCache {
	if prefix == "" {
		prefix = "dead_session"
	}
	return &RedisDeadSessionCache{client: client, prefix: prefix}
}

func (c *RedisDeadSessionCache) Contains(ctx context.Context, id string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(id)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisDeadSessionCache) Mark(ctx context.Context, id string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(id), "1", ttl).Err()
}

// Keys are hashed so an attacker-supplied session ID cannot shape the
// redis keyspace.
func (c *RedisDeadSessionCache) key(id string) string {
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%s:%s", c.prefix, hex.EncodeToString(sum[:]))
}
