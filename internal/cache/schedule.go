// Package cache caches the assembled scan schedule (active keywords and
// their linked targets) so the scheduler tick does not hit the database on
// every pass. Invalidation is explicit, hooked to the keyword/target write
// paths.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const scheduleKey = "ranktrack:schedule"

// ScheduleCache stores one serialized schedule snapshot.
type ScheduleCache interface {
	Get(ctx context.Context) ([]byte, bool)
	Set(ctx context.Context, payload []byte)
	Invalidate(ctx context.Context)
}

type redisScheduleCache struct {
	client *redis.Client
	ttl    time.Duration
}

func (c *redisScheduleCache) Get(ctx context.Context) ([]byte, bool) {
	payload, err := c.client.Get(ctx, scheduleKey).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (c *redisScheduleCache) Set(ctx context.Context, payload []byte) {
	_ = c.client.Set(ctx, scheduleKey, payload, c.ttl).Err()
}

func (c *redisScheduleCache) Invalidate(ctx context.Context) {
	_ = c.client.Del(ctx, scheduleKey).Err()
}

type memoryScheduleCache struct {
	mu      sync.Mutex
	payload []byte
	expires time.Time
	ttl     time.Duration
}

func (c *memoryScheduleCache) Get(_ context.Context) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload == nil || time.Now().After(c.expires) {
		return nil, false
	}
	return c.payload, true
}

func (c *memoryScheduleCache) Set(_ context.Context, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = payload
	c.expires = time.Now().Add(c.ttl)
}

func (c *memoryScheduleCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = nil
}

// NewScheduleCache builds a Redis-backed cache and falls back to in-memory
// when no address is configured or Redis is unreachable. The second return
// reports whether Redis is in use.
func NewScheduleCache(addr, pass string, db int, ttl time.Duration) (ScheduleCache, bool) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if addr == "" {
		return &memoryScheduleCache{ttl: ttl}, false
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return &memoryScheduleCache{ttl: ttl}, false
	}
	return &redisScheduleCache{client: client, ttl: ttl}, true
}
