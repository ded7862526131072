// Package dedup suppresses duplicate inbound events. Remote platforms deliver
// webhooks at-least-once, so providers check the native message ID here
// before constructing an envelope.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen key is remembered. Platform retry windows
	// are minutes; a day leaves ample slack.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "omnirelay:seen:"
)

// Filter tracks which native message IDs have already been processed.
// IsNew marks the key as seen atomically when it returns true.
type Filter interface {
	IsNew(ctx context.Context, key string) (bool, error)
}

// ---------------------------------------------------------------------------
// Redis-backed filter
// ---------------------------------------------------------------------------

// RedisFilter remembers seen keys in a shared Redis, surviving restarts and
// multi-instance deployments.
type RedisFilter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisFilter creates a Redis-backed filter with the default TTL.
func NewRedisFilter(rdb *redis.Client) *RedisFilter {
	return &RedisFilter{rdb: rdb, ttl: DefaultTTL}
}

// IsNew returns true if the key has not been seen before (SETNX semantics).
func (f *RedisFilter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// ---------------------------------------------------------------------------
// In-memory filter
// ---------------------------------------------------------------------------

// MemoryFilter is the single-process fallback when no Redis is configured.
// Sweep evicts expired entries; the maintenance scheduler calls it.
type MemoryFilter struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryFilter creates an in-memory filter with the default TTL.
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{
		seen: make(map[string]time.Time),
		ttl:  DefaultTTL,
		now:  time.Now,
	}
}

// IsNew returns true if the key has not been seen within the TTL window and
// marks it seen.
func (f *MemoryFilter) IsNew(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if at, ok := f.seen[key]; ok && now.Sub(at) < f.ttl {
		return false, nil
	}
	f.seen[key] = now
	return true, nil
}

// Sweep removes expired entries and returns how many were evicted.
func (f *MemoryFilter) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	evicted := 0
	for key, at := range f.seen {
		if now.Sub(at) >= f.ttl {
			delete(f.seen, key)
			evicted++
		}
	}
	return evicted
}

// Key builds the canonical dedup key for one native message on one connection.
func Key(connectionRef, nativeMessageID string) string {
	return connectionRef + ":" + nativeMessageID
}
