package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tryAcquireLuaScript checks and increments the window counter in one atomic
// step. The TTL is set on first increment, so the window boundary is owned by
// whichever worker created the key.
const tryAcquireLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if limit > 0 and current >= limit then
    local ttl = redis.call("PTTL", key)
    if ttl < 0 then
        ttl = windowMs
    end
    return {0, 0, ttl}
end

local new = redis.call("INCR", key)
if new == 1 then
    redis.call("PEXPIRE", key, windowMs)
end
return {1, limit - new, 0}
`

// RedisStore is a Store backed by Redis, for deployments where multiple
// engine instances share credential quotas.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisStore creates a Redis-backed fixed-window store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(tryAcquireLuaScript),
	}
}

// TryAcquire admits one send against the key's quota.
func (s *RedisStore) TryAcquire(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	res, err := s.script.Run(ctx, s.client,
		[]string{"ratelimit:" + key},
		limit, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	return &Result{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
