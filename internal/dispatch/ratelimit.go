package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotLimiter admits or defers one submission for a limiter key. When denied
// it reports how long until a slot opens.
type SlotLimiter interface {
	Acquire(ctx context.Context, key string, perMinute int, member string) (allowed bool, wait time.Duration, err error)
}

// RateLimiter enforces a per-batch sends-per-minute ceiling using an atomic
// Redis Lua script. A sorted set of submission timestamps gives a true
// sliding window: no one-minute span ever contains more than the limit,
// which fixed-bucket counters cannot guarantee at bucket edges.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
}

// Script: drop entries older than the window, count the rest, and admit the
// request only if the count is under the limit. Check and insert are one
// atomic step, so concurrent dispatchers cannot both take the last slot.
const slidingWindowLuaScript = `
local key = KEYS[1]
local nowMicros = tonumber(ARGV[1])
local windowMicros = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, nowMicros - windowMicros)

local current = redis.call("ZCARD", key)
if current >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    local waitMicros = 0
    if oldest[2] then
        waitMicros = tonumber(oldest[2]) + windowMicros - nowMicros
    end
    return {0, waitMicros}
end

redis.call("ZADD", key, nowMicros, member)
redis.call("PEXPIRE", key, math.ceil(windowMicros / 1000) + 1000)
return {1, 0}
`

// NewRateLimiter creates a rate limiter with the pre-compiled Lua script.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(slidingWindowLuaScript),
	}
}

// Acquire attempts to take one send slot for the given limiter key. When
// denied it returns the duration until the oldest in-window submission ages
// out and a slot opens.
func (r *RateLimiter) Acquire(ctx context.Context, key string, perMinute int, member string) (allowed bool, wait time.Duration, err error) {
	if perMinute <= 0 {
		return true, 0, nil
	}

	now := time.Now().UnixMicro()
	window := time.Minute.Microseconds()

	result, err := r.script.Run(ctx, r.redis,
		[]string{fmt.Sprintf("ratelimit:dispatch:%s", key)},
		now, window, perMinute, member,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	waitMicros := result[1].(int64)
	if waitMicros < 0 {
		waitMicros = 0
	}
	return false, time.Duration(waitMicros) * time.Microsecond, nil
}

// CurrentUsage returns how many submissions sit in the current window.
func (r *RateLimiter) CurrentUsage(ctx context.Context, key string) (int64, error) {
	now := time.Now().UnixMicro()
	window := time.Minute.Microseconds()
	redisKey := fmt.Sprintf("ratelimit:dispatch:%s", key)

	pipe := r.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", now-window))
	cardCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to read rate limit usage: %w", err)
	}
	return cardCmd.Val(), nil
}
