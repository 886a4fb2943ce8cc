package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one token bucket check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Cost       int64
	Remaining  int64
	RetryAfter time.Duration
}

// Subject builds the bucket name for a caller on one route. Each route gets
// its own bucket so a burst of transforms does not starve job submission.
func Subject(caller, route string) string {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}
	if route == "" {
		return caller
	}
	return caller + ":" + route
}

// policy holds the refill rules shared by the Redis and in-process buckets.
type policy struct {
	capacity    int64
	refillPerMS float64
	window      time.Duration
}

func newPolicy(capacity int, window time.Duration) (policy, error) {
	if capacity <= 0 {
		return policy{}, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return policy{}, fmt.Errorf("window must be positive")
	}
	return policy{
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(max(1, window.Milliseconds())),
		window:      window,
	}, nil
}

// cost clamps a request cost to [1, capacity] so an expensive request can
// still pass on a full bucket.
func (p policy) cost(n int64) int64 {
	return min(max(n, 1), p.capacity)
}

// tokenBucketScript refills the bucket at KEYS[1] and takes ARGV[4] tokens
// from it. It returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "timestamp")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - last) * refill_per_ms)

local allowed, retry_ms = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_ms = math.ceil((cost - tokens) / refill_per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "timestamp", now_ms)
redis.call("PEXPIRE", KEYS[1], ttl_ms)

return {allowed, math.floor(tokens), retry_ms}
`)

// RedisTokenBucket shares buckets between API replicas through Redis.
type RedisTokenBucket struct {
	policy
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	p, err := newPolicy(capacity, window)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelchain:ratelimit"
	}
	return &RedisTokenBucket{
		policy:    p,
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisTokenBucket) key(subject string) string {
	return l.keyPrefix + ":" + Subject(subject, "")
}

// AllowN takes cost tokens from the bucket of subject.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int64) (Decision, error) {
	cost = l.cost(cost)
	values, err := tokenBucketScript.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		cost,
		(2 * l.window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid token bucket response: %d values", len(values))
	}

	return Decision{
		Allowed:    values[0] == 1,
		Limit:      l.capacity,
		Cost:       cost,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}
