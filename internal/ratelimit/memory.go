package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is implemented by RedisTokenBucket and MemoryTokenBucket.
type Limiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (Decision, error)
}

type bucketState struct {
	tokens float64
	last   time.Time
}

// MemoryTokenBucket is a single-process token bucket with the same refill
// rules as RedisTokenBucket.
type MemoryTokenBucket struct {
	policy
	mu      sync.Mutex
	buckets map[string]*bucketState
	now     func() time.Time
}

func NewMemoryTokenBucket(capacity int, window time.Duration) (*MemoryTokenBucket, error) {
	p, err := newPolicy(capacity, window)
	if err != nil {
		return nil, err
	}
	return &MemoryTokenBucket{
		policy:  p,
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}, nil
}

func (l *MemoryTokenBucket) AllowN(_ context.Context, subject string, cost int64) (Decision, error) {
	subject = Subject(subject, "")
	cost = l.cost(cost)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[subject]
	if !ok {
		b = &bucketState{tokens: float64(l.capacity), last: now}
		l.buckets[subject] = b
	}

	elapsed := math.Max(0, float64(now.Sub(b.last).Milliseconds()))
	b.tokens = math.Min(float64(l.capacity), b.tokens+elapsed*l.refillPerMS)
	b.last = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return Decision{Allowed: true, Limit: l.capacity, Cost: cost, Remaining: int64(b.tokens)}, nil
	}

	retryMS := math.Ceil((float64(cost) - b.tokens) / l.refillPerMS)
	return Decision{
		Allowed:    false,
		Limit:      l.capacity,
		Cost:       cost,
		Remaining:  int64(b.tokens),
		RetryAfter: time.Duration(retryMS) * time.Millisecond,
	}, nil
}
