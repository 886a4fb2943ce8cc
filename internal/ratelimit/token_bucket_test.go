package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, 10, time.Minute, "")
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, 0, time.Minute, "")
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, 10, 0, "")
	assert.Error(t, err)

	bucket, err := NewRedisTokenBucket(client, 60, time.Minute, "")
	require.NoError(t, err)
	assert.Equal(t, "pixelchain:ratelimit:user-1:/v1/jobs", bucket.key(Subject("user-1", "/v1/jobs")))
	assert.Equal(t, "pixelchain:ratelimit:anonymous", bucket.key("  "))
	assert.InDelta(t, 0.001, bucket.refillPerMS, 1e-12)
	assert.Equal(t, time.Minute, bucket.window)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "user-1:/v1/transform", Subject("user-1", "/v1/transform"))
	assert.Equal(t, "anonymous:/v1/jobs", Subject(" ", "/v1/jobs"))
	assert.Equal(t, "user-1", Subject("user-1", ""))
}

func TestPolicyCost(t *testing.T) {
	p, err := newPolicy(5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.cost(0))
	assert.Equal(t, int64(3), p.cost(3))
	assert.Equal(t, int64(5), p.cost(40))

	_, err = newPolicy(5, 0)
	assert.Error(t, err)
}

func TestMemoryTokenBucket(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bucket, err := NewMemoryTokenBucket(3, 3*time.Second)
	require.NoError(t, err)
	bucket.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := bucket.AllowN(ctx, "user-1", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(2-i), d.Remaining)
	}

	d, err := bucket.AllowN(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	other, err := bucket.AllowN(ctx, "user-2", 1)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	now = now.Add(time.Second)
	d, err = bucket.AllowN(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(10 * time.Second)
	d, err = bucket.AllowN(ctx, "user-1", 99)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "cost is clamped to capacity")
	assert.Equal(t, int64(3), d.Cost)
	assert.Equal(t, int64(3), d.Limit)
	assert.Equal(t, int64(0), d.Remaining)
}
