package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PIXELCHAIN_API_ADDR", "PIXELCHAIN_MAX_PIXELS", "POSTGRES_DSN", "RATE_LIMIT_WINDOW", "PIXELCHAIN_ENV"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, int64(50_000_000), cfg.Imaging.MaxPixels)
	assert.Equal(t, 80, cfg.Imaging.JPEGQuality)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.GreaterOrEqual(t, cfg.Worker.MaxActiveJobs, 1)
	assert.Equal(t, "development", cfg.Tracing.Environment)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIXELCHAIN_API_ADDR", ":9999")
	t.Setenv("PIXELCHAIN_MAX_PIXELS", "1024")
	t.Setenv("PIXELCHAIN_JPEG_QUALITY", "not-a-number")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("OTEL_TRACES_SAMPLER_RATIO", "0.25")
	t.Setenv("PIXELCHAIN_ENV", "production")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, int64(1024), cfg.Imaging.MaxPixels)
	assert.Equal(t, 80, cfg.Imaging.JPEGQuality)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRatio, 1e-9)
	assert.Equal(t, "production", cfg.Tracing.Environment)
}

func TestRedisClientOpt(t *testing.T) {
	opt := QueueConfig{RedisAddr: "redis:6379", RedisPassword: "pw", RedisDB: 2}.RedisClientOpt()
	assert.Equal(t, "redis:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 2, opt.DB)
}
