package telemetry

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: "none"}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingRejectsBadConfig(t *testing.T) {
	_, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, nil)
	assert.Error(t, err)

	_, err = SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, nil)
	assert.Error(t, err)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, TraceConfig{}.Sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, TraceConfig{SampleRatio: 1}.Sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, TraceConfig{SampleRatio: 0.25}.Sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestAttributes(t *testing.T) {
	attrs := attribute.NewSet(TraceConfig{
		ServiceName:   "pixelchain-worker",
		Environment:   "staging",
		MaxPixels:     50_000_000,
		WebPAvailable: true,
	}.Attributes()...)

	v, ok := attrs.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "pixelchain-worker", v.AsString())
	v, ok = attrs.Value(semconv.DeploymentEnvironmentKey)
	require.True(t, ok)
	assert.Equal(t, "staging", v.AsString())
	v, ok = attrs.Value("pixelchain.max_pixels")
	require.True(t, ok)
	assert.Equal(t, int64(50_000_000), v.AsInt64())
	v, ok = attrs.Value("pixelchain.codec.webp")
	require.True(t, ok)
	assert.True(t, v.AsBool())

	defaults := attribute.NewSet(TraceConfig{}.Attributes()...)
	v, ok = defaults.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "pixelchain", v.AsString())
	_, ok = defaults.Value(semconv.DeploymentEnvironmentKey)
	assert.False(t, ok)
	_, ok = defaults.Value("pixelchain.max_pixels")
	assert.False(t, ok)
}
