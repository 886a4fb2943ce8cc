package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/dunamismax/pixelchain/internal/pipeline"
	"github.com/dunamismax/pixelchain/internal/queue"
	"github.com/dunamismax/pixelchain/internal/store"
	"github.com/dunamismax/pixelchain/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func newTestServer(t *testing.T, runner jobRunner, jobStore *store.MemoryJobStore, hooks *captureWebhooks) *Server {
	t.Helper()
	m := newMetrics()
	s := &Server{
		logger:       log.New(io.Discard, "", 0),
		sem:          make(chan struct{}, 1),
		localRunner:  runner,
		objectRunner: runner,
		jobStore:     jobStore,
		usageStore:   jobStore,
		metrics:      m,
		tracer:       otel.Tracer("pixelchain/worker"),
	}
	if hooks != nil {
		s.webhookClient = hooks
	}
	return s
}

func seedJob(t *testing.T, s *store.MemoryJobStore, job domain.Job) {
	t.Helper()
	now := time.Now().UTC()
	job.Status = domain.JobStatusQueued
	job.CreatedAt, job.UpdatedAt = now, now
	require.NoError(t, s.Create(context.Background(), job))
}

func taskFor(t *testing.T, job domain.Job) *asynq.Task {
	t.Helper()
	task, err := queue.NewProcessImageTask(queue.PayloadForJob(job, time.Now().UTC()))
	require.NoError(t, err)
	return task
}

func TestHandleProcessImageSucceeds(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "input.png")
	require.NoError(t, os.WriteFile(input, testPNG(t, 64, 32), 0o644))

	jobStore := store.NewMemoryJobStore()
	job := domain.Job{
		ID:         "job-ok",
		UserID:     "user-1",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  input,
		WebhookURL: "https://example.test/hook",
		Operations: []domain.Operation{
			{Op: domain.OpResize, Width: 32, Height: 32},
			{Op: domain.OpGrayscale},
		},
	}
	seedJob(t, jobStore, job)

	hooks := &captureWebhooks{}
	s := newTestServer(t, nil, jobStore, hooks)
	s.localRunner = pipeline.NewLocalRunner(filepath.Join(tmp, "out"), pipeline.Transformer{Observe: s.metrics.observeOperation})

	require.NoError(t, s.handleProcessImage(context.Background(), taskFor(t, job)))

	got, _, _ := jobStore.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobStatusSucceeded, got.Status)

	require.Len(t, hooks.events, 1)
	assert.Equal(t, webhook.EventJobCompleted, hooks.events[0])
	assert.Equal(t, "job-ok:"+webhook.EventJobCompleted, hooks.deliveries[0])

	logs := jobStore.UsageLogs("user-1")
	require.Len(t, logs, 1)
	assert.Equal(t, int64(32*16), logs[0].PixelsProcessed)
	assert.Equal(t, 2, logs[0].Operations)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.operationsTotal.WithLabelValues("resize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.jobsTotal.WithLabelValues(domain.SourceTypeLocalFile, domain.JobStatusSucceeded)))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.activeJobs))
}

func TestHandleProcessImageSkipsRetryOnBadImage(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "input.png")
	require.NoError(t, os.WriteFile(input, []byte("this is not an image"), 0o644))

	jobStore := store.NewMemoryJobStore()
	job := domain.Job{
		ID:         "job-bad",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  input,
		WebhookURL: "https://example.test/hook",
		Operations: []domain.Operation{{Op: domain.OpInvert}},
	}
	seedJob(t, jobStore, job)

	hooks := &captureWebhooks{}
	s := newTestServer(t, pipeline.NewLocalRunner(tmp, pipeline.Transformer{}), jobStore, hooks)

	err := s.handleProcessImage(context.Background(), taskFor(t, job))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	got, _, _ := jobStore.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, []string{webhook.EventJobFailed}, hooks.events)
}

func TestHandleProcessImageTransientFailure(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	job := domain.Job{ID: "job-flaky", SourceType: domain.SourceTypeS3Presigned, ObjectKey: "uploads/job-flaky/source"}
	seedJob(t, jobStore, job)

	s := newTestServer(t, failingRunner{err: errors.New("connection refused")}, jobStore, nil)

	err := s.handleProcessImage(context.Background(), taskFor(t, job))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	got, _, _ := jobStore.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
}

func TestHandleProcessImageRejectsBadPayload(t *testing.T) {
	s := newTestServer(t, failingRunner{}, store.NewMemoryJobStore(), nil)
	err := s.handleProcessImage(context.Background(), asynq.NewTask(queue.TypeProcessImage, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWebhookFailureDoesNotFailJob(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "input.png")
	require.NoError(t, os.WriteFile(input, testPNG(t, 8, 8), 0o644))

	jobStore := store.NewMemoryJobStore()
	job := domain.Job{ID: "job-hook", SourceType: domain.SourceTypeLocalFile, ObjectKey: input, WebhookURL: "https://example.test/hook"}
	seedJob(t, jobStore, job)

	hooks := &captureWebhooks{err: errors.New("receiver down")}
	s := newTestServer(t, pipeline.NewLocalRunner(tmp, pipeline.Transformer{}), jobStore, hooks)

	require.NoError(t, s.handleProcessImage(context.Background(), taskFor(t, job)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.webhookFailures.WithLabelValues(webhook.EventJobCompleted)))
}

func TestCompletionWebhookCarriesDownloadURL(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	job := domain.Job{ID: "job-s3", SourceType: domain.SourceTypeS3Presigned, ObjectKey: "uploads/job-s3/source", WebhookURL: "https://example.test/hook"}
	seedJob(t, jobStore, job)

	hooks := &captureWebhooks{}
	s := newTestServer(t, succeedingRunner{output: pipeline.Output{Format: "png", Path: "outputs/job-s3/output.png", Width: 4, Height: 4}}, jobStore, hooks)
	s.outputLinks = fakeLinker{}
	s.linkTTL = time.Minute

	require.NoError(t, s.handleProcessImage(context.Background(), taskFor(t, job)))
	require.Len(t, hooks.payloads, 1)
	body := hooks.payloads[0].(map[string]any)
	assert.Equal(t, "https://minio.test/outputs/job-s3/output.png?ttl=1m0s", body["download_url"])
}

func TestRecordUsageLooksUpUser(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	seedJob(t, jobStore, domain.Job{ID: "job-1", UserID: "user-1", SourceType: domain.SourceTypeLocalFile})

	s := newTestServer(t, nil, jobStore, nil)
	s.recordUsage(context.Background(), queue.ProcessImagePayload{JobID: "job-1"}, pipeline.Result{
		SourceBytes: 1_000,
		Operations:  3,
		Output:      pipeline.Output{Width: 20, Height: 25, Bytes: 700},
	}, 250*time.Millisecond)

	logs := jobStore.UsageLogs("user-1")
	require.Len(t, logs, 1)
	assert.Equal(t, int64(500), logs[0].PixelsProcessed)
	assert.Equal(t, int64(300), logs[0].BytesSaved)
	assert.Equal(t, int64(250), logs[0].ComputeTimeMS)
	assert.Equal(t, 3, logs[0].Operations)
}

func TestRecordUsageClampsNegativeBytesSaved(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	s := newTestServer(t, nil, jobStore, nil)

	s.recordUsage(context.Background(), queue.ProcessImagePayload{JobID: "job-2"}, pipeline.Result{
		SourceBytes: 100,
		Output:      pipeline.Output{Width: 5, Height: 5, Bytes: 200},
	}, 0)

	logs := jobStore.UsageLogs("anonymous")
	require.Len(t, logs, 1)
	assert.Equal(t, int64(0), logs[0].BytesSaved)
	assert.Equal(t, int64(1), logs[0].ComputeTimeMS)
}

type failingRunner struct {
	err error
}

func (r failingRunner) Run(context.Context, pipeline.Request) (pipeline.Result, error) {
	return pipeline.Result{}, r.err
}

type succeedingRunner struct {
	output pipeline.Output
}

func (r succeedingRunner) Run(context.Context, pipeline.Request) (pipeline.Result, error) {
	return pipeline.Result{SourceBytes: 100, SourceFormat: "png", Output: r.output}, nil
}

type fakeLinker struct{}

func (fakeLinker) PresignedGetURL(_ context.Context, objectKey string, expiry time.Duration) (string, error) {
	return "https://minio.test/" + objectKey + "?ttl=" + expiry.String(), nil
}

type captureWebhooks struct {
	err        error
	events     []string
	deliveries []string
	payloads   []any
}

func (c *captureWebhooks) Send(_ context.Context, _ string, event, deliveryID string, payload any) error {
	c.events = append(c.events, event)
	c.deliveries = append(c.deliveries, deliveryID)
	c.payloads = append(c.payloads, payload)
	return c.err
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
