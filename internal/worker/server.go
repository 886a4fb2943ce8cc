package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelchain/internal/config"
	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/dunamismax/pixelchain/internal/pipeline"
	"github.com/dunamismax/pixelchain/internal/queue"
	"github.com/dunamismax/pixelchain/internal/store"
	"github.com/dunamismax/pixelchain/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type jobRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event, deliveryID string, payload any) error
}

type outputLinker interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	localRunner   jobRunner
	objectRunner  jobRunner
	webhookClient webhookSender
	outputLinks   outputLinker
	linkTTL       time.Duration
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type Dependencies struct {
	Storage    pipeline.ObjectStore
	Webhooks   *webhook.Client
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	imagingCfg config.ImagingConfig,
	deps Dependencies,
) (*Server, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	m := newMetrics()
	transformer := pipeline.Transformer{
		Options: pipeline.ImagingOptions(imagingCfg),
		Tracer:  otel.Tracer("pixelchain/pipeline"),
		Observe: m.observeOperation,
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:          make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localRunner:  pipeline.NewLocalRunner(workerCfg.LocalOutputDir, transformer),
		objectRunner: pipeline.NewObjectStoreRunner(deps.Storage, workerCfg.OutputPrefix, transformer),
		jobStore:     deps.JobStore,
		usageStore:   usageStore,
		metrics:      m,
		tracer:       otel.Tracer("pixelchain/worker"),
	}
	if deps.Webhooks != nil {
		s.webhookClient = deps.Webhooks
	}
	if linker, ok := deps.Storage.(outputLinker); ok && workerCfg.DownloadURLTTL > 0 {
		s.outputLinks = linker
		s.linkTTL = workerCfg.DownloadURLTTL
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.operations", len(payload.Operations)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s operations=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Operations),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:        payload.JobID,
		SourceType:   payload.SourceType,
		ObjectKey:    payload.ObjectKey,
		Operations:   payload.Operations,
		OutputFormat: payload.OutputFormat,
		Quality:      payload.Quality,
	}

	runner := s.objectRunner
	if payload.SourceType == domain.SourceTypeLocalFile {
		runner = s.localRunner
	}

	result, err := runner.Run(ctx, request)
	if err != nil {
		permanent := pipeline.IsPermanent(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")

		if !permanent && !lastAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("run pipeline: %w", err)
		}

		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if permanent {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.logger.Printf(
		"Processed job_id=%s source_format=%s output=%s %dx%d bytes=%d",
		payload.JobID,
		result.SourceFormat,
		result.Output.Path,
		result.Output.Width,
		result.Output.Height,
		result.Output.Bytes,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.metrics.outputsTotal.WithLabelValues(result.Output.Format).Inc()
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	completed := map[string]any{
		"job_id":        payload.JobID,
		"status":        domain.JobStatusSucceeded,
		"source_type":   payload.SourceType,
		"source_format": result.SourceFormat,
		"object_key":    payload.ObjectKey,
		"requested_at":  payload.RequestedAt,
		"completed_at":  time.Now().UTC(),
		"output":        result.Output,
	}
	if url := s.downloadURL(ctx, payload, result.Output); url != "" {
		completed["download_url"] = url
	}
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, completed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		// Webhook failures never fail a job whose output is written.
		outcome = domain.JobStatusSucceeded
		return nil
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// downloadURL presigns a GET for outputs written to object storage. It
// returns "" when links are disabled or presigning fails.
func (s *Server) downloadURL(ctx context.Context, payload queue.ProcessImagePayload, output pipeline.Output) string {
	if s.outputLinks == nil || payload.SourceType == domain.SourceTypeLocalFile {
		return ""
	}
	url, err := s.outputLinks.PresignedGetURL(ctx, output.Path, s.linkTTL)
	if err != nil {
		s.logger.Printf("presign output failed job_id=%s key=%s err=%v", payload.JobID, output.Path, err)
		return ""
	}
	return url
}

// lastAttempt reports whether asynq will not retry the current task again.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return
		}
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	deliveryID := payload.JobID + ":" + event
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, deliveryID, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ProcessImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	pixelsProcessed := int64(result.Output.Width) * int64(result.Output.Height)
	bytesSaved := max(0, int64(result.SourceBytes-result.Output.Bytes))
	computeTimeMS := max(1, computeDuration.Milliseconds())

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		Operations:      result.Operations,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
