package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/dunamismax/pixelchain/internal/format"
	"github.com/dunamismax/pixelchain/internal/id"
	"github.com/dunamismax/pixelchain/internal/pipeline"
	"github.com/dunamismax/pixelchain/internal/queue"
	"github.com/dunamismax/pixelchain/internal/ratelimit"
	"github.com/dunamismax/pixelchain/internal/storage"
	"github.com/dunamismax/pixelchain/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerSourceFormat = "X-Pixelchain-Source-Format"
	headerWidth        = "X-Pixelchain-Width"
	headerHeight       = "X-Pixelchain-Height"
)

type Server struct {
	logger         *log.Logger
	queueClient    queueEnqueuer
	jobStore       store.JobStore
	storage        objectStorage
	transformer    pipeline.Transformer
	presignTTL     time.Duration
	maxUploadBytes int64
	userIDHeader   string
	rateLimiter    ratelimit.Limiter
	metrics        *metrics
	tracer         trace.Tracer
	mux            *http.ServeMux
	handler        http.Handler
}

// Options tunes a Server. Zero values pick defaults.
type Options struct {
	PresignTTL     time.Duration
	MaxUploadBytes int64
	UserIDHeader   string
	RateLimiter    ratelimit.Limiter
	Transformer    pipeline.Transformer
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(logger *log.Logger, opts Options, queueClient queueEnqueuer, jobStore store.JobStore, objects objectStorage) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if strings.TrimSpace(opts.UserIDHeader) == "" {
		opts.UserIDHeader = "X-User-ID"
	}
	if objects == nil {
		objects = unavailableObjectStorage{}
	}
	if opts.Transformer.Tracer == nil {
		opts.Transformer.Tracer = otel.Tracer("pixelchain/pipeline")
	}

	s := &Server{
		logger:         logger,
		queueClient:    queueClient,
		jobStore:       jobStore,
		storage:        objects,
		transformer:    opts.Transformer,
		presignTTL:     opts.PresignTTL,
		maxUploadBytes: opts.MaxUploadBytes,
		userIDHeader:   opts.UserIDHeader,
		rateLimiter:    opts.RateLimiter,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("pixelchain/api"),
		mux:            http.NewServeMux(),
	}
	s.routes()
	s.handler = s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /v1/transform", s.handleTransform)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = storage.SourceKey(jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed job_id=%s err=%v", jobID, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:           jobID,
		UserID:       s.userID(r),
		Status:       domain.JobStatusCreated,
		SourceType:   sourceType,
		WebhookURL:   req.WebhookURL,
		ObjectKey:    objectKey,
		Operations:   req.Operations,
		OutputFormat: strings.ToLower(strings.TrimSpace(req.OutputFormat)),
		Quality:      req.Quality,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessImage(r.Context(), queue.PayloadForJob(job, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeError(w, http.StatusConflict, "job is already enqueued")
			return
		}
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

// handleTransform runs a chain synchronously on the request body and writes
// the encoded image back. Operations come from repeated op query parameters
// in their text form, e.g. ?op=resize:512,512&op=grayscale&format=png.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	operations, err := domain.ParseOperations(query["op"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(operations) > domain.MaxOperations {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("operations must not exceed %d entries", domain.MaxOperations))
		return
	}
	target, err := domain.ParseOutputFormat(query.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quality := 0
	if raw := query.Get("quality"); raw != "" {
		quality, err = strconv.Atoi(raw)
		if err != nil || quality < 0 || quality > 100 {
			writeError(w, http.StatusBadRequest, "quality must be an integer within 0..100")
			return
		}
	}

	source, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(source) == 0 {
		writeError(w, http.StatusBadRequest, "request body must contain an image")
		return
	}

	targetLabel := "auto"
	if target != format.Unknown {
		targetLabel = target.String()
	}
	start := time.Now()
	rendered, err := s.transformer.Transform(r.Context(), source, operations, target, quality)
	s.metrics.observeTransform(operations, targetLabel, rendered, time.Since(start), err)
	if err != nil {
		if pipeline.IsPermanent(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Printf("transform failed user_id=%s operations=%d err=%v", s.userID(r), len(operations), err)
		writeError(w, http.StatusInternalServerError, "failed to transform image")
		return
	}

	h := w.Header()
	h.Set("Content-Type", rendered.Format.ContentType())
	h.Set("Content-Length", strconv.Itoa(len(rendered.Data)))
	h.Set(headerSourceFormat, rendered.SourceFormat.String())
	h.Set(headerWidth, strconv.Itoa(rendered.Width))
	h.Set(headerHeight, strconv.Itoa(rendered.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered.Data)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(s.userIDHeader))
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
