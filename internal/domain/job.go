package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelchain/internal/format"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	MaxOperations = 32
)

type CreateJobRequest struct {
	SourceType   string      `json:"source_type"`
	WebhookURL   string      `json:"webhook_url,omitempty"`
	ObjectKey    string      `json:"object_key,omitempty"`
	Operations   []Operation `json:"operations"`
	OutputFormat string      `json:"output_format,omitempty"`
	Quality      int         `json:"quality,omitempty"`
}

type Job struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id,omitempty"`
	Status       string      `json:"status"`
	SourceType   string      `json:"source_type"`
	WebhookURL   string      `json:"webhook_url,omitempty"`
	ObjectKey    string      `json:"object_key"`
	Operations   []Operation `json:"operations"`
	OutputFormat string      `json:"output_format,omitempty"`
	Quality      int         `json:"quality,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// An empty operation list is valid: the job re-encodes the source, in
// OutputFormat when one is given.
func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Operations) > MaxOperations {
		return fmt.Errorf("operations must not exceed %d entries", MaxOperations)
	}
	for i, op := range r.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operations[%d]: %w", i, err)
		}
	}
	if _, err := ParseOutputFormat(r.OutputFormat); err != nil {
		return err
	}
	if r.Quality < 0 || r.Quality > 100 {
		return fmt.Errorf("quality must be within 0..100, got %d", r.Quality)
	}
	return nil
}

// ParseOutputFormat maps an optional output format name to a format.
// An empty name yields format.Unknown, meaning "keep the source format".
func ParseOutputFormat(name string) (format.Format, error) {
	if strings.TrimSpace(name) == "" {
		return format.Unknown, nil
	}
	f, err := format.Parse(name)
	if err != nil {
		return format.Unknown, fmt.Errorf("unsupported output_format: %s", name)
	}
	return f, nil
}
