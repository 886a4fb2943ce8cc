package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessImage = "image:process"

type ProcessImagePayload struct {
	JobID        string             `json:"job_id"`
	UserID       string             `json:"user_id,omitempty"`
	SourceType   string             `json:"source_type"`
	WebhookURL   string             `json:"webhook_url,omitempty"`
	ObjectKey    string             `json:"object_key"`
	Operations   []domain.Operation `json:"operations"`
	OutputFormat string             `json:"output_format,omitempty"`
	Quality      int                `json:"quality,omitempty"`
	RequestedAt  time.Time          `json:"requested_at"`
}

// PayloadForJob builds the task payload that runs job.
func PayloadForJob(job domain.Job, requestedAt time.Time) ProcessImagePayload {
	return ProcessImagePayload{
		JobID:        job.ID,
		UserID:       job.UserID,
		SourceType:   job.SourceType,
		WebhookURL:   job.WebhookURL,
		ObjectKey:    job.ObjectKey,
		Operations:   job.Operations,
		OutputFormat: job.OutputFormat,
		Quality:      job.Quality,
		RequestedAt:  requestedAt,
	}
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	if payload.JobID == "" {
		return ProcessImagePayload{}, fmt.Errorf("process payload is missing job_id")
	}
	return payload, nil
}
