package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessImageTaskRoundTrip(t *testing.T) {
	job := domain.Job{
		ID:         "job-123",
		UserID:     "user-7",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-123/source",
		Operations: []domain.Operation{
			{Op: domain.OpResize, Width: 512, Height: 512},
			{Op: domain.OpBlur, Sigma: 1.5},
		},
		OutputFormat: "webp",
		Quality:      70,
	}

	task, err := NewProcessImageTask(PayloadForJob(job, time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, TypeProcessImage, task.Type())

	parsed, err := ParseProcessImagePayload(task)
	require.NoError(t, err)
	assert.Equal(t, job.ID, parsed.JobID)
	assert.Equal(t, job.UserID, parsed.UserID)
	assert.Equal(t, job.Operations, parsed.Operations)
	assert.Equal(t, "webp", parsed.OutputFormat)
	assert.Equal(t, 70, parsed.Quality)
}

func TestParseProcessImagePayloadRejectsBadBody(t *testing.T) {
	_, err := ParseProcessImagePayload(asynq.NewTask(TypeProcessImage, []byte("{")))
	assert.Error(t, err)

	_, err = ParseProcessImagePayload(asynq.NewTask(TypeProcessImage, []byte(`{"source_type":"local_file"}`)))
	assert.Error(t, err)
}
