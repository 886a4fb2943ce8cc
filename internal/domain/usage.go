package domain

import "time"

// UsageLog records the work done for one successful job.
type UsageLog struct {
	UserID          string    `json:"user_id"`
	JobID           string    `json:"job_id"`
	Operations      int       `json:"operations"`
	PixelsProcessed int64     `json:"pixels_processed"`
	BytesSaved      int64     `json:"bytes_saved"`
	ComputeTimeMS   int64     `json:"compute_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}
