package interfaces

import (
	"context"
	"time"
)

// JobMessage is the structure stored in the queue.
// Keep it simple - just enough to route the job.
type JobMessage struct {
	JobID string `json:"job_id"`
	Type  string `json:"type"`
}

// JobQueue delivers a job id to a worker after an optional delay.
// Delivery is at-least-once; handlers must be idempotent at the
// identity level.
type JobQueue interface {
	Enqueue(ctx context.Context, msg JobMessage, delay time.Duration) error
}
