package events

import (
	"context"
	"time"
)

// Event types published on job status changes.
const (
	TypeProcessing = "job.processing"
	TypeCompleted  = "job.completed"
	TypeFailed     = "job.failed"
	TypeRetried    = "job.retried"
)

// JobEvent describes one status change of a processing job.
type JobEvent struct {
	Type       string    `json:"type"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	Rows       int       `json:"rows,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher delivers job events. Implementations must not block a job on delivery failures;
// callers log the returned error and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, JobEvent) error { return nil }
