package entity

import (
	"time"

	"github.com/joseph-ayodele/statement-pipeline/constants"
)

// ProcessingJob is the per-document record driving background extraction.
type ProcessingJob struct {
	Filename     string              `json:"filename"`
	FileType     string              `json:"file_type"`
	UploadDate   time.Time           `json:"upload_date"`
	Status       constants.JobStatus `json:"status"`
	TotalChunks  int                 `json:"total_chunks"`
	ProcessedAt  *time.Time          `json:"processed_at,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	RetryCount   int                 `json:"retry_count"`
	MaxRetries   int                 `json:"max_retries"`
	LastRetryAt  *time.Time          `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// RetryEligible reports whether a failed job still has retry budget left.
func (j ProcessingJob) RetryEligible() bool {
	return j.Status == constants.JobStatusFailed && j.RetryCount < j.MaxRetries
}

// JobSummary aggregates job counts for status surfaces.
type JobSummary struct {
	Pending            int `json:"pending"`
	Processing         int `json:"processing"`
	Completed          int `json:"completed"`
	Failed             int `json:"failed"`
	RetryEligible      int `json:"retry_eligible"`
	MaxRetriesExceeded int `json:"max_retries_exceeded"`
}

// Total returns the number of jobs across all statuses.
func (s JobSummary) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}
