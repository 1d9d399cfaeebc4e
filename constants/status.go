package constants

// JobStatus is the canonical status for rows in processing_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // waiting for the next pass
	JobStatusProcessing JobStatus = "processing" // claimed by a pass
	JobStatusCompleted  JobStatus = "completed"  // terminal
	JobStatusFailed     JobStatus = "failed"     // retryable until the budget runs out
)

// AllJobStatuses lists statuses in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

// ParseJobStatus maps a stored or user-provided string to a JobStatus.
func ParseJobStatus(s string) (JobStatus, bool) {
	for _, st := range AllJobStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// CanTransition reports whether the processor may move a job from one status to another.
// failed -> pending is reserved for the retry gate and is not allowed here.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}
