package constants

import "time"

// Chunking defaults, in runes.
const (
	DefaultChunkSize           = 3000
	DefaultChunkOverlap        = 200
	DefaultMinChunkSize        = 500
	DefaultBackgroundThreshold = 8000
)

// ChunkSeparator joins chunk texts before the extraction call.
const ChunkSeparator = "\n\n--- CHUNK BREAK ---\n\n"

// Retry and scheduling defaults.
const (
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 1 * time.Second
	DefaultBackoffMax       = 30 * time.Second
	DefaultScheduleInterval = 5 * time.Minute
	DefaultLeaseTTL         = 2 * time.Minute
)

// ProcessPendingKey names the single-flight key for a processing pass.
const ProcessPendingKey = "statements:process-pending"
