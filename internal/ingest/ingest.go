package ingest

import (
	"context"
	"time"

	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

// Mode says which path a submitted document took.
type Mode string

const (
	// ModeBackground: the document was chunked and queued as a pending job.
	ModeBackground Mode = "background"
	// ModeDirect: the document was small enough to extract synchronously.
	ModeDirect Mode = "direct"
)

// Document is statement text ready for submission.
type Document struct {
	Filename   string
	FileType   string
	Text       string
	UploadDate time.Time
}

// IngestionResult is the per-file intake outcome.
type IngestionResult struct {
	SourcePath string                `json:"source_path,omitempty"`
	Filename   string                `json:"filename"`
	Mode       Mode                  `json:"mode,omitempty"`
	Job        *entity.ProcessingJob `json:"job,omitempty"` // background only
	Chunks     int                   `json:"chunks,omitempty"`
	Rows       int                   `json:"rows,omitempty"` // direct only
	// Skipped is set when an existing job was processing or completed and nothing was written.
	Skipped bool   `json:"skipped,omitempty"`
	Err     string `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned    uint32 `json:"scanned"`
	Matched    uint32 `json:"matched"`
	Background uint32 `json:"background"`
	Direct     uint32 `json:"direct"`
	Skipped    uint32 `json:"skipped"`
	Failed     uint32 `json:"failed"`
}

// Ingestor is the behavior the CLI and watcher depend on.
type Ingestor interface {
	// IngestPath loads and submits a single statement file.
	IngestPath(ctx context.Context, path string) (IngestionResult, error)
	// IngestDirectory ingests all matching files under root.
	IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error)
}
