package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/async"
	"github.com/joseph-ayodele/statement-pipeline/internal/chunker"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/extract"
	"github.com/joseph-ayodele/statement-pipeline/internal/repository"
)

// Service decides per document whether it is queued for background processing
// or extracted on the spot.
type Service struct {
	Text       extract.TextExtractor
	Chunker    *chunker.Chunker
	Intake     repository.IntakeRepository
	Statements repository.StatementRepository
	Extractor  extract.TransactionExtractor
	Clock      clock.PassiveClock
	Logger     *slog.Logger
}

var _ Ingestor = (*Service)(nil)

func NewService(
	text extract.TextExtractor,
	ch *chunker.Chunker,
	intake repository.IntakeRepository,
	statements repository.StatementRepository,
	extractor extract.TransactionExtractor,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ch == nil {
		ch = chunker.New(chunker.DefaultConfig())
	}
	return &Service{
		Text:       text,
		Chunker:    ch,
		Intake:     intake,
		Statements: statements,
		Extractor:  extractor,
		Clock:      clock.RealClock{},
		Logger:     logger,
	}
}

// LoadText reads a statement file into a Document keyed by its base filename.
func (s *Service) LoadText(ctx context.Context, path string) (Document, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if ext == "" || !AllowedExt(ext) {
		return Document{}, common.NewAppError(common.CodeUnsupportedFile, fmt.Sprintf("unsupported or missing extension: %q", ext), common.ErrInvalidInput)
	}
	res, err := s.Text.Extract(ctx, path)
	if err != nil {
		return Document{}, fmt.Errorf("extract text from %s: %w", path, err)
	}
	for _, w := range res.Warnings {
		s.Logger.Warn("ingest.text.warning", "path", path, "warning", w)
	}
	return Document{
		Filename:   filepath.Base(path),
		FileType:   res.FileType,
		Text:       res.Text,
		UploadDate: s.Clock.Now().UTC(),
	}, nil
}

// Submit routes a document. Oversized text is chunked and enqueued together with its
// job; anything else is extracted synchronously and saved as a direct upload.
func (s *Service) Submit(ctx context.Context, doc Document) (IngestionResult, error) {
	out := IngestionResult{Filename: doc.Filename}
	if strings.TrimSpace(doc.Filename) == "" {
		return out, common.NewAppError(common.CodeInvalidDocument, "filename is required", common.ErrInvalidInput)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return out, common.NewAppError(common.CodeInvalidDocument, "no text extracted from "+doc.Filename, common.ErrInvalidInput)
	}
	if doc.FileType == "" {
		doc.FileType = constants.MapExtToFileType(filepath.Ext(doc.Filename))
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = s.Clock.Now().UTC()
	}

	if s.Chunker.ShouldChunk(doc.Text) {
		return s.enqueue(ctx, doc)
	}
	return s.direct(ctx, doc)
}

func (s *Service) enqueue(ctx context.Context, doc Document) (IngestionResult, error) {
	out := IngestionResult{Filename: doc.Filename, Mode: ModeBackground}
	chunks := s.Chunker.Chunk(doc.Text, doc.Filename, doc.FileType, doc.UploadDate)
	res, err := s.Intake.Enqueue(ctx, doc.Filename, doc.FileType, doc.UploadDate, chunks)
	if err != nil {
		return out, fmt.Errorf("enqueue %s: %w", doc.Filename, err)
	}
	out.Job = res.Job
	out.Skipped = res.Skipped
	if res.Job != nil {
		out.Chunks = res.Job.TotalChunks
	}
	s.Logger.Info("ingest.enqueued",
		"filename", doc.Filename,
		"chunks", out.Chunks,
		"text_len", len([]rune(doc.Text)),
		"skipped", res.Skipped,
	)
	return out, nil
}

func (s *Service) direct(ctx context.Context, doc Document) (IngestionResult, error) {
	out := IngestionResult{Filename: doc.Filename, Mode: ModeDirect}
	rows, err := s.Extractor.ExtractText(ctx, doc.Text)
	if err != nil {
		return out, fmt.Errorf("extract %s: %w", doc.Filename, err)
	}
	if len(rows) > 0 {
		n, err := s.Statements.Save(ctx, doc.Filename, rows, constants.SourceDirectUpload)
		if err != nil {
			return out, fmt.Errorf("save %s: %w", doc.Filename, err)
		}
		out.Rows = n
	}
	s.Logger.Info("ingest.direct", "filename", doc.Filename, "rows", out.Rows)
	return out, nil
}

func (s *Service) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	doc, err := s.LoadText(ctx, path)
	if err != nil {
		return IngestionResult{SourcePath: path}, err
	}
	res, err := s.Submit(ctx, doc)
	res.SourcePath = path
	return res, err
}

// IngestDirectory walks root, skips hidden entries if requested, and submits each
// supported file. Per-file failures are collected, not returned.
func (s *Service) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []IngestionResult
	var stats DirStats

	err := walkTree(root, skipHidden, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if !isStatementFile(path, d) {
			return nil
		}
		stats.Matched++

		r, err := s.IngestPath(ctx, path)
		if err != nil {
			s.Logger.Warn("ingest.file.failed", "path", path, "err", err)
			results = append(results, IngestionResult{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, r)
		switch {
		case r.Skipped:
			stats.Skipped++
		case r.Mode == ModeBackground:
			stats.Background++
		default:
			stats.Direct++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	s.Logger.Info("ingest.directory.done",
		"root", root,
		"matched", stats.Matched,
		"background", stats.Background,
		"direct", stats.Direct,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

// Handle ingests one queued path; it is the async.Handler for watched files.
func (s *Service) Handle(ctx context.Context, job async.Job) error {
	res, err := s.IngestPath(ctx, job.Path)
	if err != nil {
		return err
	}
	s.Logger.Debug("ingest.job.done", "path", job.Path, "trace_id", job.TraceID, "mode", res.Mode, "skipped", res.Skipped)
	return nil
}

// Follow ingests every path received until ctx ends or paths closes. With a queue the
// paths are handed to its workers, otherwise they are ingested one at a time.
func (s *Service) Follow(ctx context.Context, paths <-chan string, q async.Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-paths:
			if !ok {
				return
			}
			job := async.Job{Path: p, SubmittedAt: s.Clock.Now().UTC(), TraceID: uuid.NewString()}
			if q == nil {
				if err := s.Handle(ctx, job); err != nil {
					s.Logger.Warn("ingest.watch.failed", "path", p, "err", err)
				}
				continue
			}
			if err := q.Enqueue(ctx, job); err != nil {
				s.Logger.Warn("ingest.watch.enqueue_failed", "path", p, "err", err)
			}
		}
	}
}
