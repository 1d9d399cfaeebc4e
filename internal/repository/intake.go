package repository

import (
	"context"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"

	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

// EnqueueResult reports what Enqueue did with an upload.
type EnqueueResult struct {
	Job *entity.ProcessingJob
	// Skipped is true when the job was already processing or completed and nothing was written.
	Skipped bool
}

// IntakeRepository writes a job and its chunks as one unit, so a job never
// advertises more chunks than are stored.
type IntakeRepository interface {
	Enqueue(ctx context.Context, filename, fileType string, uploadDate time.Time, chunks []entity.DocumentChunk) (EnqueueResult, error)
}

type intakeRepo struct {
	db  *DB
	log *slog.Logger
}

func NewIntakeRepository(db *DB, log *slog.Logger) IntakeRepository {
	if log == nil {
		log = slog.Default()
	}
	return &intakeRepo{db: db, log: log}
}

func (r *intakeRepo) Enqueue(ctx context.Context, filename, fileType string, uploadDate time.Time, chunks []entity.DocumentChunk) (EnqueueResult, error) {
	if filename == "" {
		return EnqueueResult{}, common.NewAppError(common.CodeInvalidJob, "filename required", common.ErrInvalidInput)
	}
	if err := validateChunks(filename, chunks); err != nil {
		return EnqueueResult{}, err
	}

	var res EnqueueResult
	err := r.db.WithTx(ctx, func(tx dialect.ExecQuerier) error {
		job, changed, err := createOrResume(ctx, tx, r.db, filename, fileType, uploadDate, len(chunks))
		if err != nil {
			return dbErr("enqueue job", err)
		}
		res.Job = job
		if !changed {
			res.Skipped = true
			return nil
		}
		if err := replaceChunks(ctx, tx, r.db.Dialect(), filename, chunks); err != nil {
			return dbErr("enqueue chunks", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("intake.enqueue.failed", "filename", filename, "err", err)
		return EnqueueResult{}, err
	}
	r.log.Info("intake.enqueue.ok",
		"filename", filename,
		"chunks", len(chunks),
		"status", res.Job.Status,
		"skipped", res.Skipped,
	)
	return res, nil
}
