package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
	"github.com/joseph-ayodele/statement-pipeline/internal/events"
	"github.com/joseph-ayodele/statement-pipeline/internal/extract"
	"github.com/joseph-ayodele/statement-pipeline/internal/repository"
)

// Deps are the collaborators a Processor drives. All of them are required.
type Deps struct {
	Jobs       repository.JobRepository
	Chunks     repository.ChunkRepository
	Statements repository.StatementRepository
	Extractor  extract.TransactionExtractor
}

// Processor runs pending jobs through chunk read, extraction, persistence and cleanup,
// one job at a time.
type Processor struct {
	jobs       repository.JobRepository
	chunks     repository.ChunkRepository
	statements repository.StatementRepository
	extractor  extract.TransactionExtractor

	events  events.Publisher
	clock   clock.Clock
	backoff Backoff
	logger  *slog.Logger
}

type Option func(*Processor)

func WithClock(c clock.Clock) Option {
	return func(p *Processor) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(p *Processor) { p.backoff = b.normalized() }
}

func WithPublisher(pub events.Publisher) Option {
	return func(p *Processor) {
		if pub != nil {
			p.events = pub
		}
	}
}

func NewProcessor(deps Deps, logger *slog.Logger, opts ...Option) (*Processor, error) {
	if deps.Jobs == nil || deps.Chunks == nil || deps.Statements == nil || deps.Extractor == nil {
		return nil, common.NewAppError(common.CodeInvalidProcessor, "jobs, chunks, statements and extractor are required", common.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		jobs:       deps.Jobs,
		chunks:     deps.Chunks,
		statements: deps.Statements,
		extractor:  deps.Extractor,
		events:     events.Noop{},
		clock:      clock.RealClock{},
		backoff:    DefaultBackoff(),
		logger:     logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// JobResult is the outcome of one ProcessJob call.
type JobResult struct {
	Filename string
	Status   constants.JobStatus
	Rows     int
	// Retried is set when a failure was recorded and the job went straight back to pending.
	Retried bool
	// Skipped is set when the job was no longer pending when the pass reached it,
	// or was deleted while it ran.
	Skipped bool
	// Released is set when an interrupted job went back to pending with its retry count intact.
	Released bool
	Err      error
}

// ProcessJob moves one pending job to a terminal state, or back to pending through
// the auto-retry gate. A failure inside the job is reported in JobResult.Err; the
// returned error is reserved for cancellation, store outages and bookkeeping that
// could not be written.
func (p *Processor) ProcessJob(ctx context.Context, filename string) (JobResult, error) {
	res := JobResult{Filename: filename}
	start := p.clock.Now()

	if err := p.jobs.TransitionStatus(ctx, filename, constants.JobStatusProcessing, ""); err != nil {
		if errors.Is(err, common.ErrInvalidTransition) || errors.Is(err, common.ErrNotFound) {
			p.logger.Info("pipeline.job.skip", "filename", filename, "reason", err.Error())
			res.Skipped = true
			return res, nil
		}
		return res, fmt.Errorf("claim %s: %w", filename, err)
	}
	res.Status = constants.JobStatusProcessing
	p.publish(ctx, events.TypeProcessing, filename, constants.JobStatusProcessing, 0, 0, "")
	p.logger.Info("pipeline.job.start", "filename", filename)

	rows, err := p.extractJob(ctx, filename)
	// Bookkeeping after this point is written even if the caller has gone away.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		res.Err = err
		if ctx.Err() != nil || repository.IsStoreError(err) {
			return p.release(ctx, res)
		}
		if ferr := p.RecordFailure(bg, filename, err); ferr != nil {
			if errors.Is(ferr, common.ErrNotFound) {
				p.logger.Warn("pipeline.job.vanished", "filename", filename, "stage", "record_failure")
				res.Skipped = true
				return res, nil
			}
			return res, errors.Join(err, ferr)
		}
		res.Status = constants.JobStatusFailed
		retried, rerr := p.AttemptAutoRetry(bg, filename)
		if rerr != nil {
			return res, rerr
		}
		if retried {
			res.Status = constants.JobStatusPending
			res.Retried = true
		}
		return res, nil
	}
	res.Rows = rows

	if n, err := p.chunks.DeleteChunks(bg, filename); err != nil {
		p.logger.Warn("pipeline.chunks.cleanup_failed", "filename", filename, "err", err)
	} else {
		p.logger.Debug("pipeline.chunks.cleaned", "filename", filename, "deleted", n)
	}

	if err := p.jobs.TransitionStatus(bg, filename, constants.JobStatusCompleted, ""); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			p.logger.Warn("pipeline.job.vanished", "filename", filename, "stage", "complete", "rows", rows)
			res.Skipped = true
			return res, nil
		}
		return res, fmt.Errorf("complete %s: %w", filename, err)
	}
	res.Status = constants.JobStatusCompleted
	p.publish(bg, events.TypeCompleted, filename, constants.JobStatusCompleted, 0, rows, "")
	p.logger.Info("pipeline.job.completed",
		"filename", filename,
		"rows", rows,
		"elapsed_ms", p.clock.Since(start).Milliseconds(),
	)
	return res, nil
}

// release returns an interrupted job to pending without charging its retry budget. The
// interruption, a canceled pass or a store outage, is returned so the pass stops.
func (p *Processor) release(ctx context.Context, res JobResult) (JobResult, error) {
	cause := res.Err
	ok, err := p.jobs.Release(context.WithoutCancel(ctx), res.Filename)
	if err != nil {
		p.logger.Error("pipeline.job.release_failed", "filename", res.Filename, "err", err)
		return res, errors.Join(cause, err)
	}
	if ok {
		res.Status = constants.JobStatusPending
		res.Released = true
	}
	p.logger.Warn("pipeline.job.released", "filename", res.Filename, "err", cause)
	if cerr := ctx.Err(); cerr != nil {
		return res, cerr
	}
	return res, fmt.Errorf("process %s: %w", res.Filename, cause)
}

// extractJob covers chunk read, extraction and persistence. Its errors are job failures.
func (p *Processor) extractJob(ctx context.Context, filename string) (int, error) {
	chunks, err := p.chunks.GetChunks(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("read chunks: %w", err)
	}
	if len(chunks) == 0 {
		return 0, common.ErrNoChunks
	}

	rows, err := p.extractor.ExtractChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("extract transactions: %w", err)
	}
	if len(rows) == 0 {
		p.logger.Info("pipeline.job.no_rows", "filename", filename, "chunks", len(chunks))
		return 0, nil
	}

	saved, err := p.statements.Save(ctx, filename, rows, constants.SourceBackgroundProcessed)
	if err != nil {
		return 0, fmt.Errorf("save transactions: %w", err)
	}
	return saved, nil
}

// RecordFailure marks a processing job failed with the cause as its error message.
func (p *Processor) RecordFailure(ctx context.Context, filename string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.jobs.TransitionStatus(ctx, filename, constants.JobStatusFailed, msg); err != nil {
		p.logger.Error("pipeline.job.record_failure_failed", "filename", filename, "err", err)
		return fmt.Errorf("record failure for %s: %w", filename, err)
	}
	p.logger.Warn("pipeline.job.failed", "filename", filename, "code", common.ErrorCode(cause), "error", msg)
	p.publish(ctx, events.TypeFailed, filename, constants.JobStatusFailed, 0, 0, msg)
	return nil
}

// AttemptAutoRetry passes a freshly failed job through the retry gate. It returns true
// when the job is pending again.
func (p *Processor) AttemptAutoRetry(ctx context.Context, filename string) (bool, error) {
	ok, err := p.jobs.Retry(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("auto retry %s: %w", filename, err)
	}
	if !ok {
		p.logger.Warn("pipeline.job.retry_exhausted", "filename", filename)
		return false, nil
	}
	p.publishRetried(ctx, filename)
	return true, nil
}

// BatchResult tallies one ProcessAllPending pass.
type BatchResult struct {
	Pending   int
	Completed int
	Failed    int
	Retried   int
	Skipped   int
	Released  int
	Rows      int
	Elapsed   time.Duration
}

// ProcessAllPending runs every pending job sequentially, first attempts before retries
// and oldest first within a retry count. Retried jobs wait out their backoff first.
// A failing job never stops the pass; a store outage or cancellation does, and the job
// in hand is released rather than charged a retry.
func (p *Processor) ProcessAllPending(ctx context.Context) (BatchResult, error) {
	var out BatchResult
	start := p.clock.Now()

	pending, err := p.jobs.List(ctx, repository.JobFilter{Status: constants.JobStatusPending}, repository.OrderFewestRetriesFirst)
	if err != nil {
		return out, fmt.Errorf("list pending jobs: %w", err)
	}
	out.Pending = len(pending)
	if len(pending) == 0 {
		p.logger.Debug("pipeline.batch.empty")
		return out, nil
	}
	p.logger.Info("pipeline.batch.start", "pending", len(pending))

	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if job.RetryCount > 0 {
			d := p.backoff.Delay(job.RetryCount)
			p.logger.Info("pipeline.job.backoff", "filename", job.Filename, "retry_count", job.RetryCount, "delay_ms", d.Milliseconds())
			if err := p.sleep(ctx, d); err != nil {
				return out, err
			}
		}

		res, err := p.ProcessJob(ctx, job.Filename)
		out.tally(res)
		if err != nil {
			p.logger.Error("pipeline.batch.aborted", "filename", job.Filename, "err", err)
			out.Elapsed = p.clock.Since(start)
			return out, err
		}
	}

	out.Elapsed = p.clock.Since(start)
	p.logger.Info("pipeline.batch.done",
		"pending", out.Pending,
		"completed", out.Completed,
		"failed", out.Failed,
		"retried", out.Retried,
		"skipped", out.Skipped,
		"released", out.Released,
		"rows", out.Rows,
		"elapsed_ms", out.Elapsed.Milliseconds(),
	)
	return out, nil
}

func (b *BatchResult) tally(r JobResult) {
	switch {
	case r.Skipped:
		b.Skipped++
	case r.Released:
		b.Released++
	case r.Retried:
		b.Retried++
	case r.Status == constants.JobStatusCompleted:
		b.Completed++
		b.Rows += r.Rows
	case r.Status == constants.JobStatusFailed:
		b.Failed++
	}
}

// sleep waits d on the injected clock, returning early if ctx ends.
func (p *Processor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := p.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func (p *Processor) publish(ctx context.Context, typ, filename string, status constants.JobStatus, retryCount, rows int, errMsg string) {
	ev := events.JobEvent{
		Type:       typ,
		Filename:   filename,
		Status:     string(status),
		RetryCount: retryCount,
		Rows:       rows,
		Error:      errMsg,
		At:         p.clock.Now().UTC(),
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		p.logger.Warn("pipeline.event.publish_failed", "type", typ, "filename", filename, "err", err)
	}
}

func (p *Processor) publishRetried(ctx context.Context, filename string) {
	retryCount := 0
	if job, err := p.jobs.Get(ctx, filename); err == nil {
		retryCount = job.RetryCount
	}
	p.publish(ctx, events.TypeRetried, filename, constants.JobStatusPending, retryCount, 0, "")
}

// jobNames is used in logs.
func jobNames(jobs []entity.ProcessingJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Filename
	}
	return out
}
