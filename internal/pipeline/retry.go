package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

// Backoff computes the wait before re-running a retried job: Base * 2^(retryCount-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: constants.DefaultBackoffBase, Max: constants.DefaultBackoffMax}
}

func (b Backoff) normalized() Backoff {
	if b.Base <= 0 {
		b.Base = constants.DefaultBackoffBase
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}

// Delay returns zero for first attempts.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	b = b.normalized()
	d := b.Base
	for i := 1; i < retryCount; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	return min(d, b.Max)
}

// RetryJob is the administrative retry: it resets a failed job with budget left.
// A missing job is an error; a job that is not retryable returns false.
func (p *Processor) RetryJob(ctx context.Context, filename string) (bool, error) {
	if _, err := p.jobs.Get(ctx, filename); err != nil {
		return false, err
	}
	ok, err := p.jobs.Retry(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("retry %s: %w", filename, err)
	}
	if ok {
		p.logger.Info("pipeline.job.retry", "filename", filename)
		p.publishRetried(ctx, filename)
	}
	return ok, nil
}

// RetryAllResult reports a bulk retry and the pass that followed it.
type RetryAllResult struct {
	Reset []string
	Batch BatchResult
}

// RetryAllFailedJobs resets every retry-eligible failed job and processes the pending
// queue straight away instead of waiting for the next tick.
func (p *Processor) RetryAllFailedJobs(ctx context.Context) (RetryAllResult, error) {
	var out RetryAllResult
	eligible, err := p.jobs.RetryEligible(ctx)
	if err != nil {
		return out, fmt.Errorf("list retry-eligible jobs: %w", err)
	}
	p.logger.Info("pipeline.retry_all.start", "eligible", len(eligible), "filenames", jobNames(eligible))

	for _, job := range eligible {
		ok, err := p.jobs.Retry(ctx, job.Filename)
		if err != nil {
			return out, fmt.Errorf("retry %s: %w", job.Filename, err)
		}
		if ok {
			out.Reset = append(out.Reset, job.Filename)
			p.publishRetried(ctx, job.Filename)
		}
	}

	out.Batch, err = p.ProcessAllPending(ctx)
	return out, err
}

// RetryEligibleJobs lists failed jobs that still have retry budget.
func (p *Processor) RetryEligibleJobs(ctx context.Context) ([]entity.ProcessingJob, error) {
	return p.jobs.RetryEligible(ctx)
}

// MaxRetriesExceededJobs lists failed jobs whose budget is spent.
func (p *Processor) MaxRetriesExceededJobs(ctx context.Context) ([]entity.ProcessingJob, error) {
	return p.jobs.MaxRetriesExceeded(ctx)
}
