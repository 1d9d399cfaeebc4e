package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
	"github.com/joseph-ayodele/statement-pipeline/internal/events"
	"github.com/joseph-ayodele/statement-pipeline/internal/repository"
)

const twoValidOneInvalid = `{"rows":[
	{"date":"2024-01-02","description":"Salary","amount":2500,"type":"credit"},
	{"date":"2024-01-03","amount":5},
	{"date":"2024-01-05","description":"Rent","amount":-1200}
]}`

func TestProcessAllPending_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chunks := h.enqueue(t, "statement.pdf", strings.Repeat("x", 10000))
	require.Len(t, chunks, 4)
	h.completer.set(twoValidOneInvalid, nil)

	res, err := h.proc.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 2, res.Rows)
	assert.Len(t, h.completer.calls(), 1, "all chunks go out in one call")

	saved, err := h.statements.List(ctx, repository.TransactionFilter{Filename: "statement.pdf"})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, tx := range saved {
		assert.Equal(t, constants.SourceBackgroundProcessed, tx.Source)
		assert.Positive(t, tx.Amount)
	}

	left, err := h.chunks.GetChunks(ctx, "statement.pdf")
	require.NoError(t, err)
	assert.Empty(t, left)

	job := h.job(t, "statement.pdf")
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.Nil(t, job.ErrorMessage)

	assert.Equal(t, []string{events.TypeProcessing, events.TypeCompleted}, h.publisher.types("statement.pdf"))
}

func TestProcessJob_MalformedOutputCompletesWithNoRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, "odd.pdf", statementText("odd", 9000))
	h.completer.set(`{}`, nil)

	res, err := h.proc.ProcessJob(ctx, "odd.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, res.Status)
	assert.Zero(t, res.Rows)
	assert.NoError(t, res.Err)

	saved, err := h.statements.List(ctx, repository.TransactionFilter{Filename: "odd.pdf"})
	require.NoError(t, err)
	assert.Empty(t, saved)

	left, err := h.chunks.GetChunks(ctx, "odd.pdf")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcessJob_FailureIsAutoRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, "flaky.pdf", statementText("flaky", 9000))
	h.completer.set("", errors.New("completion returned 503"))

	res, err := h.proc.ProcessJob(ctx, "flaky.pdf")
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, constants.JobStatusPending, res.Status)
	require.Error(t, res.Err)

	job := h.job(t, "flaky.pdf")
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.ErrorMessage)
	require.NotNil(t, job.LastRetryAt)

	left, err := h.chunks.GetChunks(ctx, "flaky.pdf")
	require.NoError(t, err)
	assert.NotEmpty(t, left, "chunks survive a failed attempt")

	assert.Equal(t,
		[]string{events.TypeProcessing, events.TypeFailed, events.TypeRetried},
		h.publisher.types("flaky.pdf"))
}

func TestProcessJob_ExhaustedRetriesStayFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, "dead.pdf", statementText("dead", 9000))
	require.NoError(t, h.jobs.SetMaxRetries(ctx, "dead.pdf", 2))
	h.failTimes(t, "dead.pdf", 2)
	h.completer.set("", errors.New("completion returned 500"))

	res, err := h.proc.ProcessJob(ctx, "dead.pdf")
	require.NoError(t, err)
	assert.False(t, res.Retried)
	assert.Equal(t, constants.JobStatusFailed, res.Status)

	job := h.job(t, "dead.pdf")
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "completion returned 500")

	exceeded, err := h.proc.MaxRetriesExceededJobs(ctx)
	require.NoError(t, err)
	require.Len(t, exceeded, 1)
	assert.Equal(t, "dead.pdf", exceeded[0].Filename)

	eligible, err := h.proc.RetryEligibleJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestProcessJob_NoChunksTakesTheGenericRetryPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.jobs.CreateOrResume(ctx, "ghost.pdf", constants.PDF, t0, 3)
	require.NoError(t, err)

	res, err := h.proc.ProcessJob(ctx, "ghost.pdf")
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, common.ErrNoChunks)
	assert.True(t, res.Retried)
	assert.Empty(t, h.completer.calls())

	job := h.job(t, "ghost.pdf")
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
}

func TestProcessJob_SkipsJobsThatAreNotPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, "done.pdf", statementText("done", 9000))
	h.completer.set(twoValidOneInvalid, nil)

	_, err := h.proc.ProcessJob(ctx, "done.pdf")
	require.NoError(t, err)

	res, err := h.proc.ProcessJob(ctx, "done.pdf")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Len(t, h.completer.calls(), 1)
}

func TestProcessJob_UnknownJobIsSkipped(t *testing.T) {
	h := newHarness(t)
	res, err := h.proc.ProcessJob(context.Background(), "missing.pdf")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, h.completer.calls())
}

func TestProcessAllPending_JobDeletedMidPassIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, "first.pdf", statementText("FIRST", 9000))
	h.clock.Step(time.Second)
	h.enqueue(t, "gone.pdf", statementText("GONE", 9000))
	h.clock.Step(time.Second)
	h.enqueue(t, "last.pdf", statementText("LAST", 9000))
	h.completer.set(twoValidOneInvalid, nil)

	var once sync.Once
	h.completer.onCall(func(ctx context.Context) error {
		var err error
		once.Do(func() { _, err = h.jobs.Delete(ctx, "gone.pdf") })
		return err
	})

	res, err := h.proc.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pending)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, constants.JobStatusCompleted, h.job(t, "last.pdf").Status)

	_, err = h.jobs.Get(ctx, "gone.pdf")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestProcessJob_CanceledDuringExtractionKeepsRetryBudget(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "slow.pdf", statementText("SLOW", 9000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.completer.onCall(func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	res, err := h.proc.ProcessJob(ctx, "slow.pdf")
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Released)
	assert.Equal(t, constants.JobStatusPending, res.Status)

	job := h.job(t, "slow.pdf")
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.NotContains(t, h.publisher.types("slow.pdf"), events.TypeFailed)
}

func TestProcessAllPending_CanceledDuringExtractionStopsPass(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "first.pdf", statementText("FIRST", 9000))
	h.clock.Step(time.Second)
	h.enqueue(t, "second.pdf", statementText("SECOND", 9000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.completer.onCall(func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	res, err := h.proc.ProcessAllPending(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Released)
	assert.Zero(t, res.Failed)
	assert.Len(t, h.completer.calls(), 1)
	for _, name := range []string{"first.pdf", "second.pdf"} {
		job := h.job(t, name)
		assert.Equal(t, constants.JobStatusPending, job.Status, name)
		assert.Equal(t, 0, job.RetryCount, name)
	}
}

// unavailableChunks fails every read the way the store does when the database is down.
type unavailableChunks struct {
	repository.ChunkRepository
}

func (unavailableChunks) GetChunks(context.Context, string) ([]entity.DocumentChunk, error) {
	return nil, common.NewAppError(common.CodeDatabase, "get chunks: database is locked", common.ErrDatabase)
}

func TestProcessAllPending_StoreOutageReleasesJob(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "a.pdf", statementText("A", 9000))
	h.clock.Step(time.Second)
	h.enqueue(t, "b.pdf", statementText("B", 9000))
	h.withChunks(t, unavailableChunks{ChunkRepository: h.chunks})

	res, err := h.proc.ProcessAllPending(context.Background())
	require.ErrorIs(t, err, common.ErrDatabase)
	assert.Equal(t, 1, res.Released)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Retried)

	for _, name := range []string{"a.pdf", "b.pdf"} {
		job := h.job(t, name)
		assert.Equal(t, constants.JobStatusPending, job.Status, name)
		assert.Equal(t, 0, job.RetryCount, name)
		assert.Empty(t, job.ErrorMessage, name)
	}
	assert.NotContains(t, h.publisher.types("a.pdf"), events.TypeFailed)
}

func TestProcessAllPending_FirstAttemptsBeforeRetries(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "retried.pdf", statementText("RETRIED", 9000))
	h.failTimes(t, "retried.pdf", 2)
	h.clock.Step(time.Second)
	h.enqueue(t, "fresh.pdf", statementText("FRESH", 9000))
	h.completer.set(`{"rows":[]}`, nil)

	var res BatchResult
	var err error
	drive(t, h.clock, time.Second, func() {
		res, err = h.proc.ProcessAllPending(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)

	calls := h.completer.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "FRESH")
	assert.Contains(t, calls[1], "RETRIED")
}

func TestProcessAllPending_WaitsOutBackoff(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "retried.pdf", statementText("RETRIED", 9000))
	h.failTimes(t, "retried.pdf", 3)

	done := make(chan error, 1)
	go func() {
		_, err := h.proc.ProcessAllPending(context.Background())
		done <- err
	}()

	require.Eventually(t, h.clock.HasWaiters, 2*time.Second, time.Millisecond)
	h.clock.Step(3 * time.Second)
	assert.Empty(t, h.completer.calls(), "retry_count 3 waits 4s")

	require.Eventually(t, h.clock.HasWaiters, 2*time.Second, time.Millisecond)
	h.clock.Step(time.Second)
	require.NoError(t, <-done)
	assert.Len(t, h.completer.calls(), 1)
}

func TestProcessAllPending_CanceledDuringBackoff(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "retried.pdf", statementText("RETRIED", 9000))
	h.failTimes(t, "retried.pdf", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.proc.ProcessAllPending(ctx)
		done <- err
	}()
	require.Eventually(t, h.clock.HasWaiters, 2*time.Second, time.Millisecond)
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, constants.JobStatusPending, h.job(t, "retried.pdf").Status)
	assert.Empty(t, h.completer.calls())
}

func TestProcessAllPending_FailureDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.jobs.CreateOrResume(ctx, "ghost.pdf", constants.PDF, t0, 2)
	require.NoError(t, err)
	h.clock.Step(time.Second)
	h.enqueue(t, "good.pdf", statementText("good", 9000))
	h.completer.set(twoValidOneInvalid, nil)

	res, err := h.proc.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pending)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, constants.JobStatusCompleted, h.job(t, "good.pdf").Status)
}

func TestNewProcessor_RequiresDeps(t *testing.T) {
	_, err := NewProcessor(Deps{}, nil)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}
