package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
)

func failJob(t *testing.T, jobs JobRepository, filename string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, jobs.TransitionStatus(ctx, filename, constants.JobStatusProcessing, ""))
	require.NoError(t, jobs.TransitionStatus(ctx, filename, constants.JobStatusFailed, "boom"))
}

func TestCreateOrResume_NewJobIsPending(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())

	job, err := jobs.CreateOrResume(context.Background(), "jan.pdf", constants.PDF, t0, 4)
	require.NoError(t, err)

	assert.Equal(t, "jan.pdf", job.Filename)
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, 4, job.TotalChunks)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, constants.DefaultMaxRetries, job.MaxRetries)
	assert.True(t, job.CreatedAt.Equal(t0))
	assert.Nil(t, job.ProcessedAt)
}

func TestCreateOrResume_CompletedJobIsUntouched(t *testing.T) {
	db, clk := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	_, err := jobs.CreateOrResume(ctx, "jan.pdf", constants.PDF, t0, 4)
	require.NoError(t, err)
	require.NoError(t, jobs.TransitionStatus(ctx, "jan.pdf", constants.JobStatusProcessing, ""))
	clk.Step(time.Minute)
	require.NoError(t, jobs.TransitionStatus(ctx, "jan.pdf", constants.JobStatusCompleted, ""))
	before, err := jobs.Get(ctx, "jan.pdf")
	require.NoError(t, err)
	require.NotNil(t, before.ProcessedAt)

	for i := 0; i < 2; i++ {
		clk.Step(time.Hour)
		_, err := jobs.CreateOrResume(ctx, "jan.pdf", constants.CSV, t0.Add(24*time.Hour), 9)
		require.NoError(t, err)
	}

	after, err := jobs.Get(ctx, "jan.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, after.Status)
	assert.Equal(t, 4, after.TotalChunks)
	assert.Equal(t, constants.PDF, after.FileType)
	assert.True(t, before.ProcessedAt.Equal(*after.ProcessedAt))
}

func TestCreateOrResume_FailedJobIsRefreshed(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	_, err := jobs.CreateOrResume(ctx, "feb.csv", constants.CSV, t0, 2)
	require.NoError(t, err)
	failJob(t, jobs, "feb.csv")

	job, err := jobs.CreateOrResume(ctx, "feb.csv", constants.TXT, t0, 5)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, constants.TXT, job.FileType)
	assert.Equal(t, 5, job.TotalChunks)
}

func TestTransitionStatus(t *testing.T) {
	db, clk := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()
	_, err := jobs.CreateOrResume(ctx, "a.pdf", constants.PDF, t0, 1)
	require.NoError(t, err)

	t.Run("pending cannot complete", func(t *testing.T) {
		err := jobs.TransitionStatus(ctx, "a.pdf", constants.JobStatusCompleted, "")
		assert.ErrorIs(t, err, common.ErrInvalidTransition)
	})

	t.Run("failed stamps error message", func(t *testing.T) {
		failJob(t, jobs, "a.pdf")
		job, err := jobs.Get(ctx, "a.pdf")
		require.NoError(t, err)
		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, "boom", *job.ErrorMessage)
	})

	t.Run("failed cannot be moved to pending directly", func(t *testing.T) {
		err := jobs.TransitionStatus(ctx, "a.pdf", constants.JobStatusPending, "")
		assert.ErrorIs(t, err, common.ErrInvalidTransition)
	})

	t.Run("completed stamps processed_at", func(t *testing.T) {
		ok, err := jobs.Retry(ctx, "a.pdf")
		require.NoError(t, err)
		require.True(t, ok)
		clk.Step(time.Minute)
		require.NoError(t, jobs.TransitionStatus(ctx, "a.pdf", constants.JobStatusProcessing, ""))
		require.NoError(t, jobs.TransitionStatus(ctx, "a.pdf", constants.JobStatusCompleted, ""))
		job, err := jobs.Get(ctx, "a.pdf")
		require.NoError(t, err)
		require.NotNil(t, job.ProcessedAt)
		assert.True(t, job.ProcessedAt.Equal(t0.Add(time.Minute)))
		assert.Nil(t, job.ErrorMessage)
	})

	t.Run("unknown job", func(t *testing.T) {
		err := jobs.TransitionStatus(ctx, "missing.pdf", constants.JobStatusProcessing, "")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestRetry_NeverExceedsMaxRetries(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	for _, tc := range []struct {
		retryCount, maxRetries int
	}{
		{0, 3}, {1, 3}, {2, 3}, {3, 3}, {0, 0}, {4, 2},
	} {
		name := fmt.Sprintf("r%d-m%d.pdf", tc.retryCount, tc.maxRetries)
		t.Run(name, func(t *testing.T) {
			_, err := jobs.CreateOrResume(ctx, name, constants.PDF, t0, 1)
			require.NoError(t, err)
			setRetryCount(t, db, name, tc.retryCount)
			require.NoError(t, jobs.SetMaxRetries(ctx, name, tc.maxRetries))
			failJob(t, jobs, name)
			before, err := jobs.Get(ctx, name)
			require.NoError(t, err)

			ok, err := jobs.Retry(ctx, name)
			require.NoError(t, err)

			after, err := jobs.Get(ctx, name)
			require.NoError(t, err)
			if ok {
				assert.Equal(t, before.RetryCount+1, after.RetryCount)
				assert.LessOrEqual(t, after.RetryCount, after.MaxRetries)
				assert.Equal(t, constants.JobStatusPending, after.Status)
				assert.Nil(t, after.ErrorMessage)
				assert.NotNil(t, after.LastRetryAt)
			} else {
				assert.GreaterOrEqual(t, before.RetryCount, before.MaxRetries)
				assert.Equal(t, before, after)
			}
		})
	}
}

func TestRetry_ExhaustedJobStaysFailed(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	_, err := jobs.CreateOrResume(ctx, "x.pdf", constants.PDF, t0, 1)
	require.NoError(t, err)
	setRetryCount(t, db, "x.pdf", 3)
	failJob(t, jobs, "x.pdf")

	ok, err := jobs.Retry(ctx, "x.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := jobs.Get(ctx, "x.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)

	// raising the budget revives it
	require.NoError(t, jobs.SetMaxRetries(ctx, "x.pdf", 5))
	ok, err = jobs.Retry(ctx, "x.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetry_OnlyFailedJobs(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()
	_, err := jobs.CreateOrResume(ctx, "p.pdf", constants.PDF, t0, 1)
	require.NoError(t, err)

	ok, err := jobs.Retry(ctx, "p.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = jobs.Retry(ctx, "missing.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetMaxRetries_Validation(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	assert.ErrorIs(t, jobs.SetMaxRetries(ctx, "a.pdf", -1), common.ErrInvalidInput)
	assert.ErrorIs(t, jobs.SetMaxRetries(ctx, "a.pdf", 2), common.ErrNotFound)
}

func TestRetryPartition(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	failed := map[string]bool{}
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("job-%02d.pdf", i)
		_, err := jobs.CreateOrResume(ctx, name, constants.PDF, t0, 1)
		require.NoError(t, err)
		setRetryCount(t, db, name, i%5)
		require.NoError(t, jobs.SetMaxRetries(ctx, name, i%4))
		if i%3 != 0 {
			failJob(t, jobs, name)
			failed[name] = true
		}
	}

	eligible, err := jobs.RetryEligible(ctx)
	require.NoError(t, err)
	exceeded, err := jobs.MaxRetriesExceeded(ctx)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, j := range eligible {
		assert.Less(t, j.RetryCount, j.MaxRetries)
		seen[j.Filename]++
	}
	for _, j := range exceeded {
		assert.GreaterOrEqual(t, j.RetryCount, j.MaxRetries)
		seen[j.Filename]++
	}
	assert.Len(t, seen, len(failed))
	for name, n := range seen {
		assert.True(t, failed[name], name)
		assert.Equal(t, 1, n, name)
	}

	sum, err := jobs.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(failed), sum.Failed)
	assert.Equal(t, 12-len(failed), sum.Pending)
	assert.Equal(t, len(eligible), sum.RetryEligible)
	assert.Equal(t, len(exceeded), sum.MaxRetriesExceeded)
	assert.Equal(t, 12, sum.Total())
}

func TestList_Ordering(t *testing.T) {
	db, clk := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	for _, name := range []string{"first.pdf", "second.pdf", "third.pdf"} {
		_, err := jobs.CreateOrResume(ctx, name, constants.PDF, t0, 1)
		require.NoError(t, err)
		clk.Step(time.Second)
	}
	setRetryCount(t, db, "first.pdf", 2)

	names := func(order JobOrder) []string {
		list, err := jobs.List(ctx, JobFilter{Status: constants.JobStatusPending}, order)
		require.NoError(t, err)
		var out []string
		for _, j := range list {
			out = append(out, j.Filename)
		}
		return out
	}

	assert.Equal(t, []string{"first.pdf", "second.pdf", "third.pdf"}, names(OrderOldestFirst))
	assert.Equal(t, []string{"third.pdf", "second.pdf", "first.pdf"}, names(OrderNewestFirst))
	assert.Equal(t, []string{"second.pdf", "third.pdf", "first.pdf"}, names(OrderFewestRetriesFirst))

	one, err := jobs.List(ctx, JobFilter{Filename: "second.pdf"}, OrderOldestFirst)
	require.NoError(t, err)
	require.Len(t, one, 1)
}

func TestDelete_RemovesJobAndChunks(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	chunks := NewChunkRepository(db, quietLogger())
	ctx := context.Background()

	_, err := jobs.CreateOrResume(ctx, "d.pdf", constants.PDF, t0, 2)
	require.NoError(t, err)
	require.NoError(t, chunks.StoreChunks(ctx, "d.pdf", sampleChunks("d.pdf", 2)))

	ok, err := jobs.Delete(ctx, "d.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = jobs.Get(ctx, "d.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)
	left, err := chunks.GetChunks(ctx, "d.pdf")
	require.NoError(t, err)
	assert.Empty(t, left)

	ok, err = jobs.Delete(ctx, "d.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelease_KeepsRetryCount(t *testing.T) {
	db, _ := newTestDB(t)
	jobs := NewJobRepository(db, quietLogger())
	ctx := context.Background()

	_, err := jobs.CreateOrResume(ctx, "r.pdf", constants.PDF, t0, 1)
	require.NoError(t, err)
	failJob(t, jobs, "r.pdf")
	ok, err := jobs.Retry(ctx, "r.pdf")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = jobs.Release(ctx, "r.pdf")
	require.NoError(t, err)
	assert.False(t, ok, "pending jobs are not released")

	require.NoError(t, jobs.TransitionStatus(ctx, "r.pdf", constants.JobStatusProcessing, ""))
	ok, err = jobs.Release(ctx, "r.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := jobs.Get(ctx, "r.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
}
