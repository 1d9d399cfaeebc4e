package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerQueue_DrainsOnShutdown(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewWorkerQueue(func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.Path)
		if job.Path == "bad.pdf" {
			return errors.New("boom")
		}
		return nil
	}, quietLogger(), WithWorkers(3), WithQueueSize(8))

	ctx := context.Background()
	for _, p := range []string{"a.pdf", "bad.pdf", "b.pdf", "c.pdf"} {
		require.NoError(t, q.Enqueue(ctx, Job{Path: p}))
	}
	q.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(seen)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "bad.pdf", "c.pdf"}, seen)

	assert.ErrorIs(t, q.Enqueue(ctx, Job{Path: "late.pdf"}), ErrQueueClosed)
	q.Shutdown(ctx)
}

func TestWorkerQueue_EnqueueHonoursContextWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewWorkerQueue(func(context.Context, Job) error {
		<-release
		return nil
	}, quietLogger(), WithWorkers(1), WithQueueSize(1))

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{Path: "1"})) // picked up by the worker
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, Job{Path: "2"})) // fills the buffer

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(short, Job{Path: "3"}), context.DeadlineExceeded)

	close(release)
	q.Shutdown(ctx)
}

func TestWorkerQueue_JobTimeout(t *testing.T) {
	got := make(chan error, 1)
	q := NewWorkerQueue(func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}, quietLogger(), WithJobTimeout(10*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), Job{Path: "slow.pdf"}))
	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never timed out")
	}
	q.Shutdown(context.Background())
}
