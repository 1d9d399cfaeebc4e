package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/chunker"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
	"github.com/joseph-ayodele/statement-pipeline/internal/events"
	"github.com/joseph-ayodele/statement-pipeline/internal/extract"
	"github.com/joseph-ayodele/statement-pipeline/internal/repository"
)

var t0 = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedCompleter answers every call with the same output and remembers the prompts it saw.
// A non-nil hook runs first on every call and its error, if any, is returned instead.
type scriptedCompleter struct {
	mu    sync.Mutex
	out   string
	err   error
	users []string
	hook  func(ctx context.Context) error
}

func (c *scriptedCompleter) Complete(ctx context.Context, _, user string) (string, error) {
	c.mu.Lock()
	c.users = append(c.users, user)
	hook, out, err := c.hook, c.out, c.err
	c.mu.Unlock()
	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return "", herr
		}
	}
	return out, err
}

func (c *scriptedCompleter) onCall(fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = fn
}

func (c *scriptedCompleter) set(out string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out, c.err = out, err
}

func (c *scriptedCompleter) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.users...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types(filename string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Filename == filename {
			out = append(out, ev.Type)
		}
	}
	return out
}

type harness struct {
	proc       *Processor
	clock      *clocktesting.FakeClock
	completer  *scriptedCompleter
	publisher  *recordingPublisher
	jobs       repository.JobRepository
	chunks     repository.ChunkRepository
	statements repository.StatementRepository
	intake     repository.IntakeRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clocktesting.NewFakeClock(t0)
	db, err := repository.OpenInMemory(context.Background(), quietLogger(), repository.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		clock:      clk,
		completer:  &scriptedCompleter{out: `{"rows":[]}`},
		publisher:  &recordingPublisher{},
		jobs:       repository.NewJobRepository(db, quietLogger()),
		chunks:     repository.NewChunkRepository(db, quietLogger()),
		statements: repository.NewStatementRepository(db, quietLogger()),
		intake:     repository.NewIntakeRepository(db, quietLogger()),
	}
	ex, err := extract.NewLLMExtractor(h.completer, quietLogger())
	require.NoError(t, err)

	h.proc, err = NewProcessor(Deps{
		Jobs:       h.jobs,
		Chunks:     h.chunks,
		Statements: h.statements,
		Extractor:  ex,
	}, quietLogger(), WithClock(clk), WithPublisher(h.publisher))
	require.NoError(t, err)
	return h
}

// withChunks rebuilds the processor over a different chunk store.
func (h *harness) withChunks(t *testing.T, chunks repository.ChunkRepository) {
	t.Helper()
	ex, err := extract.NewLLMExtractor(h.completer, quietLogger())
	require.NoError(t, err)
	h.proc, err = NewProcessor(Deps{
		Jobs:       h.jobs,
		Chunks:     chunks,
		Statements: h.statements,
		Extractor:  ex,
	}, quietLogger(), WithClock(h.clock), WithPublisher(h.publisher))
	require.NoError(t, err)
}

// enqueue chunks text with the default chunker and stores it as a pending job.
func (h *harness) enqueue(t *testing.T, filename, text string) []entity.DocumentChunk {
	t.Helper()
	chunks := chunker.New(chunker.DefaultConfig()).Chunk(text, filename, constants.PDF, t0)
	_, err := h.intake.Enqueue(context.Background(), filename, constants.PDF, t0, chunks)
	require.NoError(t, err)
	return chunks
}

// failTimes drives a pending job through processing -> failed -> pending n times,
// leaving it pending with retry_count n.
func (h *harness) failTimes(t *testing.T, filename string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, h.jobs.TransitionStatus(ctx, filename, constants.JobStatusProcessing, ""))
		require.NoError(t, h.jobs.TransitionStatus(ctx, filename, constants.JobStatusFailed, "boom"))
		ok, err := h.jobs.Retry(ctx, filename)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func (h *harness) job(t *testing.T, filename string) *entity.ProcessingJob {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), filename)
	require.NoError(t, err)
	return job
}

// drive runs fn while advancing the fake clock whenever something waits on it.
func drive(t *testing.T, clk *clocktesting.FakeClock, step time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("timed out waiting for processing pass")
		case <-time.After(time.Millisecond):
			if clk.HasWaiters() {
				clk.Step(step)
			}
		}
	}
}

func statementText(marker string, n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(marker)
		b.WriteString(" 2024-01-15 GROCERY STORE 42.10\n")
	}
	return b.String()[:n]
}
