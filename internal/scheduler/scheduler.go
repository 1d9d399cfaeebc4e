package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"k8s.io/utils/clock"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/lease"
	"github.com/joseph-ayodele/statement-pipeline/internal/pipeline"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Runner is the processing pass the scheduler drives.
type Runner interface {
	ProcessAllPending(ctx context.Context) (pipeline.BatchResult, error)
	RetryAllFailedJobs(ctx context.Context) (pipeline.RetryAllResult, error)
}

type Config struct {
	Interval time.Duration
	// Jitter is the standard deviation applied to each tick. Zero means a fixed interval.
	Jitter     time.Duration
	RunOnStart bool
	// Key names the pass for the guard.
	Key string
}

// Scheduler owns the periodic processing loop. Ticks and manual triggers share one
// guard so a pass never overlaps another.
type Scheduler struct {
	runner Runner
	guard  lease.Guard
	clock  clock.WithTicker
	cfg    Config
	log    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithClock(c clock.WithTicker) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithGuard(g lease.Guard) Option {
	return func(s *Scheduler) {
		if g != nil {
			s.guard = g
		}
	}
}

func New(runner Runner, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = constants.DefaultScheduleInterval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Key == "" {
		cfg.Key = constants.ProcessPendingKey
	}
	s := &Scheduler{
		runner: runner,
		guard:  lease.NewLocal(),
		clock:  clock.RealClock{},
		cfg:    cfg,
		log:    logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result reports one guarded pass.
type Result struct {
	PassID string
	// Ran is false when another pass held the guard.
	Ran   bool
	Batch pipeline.BatchResult
	// Reset lists the failed jobs a RetryAll pass put back to pending.
	Reset []string
}

// Start launches the tick loop. It runs until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	t := s.newTicker()
	go s.loop(loopCtx, t, s.done)
	s.log.Info("scheduler.started",
		"interval", s.cfg.Interval.String(),
		"jitter", s.cfg.Jitter.String(),
		"run_on_start", s.cfg.RunOnStart,
	)
	return nil
}

// Stop ends the loop and waits for an in-flight tick to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler.stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Trigger runs a pass now, outside the tick schedule.
func (s *Scheduler) Trigger(ctx context.Context) (Result, error) {
	return s.run(ctx, "manual", s.processPending)
}

// RetryAll resets retry-eligible failed jobs and processes the queue as one guarded
// pass. When it only joined a pass already in flight it takes the guard once more,
// so the reset jobs are processed now rather than on the next tick.
func (s *Scheduler) RetryAll(ctx context.Context) (Result, error) {
	res, err := s.run(ctx, "retry_all", s.retryFailed)
	if res.Ran || ctx.Err() != nil {
		return res, err
	}
	return s.run(ctx, "retry_all", s.retryFailed)
}

func (s *Scheduler) processPending(ctx context.Context, res *Result) error {
	var err error
	res.Batch, err = s.runner.ProcessAllPending(ctx)
	return err
}

func (s *Scheduler) retryFailed(ctx context.Context, res *Result) error {
	out, err := s.runner.RetryAllFailedJobs(ctx)
	res.Reset, res.Batch = out.Reset, out.Batch
	return err
}

func (s *Scheduler) loop(ctx context.Context, t ticker, done chan struct{}) {
	defer close(done)
	defer t.Stop()
	if s.cfg.RunOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.run(ctx, "tick", s.processPending); err != nil && ctx.Err() == nil {
		s.log.Error("scheduler.tick.failed", "err", err)
	}
}

func (s *Scheduler) run(ctx context.Context, trigger string, pass func(context.Context, *Result) error) (Result, error) {
	res := Result{PassID: uuid.NewString()}
	start := s.clock.Now()
	ran, err := s.guard.Do(ctx, s.cfg.Key, func(ctx context.Context) error {
		return pass(ctx, &res)
	})
	res.Ran = ran
	if !ran {
		s.log.Info("scheduler.pass.skipped", "pass_id", res.PassID, "trigger", trigger, "reason", "pass in flight")
		return res, err
	}
	s.log.Info("scheduler.pass.done",
		"pass_id", res.PassID,
		"trigger", trigger,
		"pending", res.Batch.Pending,
		"completed", res.Batch.Completed,
		"reset", len(res.Reset),
		"elapsed_ms", s.clock.Since(start).Milliseconds(),
	)
	return res, err
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

func (s *Scheduler) newTicker() ticker {
	if s.cfg.Jitter > 0 {
		return jitterTicker{jitterbug.New(s.cfg.Interval, &jitterbug.Norm{Stdev: s.cfg.Jitter})}
	}
	return s.clock.NewTicker(s.cfg.Interval)
}

// jitterTicker runs on wall time; the injected clock only drives fixed-interval ticks.
type jitterTicker struct{ t *jitterbug.Ticker }

func (j jitterTicker) C() <-chan time.Time { return j.t.C }
func (j jitterTicker) Stop()               { j.t.Stop() }
