package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/statement-pipeline/internal/chunker"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/events"
	"github.com/joseph-ayodele/statement-pipeline/internal/export"
	"github.com/joseph-ayodele/statement-pipeline/internal/extract"
	"github.com/joseph-ayodele/statement-pipeline/internal/ingest"
	"github.com/joseph-ayodele/statement-pipeline/internal/lease"
	"github.com/joseph-ayodele/statement-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/statement-pipeline/internal/ocr"
	"github.com/joseph-ayodele/statement-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/statement-pipeline/internal/repository"
	"github.com/joseph-ayodele/statement-pipeline/internal/scheduler"
	"github.com/joseph-ayodele/statement-pipeline/internal/server"
)

// app is the fully wired process: stores, extractor, processor and the surfaces on top.
type app struct {
	db        *repository.DB
	jobs      repository.JobRepository
	processor *pipeline.Processor
	scheduler *scheduler.Scheduler
	ingest    *ingest.Service
	export    *export.Service
	admin     *server.Service

	closers []func()
}

func newApp(ctx context.Context, cfg *common.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	db, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.jobs = repository.NewJobRepository(db, log)
	chunks := repository.NewChunkRepository(db, log)
	stmts := repository.NewStatementRepository(db, log)
	intake := repository.NewIntakeRepository(db, log)

	completer := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxTokens:   cfg.LLM.MaxTokens,
		RetryCount:  cfg.LLM.RetryCount,
	}, log)
	extractor, err := extract.NewLLMExtractor(completer, log)
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return nil, err
	}
	if n, ok := publisher.(*events.NATS); ok {
		a.closers = append(a.closers, n.Close)
	}

	a.processor, err = pipeline.NewProcessor(pipeline.Deps{
		Jobs:       a.jobs,
		Chunks:     chunks,
		Statements: stmts,
		Extractor:  extractor,
	}, log,
		pipeline.WithBackoff(pipeline.Backoff{Base: cfg.Pipeline.BackoffBase, Max: cfg.Pipeline.BackoffMax}),
		pipeline.WithPublisher(publisher),
	)
	if err != nil {
		return nil, err
	}

	a.scheduler = scheduler.New(a.processor, scheduler.Config{
		Interval:   cfg.Pipeline.ScheduleInterval,
		Jitter:     cfg.Pipeline.ScheduleJitter,
		RunOnStart: cfg.Pipeline.RunOnStart,
	}, log, scheduler.WithGuard(a.newGuard(cfg, log)))

	ch := chunker.New(chunker.Config{
		Size:      cfg.Pipeline.ChunkSize,
		Overlap:   cfg.Pipeline.ChunkOverlap,
		MinSize:   cfg.Pipeline.MinChunkSize,
		Threshold: cfg.Pipeline.BackgroundThreshold,
	})
	var textOpts []extract.FileOption
	if cfg.OCR.Enabled {
		o := ocr.NewExtractor(ocr.Config{
			TesseractLang: cfg.OCR.Lang,
			TessdataDir:   cfg.OCR.TessdataDir,
			DPI:           cfg.OCR.DPI,
			MaxPages:      cfg.OCR.MaxPages,
		}, log)
		if err := o.CheckTools(); err != nil {
			log.Warn("ocr.tools.missing", "error", err)
		}
		textOpts = append(textOpts, extract.WithPDFFallback(o))
	}
	a.ingest = ingest.NewService(extract.NewFileTextExtractor(log, textOpts...), ch, intake, stmts, extractor, log)
	a.export = export.NewService(stmts, a.jobs, log)
	a.admin = server.NewService(a.jobs, a.processor, a.scheduler, a.export, log)

	built = true
	return a, nil
}

// newGuard returns the Redis lease when REDIS_ADDR is set so passes never overlap
// across processes; otherwise passes are single-flight within this process.
func (a *app) newGuard(cfg *common.Config, log *slog.Logger) lease.Guard {
	if cfg.Redis.Addr == "" {
		return lease.NewLocal()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	log.Info("lease.redis.enabled", "addr", cfg.Redis.Addr)
	return lease.NewRedis(client, log,
		lease.WithTTL(cfg.Pipeline.LeaseTTL),
		lease.WithPrefix(cfg.Redis.Prefix+":lease"),
	)
}

func newPublisher(cfg *common.Config, log *slog.Logger) (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		return events.Noop{}, nil
	}
	p, err := events.Connect(events.NATSConfig{
		URL:           cfg.NATS.URL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		MaxReconnects: cfg.NATS.MaxReconnects,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Info("events.nats.enabled", "url", cfg.NATS.URL)
	return p, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
