package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"k8s.io/utils/clock"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver           string // dialect.Postgres or dialect.SQLite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB wraps the ent SQL driver shared by all repositories.
type DB struct {
	drv   *entsql.Driver
	pool  *pgxpool.Pool
	clock clock.PassiveClock
	log   *slog.Logger
}

type Option func(*DB)

// WithClock sets the clock used for created_at/updated_at and retry stamps.
func WithClock(c clock.PassiveClock) Option {
	return func(db *DB) {
		if c != nil {
			db.clock = c
		}
	}
}

// Open connects to Postgres (pgx pool wrapped for ent) or SQLite depending on cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case dialect.SQLite:
		return OpenSQLite(cfg.DSN, logger, opts...)
	case dialect.Postgres, "", "pgx":
		return openPostgres(ctx, cfg, logger, opts...)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*DB, error) {
	logger.Info("connecting to database", "driver", dialect.Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database dsn", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "statement-pipeline"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for ent
	sqlDB := stdlib.OpenDBFromPool(pool)
	db := newDB(entsql.OpenDB(dialect.Postgres, sqlDB), logger, opts...)
	db.pool = pool

	logger.Info("successfully connected to database")
	return db, nil
}

// OpenSQLite opens a modernc SQLite database. The pool is limited to one connection,
// so callers must finish reading rows before issuing the next statement.
func OpenSQLite(dsn string, logger *slog.Logger, opts ...Option) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		dsn = "file:statements.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open sqlite database", "error", err)
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	logger.Info("opened sqlite database", "dsn", dsn)
	return newDB(entsql.OpenDB(dialect.SQLite, sqlDB), logger, opts...), nil
}

// OpenInMemory opens a private in-memory SQLite database and creates the schema.
func OpenInMemory(ctx context.Context, logger *slog.Logger, opts ...Option) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_time_format=sqlite", uuid.NewString())
	db, err := OpenSQLite(dsn, logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newDB(drv *entsql.Driver, logger *slog.Logger, opts ...Option) *DB {
	db := &DB{drv: drv, clock: clock.RealClock{}, log: logger}
	for _, o := range opts {
		o(db)
	}
	return db
}

// Dialect returns the ent dialect name of the underlying driver.
func (db *DB) Dialect() string { return db.drv.Dialect() }

func (db *DB) now() time.Time { return db.clock.Now().UTC() }

// Close closes the database connections gracefully
func (db *DB) Close() error {
	db.log.Info("closing database connections")
	err := db.drv.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	if err != nil {
		db.log.Error("failed to close database driver", "error", err)
		return err
	}
	db.log.Info("database connections closed")
	return nil
}

// HealthCheck pings using database/sql to catch DSN issues early.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	db.log.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.drv.DB().PingContext(ctx); err != nil {
		return dbErr("ping", err)
	}
	db.log.Debug("database ping successful")
	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx dialect.ExecQuerier) error) error {
	tx, err := db.drv.Tx(ctx)
	if err != nil {
		return dbErr("begin tx", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			db.log.Error("tx rollback failed", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit tx", err)
	}
	return nil
}
