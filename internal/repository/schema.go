package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"

	"github.com/joseph-ayodele/statement-pipeline/constants"
)

type columnTypes struct {
	timestamp string
	float     string
}

func typesFor(d string) columnTypes {
	if d == dialect.Postgres {
		return columnTypes{timestamp: "TIMESTAMPTZ", float: "DOUBLE PRECISION"}
	}
	return columnTypes{timestamp: "TIMESTAMP", float: "REAL"}
}

func schemaStatements(d string) []string {
	t := typesFor(d)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	filename      TEXT PRIMARY KEY,
	file_type     TEXT NOT NULL,
	upload_date   %[2]s NOT NULL,
	status        TEXT NOT NULL DEFAULT '%[3]s',
	total_chunks  INTEGER NOT NULL DEFAULT 0 CHECK (total_chunks >= 0),
	processed_at  %[2]s NULL,
	error_message TEXT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
	max_retries   INTEGER NOT NULL DEFAULT %[4]d CHECK (max_retries >= 0),
	last_retry_at %[2]s NULL,
	created_at    %[2]s NOT NULL,
	updated_at    %[2]s NOT NULL,
	CHECK (status IN ('pending', 'processing', 'completed', 'failed'))
)`, tableJobs, t.timestamp, constants.JobStatusPending, constants.DefaultMaxRetries),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS processing_jobs_status_idx ON %s (status, retry_count, created_at)`, tableJobs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	filename     TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL CHECK (chunk_index >= 0),
	text_content TEXT NOT NULL CHECK (text_content <> ''),
	file_type    TEXT NOT NULL,
	upload_date  %s NOT NULL,
	chunk_size   INTEGER NOT NULL,
	PRIMARY KEY (filename, chunk_index)
)`, tableChunks, t.timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	tx_date     TEXT NOT NULL,
	description TEXT NOT NULL,
	amount      %s NOT NULL,
	type        TEXT NOT NULL CHECK (type IN ('credit', 'debit')),
	source      TEXT NOT NULL,
	created_at  %s NOT NULL
)`, tableTransactions, t.float, t.timestamp),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS transactions_filename_idx ON %s (filename)`, tableTransactions),
	}
}

// Migrate creates the pipeline tables when they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	return db.WithTx(ctx, func(tx dialect.ExecQuerier) error {
		for _, stmt := range schemaStatements(db.Dialect()) {
			if err := tx.Exec(ctx, stmt, []any{}, nil); err != nil {
				return dbErr("migrate", err)
			}
		}
		db.log.Info("database schema ready", "dialect", db.Dialect())
		return nil
	})
}
