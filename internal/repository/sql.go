package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/statement-pipeline/internal/common"
)

const (
	tableJobs         = "processing_jobs"
	tableChunks       = "document_chunks"
	tableTransactions = "transactions"
)

// dbErr tags a driver error so callers can tell store failures from per-job failures.
func dbErr(op string, err error) error {
	return common.NewAppError(common.CodeDatabase, op, fmt.Errorf("%w: %w", common.ErrDatabase, err))
}

func execAffected(ctx context.Context, q dialect.ExecQuerier, b entsql.Querier) (int64, error) {
	query, args := b.Query()
	var res entsql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// queryRows runs a select and hands each row to scan. Rows are closed before returning.
func queryRows(ctx context.Context, q dialect.ExecQuerier, b entsql.Querier, scan func(*entsql.Rows) error) error {
	query, args := b.Query()
	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(&rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
