package repository

import (
	"context"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

// TransactionFilter narrows List. Zero values match everything.
type TransactionFilter struct {
	Filename string
	Source   string
	// From and To bound tx_date inclusively, as YYYY-MM-DD.
	From string
	To   string
}

// StatementRepository persists extracted transaction rows.
type StatementRepository interface {
	Save(ctx context.Context, filename string, rows []entity.TransactionRow, source string) (int, error)
	List(ctx context.Context, filter TransactionFilter) ([]entity.Transaction, error)
}

type statementRepo struct {
	db  *DB
	log *slog.Logger
}

func NewStatementRepository(db *DB, log *slog.Logger) StatementRepository {
	if log == nil {
		log = slog.Default()
	}
	return &statementRepo{db: db, log: log}
}

func (r *statementRepo) Save(ctx context.Context, filename string, rows []entity.TransactionRow, source string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := r.db.now()
	ins := entsql.Dialect(r.db.Dialect()).Insert(tableTransactions).
		Columns("id", "filename", "tx_date", "description", "amount", "type", "source", "created_at")
	for _, row := range rows {
		ins.Values(uuid.NewString(), filename, row.Date, row.Description, row.Amount, string(row.Type), source, now)
	}
	var n int64
	err := r.db.WithTx(ctx, func(tx dialect.ExecQuerier) error {
		var err error
		n, err = execAffected(ctx, tx, ins)
		if err != nil {
			return dbErr("save transactions", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("transactions save failed", "filename", filename, "rows", len(rows), "err", err)
		return 0, err
	}
	r.log.Info("transactions saved", "filename", filename, "rows", n, "source", source)
	return int(n), nil
}

func (r *statementRepo) List(ctx context.Context, filter TransactionFilter) ([]entity.Transaction, error) {
	s := entsql.Dialect(r.db.Dialect()).
		Select("id", "filename", "tx_date", "description", "amount", "type", "source", "created_at").
		From(entsql.Table(tableTransactions))
	var preds []*entsql.Predicate
	if filter.Filename != "" {
		preds = append(preds, entsql.EQ("filename", filter.Filename))
	}
	if filter.Source != "" {
		preds = append(preds, entsql.EQ("source", filter.Source))
	}
	if filter.From != "" {
		preds = append(preds, entsql.GTE("tx_date", filter.From))
	}
	if filter.To != "" {
		preds = append(preds, entsql.LTE("tx_date", filter.To))
	}
	if len(preds) > 0 {
		s.Where(entsql.And(preds...))
	}
	s.OrderBy(entsql.Asc("tx_date"), entsql.Asc("filename"), entsql.Asc("description"))

	var out []entity.Transaction
	err := queryRows(ctx, r.db.drv, s, func(rows *entsql.Rows) error {
		var (
			t      entity.Transaction
			id, tt string
		)
		if err := rows.Scan(&id, &t.Filename, &t.Date, &t.Description, &t.Amount, &tt, &t.Source, &t.CreatedAt); err != nil {
			return err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return err
		}
		t.ID = parsed
		t.Type = constants.TransactionType(tt)
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, dbErr("list transactions", err)
	}
	return out, nil
}
