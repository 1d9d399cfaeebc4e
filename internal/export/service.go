package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/statement-pipeline/internal/repository"
)

const (
	SheetTransactions = "Transactions"
	SheetJobs         = "Jobs"
)

// Service is a small façade over repositories that produces XLSX bytes for exports.
type Service struct {
	statements repository.StatementRepository
	jobs       repository.JobRepository
	logger     *slog.Logger
}

func NewService(statements repository.StatementRepository, jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{statements: statements, jobs: jobs, logger: logger}
}

// Window bounds the exported transactions by date.
// If only From is provided -> From..today (inclusive).
// If only To is provided   -> beginning..To (inclusive).
// If neither is provided   -> everything.
type Window struct {
	From *time.Time
	To   *time.Time
	// Filename narrows the export to one statement.
	Filename string
}

func (w Window) filter(now time.Time) repository.TransactionFilter {
	f := repository.TransactionFilter{Filename: w.Filename}
	if w.From != nil {
		f.From = w.From.UTC().Format(time.DateOnly)
		if w.To == nil {
			f.To = now.UTC().Format(time.DateOnly)
		}
	}
	if w.To != nil {
		f.To = w.To.UTC().Format(time.DateOnly)
	}
	return f
}

// ExportXLSX returns a workbook with a Transactions sheet and a Jobs sheet.
func (s *Service) ExportXLSX(ctx context.Context, w Window) ([]byte, error) {
	start := time.Now()

	txs, err := s.statements.List(ctx, w.filter(start))
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	jobs, err := s.jobs.List(ctx, repository.JobFilter{Filename: w.Filename}, repository.OrderNewestFirst)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// The default sheet becomes Transactions.
	if err := f.SetSheetName(f.GetSheetName(0), SheetTransactions); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetJobs); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	if err := writeRow(f, SheetTransactions, 1, []any{"Date", "Description", "Amount", "Type", "Source", "Filename"}); err != nil {
		return nil, err
	}
	for i, t := range txs {
		row := []any{t.Date, truncate(t.Description, 140), t.Amount, string(t.Type), t.Source, t.Filename}
		if err := writeRow(f, SheetTransactions, i+2, row); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, SheetJobs, 1, []any{"Filename", "Status", "Chunks", "Retries", "Max Retries", "Error", "Processed At"}); err != nil {
		return nil, err
	}
	for i, j := range jobs {
		errMsg, processed := "", ""
		if j.ErrorMessage != nil {
			errMsg = truncate(*j.ErrorMessage, 200)
		}
		if j.ProcessedAt != nil {
			processed = j.ProcessedAt.UTC().Format(time.RFC3339)
		}
		row := []any{j.Filename, string(j.Status), j.TotalChunks, j.RetryCount, j.MaxRetries, errMsg, processed}
		if err := writeRow(f, SheetJobs, i+2, row); err != nil {
			return nil, err
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetTransactions, "A", "A", 12) // date
	_ = f.SetColWidth(SheetTransactions, "B", "B", 48) // description
	_ = f.SetColWidth(SheetTransactions, "C", "E", 14)
	_ = f.SetColWidth(SheetTransactions, "F", "F", 32) // filename
	_ = f.SetColWidth(SheetJobs, "A", "A", 32)
	_ = f.SetColWidth(SheetJobs, "F", "F", 60) // error
	_ = f.SetColWidth(SheetJobs, "G", "G", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"transactions", len(txs),
		"jobs", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
