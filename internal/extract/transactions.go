package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
	"github.com/joseph-ayodele/statement-pipeline/internal/llm"
)

// LLMExtractor implements TransactionExtractor on top of a text completer.
type LLMExtractor struct {
	completer llm.Completer
	repairer  llm.Repairer
	validator *llm.RowValidator
	separator string
	logger    *slog.Logger
}

type Option func(*LLMExtractor)

// WithRepairer swaps the strategy used to recover JSON from model output.
func WithRepairer(r llm.Repairer) Option {
	return func(e *LLMExtractor) {
		if r != nil {
			e.repairer = r
		}
	}
}

// WithSeparator sets the marker placed between chunk texts.
func WithSeparator(sep string) Option {
	return func(e *LLMExtractor) {
		if sep != "" {
			e.separator = sep
		}
	}
}

func NewLLMExtractor(completer llm.Completer, logger *slog.Logger, opts ...Option) (*LLMExtractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := llm.NewRowValidator()
	if err != nil {
		return nil, fmt.Errorf("row validator: %w", err)
	}
	e := &LLMExtractor{
		completer: completer,
		repairer:  llm.JSONRepairer{},
		validator: validator,
		separator: constants.ChunkSeparator,
		logger:    logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *LLMExtractor) ExtractChunks(ctx context.Context, chunks []entity.DocumentChunk) ([]entity.TransactionRow, error) {
	if len(chunks) == 0 {
		return []entity.TransactionRow{}, nil
	}
	ordered := slices.Clone(chunks)
	slices.SortFunc(ordered, func(a, b entity.DocumentChunk) int { return a.ChunkIndex - b.ChunkIndex })

	parts := make([]string, len(ordered))
	for i, c := range ordered {
		parts[i] = c.TextContent
	}
	return e.ExtractText(ctx, strings.Join(parts, e.separator))
}

// ExtractText makes one completion call. Transport errors are returned; output that
// cannot be repaired or holds no rows yields an empty result.
func (e *LLMExtractor) ExtractText(ctx context.Context, text string) ([]entity.TransactionRow, error) {
	start := time.Now()
	raw, err := e.completer.Complete(ctx, llm.SystemPrompt, llm.BuildUserPrompt(text))
	if err != nil {
		e.logger.Error("extract.complete.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("completion: %w", err)
	}

	res := e.repairer.Repair(raw)
	if res.Kind != llm.RepairOK {
		e.logger.Warn("extract.repair.no_rows",
			"kind", res.Kind.String(),
			"fixes", res.Fixes,
			"raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return []entity.TransactionRow{}, nil
	}
	if len(res.Fixes) > 0 {
		e.logger.Warn("extract.repair.applied", "fixes", res.Fixes)
	}

	rows := make([]entity.TransactionRow, 0, len(res.Rows))
	dropped := 0
	for i, candidate := range res.Rows {
		llm.NormalizeRow(candidate)
		if err := e.validator.Validate(candidate); err != nil {
			dropped++
			e.logger.Debug("extract.row.invalid", "index", i, "error", err)
			continue
		}
		rows = append(rows, toRow(candidate))
	}

	e.logger.Info("extract.ok",
		"candidates", len(res.Rows),
		"rows", len(rows),
		"dropped", dropped,
		"text_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rows, nil
}

// toRow converts a schema-valid row. Amounts are stored as magnitudes and rows
// without a usable type are debits.
func toRow(m map[string]any) entity.TransactionRow {
	amount, _ := m["amount"].(float64)
	rawType, _ := m["type"].(string)
	typ, _ := constants.CanonicalizeType(rawType)
	return entity.TransactionRow{
		Date:        m["date"].(string),
		Description: m["description"].(string),
		Amount:      math.Abs(amount),
		Type:        typ,
	}
}
