package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

// TextExtractor is Stage 1: statement file -> text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (TextExtractionResult, error)
}

type TextExtractionResult struct {
	Text     string
	Pages    int    // pages for PDF, sheets for XLSX, 1 otherwise
	FileType string // constants.PDF | CSV | XLSX | TXT
	Method   string // "pdf-text" | "csv" | "xlsx" | "plain"
	Duration time.Duration
	Warnings []string
}

// TransactionExtractor is Stage 2: text -> validated transaction rows.
type TransactionExtractor interface {
	// ExtractChunks joins the chunks in chunk_index order and makes a single extraction call.
	ExtractChunks(ctx context.Context, chunks []entity.DocumentChunk) ([]entity.TransactionRow, error)
	// ExtractText runs extraction on a whole document that was never chunked.
	ExtractText(ctx context.Context, text string) ([]entity.TransactionRow, error)
}
