package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/ocr"
)

// ErrUnsupportedFile is returned for extensions outside constants.AllowedExtensions.
var ErrUnsupportedFile = errors.New("unsupported statement file type")

// PDFFallback recovers text from PDFs the in-process reader returns nothing for.
type PDFFallback interface {
	ExtractPDF(ctx context.Context, path string) (ocr.Result, error)
}

// FileTextExtractor reads statement text from PDF, CSV, XLSX and TXT files.
type FileTextExtractor struct {
	pdfFallback PDFFallback
	logger      *slog.Logger
}

type FileOption func(*FileTextExtractor)

// WithPDFFallback enables a second attempt for PDFs without a readable text layer.
func WithPDFFallback(f PDFFallback) FileOption {
	return func(x *FileTextExtractor) { x.pdfFallback = f }
}

func NewFileTextExtractor(logger *slog.Logger, opts ...FileOption) *FileTextExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	x := &FileTextExtractor{logger: logger}
	for _, o := range opts {
		o(x)
	}
	return x
}

func (x *FileTextExtractor) Extract(ctx context.Context, path string) (TextExtractionResult, error) {
	start := time.Now()
	fileType := constants.MapExtToFileType(filepath.Ext(path))

	var (
		res TextExtractionResult
		err error
	)
	switch fileType {
	case constants.PDF:
		res, err = extractPDF(path)
		if err != nil && x.pdfFallback != nil {
			x.logger.Warn("extract.pdf.fallback", "path", path, "reason", err)
			res, err = x.fallbackPDF(ctx, path, err)
		}
	case constants.CSV:
		res, err = extractCSV(path)
	case constants.XLSX:
		res, err = extractXLSX(path)
	case constants.TXT:
		res, err = extractPlain(path)
	default:
		return TextExtractionResult{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
	if err != nil {
		x.logger.Error("extract.text.failed", "path", path, "file_type", fileType, "error", err)
		return TextExtractionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return TextExtractionResult{}, err
	}

	res.FileType = fileType
	res.Text = normalizeText(res.Text)
	res.Duration = time.Since(start)
	x.logger.Info("extract.text.ok",
		"path", path,
		"file_type", fileType,
		"method", res.Method,
		"pages", res.Pages,
		"text_len", len(res.Text),
		"warnings", len(res.Warnings),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func extractPDF(path string) (TextExtractionResult, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return TextExtractionResult{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	res := TextExtractionResult{Method: "pdf-text", Pages: reader.NumPage()}
	var b strings.Builder
	for i := 1; i <= res.Pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip problematic pages instead of failing the whole statement
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	res.Text = b.String()
	if strings.TrimSpace(res.Text) == "" {
		return TextExtractionResult{}, fmt.Errorf("no text extracted from pdf")
	}
	return res, nil
}

func (x *FileTextExtractor) fallbackPDF(ctx context.Context, path string, cause error) (TextExtractionResult, error) {
	r, err := x.pdfFallback.ExtractPDF(ctx, path)
	if err != nil {
		return TextExtractionResult{}, fmt.Errorf("%w; fallback: %v", cause, err)
	}
	return TextExtractionResult{
		Text:     r.Text,
		Pages:    r.Pages,
		Method:   r.Method,
		Warnings: append([]string{cause.Error()}, r.Warnings...),
	}, nil
}

func extractCSV(path string) (TextExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TextExtractionResult{}, fmt.Errorf("read file: %w", err)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var b strings.Builder
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return TextExtractionResult{}, fmt.Errorf("parse csv: %w", err)
		}
		writeRecord(&b, rec)
	}
	return TextExtractionResult{Text: b.String(), Method: "csv", Pages: 1}, nil
}

func extractXLSX(path string) (TextExtractionResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return TextExtractionResult{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	res := TextExtractionResult{Method: "xlsx", Pages: len(sheets)}
	var b strings.Builder
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("sheet %s: %v", sheet, err))
			continue
		}
		if len(sheets) > 1 {
			b.WriteString("# " + sheet + "\n")
		}
		for _, rec := range rows {
			writeRecord(&b, rec)
		}
	}
	res.Text = b.String()
	return res, nil
}

func extractPlain(path string) (TextExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TextExtractionResult{}, fmt.Errorf("read file: %w", err)
	}
	return TextExtractionResult{Text: string(data), Method: "plain", Pages: 1}, nil
}

func writeRecord(b *strings.Builder, rec []string) {
	cells := make([]string, 0, len(rec))
	for _, c := range rec {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		return
	}
	b.WriteString(strings.Join(cells, " | "))
	b.WriteByte('\n')
}

// normalizeText keeps line structure, since the chunker cuts on line breaks.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ToValidUTF8(text, "")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
