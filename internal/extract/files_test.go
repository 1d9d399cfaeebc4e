package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/ocr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestFileTextExtractor_CSV(t *testing.T) {
	p := writeFile(t, "jan.csv", "Date,Description,Amount\r\n2024-01-02,\"Coffee, large\",3.50\r\n,,\r\n")
	res, err := NewFileTextExtractor(quietLogger()).Extract(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, constants.CSV, res.FileType)
	assert.Equal(t, "Date | Description | Amount\n2024-01-02 | Coffee, large | 3.50", res.Text)
}

func TestFileTextExtractor_TXT(t *testing.T) {
	p := writeFile(t, "jan.txt", "  line   one \r\n\r\nline two\x00\n")
	res, err := NewFileTextExtractor(quietLogger()).Extract(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, constants.TXT, res.FileType)
	assert.Equal(t, "line one\nline two", res.Text)
}

func TestFileTextExtractor_XLSX(t *testing.T) {
	p := filepath.Join(t.TempDir(), "jan.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Date", "Description", "Amount"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"2024-01-02", "Groceries", 42.1}))
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	res, err := NewFileTextExtractor(quietLogger()).Extract(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, constants.XLSX, res.FileType)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, "Date | Description | Amount\n2024-01-02 | Groceries | 42.1", res.Text)
}

func TestFileTextExtractor_Unsupported(t *testing.T) {
	p := writeFile(t, "scan.png", "x")
	_, err := NewFileTextExtractor(quietLogger()).Extract(context.Background(), p)
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

type stubPDFFallback struct {
	res   ocr.Result
	err   error
	paths []string
}

func (s *stubPDFFallback) ExtractPDF(_ context.Context, path string) (ocr.Result, error) {
	s.paths = append(s.paths, path)
	return s.res, s.err
}

func TestFileTextExtractor_PDFFallback(t *testing.T) {
	p := writeFile(t, "scan.pdf", "not really a pdf")

	_, err := NewFileTextExtractor(quietLogger()).Extract(context.Background(), p)
	require.Error(t, err)

	fb := &stubPDFFallback{res: ocr.Result{Text: "2024-01-02  SALARY  2500.00\n", Pages: 1, Method: "pdf-ocr"}}
	res, err := NewFileTextExtractor(quietLogger(), WithPDFFallback(fb)).Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{p}, fb.paths)
	assert.Equal(t, constants.PDF, res.FileType)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.Contains(t, res.Text, "SALARY")
	assert.NotEmpty(t, res.Warnings, "the reader failure is kept as a warning")

	fb.err = errors.New("tesseract missing")
	_, err = NewFileTextExtractor(quietLogger(), WithPDFFallback(fb)).Extract(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract missing")
}
