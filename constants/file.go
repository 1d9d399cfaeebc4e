package constants

import "strings"

// File types stored on jobs and chunks.
const (
	PDF  = "PDF"
	CSV  = "CSV"
	XLSX = "XLSX"
	TXT  = "TXT"
)

// FileTypes holds the allowed values for the file_type column.
var FileTypes = []string{PDF, CSV, XLSX, TXT}

// AllowedExtensions holds the statement extensions accepted at intake.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"csv":  {},
	"xlsx": {},
	"xls":  {},
	"txt":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFileType maps an extension (with or without dot) to a file type, or "" when unsupported.
func MapExtToFileType(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "csv":
		return CSV
	case "xlsx", "xls":
		return XLSX
	case "txt":
		return TXT
	default:
		return ""
	}
}
