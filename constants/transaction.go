package constants

import "strings"

type TransactionType string

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

// Row sources recorded on saved transactions.
const (
	SourceBackgroundProcessed = "background_processed"
	SourceDirectUpload        = "direct_upload"
)

// CanonicalizeType maps model output to credit/debit. Unknown values fall back to debit.
func CanonicalizeType(input string) (TransactionType, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "credit", "cr", "deposit", "incoming":
		return Credit, true
	case "debit", "dr", "withdrawal", "payment", "outgoing":
		return Debit, true
	default:
		return Debit, false
	}
}
