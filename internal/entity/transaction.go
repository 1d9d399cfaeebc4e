package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/statement-pipeline/constants"
)

// TransactionRow is one validated row coming out of extraction.
type TransactionRow struct {
	Date        string                    `json:"date"` // YYYY-MM-DD
	Description string                    `json:"description"`
	Amount      float64                   `json:"amount"`
	Type        constants.TransactionType `json:"type"`
}

// Transaction is a persisted TransactionRow.
type Transaction struct {
	ID          uuid.UUID                 `json:"id"`
	Filename    string                    `json:"filename"`
	Date        string                    `json:"date"`
	Description string                    `json:"description"`
	Amount      float64                   `json:"amount"`
	Type        constants.TransactionType `json:"type"`
	Source      string                    `json:"source"`
	CreatedAt   time.Time                 `json:"created_at"`
}
