package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionView is the read model cached in Redis for transaction queries.
type TransactionView struct {
	ID            string            `json:"id"`
	Reference     string            `json:"reference"`
	FromAccountID string            `json:"fromAccountId,omitempty"`
	ToAccountID   string            `json:"toAccountId,omitempty"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        TransactionStatus `json:"status"`
	FailureReason string            `json:"failureReason,omitempty"`
	InitiatedBy   string            `json:"initiatedBy"`
	CreatedAt     time.Time         `json:"createdTimestamp"`
}

// ViewFromTransaction converts the write model to its read view.
func ViewFromTransaction(t *Transaction) *TransactionView {
	return &TransactionView{
		ID:            t.ID,
		Reference:     t.Reference,
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Type:          t.Type,
		Amount:        t.Amount,
		Status:        t.Status,
		FailureReason: t.FailureReason,
		InitiatedBy:   t.InitiatedBy,
		CreatedAt:     t.CreatedAt,
	}
}
