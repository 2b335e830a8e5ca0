package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a requested money movement.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeTransfer   TransactionType = "TRANSFER"
	TypePayment    TransactionType = "PAYMENT"
	TypeFee        TransactionType = "FEE"
	TypeInterest   TransactionType = "INTEREST"
	TypeRefund     TransactionType = "REFUND"
)

// TransactionStatus is the lifecycle state of a transaction record.
// The orchestrator owns every transition after PENDING.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusCancelled  TransactionStatus = "CANCELLED"
	StatusReversed   TransactionStatus = "REVERSED"
)

// EntryType indicates whether a ledger entry is a debit or a credit.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Transaction is one row per requested money movement. Exactly one of
// FromAccountID/ToAccountID is set for deposits and withdrawals, both for
// transfers. An idempotency key, once seen, maps to this record for its
// entire lifetime.
type Transaction struct {
	ID             string            `json:"id"`
	Reference      string            `json:"reference"`
	FromAccountID  string            `json:"fromAccountId,omitempty"`
	ToAccountID    string            `json:"toAccountId,omitempty"`
	Type           TransactionType   `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey string            `json:"-"`
	FailureReason  string            `json:"failureReason,omitempty"`
	ReviewFlag     bool              `json:"reviewFlag,omitempty"`
	RiskScore      float64           `json:"riskScore,omitempty"`
	InitiatedBy    string            `json:"initiatedBy"`
	CreatedAt      time.Time         `json:"createdTimestamp"`
	UpdatedAt      time.Time         `json:"updatedTimestamp"`
}

// LedgerEntry is an immutable record of one debit or credit against one
// account. Entries are never updated or deleted once written. The ID is
// derived from the transaction ID, entry type and account, so replaying a
// write is rejected by the store instead of double-applying.
type LedgerEntry struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	TransactionID  string          `json:"transactionId,omitempty"`
	EntryType      EntryType       `json:"entryType"`
	Amount         decimal.Decimal `json:"amount"`
	RunningBalance decimal.Decimal `json:"runningBalance"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"createdTimestamp"`
}

// BalanceSnapshot is the cached balance projection for one account. It is
// purely derivative of the ledger entries and carries an optimistic version
// bumped on every write, so a rebuild can never clobber a newer balance.
type BalanceSnapshot struct {
	AccountID   string          `json:"accountId"`
	Balance     decimal.Decimal `json:"balance"`
	Version     int64           `json:"-"`
	LastUpdated time.Time       `json:"lastUpdated"`
}
