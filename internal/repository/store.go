package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/novabank/transaction-engine/internal/models"
)

// TransactionStore persists transaction records (one row per requested money
// movement). Implementations must enforce idempotency-key uniqueness and
// report collisions as apperr.ErrDuplicateKey.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, failureReason string) error
	SetReview(ctx context.Context, id string, riskScore float64, reason string) error
	ListByAccount(ctx context.Context, accountID string) ([]models.Transaction, error)
}

// LedgerStore persists append-only ledger entries and the derived balance
// projection. Entries are immutable once written.
type LedgerStore interface {
	// AppendEntry writes entry and moves the account's cached balance to
	// entry.RunningBalance in one atomic unit of work. The balance row's
	// version must still equal expectedVersion, otherwise nothing is written
	// and apperr.ErrVersionConflict is returned. A replay of an already
	// written entry ID returns apperr.ErrDuplicateEntry, again with nothing
	// written.
	AppendEntry(ctx context.Context, entry models.LedgerEntry, expectedVersion int64) error

	GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	EntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error)

	// SumEntries aggregates sum(CREDIT) - sum(DEBIT) for the account without
	// materializing the full entry history.
	SumEntries(ctx context.Context, accountID string) (decimal.Decimal, error)

	// GetBalance returns the cached projection, apperr.ErrNotFound when the
	// account has no balance row yet.
	GetBalance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error)

	// UpsertBalance creates or replaces the cached balance, guarded by
	// expectedVersion (0 when no row was observed). A concurrent writer that
	// bumped the version causes apperr.ErrVersionConflict.
	UpsertBalance(ctx context.Context, accountID string, balance decimal.Decimal, expectedVersion int64) error
}
