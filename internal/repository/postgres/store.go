// Package postgres implements the storage interfaces against PostgreSQL.
// The ledger tables are the system of record: ledger_entries is append-only
// and balance_cache carries an optimistic version bumped on every write.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/models"
	"github.com/novabank/transaction-engine/internal/repository"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// LedgerStore is the PostgreSQL repository.LedgerStore.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// AppendEntry inserts the entry and advances the balance row inside one
// database transaction. Either both rows land or neither does.
func (s *LedgerStore) AppendEntry(ctx context.Context, entry models.LedgerEntry, expectedVersion int64) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin unit of work: %w", err)
	}
	defer dbTx.Rollback()

	const insertEntry = `
		INSERT INTO ledger_entries (id, account_id, transaction_id, entry_type, amount, running_balance, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = dbTx.ExecContext(ctx, insertEntry,
		entry.ID, entry.AccountID, nullString(entry.TransactionID),
		entry.EntryType, entry.Amount, entry.RunningBalance,
		nullString(entry.Description), entry.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	const updateBalance = `
		UPDATE balance_cache
		SET balance = $2, version = version + 1, last_updated = $3
		WHERE account_id = $1 AND version = $4
	`
	res, err := dbTx.ExecContext(ctx, updateBalance,
		entry.AccountID, entry.RunningBalance, entry.CreatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance cache: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return apperr.ErrVersionConflict
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	const query = `
		SELECT id, account_id, transaction_id, entry_type, amount, running_balance, description, created_at
		FROM ledger_entries
		WHERE id = $1
	`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

func (s *LedgerStore) EntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	const query = `
		SELECT id, account_id, transaction_id, entry_type, amount, running_balance, description, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// SumEntries aggregates in SQL so large accounts never materialize their
// full history in this process.
func (s *LedgerStore) SumEntries(ctx context.Context, accountID string) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE account_id = $1
	`
	var sum decimal.Decimal
	if err := s.db.QueryRowContext(ctx, query, accountID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}

func (s *LedgerStore) GetBalance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
	const query = `
		SELECT account_id, balance, version, last_updated
		FROM balance_cache
		WHERE account_id = $1
	`
	var snap models.BalanceSnapshot
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&snap.AccountID, &snap.Balance, &snap.Version, &snap.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &snap, nil
}

func (s *LedgerStore) UpsertBalance(ctx context.Context, accountID string, balance decimal.Decimal, expectedVersion int64) error {
	const query = `
		INSERT INTO balance_cache (account_id, balance, version, last_updated)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (account_id) DO UPDATE
		SET balance = EXCLUDED.balance, version = balance_cache.version + 1, last_updated = EXCLUDED.last_updated
		WHERE balance_cache.version = $4
	`
	res, err := s.db.ExecContext(ctx, query, accountID, balance, time.Now().UTC(), expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return apperr.ErrVersionConflict
	}
	return nil
}

var _ repository.LedgerStore = (*LedgerStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var transactionID, description sql.NullString
	err := row.Scan(
		&entry.ID, &entry.AccountID, &transactionID, &entry.EntryType,
		&entry.Amount, &entry.RunningBalance, &description, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.TransactionID = transactionID.String
	entry.Description = description.String
	return &entry, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// TransactionStore is the PostgreSQL repository.TransactionStore.
type TransactionStore struct {
	db *sql.DB
}

func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	const query = `
		INSERT INTO transactions (id, reference, from_account_id, to_account_id, type, amount, status,
			idempotency_key, failure_reason, review_flag, risk_score, initiated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.Reference, nullString(tx.FromAccountID), nullString(tx.ToAccountID),
		tx.Type, tx.Amount, tx.Status, nullString(tx.IdempotencyKey),
		nullString(tx.FailureReason), tx.ReviewFlag, tx.RiskScore,
		tx.InitiatedBy, tx.CreatedAt, tx.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

const transactionColumns = `
	id, reference, from_account_id, to_account_id, type, amount, status,
	idempotency_key, failure_reason, review_flag, risk_score, initiated_by, created_at, updated_at
`

func (s *TransactionStore) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return s.getOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (s *TransactionStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	return s.getOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)
}

func (s *TransactionStore) getOne(ctx context.Context, query string, arg any) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, failureReason string) error {
	const query = `
		UPDATE transactions
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, status, nullString(failureReason), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *TransactionStore) SetReview(ctx context.Context, id string, riskScore float64, reason string) error {
	const query = `
		UPDATE transactions
		SET review_flag = TRUE, risk_score = $2, updated_at = $3
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, riskScore, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to flag transaction for review: %w", err)
	}
	return nil
}

func (s *TransactionStore) ListByAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var fromAccount, toAccount, idempotencyKey, failureReason sql.NullString
	err := row.Scan(
		&tx.ID, &tx.Reference, &fromAccount, &toAccount, &tx.Type, &tx.Amount, &tx.Status,
		&idempotencyKey, &failureReason, &tx.ReviewFlag, &tx.RiskScore,
		&tx.InitiatedBy, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.FromAccountID = fromAccount.String
	tx.ToAccountID = toAccount.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.FailureReason = failureReason.String
	return &tx, nil
}

var _ repository.TransactionStore = (*TransactionStore)(nil)
