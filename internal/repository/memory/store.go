// Package memory holds in-memory implementations of the storage interfaces.
// They honor the same optimistic-version and duplicate-entry semantics as the
// Postgres store and back the unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/models"
	"github.com/novabank/transaction-engine/internal/repository"
)

// LedgerStore is a thread-safe in-memory repository.LedgerStore.
type LedgerStore struct {
	mu       sync.Mutex
	entries  map[string]models.LedgerEntry
	order    []string
	balances map[string]models.BalanceSnapshot
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		entries:  make(map[string]models.LedgerEntry),
		balances: make(map[string]models.BalanceSnapshot),
	}
}

func (s *LedgerStore) AppendEntry(ctx context.Context, entry models.LedgerEntry, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return apperr.ErrDuplicateEntry
	}
	snap, ok := s.balances[entry.AccountID]
	if !ok || snap.Version != expectedVersion {
		return apperr.ErrVersionConflict
	}

	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	snap.Balance = entry.RunningBalance
	snap.Version++
	snap.LastUpdated = entry.CreatedAt
	s.balances[entry.AccountID] = snap
	return nil
}

func (s *LedgerStore) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &entry, nil
}

func (s *LedgerStore) EntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.LedgerEntry
	for _, id := range s.order {
		if e := s.entries[id]; e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *LedgerStore) SumEntries(ctx context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := decimal.Zero
	for _, id := range s.order {
		e := s.entries[id]
		if e.AccountID != accountID {
			continue
		}
		if e.EntryType == models.EntryCredit {
			sum = sum.Add(e.Amount)
		} else {
			sum = sum.Sub(e.Amount)
		}
	}
	return sum, nil
}

func (s *LedgerStore) GetBalance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.balances[accountID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &snap, nil
}

func (s *LedgerStore) UpsertBalance(ctx context.Context, accountID string, balance decimal.Decimal, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.balances[accountID]
	if !ok {
		if expectedVersion != 0 {
			return apperr.ErrVersionConflict
		}
		s.balances[accountID] = models.BalanceSnapshot{AccountID: accountID, Balance: balance, Version: 1}
		return nil
	}
	if snap.Version != expectedVersion {
		return apperr.ErrVersionConflict
	}
	snap.Balance = balance
	snap.Version++
	s.balances[accountID] = snap
	return nil
}

var _ repository.LedgerStore = (*LedgerStore)(nil)

// TransactionStore is a thread-safe in-memory repository.TransactionStore.
type TransactionStore struct {
	mu     sync.Mutex
	byID   map[string]models.Transaction
	byKey  map[string]string
	serial int
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		byID:  make(map[string]models.Transaction),
		byKey: make(map[string]string),
	}
}

func (s *TransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if _, exists := s.byKey[tx.IdempotencyKey]; exists {
			return apperr.ErrDuplicateKey
		}
		s.byKey[tx.IdempotencyKey] = tx.ID
	}
	s.serial++
	s.byID[tx.ID] = *tx
	return nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &tx, nil
}

func (s *TransactionStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	tx := s.byID[id]
	return &tx, nil
}

func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return apperr.ErrNotFound
	}
	tx.Status = status
	tx.FailureReason = failureReason
	tx.UpdatedAt = time.Now().UTC()
	s.byID[id] = tx
	return nil
}

func (s *TransactionStore) SetReview(ctx context.Context, id string, riskScore float64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return apperr.ErrNotFound
	}
	tx.ReviewFlag = true
	tx.RiskScore = riskScore
	s.byID[id] = tx
	return nil
}

func (s *TransactionStore) ListByAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Transaction
	for _, tx := range s.byID {
		if tx.FromAccountID == accountID || tx.ToAccountID == accountID {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

var _ repository.TransactionStore = (*TransactionStore)(nil)
