// Package ledger implements the ledger consistency engine: append-only
// entries, the derived balance projection, and the rebuild/repair operation.
// All arithmetic is exact fixed-point decimal; no rounding happens here.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/models"
	"github.com/novabank/transaction-engine/internal/repository"
)

// applyAttempts bounds the optimistic-version retry loop on a single write.
// Conflicts only come from concurrent writers on the same account, so a
// handful of re-reads is plenty.
const applyAttempts = 5

// OverdraftSource reports how far below zero an account may go. The limit is
// owned by the account collaborator; this engine only reads it.
type OverdraftSource interface {
	OverdraftLimit(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// ZeroOverdraft allows no overdraft for any account.
type ZeroOverdraft struct{}

func (ZeroOverdraft) OverdraftLimit(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// Engine exposes credit, debit, balance and rebuild operations over a
// LedgerStore. Writes to one account are serialized through a per-account
// mutex inside this process; the store's optimistic version guards against
// writers in other processes.
type Engine struct {
	store     repository.LedgerStore
	overdraft OverdraftSource
	log       *zap.Logger

	mapMu sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store repository.LedgerStore, overdraft OverdraftSource, log *zap.Logger) *Engine {
	if overdraft == nil {
		overdraft = ZeroOverdraft{}
	}
	return &Engine{
		store:     store,
		overdraft: overdraft,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()

	lock, ok := e.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[accountID] = lock
	}
	return lock
}

// entryID derives a deterministic ledger entry ID so a replayed write hits
// the store's duplicate check instead of double-applying.
func entryID(transactionID string, entryType models.EntryType, accountID string) string {
	return fmt.Sprintf("%s-%s-%s", transactionID, strings.ToLower(string(entryType)), accountID)
}

// Credit appends a CREDIT entry and atomically advances the cached balance.
// The returned entry carries runningBalance = prior balance + amount.
func (e *Engine) Credit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID, description string) (*models.LedgerEntry, error) {
	return e.apply(ctx, accountID, amount, transactionID, models.EntryCredit, description)
}

// Debit appends a DEBIT entry after checking the projected balance against
// the account's overdraft limit. On an insufficient projection nothing is
// written and apperr.ErrInsufficientFunds is returned.
func (e *Engine) Debit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID, description string) (*models.LedgerEntry, error) {
	return e.apply(ctx, accountID, amount, transactionID, models.EntryDebit, description)
}

func (e *Engine) apply(ctx context.Context, accountID string, amount decimal.Decimal, transactionID string, entryType models.EntryType, description string) (*models.LedgerEntry, error) {
	if accountID == "" {
		return nil, apperr.Validationf("account id is required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validationf("amount must be positive, got %s", amount)
	}

	lock := e.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < applyAttempts; attempt++ {
		snap, err := e.ensureBalance(ctx, accountID)
		if err != nil {
			return nil, err
		}

		var running decimal.Decimal
		if entryType == models.EntryDebit {
			limit, err := e.overdraft.OverdraftLimit(ctx, accountID)
			if err != nil {
				// An unreachable account service must never widen spending
				// headroom: treat the limit as zero.
				e.log.Warn("overdraft lookup failed, assuming zero",
					zap.String("accountId", accountID), zap.Error(err))
				limit = decimal.Zero
			}
			running = snap.Balance.Sub(amount)
			if running.LessThan(limit.Neg()) {
				return nil, apperr.ErrInsufficientFunds
			}
		} else {
			running = snap.Balance.Add(amount)
		}

		entry := models.LedgerEntry{
			ID:             entryID(transactionID, entryType, accountID),
			AccountID:      accountID,
			TransactionID:  transactionID,
			EntryType:      entryType,
			Amount:         amount,
			RunningBalance: running,
			Description:    description,
			CreatedAt:      time.Now().UTC(),
		}

		err = e.store.AppendEntry(ctx, entry, snap.Version)
		switch {
		case err == nil:
			return &entry, nil
		case errors.Is(err, apperr.ErrDuplicateEntry):
			// The entry already landed (a retried call after a lost reply, or
			// a replayed compensation). The original write is the result.
			existing, getErr := e.store.GetEntry(ctx, entry.ID)
			if getErr != nil {
				return nil, fmt.Errorf("entry exists but could not be read back: %w", getErr)
			}
			return existing, nil
		case errors.Is(err, apperr.ErrVersionConflict):
			continue
		default:
			return nil, apperr.Transient("ledger append", err)
		}
	}
	return nil, apperr.Transient("ledger append", fmt.Errorf("version conflict persisted after %d attempts", applyAttempts))
}

// ensureBalance returns the cached projection, lazily rebuilding it from the
// entry history when the cache is cold.
func (e *Engine) ensureBalance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
	snap, err := e.store.GetBalance(ctx, accountID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Transient("balance read", err)
	}

	sum, err := e.store.SumEntries(ctx, accountID)
	if err != nil {
		return nil, apperr.Transient("balance rebuild", err)
	}
	if err := e.store.UpsertBalance(ctx, accountID, sum, 0); err != nil && !errors.Is(err, apperr.ErrVersionConflict) {
		return nil, apperr.Transient("balance rebuild", err)
	}
	// Re-read: on a lost insert race the concurrent writer's row wins.
	snap, err = e.store.GetBalance(ctx, accountID)
	if err != nil {
		return nil, apperr.Transient("balance read", err)
	}
	return snap, nil
}

// Balance returns the cached balance, populating a cold cache from the entry
// history first.
func (e *Engine) Balance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
	if accountID == "" {
		return nil, apperr.Validationf("account id is required")
	}
	return e.ensureBalance(ctx, accountID)
}

// RebuildBalanceCache recomputes the projection from the entry history and
// upserts it under the optimistic version, so it never clobbers a balance a
// live writer produced mid-rebuild. Safe to run against live traffic; it is
// idempotent and holds no lock across the entry scan.
func (e *Engine) RebuildBalanceCache(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
	if accountID == "" {
		return nil, apperr.Validationf("account id is required")
	}

	for attempt := 0; attempt < applyAttempts; attempt++ {
		var expected int64
		var cached decimal.Decimal
		haveRow := false

		snap, err := e.store.GetBalance(ctx, accountID)
		switch {
		case err == nil:
			expected = snap.Version
			cached = snap.Balance
			haveRow = true
		case errors.Is(err, apperr.ErrNotFound):
			expected = 0
		default:
			return nil, apperr.Transient("balance read", err)
		}

		sum, err := e.store.SumEntries(ctx, accountID)
		if err != nil {
			return nil, apperr.Transient("balance rebuild", err)
		}

		err = e.store.UpsertBalance(ctx, accountID, sum, expected)
		if errors.Is(err, apperr.ErrVersionConflict) {
			// A live writer advanced the projection mid-scan; its balance is
			// newer than our aggregate. Recompute.
			continue
		}
		if err != nil {
			return nil, apperr.Transient("balance rebuild", err)
		}

		if haveRow && !cached.Equal(sum) {
			e.log.Warn("balance cache drift repaired",
				zap.String("accountId", accountID),
				zap.String("cached", cached.String()),
				zap.String("recomputed", sum.String()))
		}
		return e.store.GetBalance(ctx, accountID)
	}
	return nil, apperr.Transient("balance rebuild", fmt.Errorf("version conflict persisted after %d attempts", applyAttempts))
}

// EntriesByAccount exposes the entry history for queries and verification.
func (e *Engine) EntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return e.store.EntriesByAccount(ctx, accountID)
}
