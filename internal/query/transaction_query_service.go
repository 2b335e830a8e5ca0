// Package query serves transaction and balance reads. Transaction views come
// from the Redis read model first, falling back to the record store on a
// miss and warming the cache on the way out.
package query

import (
	"context"

	"go.uber.org/zap"

	"github.com/novabank/transaction-engine/internal/cache"
	"github.com/novabank/transaction-engine/internal/models"
	"github.com/novabank/transaction-engine/internal/repository"
)

const transactionViewKeyPrefix = "transaction:view:"

// BalanceReader is the slice of the ledger engine the read side needs.
type BalanceReader interface {
	Balance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error)
	EntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
}

type TransactionQueryService struct {
	txStore repository.TransactionStore
	views   *cache.View[models.TransactionView]
	ledger  BalanceReader
	log     *zap.Logger
}

// NewTransactionQueryService builds the read side. views may be nil when no
// Redis is configured; reads then always hit the record store.
func NewTransactionQueryService(txStore repository.TransactionStore, views *cache.View[models.TransactionView], ledger BalanceReader, log *zap.Logger) *TransactionQueryService {
	return &TransactionQueryService{txStore: txStore, views: views, ledger: ledger, log: log}
}

func (s *TransactionQueryService) GetTransaction(ctx context.Context, id string) (*models.TransactionView, error) {
	if s.views != nil {
		if view, ok := s.views.Get(ctx, transactionViewKeyPrefix+id); ok {
			return view, nil
		}
	}

	tx, err := s.txStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.ViewFromTransaction(tx)
	if s.views != nil {
		s.views.Set(ctx, transactionViewKeyPrefix+id, view)
	}
	return view, nil
}

func (s *TransactionQueryService) ListTransactions(ctx context.Context, accountID string) ([]models.TransactionView, error) {
	txs, err := s.txStore.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	views := make([]models.TransactionView, 0, len(txs))
	for i := range txs {
		views = append(views, *models.ViewFromTransaction(&txs[i]))
	}
	return views, nil
}

func (s *TransactionQueryService) GetBalance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
	return s.ledger.Balance(ctx, accountID)
}

func (s *TransactionQueryService) ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return s.ledger.EntriesByAccount(ctx, accountID)
}
