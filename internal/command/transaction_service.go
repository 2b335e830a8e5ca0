// Package command is the write-side entry point for money movements. The
// facade validates the request, answers idempotent replays from the stored
// record, creates the PENDING transaction and hands it to the saga
// orchestrator. At most one saga runs per idempotency key, regardless of
// upstream retries.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/cache"
	"github.com/novabank/transaction-engine/internal/models"
	"github.com/novabank/transaction-engine/internal/repository"
	"github.com/novabank/transaction-engine/internal/utils"
)

const transactionViewKeyPrefix = "transaction:view:"

// SagaExecutor drives a created transaction to a terminal state.
type SagaExecutor interface {
	Execute(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
}

// InitiateTransactionCommand carries one requested money movement.
type InitiateTransactionCommand struct {
	Type           models.TransactionType
	FromAccountID  string
	ToAccountID    string
	Amount         decimal.Decimal
	IdempotencyKey string
	InitiatedBy    string
}

// TransactionService is the transaction facade.
type TransactionService struct {
	txStore repository.TransactionStore
	saga    SagaExecutor
	views   *cache.View[models.TransactionView]
	log     *zap.Logger
}

// NewTransactionService builds the facade. views may be nil when no Redis is
// configured.
func NewTransactionService(txStore repository.TransactionStore, saga SagaExecutor, views *cache.View[models.TransactionView], log *zap.Logger) *TransactionService {
	return &TransactionService{txStore: txStore, saga: saga, views: views, log: log}
}

// Initiate creates and executes a transaction. replayed is true when the
// idempotency key had been seen before; the stored record is returned
// unchanged with zero side effects.
func (s *TransactionService) Initiate(ctx context.Context, cmd InitiateTransactionCommand) (tx *models.Transaction, replayed bool, err error) {
	if err := validateCommand(cmd); err != nil {
		return nil, false, err
	}

	if cmd.IdempotencyKey != "" {
		existing, err := s.txStore.GetByIdempotencyKey(ctx, cmd.IdempotencyKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
		}
	}

	now := time.Now().UTC()
	tx = &models.Transaction{
		ID:             uuid.New().String(),
		Reference:      utils.GenerateID("txn"),
		FromAccountID:  cmd.FromAccountID,
		ToAccountID:    cmd.ToAccountID,
		Type:           cmd.Type,
		Amount:         cmd.Amount,
		Status:         models.StatusPending,
		IdempotencyKey: cmd.IdempotencyKey,
		InitiatedBy:    cmd.InitiatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.txStore.Create(ctx, tx); err != nil {
		if errors.Is(err, apperr.ErrDuplicateKey) {
			// Lost an insert race on the same key; the winner's record is
			// the one and only execution.
			existing, lookupErr := s.txStore.GetByIdempotencyKey(ctx, cmd.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("duplicate key but record not readable: %w", lookupErr)
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("failed to create transaction: %w", err)
	}

	result, execErr := s.saga.Execute(ctx, tx)
	s.cacheView(ctx, result)
	return result, false, execErr
}

// Reverse supersedes a COMPLETED transaction with a new REFUND-type
// transaction carrying the opposite legs, then marks the original REVERSED.
// The reversal's idempotency key is derived from the original's ID, so
// reversing twice returns the first reversal.
func (s *TransactionService) Reverse(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error) {
	orig, err := s.txStore.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if orig.Status == models.StatusReversed {
		return nil, apperr.Validationf("transaction %s is already reversed", originalID)
	}
	if orig.Status != models.StatusCompleted {
		return nil, apperr.Validationf("only completed transactions can be reversed, %s is %s", originalID, orig.Status)
	}

	reversalKey := "rev:" + orig.ID
	if existing, err := s.txStore.GetByIdempotencyKey(ctx, reversalKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	now := time.Now().UTC()
	reversal := &models.Transaction{
		ID:             uuid.New().String(),
		Reference:      utils.GenerateID("txn"),
		FromAccountID:  orig.ToAccountID,
		ToAccountID:    orig.FromAccountID,
		Type:           models.TypeRefund,
		Amount:         orig.Amount,
		Status:         models.StatusPending,
		IdempotencyKey: reversalKey,
		InitiatedBy:    initiatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.txStore.Create(ctx, reversal); err != nil {
		if errors.Is(err, apperr.ErrDuplicateKey) {
			existing, lookupErr := s.txStore.GetByIdempotencyKey(ctx, reversalKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("duplicate key but record not readable: %w", lookupErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create reversal: %w", err)
	}

	result, execErr := s.saga.Execute(ctx, reversal)
	s.cacheView(ctx, result)
	if execErr != nil {
		return result, execErr
	}

	if err := s.txStore.UpdateStatus(ctx, orig.ID, models.StatusReversed, ""); err != nil {
		s.log.Error("reversal completed but original not marked reversed",
			zap.String("originalId", orig.ID),
			zap.String("reversalId", result.ID),
			zap.Error(err))
	} else {
		orig.Status = models.StatusReversed
		s.cacheView(ctx, orig)
	}
	return result, nil
}

// Cancel withdraws a transaction that has not started executing. Once a
// ledger mutation exists only compensation can undo it, so anything past
// PENDING is refused.
func (s *TransactionService) Cancel(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.txStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusPending {
		return nil, apperr.Validationf("cannot cancel transaction %s in status %s", id, tx.Status)
	}
	if err := s.txStore.UpdateStatus(ctx, id, models.StatusCancelled, "cancelled before execution"); err != nil {
		return nil, fmt.Errorf("failed to cancel transaction: %w", err)
	}
	tx.Status = models.StatusCancelled
	s.cacheView(ctx, tx)
	return tx, nil
}

func (s *TransactionService) cacheView(ctx context.Context, tx *models.Transaction) {
	if s.views == nil || tx == nil {
		return
	}
	s.views.Set(ctx, transactionViewKeyPrefix+tx.ID, models.ViewFromTransaction(tx))
}

func validateCommand(cmd InitiateTransactionCommand) error {
	if cmd.Amount.LessThanOrEqual(decimal.Zero) {
		return apperr.Validationf("amount must be positive, got %s", cmd.Amount)
	}
	if cmd.InitiatedBy == "" {
		return apperr.Validationf("initiatedBy is required")
	}

	switch cmd.Type {
	case models.TypeDeposit, models.TypeInterest:
		if cmd.ToAccountID == "" || cmd.FromAccountID != "" {
			return apperr.Validationf("%s requires exactly a destination account", cmd.Type)
		}
	case models.TypeWithdrawal, models.TypePayment, models.TypeFee:
		if cmd.FromAccountID == "" || cmd.ToAccountID != "" {
			return apperr.Validationf("%s requires exactly a source account", cmd.Type)
		}
	case models.TypeTransfer:
		if cmd.FromAccountID == "" || cmd.ToAccountID == "" {
			return apperr.Validationf("transfer requires both accounts")
		}
		if cmd.FromAccountID == cmd.ToAccountID {
			return apperr.Validationf("transfer accounts must differ")
		}
	case models.TypeRefund:
		if cmd.FromAccountID == "" && cmd.ToAccountID == "" {
			return apperr.Validationf("refund requires at least one account")
		}
	default:
		return apperr.Validationf("unsupported transaction type %q", cmd.Type)
	}
	return nil
}
