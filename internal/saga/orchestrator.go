// Package saga drives a transaction through its per-type step sequence
// against the ledger engine and the fraud gate. Each step carries its own
// compensating action; on failure the executed steps are compensated in
// reverse before the transaction is marked FAILED, so a transfer debit is
// never left unmatched.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/events"
	"github.com/novabank/transaction-engine/internal/fraud"
	"github.com/novabank/transaction-engine/internal/models"
	"github.com/novabank/transaction-engine/internal/notify"
	"github.com/novabank/transaction-engine/internal/repository"
)

// LedgerEngine is the consumer-side contract with the ledger consistency
// engine.
type LedgerEngine interface {
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID, description string) (*models.LedgerEntry, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID, description string) (*models.LedgerEntry, error)
}

// RetryPolicy bounds retries of transient infrastructure errors. Business
// rejections are never retried regardless of these settings.
type RetryPolicy struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	CallTimeout  time.Duration
}

// DefaultRetryPolicy retries transient errors three times with exponential
// backoff and bounds every collaborator call at ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		CallTimeout:  10 * time.Second,
	}
}

// step is one unit of saga work. compensate is nil when the step leaves
// nothing behind that needs undoing.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// Orchestrator executes exactly one run per transaction.
type Orchestrator struct {
	ledger   LedgerEngine
	fraud    fraud.Checker
	txStore  repository.TransactionStore
	events   events.Sink
	notifier notify.Notifier
	policy   RetryPolicy
	log      *zap.Logger
}

func NewOrchestrator(
	ledger LedgerEngine,
	fraudChecker fraud.Checker,
	txStore repository.TransactionStore,
	sink events.Sink,
	notifier notify.Notifier,
	policy RetryPolicy,
	log *zap.Logger,
) *Orchestrator {
	if sink == nil {
		sink = events.NoopSink{}
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Orchestrator{
		ledger:   ledger,
		fraud:    fraudChecker,
		txStore:  txStore,
		events:   sink,
		notifier: notifier,
		policy:   policy,
		log:      log,
	}
}

// Execute drives the transaction from PENDING to COMPLETED or FAILED. The
// returned transaction always reflects the stored terminal state; err is the
// causing error on failure.
func (o *Orchestrator) Execute(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	tx.Status = models.StatusProcessing
	if err := o.txStore.UpdateStatus(ctx, tx.ID, models.StatusProcessing, ""); err != nil {
		return tx, fmt.Errorf("failed to mark transaction processing: %w", err)
	}
	o.publish(ctx, events.TransactionInitiated, tx)

	steps, err := o.buildSteps(tx)
	if err != nil {
		return o.fail(ctx, tx, err)
	}

	executed := make([]step, 0, len(steps))
	for _, st := range steps {
		if err := o.runWithRetry(ctx, st.run); err != nil {
			o.log.Warn("saga step failed",
				zap.String("transactionId", tx.ID),
				zap.String("step", st.name),
				zap.Error(err))
			o.compensate(ctx, tx, executed)
			return o.fail(ctx, tx, err)
		}
		executed = append(executed, st)
	}

	return o.complete(ctx, tx)
}

// buildSteps returns the step sequence for the transaction's type.
func (o *Orchestrator) buildSteps(tx *models.Transaction) ([]step, error) {
	desc := fmt.Sprintf("%s %s", tx.Type, tx.Reference)

	creditDestination := step{
		name: "credit destination",
		run: func(ctx context.Context) error {
			_, err := o.ledger.Credit(ctx, tx.ToAccountID, tx.Amount, tx.ID, desc)
			return err
		},
	}
	debitSource := step{
		name: "debit source",
		run: func(ctx context.Context) error {
			_, err := o.ledger.Debit(ctx, tx.FromAccountID, tx.Amount, tx.ID, desc)
			return err
		},
	}

	compensateDebit := func(ctx context.Context) error {
		_, err := o.ledger.Credit(ctx, tx.FromAccountID, tx.Amount, tx.ID, "compensation: "+desc)
		return err
	}

	switch tx.Type {
	case models.TypeDeposit, models.TypeInterest:
		return []step{creditDestination}, nil

	case models.TypeRefund:
		// Reversals arrive as REFUND with whichever legs undo the original:
		// credit only for a withdrawal reversal, debit only for a deposit
		// reversal, both legs (no fraud gate) for a transfer reversal.
		switch {
		case tx.FromAccountID != "" && tx.ToAccountID != "":
			debitSource.compensate = compensateDebit
			return []step{debitSource, creditDestination}, nil
		case tx.FromAccountID != "":
			return []step{debitSource}, nil
		default:
			return []step{creditDestination}, nil
		}

	case models.TypeWithdrawal, models.TypePayment:
		return []step{o.fraudStep(tx), debitSource}, nil

	case models.TypeFee:
		return []step{debitSource}, nil

	case models.TypeTransfer:
		// The two-leg case. If the credit leg fails after the debit landed,
		// the debit's compensation credits the source back for the same
		// amount under the same transaction ID.
		debitSource.compensate = compensateDebit
		return []step{o.fraudStep(tx), debitSource, creditDestination}, nil

	default:
		return nil, apperr.Validationf("unsupported transaction type %q", tx.Type)
	}
}

func (o *Orchestrator) fraudStep(tx *models.Transaction) step {
	return step{
		name: "fraud check",
		run: func(ctx context.Context) error {
			decision, err := o.fraud.Check(ctx, fraud.CheckRequest{
				AccountID:       tx.FromAccountID,
				UserID:          tx.InitiatedBy,
				TransactionType: tx.Type,
				Amount:          tx.Amount,
			})
			if err != nil {
				return err
			}

			switch decision.Decision {
			case fraud.DecisionReject:
				return &apperr.FraudRejectedError{Reason: decision.Reason, RiskScore: decision.RiskScore}
			case fraud.DecisionReview:
				tx.ReviewFlag = true
				tx.RiskScore = decision.RiskScore
				if err := o.txStore.SetReview(ctx, tx.ID, decision.RiskScore, decision.Reason); err != nil {
					o.log.Warn("failed to persist review flag",
						zap.String("transactionId", tx.ID), zap.Error(err))
				}
			}
			if decision.FailedOpen {
				o.log.Warn("fraud decision substituted by fail-open policy",
					zap.String("transactionId", tx.ID))
			}
			return nil
		},
	}
}

// runWithRetry retries transient errors with exponential backoff up to the
// policy's bound. Terminal business rejections abort immediately.
func (o *Orchestrator) runWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.policy.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if apperr.IsTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.policy.InitialDelay
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expo, o.policy.MaxRetries), ctx))
}

// compensate undoes executed steps in reverse from the failure point. A
// compensation is retried like any other call; if it still fails the ledger
// needs operator repair, which is logged at error level with everything
// needed to find it.
func (o *Orchestrator) compensate(ctx context.Context, tx *models.Transaction, executed []step) {
	for i := len(executed) - 1; i >= 0; i-- {
		st := executed[i]
		if st.compensate == nil {
			continue
		}
		if err := o.runWithRetry(ctx, st.compensate); err != nil {
			o.log.Error("compensation failed, ledger requires repair",
				zap.String("transactionId", tx.ID),
				zap.String("step", st.name),
				zap.String("accountId", tx.FromAccountID),
				zap.String("amount", tx.Amount.String()),
				zap.Error(err))
			continue
		}
		o.log.Info("compensated saga step",
			zap.String("transactionId", tx.ID),
			zap.String("step", st.name))
	}
}

func (o *Orchestrator) fail(ctx context.Context, tx *models.Transaction, cause error) (*models.Transaction, error) {
	tx.Status = models.StatusFailed
	tx.FailureReason = failureReason(cause)
	if err := o.txStore.UpdateStatus(ctx, tx.ID, models.StatusFailed, tx.FailureReason); err != nil {
		o.log.Error("failed to mark transaction failed",
			zap.String("transactionId", tx.ID), zap.Error(err))
	}
	o.publish(ctx, events.TransactionFailed, tx)
	o.sendNotification(ctx, tx)
	return tx, cause
}

func (o *Orchestrator) complete(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	tx.Status = models.StatusCompleted
	if err := o.txStore.UpdateStatus(ctx, tx.ID, models.StatusCompleted, ""); err != nil {
		// Every leg is durably recorded but the record isn't marked yet; the
		// caller must not see COMPLETED until it is.
		return tx, fmt.Errorf("ledger updated but failed to mark transaction completed: %w", err)
	}
	o.publish(ctx, events.TransactionCompleted, tx)
	o.sendNotification(ctx, tx)
	return tx, nil
}

// publish is fire-and-forget: a dead event bus never changes an outcome.
func (o *Orchestrator) publish(ctx context.Context, eventType string, tx *models.Transaction) {
	if err := o.events.Publish(ctx, eventType, events.FromTransaction(tx)); err != nil {
		o.log.Warn("failed to publish event",
			zap.String("transactionId", tx.ID),
			zap.String("eventType", eventType),
			zap.Error(err))
	}
}

func (o *Orchestrator) sendNotification(ctx context.Context, tx *models.Transaction) {
	err := o.notifier.Notify(ctx, notify.Notification{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Recipient:     tx.InitiatedBy,
		Type:          tx.Type,
		Amount:        tx.Amount,
		Status:        tx.Status,
	})
	if err != nil {
		o.log.Warn("failed to send notification",
			zap.String("transactionId", tx.ID), zap.Error(err))
	}
}

func failureReason(err error) string {
	var ve *apperr.ValidationError
	var fe *apperr.FraudRejectedError
	switch {
	case errors.Is(err, apperr.ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.As(err, &fe):
		return "FRAUD_REJECTED: " + fe.Reason
	case errors.As(err, &ve):
		return "VALIDATION: " + ve.Msg
	default:
		return err.Error()
	}
}
