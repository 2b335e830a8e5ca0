// Package events publishes transaction lifecycle events for external audit
// and notification consumers. Delivery is at-least-once and strictly
// fire-and-forget from the orchestrator's point of view.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/novabank/transaction-engine/internal/models"
)

// Event types
const (
	TransactionInitiated = "transaction.initiated"
	TransactionCompleted = "transaction.completed"
	TransactionFailed    = "transaction.failed"
)

// TransactionEventsStream is the stream/topic all transaction events go to.
const TransactionEventsStream = "transaction.events"

// Event is the envelope written to the stream.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TransactionEvent is the payload for every transaction lifecycle event.
type TransactionEvent struct {
	TransactionID string                   `json:"transactionId"`
	Reference     string                   `json:"reference"`
	Type          models.TransactionType   `json:"type"`
	FromAccountID string                   `json:"fromAccountId,omitempty"`
	ToAccountID   string                   `json:"toAccountId,omitempty"`
	Amount        decimal.Decimal          `json:"amount"`
	Status        models.TransactionStatus `json:"status"`
	FailureReason string                   `json:"failureReason,omitempty"`
	OccurredAt    time.Time                `json:"occurredAt"`
}

// FromTransaction builds the event payload for a transaction record.
func FromTransaction(tx *models.Transaction) TransactionEvent {
	return TransactionEvent{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Type:          tx.Type,
		FromAccountID: tx.FromAccountID,
		ToAccountID:   tx.ToAccountID,
		Amount:        tx.Amount,
		Status:        tx.Status,
		FailureReason: tx.FailureReason,
		OccurredAt:    time.Now().UTC(),
	}
}

// Sink publishes events. Implementations must never block beyond their own
// timeouts; callers log failures and move on.
type Sink interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// NoopSink is used when no messaging backend is configured, so callers never
// need a nil check.
type NoopSink struct{}

func (NoopSink) Publish(ctx context.Context, eventType string, data any) error { return nil }
