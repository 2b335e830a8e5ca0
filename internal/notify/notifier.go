// Package notify sends best-effort notifications about finished
// transactions. Failures here are logged and never change a transaction's
// outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/novabank/transaction-engine/internal/models"
)

// Notification is the narrow contract with the notification collaborator.
// Template rendering and delivery live on the other side of it.
type Notification struct {
	TransactionID string                   `json:"transactionId"`
	Reference     string                   `json:"reference"`
	Recipient     string                   `json:"recipient"`
	Type          models.TransactionType   `json:"type"`
	Amount        decimal.Decimal          `json:"amount"`
	Status        models.TransactionStatus `json:"status"`
}

// Notifier delivers notifications fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NoopNotifier is used when no notification service is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, n Notification) error { return nil }

// HTTPNotifier posts notifications to the notification service.
type HTTPNotifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}

var _ Notifier = (*HTTPNotifier)(nil)
