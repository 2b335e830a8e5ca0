// Package fraud holds the fraud-gate collaborator contract and its HTTP
// client. Only the decision contract matters to the orchestrator; rule
// thresholds live on the other side.
package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/models"
)

// Decisions returned by the gate. REVIEW is approve-with-flag: only REJECT
// blocks execution.
const (
	DecisionApprove = "APPROVE"
	DecisionReview  = "REVIEW"
	DecisionReject  = "REJECT"
)

// CheckRequest is the input to the fraud gate.
type CheckRequest struct {
	AccountID       string                 `json:"accountId"`
	UserID          string                 `json:"userId"`
	TransactionType models.TransactionType `json:"transactionType"`
	Amount          decimal.Decimal        `json:"amount"`
}

// Decision is the gate's verdict. FailedOpen marks a decision that was not
// made by the gate at all but substituted because the gate was unreachable
// and the fail-open policy is active.
type Decision struct {
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason"`
	RiskScore  float64 `json:"riskScore"`
	FailedOpen bool    `json:"-"`
}

// Checker is the consumer-side contract the orchestrator depends on.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (Decision, error)
}

// Client calls the fraud service over HTTP behind a circuit breaker.
//
// Policy: when the gate is unreachable (or the breaker is open) and failOpen
// is set, the check passes with FailedOpen marked, matching the historical
// behavior of this system. With failOpen off, unavailability is a transient
// error: retried, then failing the transaction.
type Client struct {
	baseURL  string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	failOpen bool
	log      *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, failOpen bool, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fraud-gate",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("fraud gate breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Client{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
		failOpen: failOpen,
		log:      log,
	}
}

func (c *Client) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.check(ctx, req)
	})
	if err != nil {
		if c.failOpen {
			c.log.Warn("fraud gate unavailable, failing open",
				zap.String("accountId", req.AccountID),
				zap.String("amount", req.Amount.String()),
				zap.Error(err))
			return Decision{
				Decision:   DecisionApprove,
				Reason:     "fraud gate unavailable, fail-open policy applied",
				FailedOpen: true,
			}, nil
		}
		return Decision{}, apperr.Transient("fraud check", err)
	}
	return result.(Decision), nil
}

func (c *Client) check(ctx context.Context, req CheckRequest) (Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal fraud check: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/fraud/check", bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to build fraud check request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("fraud gate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Decision{}, fmt.Errorf("fraud gate returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("fraud gate rejected request with %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("failed to decode fraud decision: %w", err)
	}
	return decision, nil
}

var _ Checker = (*Client)(nil)

// StaticChecker approves everything with a fixed score. Used when no fraud
// service is configured and in tests.
type StaticChecker struct {
	Decision Decision
}

func (s StaticChecker) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	if s.Decision.Decision == "" {
		return Decision{Decision: DecisionApprove}, nil
	}
	return s.Decision, nil
}
