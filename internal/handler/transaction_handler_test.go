package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/command"
	"github.com/novabank/transaction-engine/internal/models"
)

type mockCommander struct {
	initiateFn func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error)
	reverseFn  func(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error)
	cancelFn   func(ctx context.Context, id string) (*models.Transaction, error)
}

func (m *mockCommander) Initiate(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error) {
	return m.initiateFn(ctx, cmd)
}

func (m *mockCommander) Reverse(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error) {
	return m.reverseFn(ctx, originalID, initiatedBy)
}

func (m *mockCommander) Cancel(ctx context.Context, id string) (*models.Transaction, error) {
	return m.cancelFn(ctx, id)
}

type mockQuerier struct {
	getFn       func(ctx context.Context, id string) (*models.TransactionView, error)
	listFn      func(ctx context.Context, accountID string) ([]models.TransactionView, error)
	balanceFn   func(ctx context.Context, accountID string) (*models.BalanceSnapshot, error)
	listEntryFn func(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
}

func (m *mockQuerier) GetTransaction(ctx context.Context, id string) (*models.TransactionView, error) {
	return m.getFn(ctx, id)
}

func (m *mockQuerier) ListTransactions(ctx context.Context, accountID string) ([]models.TransactionView, error) {
	return m.listFn(ctx, accountID)
}

func (m *mockQuerier) GetBalance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
	return m.balanceFn(ctx, accountID)
}

func (m *mockQuerier) ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return m.listEntryFn(ctx, accountID)
}

func newTestRouter(commands TransactionCommander, queries TransactionQuerier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTransactionHandler(commands, queries)
	router := gin.New()
	router.POST("/v1/transactions", h.InitiateTransaction)
	router.GET("/v1/transactions/:transactionId", h.GetTransaction)
	router.POST("/v1/transactions/:transactionId/reverse", h.ReverseTransaction)
	router.POST("/v1/transactions/:transactionId/cancel", h.CancelTransaction)
	router.GET("/v1/accounts/:accountId/transactions", h.ListTransactions)
	router.GET("/v1/accounts/:accountId/balance", h.GetAccountBalance)
	router.GET("/v1/accounts/:accountId/entries", h.ListAccountEntries)
	return router
}

func sampleTransaction(status models.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		ID:            "tx-1",
		Reference:     "txn-abc",
		FromAccountID: "acc-a",
		ToAccountID:   "acc-b",
		Type:          models.TypeTransfer,
		Amount:        decimal.RequireFromString("40"),
		Status:        status,
		InitiatedBy:   "usr-1",
	}
}

func TestInitiateTransaction(t *testing.T) {
	validBody := `{"type":"TRANSFER","fromAccountId":"acc-a","toAccountId":"acc-b","amount":"40","initiatedBy":"usr-1"}`

	cases := []struct {
		name           string
		body           string
		idempotencyKey string
		initiateFn     func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error)
		wantStatus     int
	}{
		{
			name: "created",
			body: validBody,
			initiateFn: func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error) {
				return sampleTransaction(models.StatusCompleted), false, nil
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:           "replayed returns 200",
			body:           validBody,
			idempotencyKey: "key-1",
			initiateFn: func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error) {
				return sampleTransaction(models.StatusCompleted), true, nil
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "saga failure returns 422 with record",
			body: validBody,
			initiateFn: func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error) {
				tx := sampleTransaction(models.StatusFailed)
				tx.FailureReason = "INSUFFICIENT_FUNDS"
				return tx, false, apperr.ErrInsufficientFunds
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "validation error returns 400",
			body: validBody,
			initiateFn: func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error) {
				return nil, false, apperr.Validationf("transfer accounts must differ")
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown type rejected before service",
			body:       `{"type":"GIFT","toAccountId":"acc-b","amount":"40","initiatedBy":"usr-1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing initiator rejected",
			body:       `{"type":"DEPOSIT","toAccountId":"acc-b","amount":"40"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotKey string
			commands := &mockCommander{initiateFn: func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error) {
				gotKey = cmd.IdempotencyKey
				return tc.initiateFn(ctx, cmd)
			}}
			router := newTestRouter(commands, &mockQuerier{})

			req := httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			if tc.idempotencyKey != "" {
				req.Header.Set("Idempotency-Key", tc.idempotencyKey)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			if tc.initiateFn != nil {
				assert.Equal(t, tc.idempotencyKey, gotKey)
			}
		})
	}
}

func TestInitiateFailureResponseCarriesRecord(t *testing.T) {
	commands := &mockCommander{initiateFn: func(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error) {
		tx := sampleTransaction(models.StatusFailed)
		tx.FailureReason = "FRAUD_REJECTED: velocity limit"
		return tx, false, &apperr.FraudRejectedError{Reason: "velocity limit"}
	}}
	router := newTestRouter(commands, &mockQuerier{})

	body := `{"type":"TRANSFER","fromAccountId":"acc-a","toAccountId":"acc-b","amount":"40","initiatedBy":"usr-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp struct {
		Message     string             `json:"message"`
		Transaction models.Transaction `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FRAUD_REJECTED: velocity limit", resp.Message)
	assert.Equal(t, models.StatusFailed, resp.Transaction.Status)
}

func TestReverseTransaction(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		reverseFn  func(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error)
		wantStatus int
	}{
		{
			name: "created",
			body: `{"initiatedBy":"usr-ops"}`,
			reverseFn: func(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error) {
				assert.Equal(t, "tx-1", originalID)
				assert.Equal(t, "usr-ops", initiatedBy)
				tx := sampleTransaction(models.StatusCompleted)
				tx.Type = models.TypeRefund
				return tx, nil
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "not found",
			body: `{"initiatedBy":"usr-ops"}`,
			reverseFn: func(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error) {
				return nil, apperr.ErrNotFound
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "not completed",
			body: `{"initiatedBy":"usr-ops"}`,
			reverseFn: func(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error) {
				return nil, apperr.Validationf("only completed transactions can be reversed")
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing initiator",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&mockCommander{reverseFn: tc.reverseFn}, &mockQuerier{})
			req := httptest.NewRequest(http.MethodPost, "/v1/transactions/tx-1/reverse", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestCancelTransaction(t *testing.T) {
	commands := &mockCommander{cancelFn: func(ctx context.Context, id string) (*models.Transaction, error) {
		assert.Equal(t, "tx-1", id)
		tx := sampleTransaction(models.StatusCancelled)
		return tx, nil
	}}
	router := newTestRouter(commands, &mockQuerier{})

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions/tx-1/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetTransaction(t *testing.T) {
	queries := &mockQuerier{getFn: func(ctx context.Context, id string) (*models.TransactionView, error) {
		if id != "tx-1" {
			return nil, apperr.ErrNotFound
		}
		return models.ViewFromTransaction(sampleTransaction(models.StatusCompleted)), nil
	}}
	router := newTestRouter(&mockCommander{}, queries)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transactions/tx-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var view models.TransactionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "tx-1", view.ID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transactions/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTransactionsAlwaysReturnsArray(t *testing.T) {
	queries := &mockQuerier{listFn: func(ctx context.Context, accountID string) ([]models.TransactionView, error) {
		assert.Equal(t, "acc-a", accountID)
		return nil, nil
	}}
	router := newTestRouter(&mockCommander{}, queries)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/acc-a/transactions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"transactions":[]}`, w.Body.String())
}

func TestGetAccountBalance(t *testing.T) {
	queries := &mockQuerier{balanceFn: func(ctx context.Context, accountID string) (*models.BalanceSnapshot, error) {
		if accountID != "acc-a" {
			return nil, apperr.ErrNotFound
		}
		return &models.BalanceSnapshot{AccountID: accountID, Balance: decimal.RequireFromString("60")}, nil
	}}
	router := newTestRouter(&mockCommander{}, queries)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/acc-a/balance", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.BalanceSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Balance.Equal(decimal.RequireFromString("60")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/missing/balance", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAccountEntriesAlwaysReturnsArray(t *testing.T) {
	queries := &mockQuerier{listEntryFn: func(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
		return nil, nil
	}}
	router := newTestRouter(&mockCommander{}, queries)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/acc-a/entries", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[]}`, w.Body.String())
}
