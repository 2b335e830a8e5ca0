package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/novabank/transaction-engine/internal/command"
	"github.com/novabank/transaction-engine/internal/models"
)

// TransactionCommander defines the write-side operations used by
// TransactionHandler.
type TransactionCommander interface {
	Initiate(ctx context.Context, cmd command.InitiateTransactionCommand) (*models.Transaction, bool, error)
	Reverse(ctx context.Context, originalID, initiatedBy string) (*models.Transaction, error)
	Cancel(ctx context.Context, id string) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by
// TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(ctx context.Context, id string) (*models.TransactionView, error)
	ListTransactions(ctx context.Context, accountID string) ([]models.TransactionView, error)
	GetBalance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error)
	ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries}
}

type InitiateTransactionRequest struct {
	Type          string          `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL TRANSFER PAYMENT FEE INTEREST REFUND"`
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	InitiatedBy   string          `json:"initiatedBy" validate:"required"`
}

type ReverseTransactionRequest struct {
	InitiatedBy string `json:"initiatedBy" validate:"required"`
}

type ListTransactionsResponse struct {
	Transactions []models.TransactionView `json:"transactions"`
}

// InitiateTransaction creates and executes a money movement. A previously
// seen Idempotency-Key short-circuits to the stored record with zero side
// effects.
func (h *TransactionHandler) InitiateTransaction(c *gin.Context) {
	var req InitiateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if fieldErrors := validateRequest(req); fieldErrors != nil {
		respondWithValidationErrors(c, fieldErrors)
		return
	}

	tx, replayed, err := h.commands.Initiate(c.Request.Context(), command.InitiateTransactionCommand{
		Type:           models.TransactionType(req.Type),
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		InitiatedBy:    req.InitiatedBy,
	})
	switch {
	case err != nil && tx == nil:
		respondWithAppError(c, err)
	case err != nil:
		// The saga ran and failed; surface the reason with the FAILED record.
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message":     tx.FailureReason,
			"transaction": tx,
		})
	case replayed:
		c.JSON(http.StatusOK, tx)
	default:
		c.JSON(http.StatusCreated, tx)
	}
}

// ReverseTransaction supersedes a completed transaction with a refund
// transaction carrying the opposite legs.
func (h *TransactionHandler) ReverseTransaction(c *gin.Context) {
	var req ReverseTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if fieldErrors := validateRequest(req); fieldErrors != nil {
		respondWithValidationErrors(c, fieldErrors)
		return
	}

	tx, err := h.commands.Reverse(c.Request.Context(), c.Param("transactionId"), req.InitiatedBy)
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// CancelTransaction withdraws a transaction that has not started executing.
func (h *TransactionHandler) CancelTransaction(c *gin.Context) {
	tx, err := h.commands.Cancel(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	view, err := h.queries.GetTransaction(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	views, err := h.queries.ListTransactions(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	if views == nil {
		views = []models.TransactionView{}
	}
	c.JSON(http.StatusOK, ListTransactionsResponse{Transactions: views})
}

func (h *TransactionHandler) GetAccountBalance(c *gin.Context) {
	snap, err := h.queries.GetBalance(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *TransactionHandler) ListAccountEntries(c *gin.Context) {
	entries, err := h.queries.ListEntries(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
