package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/novabank/transaction-engine/internal/models"
)

// LedgerAPI defines the ledger-engine operations exposed over HTTP for
// sibling services.
type LedgerAPI interface {
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID, description string) (*models.LedgerEntry, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID, description string) (*models.LedgerEntry, error)
	Balance(ctx context.Context, accountID string) (*models.BalanceSnapshot, error)
	RebuildBalanceCache(ctx context.Context, accountID string) (*models.BalanceSnapshot, error)
	EntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
}

type LedgerHandler struct {
	engine LedgerAPI
}

func NewLedgerHandler(engine LedgerAPI) *LedgerHandler {
	return &LedgerHandler{engine: engine}
}

type LedgerEntryRequest struct {
	AccountID     string          `json:"accountId" validate:"required"`
	TransactionID string          `json:"transactionId" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	Description   string          `json:"description"`
}

func (h *LedgerHandler) Credit(c *gin.Context) {
	h.post(c, h.engine.Credit)
}

func (h *LedgerHandler) Debit(c *gin.Context) {
	h.post(c, h.engine.Debit)
}

func (h *LedgerHandler) post(c *gin.Context, op func(context.Context, string, decimal.Decimal, string, string) (*models.LedgerEntry, error)) {
	var req LedgerEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if fieldErrors := validateRequest(req); fieldErrors != nil {
		respondWithValidationErrors(c, fieldErrors)
		return
	}

	entry, err := op(c.Request.Context(), req.AccountID, req.Amount, req.TransactionID, req.Description)
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *LedgerHandler) GetBalance(c *gin.Context) {
	snap, err := h.engine.Balance(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RebuildBalanceCache recomputes the projection from the entry history. It
// is idempotent and safe to call while the account takes live traffic.
func (h *LedgerHandler) RebuildBalanceCache(c *gin.Context) {
	snap, err := h.engine.RebuildBalanceCache(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *LedgerHandler) ListEntries(c *gin.Context) {
	entries, err := h.engine.EntriesByAccount(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
