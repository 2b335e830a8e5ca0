package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novabank/transaction-engine/internal/apperr"
	"github.com/novabank/transaction-engine/internal/models"
)

func entry(id, accountID string, entryType models.EntryType, amount, running string) models.LedgerEntry {
	return models.LedgerEntry{
		ID:             id,
		AccountID:      accountID,
		TransactionID:  "tx-" + id,
		EntryType:      entryType,
		Amount:         decimal.RequireFromString(amount),
		RunningBalance: decimal.RequireFromString(running),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAppendEntryGuardsVersion(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertBalance(ctx, "acc-1", decimal.Zero, 0))

	err := store.AppendEntry(ctx, entry("e1", "acc-1", models.EntryCredit, "10", "10"), 1)
	require.NoError(t, err)

	// Stale version after the first append.
	err = store.AppendEntry(ctx, entry("e2", "acc-1", models.EntryCredit, "5", "15"), 1)
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)

	err = store.AppendEntry(ctx, entry("e2", "acc-1", models.EntryCredit, "5", "15"), 2)
	require.NoError(t, err)

	snap, err := store.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.RequireFromString("15")))
	assert.Equal(t, int64(3), snap.Version)
}

func TestAppendEntryRejectsDuplicateID(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertBalance(ctx, "acc-1", decimal.Zero, 0))
	require.NoError(t, store.AppendEntry(ctx, entry("e1", "acc-1", models.EntryCredit, "10", "10"), 1))

	err := store.AppendEntry(ctx, entry("e1", "acc-1", models.EntryCredit, "10", "20"), 2)
	assert.ErrorIs(t, err, apperr.ErrDuplicateEntry)

	// The rejected write left nothing behind.
	entries, err := store.EntriesByAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	snap, err := store.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.RequireFromString("10")))
}

func TestSumEntriesNetsDebitsAgainstCredits(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertBalance(ctx, "acc-1", decimal.Zero, 0))
	require.NoError(t, store.AppendEntry(ctx, entry("e1", "acc-1", models.EntryCredit, "100.50", "100.50"), 1))
	require.NoError(t, store.AppendEntry(ctx, entry("e2", "acc-1", models.EntryDebit, "0.25", "100.25"), 2))

	sum, err := store.SumEntries(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("100.25")))

	// Other accounts never leak into the sum.
	sum, err = store.SumEntries(ctx, "acc-2")
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestUpsertBalanceCreateRequiresVersionZero(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	err := store.UpsertBalance(ctx, "acc-1", decimal.RequireFromString("5"), 3)
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)

	require.NoError(t, store.UpsertBalance(ctx, "acc-1", decimal.RequireFromString("5"), 0))
	snap, err := store.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
}

func TestTransactionStoreIdempotencyKey(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()

	tx := &models.Transaction{
		ID:             "tx-1",
		Reference:      "txn-1",
		Type:           models.TypeDeposit,
		ToAccountID:    "acc-1",
		Amount:         decimal.RequireFromString("10"),
		Status:         models.StatusPending,
		IdempotencyKey: "key-1",
		InitiatedBy:    "usr-1",
	}
	require.NoError(t, store.Create(ctx, tx))

	dup := *tx
	dup.ID = "tx-2"
	err := store.Create(ctx, &dup)
	assert.ErrorIs(t, err, apperr.ErrDuplicateKey)

	found, err := store.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", found.ID)

	_, err = store.GetByIdempotencyKey(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransactionStoreStatusAndReview(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()

	tx := &models.Transaction{ID: "tx-1", Reference: "txn-1", Type: models.TypeWithdrawal, FromAccountID: "acc-1", Amount: decimal.RequireFromString("10"), Status: models.StatusPending, InitiatedBy: "usr-1"}
	require.NoError(t, store.Create(ctx, tx))

	require.NoError(t, store.UpdateStatus(ctx, "tx-1", models.StatusFailed, "INSUFFICIENT_FUNDS"))
	require.NoError(t, store.SetReview(ctx, "tx-1", 0.7, "unusual amount"))

	got, err := store.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", got.FailureReason)
	assert.True(t, got.ReviewFlag)
	assert.InDelta(t, 0.7, got.RiskScore, 1e-9)

	assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", models.StatusFailed, ""), apperr.ErrNotFound)
}

func TestListByAccountMatchesEitherLeg(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()

	mk := func(id, from, to string, at time.Time) *models.Transaction {
		return &models.Transaction{ID: id, Reference: "txn-" + id, Type: models.TypeTransfer, FromAccountID: from, ToAccountID: to, Amount: decimal.RequireFromString("1"), Status: models.StatusCompleted, InitiatedBy: "usr-1", CreatedAt: at}
	}
	base := time.Now().UTC()
	require.NoError(t, store.Create(ctx, mk("t1", "acc-a", "acc-b", base)))
	require.NoError(t, store.Create(ctx, mk("t2", "acc-b", "acc-c", base.Add(time.Second))))
	require.NoError(t, store.Create(ctx, mk("t3", "acc-c", "acc-d", base.Add(2*time.Second))))

	list, err := store.ListByAccount(ctx, "acc-b")
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first.
	assert.Equal(t, "t2", list[0].ID)
	assert.Equal(t, "t1", list[1].ID)
}
