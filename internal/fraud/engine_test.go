package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gw-ledger/internal/clock"
	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"
	"gw-ledger/internal/storage/memory"
)

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store, *clock.Fake, *MockNotifier) {
	t.Helper()

	store := memory.NewStore()
	clk := clock.NewFake(baseTime)
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return().Maybe()

	engine := NewEngine(store, store, notifier, clk, DefaultConfig(), testLogger(), opts...)
	return engine, store, clk, notifier
}

func appendTx(t *testing.T, store *memory.Store, clk clock.Clock, accountID, amount string) models.Transaction {
	t.Helper()

	log, err := store.ReadAllForAccount(context.Background(), accountID)
	require.NoError(t, err)

	tx := models.Transaction{
		ID:          fmt.Sprintf("tx_%s_%d", accountID, len(log)+1),
		AccountID:   accountID,
		Amount:      decimal.RequireFromString(amount),
		Kind:        models.KindDeposit,
		Description: models.KindDeposit.DefaultDescription(),
		Timestamp:   clk.Now(),
	}
	require.NoError(t, store.AppendTransaction(context.Background(), tx))
	return tx
}

func storedTx(t *testing.T, store *memory.Store, accountID, id string) models.Transaction {
	t.Helper()

	log, err := store.ReadAllForAccount(context.Background(), accountID)
	require.NoError(t, err)
	for _, tx := range log {
		if tx.ID == id {
			return tx
		}
	}
	t.Fatalf("transaction %s not found", id)
	return models.Transaction{}
}

func TestEngine_Evaluate_LargeAmountFlagged(t *testing.T) {
	engine, store, clk, notifier := setupEngine(t)
	ctx := context.Background()

	tx := appendTx(t, store, clk, "alice", "1000")

	flagged := engine.Evaluate(ctx, tx)

	assert.True(t, flagged)
	stored := storedTx(t, store, "alice", tx.ID)
	assert.True(t, stored.Flagged)
	assert.Contains(t, stored.FlagReason, "1000")
	assert.Equal(t, "Large amount transaction: $1000", stored.FlagReason)

	notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Severity == models.SeverityWarning &&
			n.Title == "Transaction flagged for review" &&
			n.TransactionID == tx.ID
	}))
}

func TestEngine_Evaluate_JustBelowThresholdNotFlagged(t *testing.T) {
	engine, store, clk, notifier := setupEngine(t)

	tx := appendTx(t, store, clk, "alice", "999.99")

	assert.False(t, engine.Evaluate(context.Background(), tx))
	assert.False(t, storedTx(t, store, "alice", tx.ID).Flagged)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestEngine_Evaluate_VelocityWindow(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	first := appendTx(t, store, clk, "alice", "1")
	assert.False(t, engine.Evaluate(ctx, first))

	clk.Advance(time.Minute)
	second := appendTx(t, store, clk, "alice", "1")
	assert.False(t, engine.Evaluate(ctx, second))

	clk.Advance(time.Minute)
	third := appendTx(t, store, clk, "alice", "1")
	assert.True(t, engine.Evaluate(ctx, third))
	assert.Equal(t, "Multiple transactions (3) in a short period", storedTx(t, store, "alice", third.ID).FlagReason)

	clk.Advance(6 * time.Minute)
	fourth := appendTx(t, store, clk, "alice", "1")
	assert.False(t, engine.Evaluate(ctx, fourth))
	assert.False(t, storedTx(t, store, "alice", fourth.ID).Flagged)
}

func TestEngine_Evaluate_VelocityIsPerAccount(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	assert.False(t, engine.Evaluate(ctx, appendTx(t, store, clk, "alice", "1")))
	assert.False(t, engine.Evaluate(ctx, appendTx(t, store, clk, "bob", "1")))
	assert.False(t, engine.Evaluate(ctx, appendTx(t, store, clk, "alice", "1")))
	assert.False(t, engine.Evaluate(ctx, appendTx(t, store, clk, "bob", "1")))
}

func TestEngine_Evaluate_LargeAmountReasonWinsOverVelocity(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	engine.Evaluate(ctx, appendTx(t, store, clk, "alice", "1"))
	engine.Evaluate(ctx, appendTx(t, store, clk, "alice", "1"))
	tx := appendTx(t, store, clk, "alice", "2500")

	assert.True(t, engine.Evaluate(ctx, tx))
	assert.Equal(t, "Large amount transaction: $2500", storedTx(t, store, "alice", tx.ID).FlagReason)
}

func TestEngine_Evaluate_VelocityCountsFlaggedLargeAmounts(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	assert.True(t, engine.Evaluate(ctx, appendTx(t, store, clk, "alice", "5000")))
	assert.False(t, engine.Evaluate(ctx, appendTx(t, store, clk, "alice", "1")))

	tx := appendTx(t, store, clk, "alice", "1")
	assert.True(t, engine.Evaluate(ctx, tx))
	assert.Equal(t, "Multiple transactions (3) in a short period", storedTx(t, store, "alice", tx.ID).FlagReason)
}

func TestEngine_Evaluate_PanickingRuleDoesNotFire(t *testing.T) {
	engine, store, clk, _ := setupEngine(t, WithRules(panickingRule{}, NewLargeAmountRule(decimal.NewFromInt(1000))))
	ctx := context.Background()

	small := appendTx(t, store, clk, "alice", "10")
	assert.NotPanics(t, func() {
		assert.False(t, engine.Evaluate(ctx, small))
	})

	large := appendTx(t, store, clk, "alice", "1000")
	assert.True(t, engine.Evaluate(ctx, large))
}

func TestEngine_Evaluate_StorageFailureIsNotFlagged(t *testing.T) {
	store := new(MockLedgerStore)
	notifier := new(MockNotifier)
	engine := NewEngine(store, nil, notifier, clock.NewFake(baseTime), DefaultConfig(), testLogger())

	tx := models.Transaction{ID: "tx_1", AccountID: "alice", Amount: decimal.NewFromInt(1000), Kind: models.KindDeposit}
	store.On("UpdateTransactionFlag", mock.Anything, "tx_1", "alice", true, "Large amount transaction: $1000").
		Return(false, errors.New("disk full"))

	assert.False(t, engine.Evaluate(context.Background(), tx))

	store.AssertExpectations(t)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestEngine_Evaluate_DoesNotTouchCoreFields(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)

	tx := appendTx(t, store, clk, "alice", "1200")
	require.True(t, engine.Evaluate(context.Background(), tx))

	stored := storedTx(t, store, "alice", tx.ID)
	assert.Equal(t, tx.ID, stored.ID)
	assert.True(t, tx.Amount.Equal(stored.Amount))
	assert.Equal(t, tx.Kind, stored.Kind)
	assert.Equal(t, tx.Timestamp, stored.Timestamp)
	assert.Equal(t, tx.Description, stored.Description)
}

func TestEngine_Rescan_FlagsRepeatedUnusualAmount(t *testing.T) {
	engine, store, clk, notifier := setupEngine(t)
	ctx := context.Background()

	var sevenSeven []models.Transaction
	for i := 0; i < 4; i++ {
		sevenSeven = append(sevenSeven, appendTx(t, store, clk, "alice", "77"))
	}
	var round []models.Transaction
	for i := 0; i < 3; i++ {
		round = append(round, appendTx(t, store, clk, "alice", "200"))
	}

	count, err := engine.Rescan(ctx)

	require.NoError(t, err)
	assert.Equal(t, 4, count)
	for _, tx := range sevenSeven {
		stored := storedTx(t, store, "alice", tx.ID)
		assert.True(t, stored.Flagged)
		assert.Contains(t, stored.FlagReason, "77")
		assert.Contains(t, stored.FlagReason, "4")
		assert.Equal(t, "Unusual pattern: Amount $77 used 4 times", stored.FlagReason)
	}
	for _, tx := range round {
		assert.False(t, storedTx(t, store, "alice", tx.ID).Flagged)
	}

	notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Title == "Fraud scan complete" && n.Detail == "4 suspicious transactions detected"
	}))
}

func TestEngine_Rescan_Idempotent(t *testing.T) {
	engine, store, clk, notifier := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		appendTx(t, store, clk, "bob", "66.6")
	}

	first, err := engine.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	second, err := engine.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngine_Rescan_SkipsAlreadyFlagged(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	first := appendTx(t, store, clk, "alice", "77")
	appendTx(t, store, clk, "alice", "77")
	appendTx(t, store, clk, "alice", "77")
	_, err := store.UpdateTransactionFlag(ctx, first.ID, "alice", true, "manual")
	require.NoError(t, err)

	count, err := engine.Rescan(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, "manual", storedTx(t, store, "alice", first.ID).FlagReason)
}

func TestEngine_Rescan_AmountBounds(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		appendTx(t, store, clk, "alice", "50")
		appendTx(t, store, clk, "alice", "50.5")
		appendTx(t, store, clk, "bob", "77")
	}
	appendTx(t, store, clk, "carol", "77")
	appendTx(t, store, clk, "carol", "77")

	count, err := engine.Rescan(ctx)

	require.NoError(t, err)
	assert.Equal(t, 6, count)

	log, err := store.ReadAllForAccount(ctx, "alice")
	require.NoError(t, err)
	for _, tx := range log {
		assert.Equal(t, tx.Amount.Equal(decimal.RequireFromString("50.5")), tx.Flagged, tx.ID)
	}
	carol, err := store.ReadAllForAccount(ctx, "carol")
	require.NoError(t, err)
	for _, tx := range carol {
		assert.False(t, tx.Flagged)
	}
}

func TestEngine_Rescan_GroupsByExactValue(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)

	appendTx(t, store, clk, "alice", "77")
	appendTx(t, store, clk, "alice", "77.00")
	appendTx(t, store, clk, "alice", "77.0")

	count, err := engine.Rescan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestEngine_Rescan_ReadError(t *testing.T) {
	store := new(MockLedgerStore)
	txManager := &MockTxManager{store: store}
	engine := NewEngine(store, txManager, nil, clock.NewFake(baseTime), DefaultConfig(), testLogger())

	txManager.On("WithTx", mock.Anything).Return(nil)
	store.On("ReadAll", mock.Anything).Return(nil, errors.New("connection refused"))

	count, err := engine.Rescan(context.Background())

	assert.Equal(t, 0, count)
	assert.ErrorIs(t, err, custom_err.ErrStorageUnavailable)
	assert.ErrorContains(t, err, "connection refused")
}

func TestEngine_Rescan_BatchWriteError(t *testing.T) {
	store := new(MockLedgerStore)
	txManager := new(MockTxManager)
	notifier := new(MockNotifier)
	engine := NewEngine(store, txManager, notifier, clock.NewFake(baseTime), DefaultConfig(), testLogger())

	txManager.On("WithTx", mock.Anything).Return(errors.New("deadlock detected"))

	count, err := engine.Rescan(context.Background())

	assert.Equal(t, 0, count)
	assert.ErrorIs(t, err, custom_err.ErrStorageUnavailable)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestEngine_RescanAndEvaluateCommute(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		clk.Advance(10 * time.Minute)
		engine.Evaluate(ctx, appendTx(t, store, clk, "alice", "1077"))
	}

	count, err := engine.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	log, err := store.ReadAllForAccount(ctx, "alice")
	require.NoError(t, err)
	for _, tx := range log {
		assert.Equal(t, "Large amount transaction: $1077", tx.FlagReason)
	}
}

func TestEngine_Rescan_KeepsFlagSetAfterRead(t *testing.T) {
	store := memory.NewStore()
	clk := clock.NewFake(baseTime)
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return()

	var first models.Transaction
	txManager := &interleavingTxManager{
		inner: store,
		afterRead: func(ctx context.Context, tx storage.LedgerStore) {
			_, err := tx.UpdateTransactionFlag(ctx, first.ID, "alice", true, "Large amount transaction: $77")
			require.NoError(t, err)
		},
	}
	engine := NewEngine(store, txManager, notifier, clk, DefaultConfig(), testLogger())

	first = appendTx(t, store, clk, "alice", "77")
	for i := 0; i < 3; i++ {
		appendTx(t, store, clk, "alice", "77")
	}

	count, err := engine.Rescan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, "Large amount transaction: $77", storedTx(t, store, "alice", first.ID).FlagReason)
	notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Detail == "3 suspicious transactions detected"
	}))
}

func TestEngine_RescanConcurrentWithEvaluate(t *testing.T) {
	engine, store, clk, _ := setupEngine(t)
	ctx := context.Background()

	var txs []models.Transaction
	for i := 0; i < 4; i++ {
		txs = append(txs, appendTx(t, store, clk, "alice", "1077"))
	}

	var (
		wg        sync.WaitGroup
		count     int
		rescanErr error
		evaluated bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		count, rescanErr = engine.Rescan(ctx)
	}()
	go func() {
		defer wg.Done()
		evaluated = engine.Evaluate(ctx, txs[0])
	}()
	wg.Wait()

	require.NoError(t, rescanErr)
	newlyFlagged := count
	if evaluated {
		newlyFlagged++
	}
	assert.Equal(t, 4, newlyFlagged)

	log, err := store.ReadAllForAccount(ctx, "alice")
	require.NoError(t, err)
	for _, tx := range log {
		assert.True(t, tx.Flagged)
	}
}
