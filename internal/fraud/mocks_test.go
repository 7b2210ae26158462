package fraud

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n models.Notification) {
	m.Called(ctx, n)
}

type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) ReadBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Balance), args.Error(1)
}

func (m *MockLedgerStore) WriteBalance(ctx context.Context, balance models.Balance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

func (m *MockLedgerStore) ReadAllBalances(ctx context.Context) (map[string]models.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]models.Balance), args.Error(1)
}

func (m *MockLedgerStore) AppendTransaction(ctx context.Context, tx models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockLedgerStore) ReadAllForAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockLedgerStore) ReadAll(ctx context.Context) (map[string][]models.Transaction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]models.Transaction), args.Error(1)
}

func (m *MockLedgerStore) UpdateTransactionFlag(ctx context.Context, id, accountID string, flagged bool, reason string) (bool, error) {
	args := m.Called(ctx, id, accountID, flagged, reason)
	return args.Bool(0), args.Error(1)
}

// MockTxManager runs fn against store unless an error is configured.
type MockTxManager struct {
	mock.Mock
	store storage.LedgerStore
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, store storage.LedgerStore) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx, m.store)
}

// interleavingTxManager hands fn a store that runs afterRead once, right
// after the first ReadAll, as if another writer committed in between.
type interleavingTxManager struct {
	inner     storage.TxManager
	afterRead func(ctx context.Context, store storage.LedgerStore)
}

func (m *interleavingTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, store storage.LedgerStore) error) error {
	return m.inner.WithTx(ctx, func(ctx context.Context, store storage.LedgerStore) error {
		return fn(ctx, &interleavingStore{LedgerStore: store, afterRead: m.afterRead})
	})
}

type interleavingStore struct {
	storage.LedgerStore
	afterRead func(ctx context.Context, store storage.LedgerStore)
}

func (s *interleavingStore) ReadAll(ctx context.Context) (map[string][]models.Transaction, error) {
	logs, err := s.LedgerStore.ReadAll(ctx)
	if s.afterRead != nil {
		s.afterRead(ctx, s.LedgerStore)
		s.afterRead = nil
	}
	return logs, err
}

type panickingRule struct{}

func (panickingRule) Name() string { return "broken" }

func (panickingRule) Check(models.Transaction, time.Time) (string, bool) {
	panic("malformed record")
}
