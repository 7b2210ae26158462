package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gw-ledger/internal/clock"
	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"
)

type Ledger interface {
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*models.Balance, error)
	Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*models.Balance, error)
	Transfer(ctx context.Context, senderID, recipientID string, amount decimal.Decimal, description string) (*models.Balance, error)
	GetBalance(ctx context.Context, accountID string) (*models.Balance, error)
	GetHistory(ctx context.Context, accountID string) ([]models.Transaction, error)
}

type FraudChecker interface {
	Evaluate(ctx context.Context, tx models.Transaction) bool
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type noopFraudChecker struct{}

func (noopFraudChecker) Evaluate(context.Context, models.Transaction) bool { return false }

// LedgerService is the only writer of balances and transaction logs. Each
// operation commits its balance writes and log appends in one TxManager call
// and then hands the new records to the fraud checker.
type LedgerService struct {
	store     storage.LedgerStore
	txManager storage.TxManager
	directory storage.Directory
	fraud     FraudChecker
	notifier  Notifier
	clock     clock.Clock
	currency  string
	log       *slog.Logger

	stampMu   sync.Mutex
	lastStamp time.Time
}

var _ Ledger = (*LedgerService)(nil)

func NewLedgerService(
	store storage.LedgerStore,
	txManager storage.TxManager,
	directory storage.Directory,
	fraud FraudChecker,
	notifier Notifier,
	clk clock.Clock,
	currency string,
	log *slog.Logger,
) *LedgerService {
	if clk == nil {
		clk = clock.Real{}
	}
	if fraud == nil {
		fraud = noopFraudChecker{}
	}
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &LedgerService{
		store:     store,
		txManager: txManager,
		directory: directory,
		fraud:     fraud,
		notifier:  notifier,
		clock:     clk,
		currency:  currency,
		log:       log,
	}
}

func (s *LedgerService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*models.Balance, error) {
	const op = "service.Deposit"

	if !validAmount(amount) {
		return nil, custom_err.ErrInvalidAmount
	}

	now := s.stamp()
	tx := models.Transaction{
		ID:          newTransactionID(now),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        models.KindDeposit,
		Description: describe(description, models.KindDeposit),
		Timestamp:   now,
	}

	var balance models.Balance
	err := s.txManager.WithTx(ctx, func(ctx context.Context, store storage.LedgerStore) error {
		current, err := s.readBalance(ctx, store, accountID)
		if err != nil {
			return err
		}
		current.Amount = current.Amount.Add(amount)

		if err := store.WriteBalance(ctx, current); err != nil {
			return err
		}
		if err := store.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		balance = current
		return nil
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}

	s.log.Info("deposit completed",
		slog.String("account_id", accountID),
		slog.String("transaction_id", tx.ID),
		slog.String("amount", amount.String()))

	s.fraud.Evaluate(ctx, tx)
	return &balance, nil
}

func (s *LedgerService) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*models.Balance, error) {
	const op = "service.Withdraw"

	if !validAmount(amount) {
		return nil, custom_err.ErrInvalidAmount
	}

	now := s.stamp()
	tx := models.Transaction{
		ID:          newTransactionID(now),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        models.KindWithdrawal,
		Description: describe(description, models.KindWithdrawal),
		Timestamp:   now,
	}

	var balance models.Balance
	err := s.txManager.WithTx(ctx, func(ctx context.Context, store storage.LedgerStore) error {
		current, err := s.readBalance(ctx, store, accountID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(current.Amount) {
			return custom_err.ErrInsufficientFunds
		}
		current.Amount = current.Amount.Sub(amount)

		if err := store.WriteBalance(ctx, current); err != nil {
			return err
		}
		if err := store.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		balance = current
		return nil
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}

	s.log.Info("withdrawal completed",
		slog.String("account_id", accountID),
		slog.String("transaction_id", tx.ID),
		slog.String("amount", amount.String()))

	s.fraud.Evaluate(ctx, tx)
	return &balance, nil
}

// Transfer moves amount from sender to recipient and returns the sender's
// balance. Both records share one timestamp; the recipient's id is the
// sender's id with an "_in" suffix.
func (s *LedgerService) Transfer(ctx context.Context, senderID, recipientID string, amount decimal.Decimal, description string) (*models.Balance, error) {
	const op = "service.Transfer"

	if !validAmount(amount) {
		return nil, custom_err.ErrInvalidAmount
	}
	if senderID == recipientID {
		return nil, custom_err.ErrSelfTransfer
	}

	recipient, err := s.directory.Resolve(ctx, recipientID)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			return nil, custom_err.ErrRecipientNotFound
		}
		return nil, wrapErr(op, err)
	}

	senderName := senderID
	sender, err := s.directory.Resolve(ctx, senderID)
	switch {
	case err == nil:
		senderName = sender.Name
	case !errors.Is(err, custom_err.ErrNotFound):
		return nil, wrapErr(op, err)
	}

	now := s.stamp()
	desc := describe(description, models.KindTransferOut)
	out := models.Transaction{
		ID:                    newTransactionID(now),
		AccountID:             senderID,
		Amount:                amount,
		Kind:                  models.KindTransferOut,
		Description:           desc,
		CounterpartyAccountID: recipientID,
		CounterpartyName:      recipient.Name,
		Timestamp:             now,
	}
	in := models.Transaction{
		ID:                    out.ID + "_in",
		AccountID:             recipientID,
		Amount:                amount,
		Kind:                  models.KindTransferIn,
		Description:           desc,
		CounterpartyAccountID: senderID,
		CounterpartyName:      senderName,
		Timestamp:             now,
	}

	var balance models.Balance
	err = s.txManager.WithTx(ctx, func(ctx context.Context, store storage.LedgerStore) error {
		// read in id order so concurrent opposite transfers lock rows consistently
		ids := []string{senderID, recipientID}
		sort.Strings(ids)
		balances := make(map[string]models.Balance, 2)
		for _, id := range ids {
			b, err := s.readBalance(ctx, store, id)
			if err != nil {
				return err
			}
			balances[id] = b
		}

		from, to := balances[senderID], balances[recipientID]
		if amount.GreaterThan(from.Amount) {
			return custom_err.ErrInsufficientFunds
		}
		from.Amount = from.Amount.Sub(amount)
		to.Amount = to.Amount.Add(amount)

		if err := store.WriteBalance(ctx, from); err != nil {
			return err
		}
		if err := store.WriteBalance(ctx, to); err != nil {
			return err
		}
		if err := store.AppendTransaction(ctx, out); err != nil {
			return err
		}
		if err := store.AppendTransaction(ctx, in); err != nil {
			return err
		}
		balance = from
		return nil
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}

	s.log.Info("transfer completed",
		slog.String("sender_id", senderID),
		slog.String("recipient_id", recipientID),
		slog.String("transaction_id", out.ID),
		slog.String("amount", amount.String()))

	s.fraud.Evaluate(ctx, out)
	s.fraud.Evaluate(ctx, in)
	return &balance, nil
}

// GetBalance returns a zero balance for accounts that were never credited.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	const op = "service.GetBalance"

	balance, err := s.readBalance(ctx, s.store, accountID)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return &balance, nil
}

// GetHistory returns the account's log in insertion order.
func (s *LedgerService) GetHistory(ctx context.Context, accountID string) ([]models.Transaction, error) {
	const op = "service.GetHistory"

	txs, err := s.store.ReadAllForAccount(ctx, accountID)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return txs, nil
}

func (s *LedgerService) readBalance(ctx context.Context, store storage.LedgerStore, accountID string) (models.Balance, error) {
	balance, err := store.ReadBalance(ctx, accountID)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			return models.NewBalance(accountID, s.currency), nil
		}
		return models.Balance{}, err
	}
	return *balance, nil
}

// stamp returns the current time, never earlier than a previous stamp.
func (s *LedgerService) stamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	now := s.clock.Now()
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	s.lastStamp = now
	return now
}

// validAmount accepts positive amounts the stores can hold exactly.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && models.WithinScale(amount)
}

func newTransactionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("tx_%d_%s", now.UnixMilli(), suffix)
}

func describe(description string, kind models.TransactionKind) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return kind.DefaultDescription()
}

var domainErrors = []error{
	custom_err.ErrInvalidAmount,
	custom_err.ErrInsufficientFunds,
	custom_err.ErrSelfTransfer,
	custom_err.ErrRecipientNotFound,
	custom_err.ErrUnauthorized,
	custom_err.ErrDuplicateTransaction,
	custom_err.ErrStorageUnavailable,
}

// wrapErr keeps domain errors as they are and reports everything else as a
// storage failure.
func wrapErr(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, custom_err.ErrStorageUnavailable, err)
}
