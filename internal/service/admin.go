package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"
)

// AllBalances returns every stored balance. Administrators only.
func (s *LedgerService) AllBalances(ctx context.Context, callerID string) (map[string]models.Balance, error) {
	const op = "service.AllBalances"

	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, wrapErr(op, err)
	}

	balances, err := s.store.ReadAllBalances(ctx)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return balances, nil
}

// AllTransactions returns every account's log, accounts ordered by id.
// Administrators only.
func (s *LedgerService) AllTransactions(ctx context.Context, callerID string) ([]models.Transaction, error) {
	const op = "service.AllTransactions"

	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, wrapErr(op, err)
	}

	txs, err := s.allTransactions(ctx)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return txs, nil
}

// FlaggedTransactions returns the flagged subset of AllTransactions.
func (s *LedgerService) FlaggedTransactions(ctx context.Context, callerID string) ([]models.Transaction, error) {
	const op = "service.FlaggedTransactions"

	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, wrapErr(op, err)
	}

	txs, err := s.allTransactions(ctx)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	flagged := make([]models.Transaction, 0)
	for _, tx := range txs {
		if tx.Flagged {
			flagged = append(flagged, tx)
		}
	}
	return flagged, nil
}

// InitAdminWallet seeds the administrator's balance once. It reports whether
// a balance was written; an existing balance is left untouched.
func (s *LedgerService) InitAdminWallet(ctx context.Context, adminID string, amount decimal.Decimal) (*models.Balance, bool, error) {
	const op = "service.InitAdminWallet"

	if amount.IsNegative() || !models.WithinScale(amount) {
		return nil, false, custom_err.ErrInvalidAmount
	}

	var (
		balance models.Balance
		seeded  bool
	)
	err := s.txManager.WithTx(ctx, func(ctx context.Context, store storage.LedgerStore) error {
		existing, err := store.ReadBalance(ctx, adminID)
		if err == nil {
			balance = *existing
			return nil
		}
		if !errors.Is(err, custom_err.ErrNotFound) {
			return err
		}

		balance = models.NewBalance(adminID, s.currency)
		balance.Amount = amount
		seeded = true
		return store.WriteBalance(ctx, balance)
	})
	if err != nil {
		return nil, false, wrapErr(op, err)
	}

	if seeded {
		s.log.Info("admin wallet initialized",
			slog.String("account_id", adminID),
			slog.String("amount", amount.String()))
		if s.notifier != nil {
			s.notifier.Notify(ctx, models.Notification{
				Severity:  models.SeverityInfo,
				Title:     "Admin wallet initialized",
				Detail:    fmt.Sprintf("Balance set to %s %s", amount.String(), balance.Currency),
				AccountID: adminID,
				CreatedAt: s.clock.Now(),
			})
		}
	}

	return &balance, seeded, nil
}

func (s *LedgerService) requireAdmin(ctx context.Context, callerID string) error {
	account, err := s.directory.Resolve(ctx, callerID)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			return custom_err.ErrUnauthorized
		}
		return err
	}
	if !account.IsAdmin {
		return custom_err.ErrUnauthorized
	}
	return nil
}

func (s *LedgerService) allTransactions(ctx context.Context) ([]models.Transaction, error) {
	logs, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(logs))
	for id := range logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.Transaction, 0)
	for _, id := range ids {
		out = append(out, logs[id]...)
	}
	return out, nil
}
