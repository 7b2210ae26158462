// Package fraud flags suspicious ledger activity. Evaluate checks each new
// transaction, Rescan looks for patterns across the stored history.
package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"gw-ledger/internal/clock"
	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type Config struct {
	LargeAmountThreshold decimal.Decimal
	VelocityWindow       time.Duration
	VelocityThreshold    int
	UnusualMinRepeats    int
	UnusualMinAmount     decimal.Decimal
	UnusualRoundMultiple decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		LargeAmountThreshold: decimal.NewFromInt(1000),
		VelocityWindow:       5 * time.Minute,
		VelocityThreshold:    3,
		UnusualMinRepeats:    3,
		UnusualMinAmount:     decimal.NewFromInt(50),
		UnusualRoundMultiple: decimal.NewFromInt(100),
	}
}

type Option func(*Engine)

// WithRules replaces the incremental rule set. Rules run in the given order.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) {
		e.rules = rules
	}
}

type Engine struct {
	store     storage.LedgerStore
	txManager storage.TxManager
	notifier  Notifier
	clock     clock.Clock
	cfg       Config
	rules     []Rule
	log       *slog.Logger
}

func NewEngine(
	store storage.LedgerStore,
	txManager storage.TxManager,
	notifier Notifier,
	clk clock.Clock,
	cfg Config,
	log *slog.Logger,
	opts ...Option,
) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}

	e := &Engine{
		store:     store,
		txManager: txManager,
		notifier:  notifier,
		clock:     clk,
		cfg:       cfg,
		log:       log,
	}
	// large-amount first: its reason wins when both fire
	e.rules = []Rule{
		NewLargeAmountRule(cfg.LargeAmountThreshold),
		NewVelocityRule(NewVelocityTracker(cfg.VelocityWindow), cfg.VelocityThreshold),
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule against a freshly appended transaction and
// persists the flag when one fires. Every rule runs so stateful rules keep
// counting, the first firing rule supplies the reason. Failures are logged
// and reported as not flagged.
func (e *Engine) Evaluate(ctx context.Context, tx models.Transaction) bool {
	now := e.clock.Now()

	var reason, rule string
	for _, r := range e.rules {
		msg, fired := e.runRule(r, tx, now)
		if fired && reason == "" {
			reason, rule = msg, r.Name()
		}
	}
	if reason == "" {
		return false
	}

	updated, err := e.store.UpdateTransactionFlag(ctx, tx.ID, tx.AccountID, true, reason)
	if err != nil {
		e.log.Error("failed to persist fraud flag",
			slog.String("transaction_id", tx.ID),
			slog.String("account_id", tx.AccountID),
			slog.String("rule", rule),
			slog.String("error", err.Error()))
		return false
	}
	if !updated {
		e.log.Debug("transaction already flagged",
			slog.String("transaction_id", tx.ID),
			slog.String("rule", rule))
		return false
	}

	e.log.Warn("transaction flagged",
		slog.String("transaction_id", tx.ID),
		slog.String("account_id", tx.AccountID),
		slog.String("rule", rule),
		slog.String("reason", reason))

	e.notify(ctx, models.Notification{
		Severity:      models.SeverityWarning,
		Title:         "Transaction flagged for review",
		Detail:        reason,
		AccountID:     tx.AccountID,
		TransactionID: tx.ID,
	})
	return true
}

func (e *Engine) runRule(r Rule, tx models.Transaction, now time.Time) (reason string, fired bool) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("fraud rule panicked",
				slog.String("rule", r.Name()),
				slog.String("transaction_id", tx.ID),
				slog.Any("panic", p))
			reason, fired = "", false
		}
	}()
	return r.Check(tx, now)
}

// Rescan flags repeated unusual amounts across all accounts and returns how
// many transactions were newly flagged. The history is read and flagged in one
// transaction, and flags set concurrently by Evaluate are kept. A second run
// without new activity returns 0.
func (e *Engine) Rescan(ctx context.Context) (int, error) {
	const op = "fraud.Rescan"

	flagged := 0
	err := e.txManager.WithTx(ctx, func(ctx context.Context, store storage.LedgerStore) error {
		flagged = 0

		logs, err := store.ReadAll(ctx)
		if err != nil {
			return err
		}

		accountIDs := make([]string, 0, len(logs))
		for id := range logs {
			accountIDs = append(accountIDs, id)
		}
		sort.Strings(accountIDs)

		for _, id := range accountIDs {
			for _, u := range unusualAmounts(logs[id], e.cfg) {
				updated, err := store.UpdateTransactionFlag(ctx, u.ID, u.AccountID, true, u.Reason)
				if err != nil {
					return err
				}
				if updated {
					flagged++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, custom_err.ErrStorageUnavailable, err)
	}

	if flagged == 0 {
		e.log.Debug("fraud scan complete, nothing found")
		return 0, nil
	}

	e.log.Warn("fraud scan complete", slog.Int("flagged", flagged))
	e.notify(ctx, models.Notification{
		Severity: models.SeverityWarning,
		Title:    "Fraud scan complete",
		Detail:   fmt.Sprintf("%d suspicious transactions detected", flagged),
	})

	return flagged, nil
}

func (e *Engine) notify(ctx context.Context, n models.Notification) {
	if e.notifier == nil {
		return
	}
	n.CreatedAt = e.clock.Now()
	e.notifier.Notify(ctx, n)
}
