package storage

import (
	"context"
	"gw-ledger/internal/models"
)

// LedgerStore is the balance store and transaction log. Writers are
// expected to go through TxManager so a balance change and its log entry
// become visible together.
type LedgerStore interface {
	ReadBalance(ctx context.Context, accountID string) (*models.Balance, error)
	WriteBalance(ctx context.Context, balance models.Balance) error
	ReadAllBalances(ctx context.Context) (map[string]models.Balance, error)

	AppendTransaction(ctx context.Context, tx models.Transaction) error
	ReadAllForAccount(ctx context.Context, accountID string) ([]models.Transaction, error)
	ReadAll(ctx context.Context) (map[string][]models.Transaction, error)
	// UpdateTransactionFlag sets the flag and reason of a stored transaction
	// and reports whether it changed anything. An already flagged transaction
	// keeps its reason and yields false. Unknown ids return
	// custom_err.ErrNotFound.
	UpdateTransactionFlag(ctx context.Context, id, accountID string, flagged bool, reason string) (bool, error)
}

type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, store LedgerStore) error) error
}

// Directory resolves account identities. Resolve returns custom_err.ErrNotFound
// for unknown ids.
type Directory interface {
	Resolve(ctx context.Context, accountID string) (*models.Account, error)
}
