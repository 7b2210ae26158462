package postgres

import (
	"context"
	"gw-ledger/internal/storage"

	"github.com/jackc/pgx/v5"
)

type PgxPoolIface interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TxManager runs ledger work inside one database transaction. Balance reads
// made through the store handed to fn lock their rows.
type TxManager struct {
	pool PgxPoolIface
}

var _ storage.TxManager = (*TxManager)(nil)

func NewTxManager(pool PgxPoolIface) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, store storage.LedgerStore) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, &PgLedgerRepository{db: tx, forUpdate: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	return nil
}
