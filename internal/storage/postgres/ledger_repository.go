package postgres

import (
	"context"
	"errors"
	"fmt"
	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgLedgerRepository struct {
	db Querier
	// set inside WithTx: balance reads lock the row
	forUpdate bool
}

var _ storage.LedgerStore = (*PgLedgerRepository)(nil)

func NewLedgerRepository(db Querier) *PgLedgerRepository {
	return &PgLedgerRepository{db: db}
}

func (r *PgLedgerRepository) ReadBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	const op = "storage.ReadBalance"

	query := storage.GetBalanceQuery
	if r.forUpdate {
		query = storage.GetBalanceForUpdateQuery
	}

	balance, err := scanBalance(r.db.QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

func (r *PgLedgerRepository) ReadAllBalances(ctx context.Context) (map[string]models.Balance, error) {
	const op = "storage.ReadAllBalances"

	rows, err := r.db.Query(ctx, storage.GetAllBalancesQuery)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	balances := make(map[string]models.Balance)
	for rows.Next() {
		balance, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		balances[balance.AccountID] = *balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return balances, nil
}

func (r *PgLedgerRepository) WriteBalance(ctx context.Context, balance models.Balance) error {
	const op = "storage.WriteBalance"

	_, err := r.db.Exec(ctx, storage.UpsertBalanceQuery,
		balance.AccountID,
		balance.Amount.String(),
		balance.Currency,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return custom_err.ErrInsufficientFunds
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *PgLedgerRepository) AppendTransaction(ctx context.Context, tx models.Transaction) error {
	const op = "storage.AppendTransaction"

	_, err := r.db.Exec(ctx, storage.InsertTransactionQuery,
		tx.ID,
		tx.AccountID,
		tx.Amount.String(),
		string(tx.Kind),
		tx.Description,
		tx.CounterpartyAccountID,
		tx.CounterpartyName,
		tx.Timestamp,
		tx.Flagged,
		tx.FlagReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s %s: %w", op, tx.ID, custom_err.ErrDuplicateTransaction)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *PgLedgerRepository) ReadAllForAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	const op = "storage.ReadAllForAccount"

	rows, err := r.db.Query(ctx, storage.GetAccountTransactionsQuery, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return txs, nil
}

func (r *PgLedgerRepository) ReadAll(ctx context.Context) (map[string][]models.Transaction, error) {
	const op = "storage.ReadAll"

	rows, err := r.db.Query(ctx, storage.GetAllTransactionsQuery)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	logs := make(map[string][]models.Transaction)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		logs[tx.AccountID] = append(logs[tx.AccountID], *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return logs, nil
}

func (r *PgLedgerRepository) UpdateTransactionFlag(ctx context.Context, id, accountID string, flagged bool, reason string) (bool, error) {
	const op = "storage.UpdateTransactionFlag"

	if !flagged {
		return false, nil
	}

	res, err := r.db.Exec(ctx, storage.FlagTransactionQuery, id, accountID, reason)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if res.RowsAffected() > 0 {
		return true, nil
	}

	// nothing updated: either already flagged or unknown
	var exists bool
	if err := r.db.QueryRow(ctx, storage.TransactionExistsQuery, id, accountID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return false, custom_err.ErrNotFound
	}
	return false, nil
}

func scanBalance(row pgx.Row) (*models.Balance, error) {
	var (
		balance models.Balance
		amount  string
	)
	if err := row.Scan(&balance.AccountID, &amount, &balance.Currency); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse balance amount %q: %w", amount, err)
	}
	balance.Amount = parsed
	return &balance, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		tx     models.Transaction
		amount string
		kind   string
	)
	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&amount,
		&kind,
		&tx.Description,
		&tx.CounterpartyAccountID,
		&tx.CounterpartyName,
		&tx.Timestamp,
		&tx.Flagged,
		&tx.FlagReason,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse transaction amount %q: %w", amount, err)
	}
	tx.Amount = parsed
	tx.Kind = models.TransactionKind(kind)
	return &tx, nil
}
