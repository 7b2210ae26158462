package postgres

import (
	"context"
	"errors"
	"fmt"
	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"

	"github.com/jackc/pgx/v5"
)

type PgUserRepository struct {
	db Querier
}

var _ storage.Directory = (*PgUserRepository)(nil)

func NewUserRepository(db Querier) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func (r *PgUserRepository) Resolve(ctx context.Context, accountID string) (*models.Account, error) {
	const op = "storage.Resolve"

	account, err := scanAccount(r.db.QueryRow(ctx, storage.GetUserByIDQuery, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

func (r *PgUserRepository) Admins(ctx context.Context) ([]models.Account, error) {
	const op = "storage.Admins"

	rows, err := r.db.Query(ctx, storage.GetAdminUsersQuery)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var admins []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		admins = append(admins, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return admins, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	if err := row.Scan(&account.ID, &account.Name, &account.Email, &account.IsAdmin); err != nil {
		return nil, err
	}
	return &account, nil
}
