package storage

const (
	// Balance queries
	GetBalanceQuery = `
		SELECT account_id, amount::text, currency
		FROM balances
		WHERE account_id = $1
	`

	// Locks the balance row until the surrounding transaction ends
	GetBalanceForUpdateQuery = `
		SELECT account_id, amount::text, currency
		FROM balances
		WHERE account_id = $1
		FOR UPDATE
	`

	GetAllBalancesQuery = `
		SELECT account_id, amount::text, currency
		FROM balances
		ORDER BY account_id
	`

	UpsertBalanceQuery = `
		INSERT INTO balances (account_id, amount, currency)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (account_id)
		DO UPDATE SET amount = EXCLUDED.amount, currency = EXCLUDED.currency, updated_at = NOW()
	`

	// Transaction log queries
	InsertTransactionQuery = `
		INSERT INTO transactions (
			id, account_id, amount, kind, description,
			counterparty_account_id, counterparty_name, created_at, flagged, flag_reason
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
	`

	GetAccountTransactionsQuery = `
		SELECT id, account_id, amount::text, kind, description,
			counterparty_account_id, counterparty_name, created_at, flagged, flag_reason
		FROM transactions
		WHERE account_id = $1
		ORDER BY seq
	`

	GetAllTransactionsQuery = `
		SELECT id, account_id, amount::text, kind, description,
			counterparty_account_id, counterparty_name, created_at, flagged, flag_reason
		FROM transactions
		ORDER BY account_id, seq
	`

	// a flagged row is never updated again
	FlagTransactionQuery = `
		UPDATE transactions
		SET flagged = TRUE, flag_reason = $3
		WHERE id = $1 AND account_id = $2 AND NOT flagged
	`

	TransactionExistsQuery = `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1 AND account_id = $2)
	`

	// User queries
	GetUserByIDQuery = `
		SELECT id, name, COALESCE(email, ''), is_admin
		FROM users
		WHERE id = $1
	`

	GetAdminUsersQuery = `
		SELECT id, name, COALESCE(email, ''), is_admin
		FROM users
		WHERE is_admin
		ORDER BY created_at, id
	`
)
