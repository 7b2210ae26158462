package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used for balances created lazily on first credit.
const DefaultCurrency = "USD"

// AmountScale is the number of fractional digits the ledger stores. It
// matches the NUMERIC(20, 4) columns of the postgres schema.
const AmountScale = 4

// WithinScale reports whether d needs no more than AmountScale fractional
// digits, so every store keeps it without rounding.
func WithinScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(AmountScale))
}

// Balance is the current amount held by an account
type Balance struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Amount    decimal.Decimal `json:"balance" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
}

// NewBalance returns an empty balance in the given currency.
func NewBalance(accountID, currency string) Balance {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Balance{
		AccountID: accountID,
		Amount:    decimal.Zero,
		Currency:  currency,
	}
}

type TransactionKind string

const (
	KindDeposit     TransactionKind = "deposit"
	KindWithdrawal  TransactionKind = "withdrawal"
	KindTransferIn  TransactionKind = "transfer_in"
	KindTransferOut TransactionKind = "transfer_out"
)

func (k TransactionKind) IsValid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransferIn, KindTransferOut:
		return true
	}
	return false
}

// IsTransfer reports whether records of this kind carry a counterparty.
func (k TransactionKind) IsTransfer() bool {
	return k == KindTransferIn || k == KindTransferOut
}

// DefaultDescription is stored when the caller leaves the description empty.
func (k TransactionKind) DefaultDescription() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdrawal:
		return "Withdrawal"
	default:
		return "Transfer"
	}
}

// Transaction is one entry of an account's log. Only Flagged and FlagReason
// change after the record is appended.
type Transaction struct {
	ID                    string          `json:"id" db:"id"`
	AccountID             string          `json:"user_id" db:"account_id"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	Kind                  TransactionKind `json:"type" db:"kind"`
	Description           string          `json:"description" db:"description"`
	CounterpartyAccountID string          `json:"related_user_id,omitempty" db:"counterparty_account_id"`
	CounterpartyName      string          `json:"related_user_name,omitempty" db:"counterparty_name"`
	Timestamp             time.Time       `json:"timestamp" db:"created_at"`
	Flagged               bool            `json:"is_flagged,omitempty" db:"flagged"`
	FlagReason            string          `json:"flag_reason,omitempty" db:"flag_reason"`
}

// FlagUpdate marks one stored transaction as flagged.
type FlagUpdate struct {
	ID        string
	AccountID string
	Reason    string
}
