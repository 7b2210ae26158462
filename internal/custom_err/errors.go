package custom_err

import "errors"

var (
	// Ledger errors
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrSelfTransfer         = errors.New("cannot transfer to yourself")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrDuplicateTransaction = errors.New("transaction already exists")

	// Account errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrEmailExists  = errors.New("email already registered")
	ErrInvalidInput = errors.New("invalid input")
)
