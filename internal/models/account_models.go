package models

// Account is a directory entry. The ledger core only reads it.
type Account struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Email   string `json:"email,omitempty" db:"email"`
	IsAdmin bool   `json:"is_admin" db:"is_admin"`
}
