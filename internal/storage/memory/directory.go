package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"os"
	"sort"
	"strings"
	"sync"
)

// Directory is an in-process account directory.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
}

func NewDirectory(accounts ...models.Account) *Directory {
	d := &Directory{accounts: make(map[string]models.Account, len(accounts))}
	for _, a := range accounts {
		d.accounts[a.ID] = a
	}
	return d
}

// LoadDirectory reads a JSON array of accounts from path.
func LoadDirectory(path string) (*Directory, error) {
	const op = "memory.LoadDirectory"

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var accounts []models.Account
	if err := json.Unmarshal(payload, &accounts); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", op, path, err)
	}
	for _, a := range accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("%s: %w: account without id", op, custom_err.ErrInvalidInput)
		}
	}

	return NewDirectory(accounts...), nil
}

func (d *Directory) Resolve(ctx context.Context, accountID string) (*models.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accounts[accountID]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return &a, nil
}

// Register adds an account. The first account ever registered becomes the
// administrator and emails must be unique.
func (d *Directory) Register(ctx context.Context, account models.Account) (*models.Account, error) {
	if account.ID == "" || strings.TrimSpace(account.Name) == "" {
		return nil, custom_err.ErrInvalidInput
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.accounts[account.ID]; ok {
		return nil, fmt.Errorf("memory.Register %s: %w", account.ID, custom_err.ErrInvalidInput)
	}
	if account.Email != "" {
		for _, existing := range d.accounts {
			if strings.EqualFold(existing.Email, account.Email) {
				return nil, custom_err.ErrEmailExists
			}
		}
	}

	account.IsAdmin = len(d.accounts) == 0
	d.accounts[account.ID] = account
	return &account, nil
}

// Admins returns every administrator account ordered by id.
func (d *Directory) Admins(ctx context.Context) ([]models.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []models.Account
	for _, a := range d.accounts {
		if a.IsAdmin {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
