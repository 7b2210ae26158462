// Package memory keeps the ledger in process memory. It backs tests and the
// WAL store, which replays its log into a Store on startup.
package memory

import (
	"context"
	"fmt"
	"gw-ledger/internal/custom_err"
	"gw-ledger/internal/models"
	"gw-ledger/internal/storage"
	"sync"
)

type MutationKind string

const (
	MutationBalance MutationKind = "balance"
	MutationAppend  MutationKind = "append"
	MutationFlag    MutationKind = "flag"
)

// Mutation is a single committed change to the ledger.
type Mutation struct {
	Kind        MutationKind       `json:"kind"`
	Balance     models.Balance     `json:"balance,omitempty"`
	Transaction models.Transaction `json:"transaction,omitempty"`
	Flag        models.FlagUpdate  `json:"flag,omitempty"`
}

// Journal receives committed mutations before they become visible. A journal
// error aborts the commit.
type Journal interface {
	Record(ctx context.Context, mutations []Mutation) error
}

type Option func(*Store)

func WithJournal(j Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

type Store struct {
	mu       sync.RWMutex
	balances map[string]models.Balance
	logs     map[string][]models.Transaction
	// position of a transaction inside logs[accountID], keyed by txKey
	index   map[string]int
	journal Journal
}

var (
	_ storage.LedgerStore = (*Store)(nil)
	_ storage.TxManager   = (*Store)(nil)
)

func NewStore(opts ...Option) *Store {
	s := &Store{
		balances: make(map[string]models.Balance),
		logs:     make(map[string][]models.Transaction),
		index:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func txKey(accountID, id string) string {
	return accountID + "/" + id
}

func (s *Store) ReadBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[accountID]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ReadAllBalances(ctx context.Context) (map[string]models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Balance, len(s.balances))
	for id, b := range s.balances {
		out[id] = b
	}
	return out, nil
}

func (s *Store) ReadAllForAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneLog(s.logs[accountID]), nil
}

func (s *Store) ReadAll(ctx context.Context) (map[string][]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]models.Transaction, len(s.logs))
	for id, log := range s.logs {
		out[id] = cloneLog(log)
	}
	return out, nil
}

func (s *Store) WriteBalance(ctx context.Context, balance models.Balance) error {
	return s.commitOne(ctx, Mutation{Kind: MutationBalance, Balance: balance})
}

func (s *Store) AppendTransaction(ctx context.Context, tx models.Transaction) error {
	return s.commitOne(ctx, Mutation{Kind: MutationAppend, Transaction: tx})
}

func (s *Store) UpdateTransactionFlag(ctx context.Context, id, accountID string, flagged bool, reason string) (bool, error) {
	if !flagged {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := Mutation{Kind: MutationFlag, Flag: models.FlagUpdate{ID: id, AccountID: accountID, Reason: reason}}
	if err := s.check(m, nil); err != nil {
		return false, err
	}
	if s.flagged(accountID, id) {
		return false, nil
	}
	if err := s.commit(ctx, []Mutation{m}); err != nil {
		return false, err
	}
	return true, nil
}

// flagged reports whether a committed transaction already carries a flag.
func (s *Store) flagged(accountID, id string) bool {
	pos, ok := s.index[txKey(accountID, id)]
	return ok && s.logs[accountID][pos].Flagged
}

func (s *Store) commitOne(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(m, nil); err != nil {
		return err
	}
	return s.commit(ctx, []Mutation{m})
}

// WithTx runs fn against a staged view of the store while holding the write
// lock. Staged mutations are applied only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, store storage.LedgerStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := newTxView(s)
	if err := fn(ctx, view); err != nil {
		return err
	}
	if len(view.mutations) == 0 {
		return nil
	}
	return s.commit(ctx, view.mutations)
}

// Replay applies mutations without journaling them. Used when rebuilding the
// store from a durable log.
func (s *Store) Replay(mutations ...Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range mutations {
		if err := s.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) commit(ctx context.Context, mutations []Mutation) error {
	if s.journal != nil {
		if err := s.journal.Record(ctx, mutations); err != nil {
			return fmt.Errorf("memory.commit: %w: %w", custom_err.ErrStorageUnavailable, err)
		}
	}
	for _, m := range mutations {
		if err := s.apply(m); err != nil {
			return err
		}
	}
	return nil
}

// check validates m against committed state plus the ids staged in pending.
func (s *Store) check(m Mutation, pending map[string]struct{}) error {
	switch m.Kind {
	case MutationBalance:
		if m.Balance.Amount.IsNegative() {
			return custom_err.ErrInsufficientFunds
		}
	case MutationAppend:
		key := txKey(m.Transaction.AccountID, m.Transaction.ID)
		_, staged := pending[key]
		if _, ok := s.index[key]; ok || staged {
			return fmt.Errorf("memory.append %s: %w", m.Transaction.ID, custom_err.ErrDuplicateTransaction)
		}
	case MutationFlag:
		key := txKey(m.Flag.AccountID, m.Flag.ID)
		_, staged := pending[key]
		if _, ok := s.index[key]; !ok && !staged {
			return fmt.Errorf("memory.flag %s: %w", m.Flag.ID, custom_err.ErrNotFound)
		}
	default:
		return fmt.Errorf("memory: unknown mutation %q", m.Kind)
	}
	return nil
}

func (s *Store) apply(m Mutation) error {
	switch m.Kind {
	case MutationBalance:
		s.balances[m.Balance.AccountID] = m.Balance
	case MutationAppend:
		tx := m.Transaction
		key := txKey(tx.AccountID, tx.ID)
		if _, ok := s.index[key]; ok {
			return fmt.Errorf("memory.append %s: %w", tx.ID, custom_err.ErrDuplicateTransaction)
		}
		s.index[key] = len(s.logs[tx.AccountID])
		s.logs[tx.AccountID] = append(s.logs[tx.AccountID], tx)
	case MutationFlag:
		pos, ok := s.index[txKey(m.Flag.AccountID, m.Flag.ID)]
		if !ok {
			return fmt.Errorf("memory.flag %s: %w", m.Flag.ID, custom_err.ErrNotFound)
		}
		entry := &s.logs[m.Flag.AccountID][pos]
		if entry.Flagged {
			return nil
		}
		entry.Flagged = true
		entry.FlagReason = m.Flag.Reason
	default:
		return fmt.Errorf("memory: unknown mutation %q", m.Kind)
	}
	return nil
}

func cloneLog(in []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(in))
	copy(out, in)
	return out
}

// txView stages writes made inside WithTx. Reads see committed state with the
// staged writes layered on top.
type txView struct {
	s         *Store
	balances  map[string]models.Balance
	appended  map[string][]models.Transaction
	pending   map[string]struct{}
	mutations []Mutation
}

func newTxView(s *Store) *txView {
	return &txView{
		s:        s,
		balances: make(map[string]models.Balance),
		appended: make(map[string][]models.Transaction),
		pending:  make(map[string]struct{}),
	}
}

func (v *txView) ReadBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	if b, ok := v.balances[accountID]; ok {
		return &b, nil
	}
	b, ok := v.s.balances[accountID]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return &b, nil
}

func (v *txView) ReadAllBalances(ctx context.Context) (map[string]models.Balance, error) {
	out := make(map[string]models.Balance, len(v.s.balances)+len(v.balances))
	for id, b := range v.s.balances {
		out[id] = b
	}
	for id, b := range v.balances {
		out[id] = b
	}
	return out, nil
}

func (v *txView) ReadAllForAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	return v.accountLog(accountID), nil
}

func (v *txView) ReadAll(ctx context.Context) (map[string][]models.Transaction, error) {
	ids := make(map[string]struct{}, len(v.s.logs)+len(v.appended))
	for id := range v.s.logs {
		ids[id] = struct{}{}
	}
	for id := range v.appended {
		ids[id] = struct{}{}
	}
	out := make(map[string][]models.Transaction, len(ids))
	for id := range ids {
		out[id] = v.accountLog(id)
	}
	return out, nil
}

func (v *txView) accountLog(accountID string) []models.Transaction {
	log := append(cloneLog(v.s.logs[accountID]), v.appended[accountID]...)
	for _, m := range v.mutations {
		if m.Kind != MutationFlag || m.Flag.AccountID != accountID {
			continue
		}
		for i := range log {
			if log[i].ID == m.Flag.ID && !log[i].Flagged {
				log[i].Flagged = true
				log[i].FlagReason = m.Flag.Reason
			}
		}
	}
	return log
}

func (v *txView) WriteBalance(ctx context.Context, balance models.Balance) error {
	m := Mutation{Kind: MutationBalance, Balance: balance}
	if err := v.s.check(m, v.pending); err != nil {
		return err
	}
	v.balances[balance.AccountID] = balance
	v.mutations = append(v.mutations, m)
	return nil
}

func (v *txView) AppendTransaction(ctx context.Context, tx models.Transaction) error {
	m := Mutation{Kind: MutationAppend, Transaction: tx}
	if err := v.s.check(m, v.pending); err != nil {
		return err
	}
	v.pending[txKey(tx.AccountID, tx.ID)] = struct{}{}
	v.appended[tx.AccountID] = append(v.appended[tx.AccountID], tx)
	v.mutations = append(v.mutations, m)
	return nil
}

func (v *txView) UpdateTransactionFlag(ctx context.Context, id, accountID string, flagged bool, reason string) (bool, error) {
	if !flagged {
		return false, nil
	}
	m := Mutation{Kind: MutationFlag, Flag: models.FlagUpdate{ID: id, AccountID: accountID, Reason: reason}}
	if err := v.s.check(m, v.pending); err != nil {
		return false, err
	}
	if v.flagged(accountID, id) {
		return false, nil
	}
	v.mutations = append(v.mutations, m)
	return true, nil
}

// flagged reports whether the transaction is flagged in committed state, was
// appended flagged, or was flagged earlier in this transaction.
func (v *txView) flagged(accountID, id string) bool {
	if v.s.flagged(accountID, id) {
		return true
	}
	for _, tx := range v.appended[accountID] {
		if tx.ID == id && tx.Flagged {
			return true
		}
	}
	for _, m := range v.mutations {
		if m.Kind == MutationFlag && m.Flag.AccountID == accountID && m.Flag.ID == id {
			return true
		}
	}
	return false
}
