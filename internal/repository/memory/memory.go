// Package memory is an in-process implementation of repository.Store.
// Each atomic unit works on a private copy of the state that replaces the
// committed state only when the unit succeeds, so failed units leave no trace.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/shopspring/decimal"
)

type state struct {
	users        map[string]models.User
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	budgets      map[string]models.Budget // keyed by user id
	seq          int64
}

func (s *state) clone() *state {
	return &state{
		users:        maps.Clone(s.users),
		accounts:     maps.Clone(s.accounts),
		transactions: maps.Clone(s.transactions),
		budgets:      maps.Clone(s.budgets),
		seq:          s.seq,
	}
}

// Store keeps the ledger in memory. Units are serialized by a single mutex.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New returns an empty store
func New() *Store {
	return &Store{
		st: &state{
			users:        map[string]models.User{},
			accounts:     map[string]models.Account{},
			transactions: map[string]models.Transaction{},
			budgets:      map[string]models.Budget{},
		},
		now: time.Now,
	}
}

var _ repository.Store = (*Store)(nil)

// Atomic runs fn against a copy of the state and publishes the copy if fn succeeds
func (s *Store) Atomic(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&queries{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type queries struct {
	st  *state
	now func() time.Time
}

// stamp returns a strictly increasing creation time so ordering by
// creation is stable even when the clock does not move between calls.
func (q *queries) stamp() time.Time {
	q.st.seq++
	return q.now().Add(time.Duration(q.st.seq) * time.Nanosecond)
}

func (q *queries) CreateUser(_ context.Context, user *models.User) error {
	for _, u := range q.st.users {
		if u.Email == user.Email {
			return fmt.Errorf("email already registered: %w", models.ErrConflict)
		}
	}
	user.CreatedAt = q.stamp()
	q.st.users[user.ID] = *user
	return nil
}

func (q *queries) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range q.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
}

func (q *queries) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := q.st.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return &u, nil
}

func (q *queries) ListUserIDs(_ context.Context) ([]string, error) {
	users := slices.Collect(maps.Values(q.st.users))
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}

func (q *queries) CreateAccount(_ context.Context, a *models.Account) error {
	if a.IsDefault {
		for _, other := range q.st.accounts {
			if other.UserID == a.UserID && other.IsDefault {
				return fmt.Errorf("second default account for user %s: %w", a.UserID, models.ErrConflict)
			}
		}
	}
	a.CreatedAt = q.stamp()
	a.UpdatedAt = a.CreatedAt
	q.st.accounts[a.ID] = *a
	return nil
}

func (q *queries) GetAccount(_ context.Context, id string) (*models.Account, error) {
	a, ok := q.st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

func (q *queries) ListAccounts(_ context.Context, userID string) ([]models.Account, error) {
	var out []models.Account
	for _, a := range q.st.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *queries) GetDefaultAccount(_ context.Context, userID string) (*models.Account, error) {
	for _, a := range q.st.accounts {
		if a.UserID == userID && a.IsDefault {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("default account for user %s: %w", userID, models.ErrNotFound)
}

func (q *queries) updateAccount(id string, fn func(a *models.Account) error) error {
	a, ok := q.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	if err := fn(&a); err != nil {
		return err
	}
	a.UpdatedAt = q.now()
	q.st.accounts[id] = a
	return nil
}

func (q *queries) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	return q.updateAccount(accountID, func(a *models.Account) error {
		a.Balance = a.Balance.Add(delta)
		return nil
	})
}

func (q *queries) SetBalance(_ context.Context, accountID string, balance decimal.Decimal) error {
	return q.updateAccount(accountID, func(a *models.Account) error {
		a.Balance = balance
		return nil
	})
}

func (q *queries) ClearDefault(_ context.Context, userID string) error {
	for id, a := range q.st.accounts {
		if a.UserID == userID && a.IsDefault {
			a.IsDefault = false
			a.UpdatedAt = q.now()
			q.st.accounts[id] = a
		}
	}
	return nil
}

func (q *queries) MarkDefault(_ context.Context, accountID string) error {
	target, ok := q.st.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
	}
	for _, a := range q.st.accounts {
		if a.ID != accountID && a.UserID == target.UserID && a.IsDefault {
			return fmt.Errorf("second default account for user %s: %w", target.UserID, models.ErrConflict)
		}
	}
	return q.updateAccount(accountID, func(a *models.Account) error {
		a.IsDefault = true
		return nil
	})
}

func (q *queries) DeleteAccount(_ context.Context, id string) error {
	if _, ok := q.st.accounts[id]; !ok {
		return fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	delete(q.st.accounts, id)
	// mirror ON DELETE CASCADE
	for tid, t := range q.st.transactions {
		if t.AccountID == id {
			delete(q.st.transactions, tid)
		}
	}
	return nil
}

func (q *queries) CreateTransaction(_ context.Context, t *models.Transaction) error {
	if _, ok := q.st.accounts[t.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", t.AccountID, models.ErrNotFound)
	}
	t.CreatedAt = q.stamp()
	t.UpdatedAt = t.CreatedAt
	q.st.transactions[t.ID] = *t
	return nil
}

func (q *queries) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	t, ok := q.st.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, models.ErrNotFound)
	}
	return &t, nil
}

func (q *queries) UpdateTransaction(_ context.Context, t *models.Transaction) error {
	old, ok := q.st.transactions[t.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", t.ID, models.ErrNotFound)
	}
	if _, ok := q.st.accounts[t.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", t.AccountID, models.ErrNotFound)
	}
	t.UserID = old.UserID
	t.CreatedAt = old.CreatedAt
	t.LastProcessed = old.LastProcessed
	t.UpdatedAt = q.now()
	q.st.transactions[t.ID] = *t
	return nil
}

func (q *queries) FindTransactions(_ context.Context, ids []string, userID string) ([]models.Transaction, error) {
	var out []models.Transaction
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		t, ok := q.st.transactions[id]
		if !ok || t.UserID != userID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *queries) DeleteTransactions(_ context.Context, ids []string, userID string) (int64, error) {
	var n int64
	for _, id := range ids {
		t, ok := q.st.transactions[id]
		if !ok || t.UserID != userID {
			continue
		}
		delete(q.st.transactions, id)
		n++
	}
	return n, nil
}

func (q *queries) DeleteAccountTransactions(_ context.Context, accountID string) (int64, error) {
	var n int64
	for id, t := range q.st.transactions {
		if t.AccountID == accountID {
			delete(q.st.transactions, id)
			n++
		}
	}
	return n, nil
}

func (q *queries) ListTransactions(_ context.Context, userID string, f models.TransactionFilter) ([]models.Transaction, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []models.Transaction
	for _, t := range q.st.transactions {
		switch {
		case t.UserID != userID:
			continue
		case f.AccountID != "" && t.AccountID != f.AccountID:
			continue
		case f.Type != "" && t.Type != f.Type:
			continue
		case f.Recurring != nil && t.IsRecurring != *f.Recurring:
			continue
		case search != "" && !strings.Contains(strings.ToLower(t.Description), search) &&
			!strings.Contains(strings.ToLower(t.Category), search):
			continue
		case !f.From.IsZero() && t.Date.Before(f.From):
			continue
		case !f.To.IsZero() && !t.Date.Before(f.To):
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (q *queries) DueRecurring(_ context.Context, now time.Time) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range q.st.transactions {
		if t.IsRecurring && t.NextRecurringDate != nil && !t.NextRecurringDate.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRecurringDate.Equal(*out[j].NextRecurringDate) {
			return out[i].NextRecurringDate.Before(*out[j].NextRecurringDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *queries) AdvanceRecurring(_ context.Context, id string, next, processed time.Time) error {
	t, ok := q.st.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, models.ErrNotFound)
	}
	t.NextRecurringDate = &next
	t.LastProcessed = &processed
	t.UpdatedAt = q.now()
	q.st.transactions[id] = t
	return nil
}

func (q *queries) GetBudget(_ context.Context, userID string) (*models.Budget, error) {
	b, ok := q.st.budgets[userID]
	if !ok {
		return nil, fmt.Errorf("budget for user %s: %w", userID, models.ErrNotFound)
	}
	return &b, nil
}

func (q *queries) UpsertBudget(_ context.Context, b *models.Budget) error {
	now := q.now()
	if existing, ok := q.st.budgets[b.UserID]; ok {
		existing.Amount = b.Amount
		existing.UpdatedAt = now
		q.st.budgets[b.UserID] = existing
		*b = existing
		return nil
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	q.st.budgets[b.UserID] = *b
	return nil
}

func (q *queries) MarkBudgetAlerted(_ context.Context, budgetID string, at time.Time) error {
	for uid, b := range q.st.budgets {
		if b.ID == budgetID {
			b.LastAlertSent = &at
			b.UpdatedAt = q.now()
			q.st.budgets[uid] = b
			return nil
		}
	}
	return fmt.Errorf("budget %s: %w", budgetID, models.ErrNotFound)
}

func (q *queries) ListBudgets(_ context.Context) ([]models.Budget, error) {
	out := slices.Collect(maps.Values(q.st.budgets))
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
