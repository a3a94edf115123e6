package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BulkDeleteResult reports what a bulk delete removed and how each touched
// account's balance moved
type BulkDeleteResult struct {
	Deleted        int                        `json:"deleted"`
	BalanceChanges map[string]decimal.Decimal `json:"balance_changes"`
}

// CreateTransaction records a transaction and applies its signed amount to
// the account balance in the same atomic unit
func (s *Service) CreateTransaction(ctx context.Context, owner string, in TransactionInput) (*models.Transaction, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	intent, err := in.Validate(s.loc)
	if err != nil {
		return nil, err
	}

	var created *models.Transaction
	err = s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		created, err = createTransaction(ctx, q, owner, intent)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":        owner,
		"account_id":     created.AccountID,
		"transaction_id": created.ID,
		"delta":          created.SignedAmount().StringFixed(2),
	}).Info("Transaction created")
	return created, nil
}

func createTransaction(ctx context.Context, q repository.Queries, owner string, intent TransactionIntent) (*models.Transaction, error) {
	if _, err := ownedAccount(ctx, q, intent.AccountID, owner); err != nil {
		return nil, err
	}
	t := &models.Transaction{ID: uuid.NewString(), UserID: owner}
	applyIntent(t, intent)
	if err := q.CreateTransaction(ctx, t); err != nil {
		return nil, err
	}
	if err := q.AdjustBalance(ctx, t.AccountID, t.SignedAmount()); err != nil {
		return nil, err
	}
	return t, nil
}

func applyIntent(t *models.Transaction, intent TransactionIntent) {
	t.AccountID = intent.AccountID
	t.Type = intent.Type
	t.Amount = intent.Amount
	t.Description = intent.Description
	t.Category = intent.Category
	t.Date = intent.Date
	t.IsRecurring = intent.IsRecurring
	t.RecurringInterval = intent.RecurringInterval
	t.NextRecurringDate = nil
	if intent.IsRecurring {
		next := intent.RecurringInterval.NextAfter(intent.Date, intent.Date)
		t.NextRecurringDate = &next
	}
}

// reschedule fixes the schedule of an edited transaction. An unchanged
// schedule keeps its position; a changed one resumes at its first date after
// the last run, so occurrences already posted are never posted again.
func reschedule(old, t *models.Transaction, loc *time.Location) {
	t.LastProcessed = old.LastProcessed
	if !t.IsRecurring {
		t.NextRecurringDate = nil
		return
	}
	if old.IsRecurring && old.NextRecurringDate != nil &&
		old.RecurringInterval == t.RecurringInterval && old.Date.Equal(t.Date) {
		next := *old.NextRecurringDate
		t.NextRecurringDate = &next
		return
	}
	after := t.Date
	if old.LastProcessed != nil && old.LastProcessed.After(after) {
		after = *old.LastProcessed
	}
	next := t.RecurringInterval.NextAfter(t.Date.In(loc), after)
	t.NextRecurringDate = &next
}

// GetTransaction returns one of the owner's transactions
func (s *Service) GetTransaction(ctx context.Context, owner, id string) (*models.Transaction, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id, "transaction"); err != nil {
		return nil, err
	}
	var t *models.Transaction
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		t, err = ownedTransaction(ctx, q, id, owner)
		return err
	})
	return t, err
}

// ListTransactions returns the owner's transactions matching filter, newest first
func (s *Service) ListTransactions(ctx context.Context, owner string, filter models.TransactionFilter) ([]models.Transaction, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalid("unknown transaction type %q", filter.Type)
	}
	if filter.AccountID != "" {
		if err := validateID(filter.AccountID, "account"); err != nil {
			return nil, err
		}
	}
	var txs []models.Transaction
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		txs, err = q.ListTransactions(ctx, owner, filter)
		return err
	})
	return txs, err
}

// UpdateTransaction rewrites a transaction. The old signed amount is reversed
// on the old account and the new one applied on the new account, together
// with the row update; on the same account only the net change is applied.
func (s *Service) UpdateTransaction(ctx context.Context, owner, id string, in TransactionInput) (*models.Transaction, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id, "transaction"); err != nil {
		return nil, err
	}
	intent, err := in.Validate(s.loc)
	if err != nil {
		return nil, err
	}

	var (
		updated *models.Transaction
		deltas  map[string]decimal.Decimal
	)
	err = s.store.Atomic(ctx, func(q repository.Queries) error {
		old, err := ownedTransaction(ctx, q, id, owner)
		if err != nil {
			return err
		}

		next := *old
		applyIntent(&next, intent)
		reschedule(old, &next, s.loc)

		deltas = map[string]decimal.Decimal{}
		deltas[old.AccountID] = old.SignedAmount().Neg()
		deltas[next.AccountID] = deltas[next.AccountID].Add(next.SignedAmount())

		for _, accountID := range sortedKeys(deltas) {
			if _, err := ownedAccount(ctx, q, accountID, owner); err != nil {
				return err
			}
		}
		if err := q.UpdateTransaction(ctx, &next); err != nil {
			return err
		}
		for _, accountID := range sortedKeys(deltas) {
			if deltas[accountID].IsZero() {
				continue
			}
			if err := q.AdjustBalance(ctx, accountID, deltas[accountID]); err != nil {
				return err
			}
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":        owner,
		"transaction_id": id,
		"accounts":       len(deltas),
	}).Info("Transaction updated")
	return updated, nil
}

// DeleteTransaction removes one transaction and reverses its effect on the balance
func (s *Service) DeleteTransaction(ctx context.Context, owner, id string) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	if err := validateID(id, "transaction"); err != nil {
		return err
	}

	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		t, err := ownedTransaction(ctx, q, id, owner)
		if err != nil {
			return err
		}
		if _, err := ownedAccount(ctx, q, t.AccountID, owner); err != nil {
			return err
		}
		n, err := q.DeleteTransactions(ctx, []string{id}, owner)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("transaction %s: %w", id, models.ErrNotFound)
		}
		return q.AdjustBalance(ctx, t.AccountID, t.SignedAmount().Neg())
	})
	if err != nil {
		return err
	}

	s.log.Infof("Transaction %s deleted for user %s", id, owner)
	return nil
}

// BulkDeleteTransactions removes a set of the owner's transactions and
// reverses their effect, one balance adjustment per touched account, all in
// one atomic unit.
//
// A set that resolves to none of the owner's transactions is reported as
// ErrEmptySelection. A set where only some ids resolve is rejected with
// ErrNotFound and nothing is deleted.
func (s *Service) BulkDeleteTransactions(ctx context.Context, owner string, ids []string) (*BulkDeleteResult, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		if err := validateID(id, "transaction"); err != nil {
			return nil, err
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		s.log.Warnf("Bulk delete for user %s: no transaction ids given", owner)
		return nil, fmt.Errorf("no transactions selected: %w", models.ErrEmptySelection)
	}

	var result *BulkDeleteResult
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		result = &BulkDeleteResult{BalanceChanges: map[string]decimal.Decimal{}}
		txs, err := q.FindTransactions(ctx, unique, owner)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			return fmt.Errorf("no transactions found: %w", models.ErrEmptySelection)
		}
		if len(txs) != len(unique) {
			return fmt.Errorf("%d of %d transactions not found: %w", len(unique)-len(txs), len(unique), models.ErrNotFound)
		}

		for _, t := range txs {
			result.BalanceChanges[t.AccountID] = result.BalanceChanges[t.AccountID].Add(t.SignedAmount().Neg())
		}
		accounts := sortedKeys(result.BalanceChanges)
		for _, accountID := range accounts {
			if _, err := ownedAccount(ctx, q, accountID, owner); err != nil {
				return err
			}
		}

		n, err := q.DeleteTransactions(ctx, unique, owner)
		if err != nil {
			return err
		}
		if int(n) != len(txs) {
			return fmt.Errorf("deleted %d of %d transactions: %w", n, len(txs), models.ErrConflict)
		}
		for _, accountID := range accounts {
			if err := q.AdjustBalance(ctx, accountID, result.BalanceChanges[accountID]); err != nil {
				return err
			}
		}
		result.Deleted = int(n)
		return nil
	})
	if err != nil {
		if models.KindOf(err) == "EmptySelection" {
			s.log.Warnf("Bulk delete for user %s matched no transactions", owner)
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  owner,
		"deleted":  result.Deleted,
		"accounts": len(result.BalanceChanges),
	}).Info("Transactions deleted")
	return result, nil
}
