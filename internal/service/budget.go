package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Dan9191/ledger-service/internal/analytics"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UpdateBudget sets the owner's monthly budget. Zero means no budget.
func (s *Service) UpdateBudget(ctx context.Context, owner, amount string) (*models.Budget, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	value, err := ParseBalance(amount)
	if err != nil {
		return nil, err
	}

	budget := &models.Budget{ID: uuid.NewString(), UserID: owner, Amount: value}
	err = s.store.Atomic(ctx, func(q repository.Queries) error {
		return q.UpsertBudget(ctx, budget)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Budget for user %s set to %s", owner, value.StringFixed(2))
	return budget, nil
}

// GetCurrentBudget returns the owner's budget and how much of it this
// month's expenses on the governing account consume. accountID may be empty
// to use the default account.
func (s *Service) GetCurrentBudget(ctx context.Context, owner, accountID string) (*models.BudgetStatus, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if accountID != "" {
		if err := validateID(accountID, "account"); err != nil {
			return nil, err
		}
	}

	var status *models.BudgetStatus
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		status, err = s.budgetStatus(ctx, q, owner, accountID, s.now())
		return err
	})
	return status, err
}

func (s *Service) budgetStatus(ctx context.Context, q repository.Queries, owner, accountID string, now time.Time) (*models.BudgetStatus, error) {
	var (
		account *models.Account
		err     error
	)
	if accountID == "" {
		account, err = q.GetDefaultAccount(ctx, owner)
	} else {
		account, err = ownedAccount(ctx, q, accountID, owner)
	}
	if err != nil {
		return nil, err
	}

	status := &models.BudgetStatus{
		AccountID:       account.ID,
		CurrentExpenses: decimal.Zero,
		PercentUsed:     decimal.Zero,
	}
	budget, err := q.GetBudget(ctx, owner)
	switch {
	case errors.Is(err, models.ErrNotFound):
		budget = nil
	case err != nil:
		return nil, err
	}
	status.Budget = budget

	start, end := analytics.MonthBounds(now, s.loc)
	txs, err := q.ListTransactions(ctx, owner, models.TransactionFilter{
		AccountID: account.ID,
		Type:      models.Expense,
		From:      start,
		To:        end,
	})
	if err != nil {
		return nil, err
	}
	status.CurrentExpenses = analytics.MonthExpenses(slices.Values(txs), account.ID, now, s.loc)
	if budget != nil {
		status.PercentUsed = analytics.PercentUsed(status.CurrentExpenses, budget.Amount)
	}
	return status, nil
}
