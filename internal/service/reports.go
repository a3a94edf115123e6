package service

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Dan9191/ledger-service/internal/analytics"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// jobConcurrency bounds how many owners a periodic job handles at once
const jobConcurrency = 4

// Chart is the daily income/expense series of an account over a range
type Chart struct {
	Range        analytics.Range     `json:"range"`
	Points       []models.ChartPoint `json:"points"`
	TotalIncome  decimal.Decimal     `json:"total_income"`
	TotalExpense decimal.Decimal     `json:"total_expense"`
}

// AccountChart groups an account's transactions by day over the named range
func (s *Service) AccountChart(ctx context.Context, owner, accountID, rangeName string) (*Chart, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(accountID, "account"); err != nil {
		return nil, err
	}
	r, err := analytics.ParseRange(rangeName)
	if err != nil {
		return nil, err
	}
	from, to := r.Window(s.now(), s.loc)

	var txs []models.Transaction
	err = s.store.Atomic(ctx, func(q repository.Queries) error {
		if _, err := ownedAccount(ctx, q, accountID, owner); err != nil {
			return err
		}
		txs, err = q.ListTransactions(ctx, owner, models.TransactionFilter{AccountID: accountID, From: from, To: to})
		return err
	})
	if err != nil {
		return nil, err
	}

	series := analytics.DailySeries(slices.Values(txs), from, to, s.loc)
	chart := &Chart{Range: r, Points: slices.Collect(series)}
	chart.TotalIncome, chart.TotalExpense = analytics.Totals(slices.Values(chart.Points))
	return chart, nil
}

// CategoryReport sums the owner's expenses per category over [from, to)
func (s *Service) CategoryReport(ctx context.Context, owner string, from, to time.Time) ([]models.CategoryTotal, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, invalid("report period start must be before its end")
	}
	var txs []models.Transaction
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		txs, err = q.ListTransactions(ctx, owner, models.TransactionFilter{Type: models.Expense, From: from, To: to})
		return err
	})
	if err != nil {
		return nil, err
	}
	return analytics.CategoryBreakdown(slices.Values(txs), from, to), nil
}

// MonthlyReport computes the report for the calendar month containing month
func (s *Service) MonthlyReport(ctx context.Context, owner string, month time.Time) (*models.MonthlyReport, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	start, end := analytics.MonthBounds(month, s.loc)

	var txs []models.Transaction
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		txs, err = q.ListTransactions(ctx, owner, models.TransactionFilter{From: start, To: end})
		return err
	})
	if err != nil {
		return nil, err
	}

	stats := analytics.Stats(slices.Values(txs), start, end)
	return &models.MonthlyReport{
		UserID:        owner,
		Month:         start.Format("January 2006"),
		TotalIncome:   stats.TotalIncome,
		TotalExpenses: stats.TotalExpenses,
		ByCategory:    stats.ByCategory,
		Insights:      analytics.Insights(stats),
	}, nil
}

// SendMonthlyReports emits the previous month's report for every user and
// returns how many were delivered
func (s *Service) SendMonthlyReports(ctx context.Context, now time.Time) (int, error) {
	if s.notifier == nil {
		return 0, errors.New("no notifier configured")
	}
	start, _ := analytics.MonthBounds(now, s.loc)
	previous := start.AddDate(0, -1, 0)

	var owners []string
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		owners, err = q.ListUserIDs(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobConcurrency)
	for _, owner := range owners {
		g.Go(func() error {
			user, err := s.lookupUser(gctx, owner)
			if err != nil {
				s.log.Errorf("Monthly report for user %s: %v", owner, err)
				return nil
			}
			report, err := s.MonthlyReport(gctx, owner, previous)
			if err != nil {
				s.log.Errorf("Monthly report for user %s: %v", owner, err)
				return nil
			}
			if err := s.notifier.SendMonthlyReport(gctx, *user, *report); err != nil {
				s.log.Errorf("Failed to send monthly report to user %s: %v", owner, err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(sent.Load()), err
	}

	s.log.Infof("Monthly reports sent: %d of %d", sent.Load(), len(owners))
	return int(sent.Load()), nil
}

// CheckBudgetAlerts sends a budget alert to every owner whose default
// account has used at least the configured share of the budget this month,
// at most once per calendar month
func (s *Service) CheckBudgetAlerts(ctx context.Context, now time.Time) (int, error) {
	if s.notifier == nil {
		return 0, errors.New("no notifier configured")
	}
	threshold := decimal.NewFromInt(int64(s.config.BudgetAlertThreshold))

	var budgets []models.Budget
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		budgets, err = q.ListBudgets(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobConcurrency)
	for _, budget := range budgets {
		if !budget.Amount.IsPositive() || alertedInMonth(budget.LastAlertSent, now, s.loc) {
			continue
		}
		g.Go(func() error {
			log := s.log.WithFields(logrus.Fields{"user_id": budget.UserID, "budget_id": budget.ID})

			var status *models.BudgetStatus
			err := s.store.Atomic(gctx, func(q repository.Queries) error {
				var err error
				status, err = s.budgetStatus(gctx, q, budget.UserID, "", now)
				return err
			})
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			if err != nil {
				log.Errorf("Failed to compute budget status: %v", err)
				return nil
			}
			if status.PercentUsed.LessThan(threshold) {
				return nil
			}

			user, err := s.lookupUser(gctx, budget.UserID)
			if err != nil {
				log.Errorf("Failed to load user for budget alert: %v", err)
				return nil
			}
			alert := models.BudgetAlert{
				UserID:         budget.UserID,
				PercentageUsed: status.PercentUsed,
				BudgetAmount:   budget.Amount,
				TotalExpenses:  status.CurrentExpenses,
			}
			if err := s.notifier.SendBudgetAlert(gctx, *user, alert); err != nil {
				log.Errorf("Failed to send budget alert: %v", err)
				return nil
			}
			err = s.store.Atomic(gctx, func(q repository.Queries) error {
				return q.MarkBudgetAlerted(gctx, budget.ID, now)
			})
			if err != nil {
				log.Errorf("Budget alert sent but not recorded: %v", err)
			}
			sent.Add(1)
			log.Infof("Budget alert sent at %s%%", status.PercentUsed.StringFixed(2))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(sent.Load()), err
	}
	return int(sent.Load()), nil
}

func alertedInMonth(last *time.Time, now time.Time, loc *time.Location) bool {
	if last == nil {
		return false
	}
	a, b := last.In(loc), now.In(loc)
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func (s *Service) lookupUser(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		user, err = q.GetUser(ctx, id)
		return err
	})
	return user, err
}
