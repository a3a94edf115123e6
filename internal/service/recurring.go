package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// ProcessDueRecurring materializes every recurring template whose next date
// is at or before now. Each occurrence is created through the same path as a
// user-submitted transaction, and the template's schedule advances by one
// interval in the same atomic unit, so a template that fell several intervals
// behind catches up one occurrence per run. A failing template does not stop
// the others.
func (s *Service) ProcessDueRecurring(ctx context.Context, now time.Time) (int, error) {
	var due []models.Transaction
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		due, err = q.DueRecurring(ctx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get due recurring transactions: %w", err)
	}

	s.log.Infof("Processing %d due recurring transactions", len(due))

	created := 0
	for _, template := range due {
		ok, err := s.materialize(ctx, template.ID, now)
		if ok {
			created++
		}
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"template_id": template.ID,
				"user_id":     template.UserID,
			}).Errorf("Failed to process recurring transaction: %v", err)
		}
	}

	s.log.Infof("Recurring processing complete: %d transactions created", created)
	return created, nil
}

// materialize creates the occurrence of one template due at now and moves
// its schedule forward by one interval. It reports false when the template
// is no longer due, which happens when another run got there first.
func (s *Service) materialize(ctx context.Context, templateID string, now time.Time) (bool, error) {
	created := false
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		created = false
		t, err := q.GetTransaction(ctx, templateID)
		if err != nil {
			return err
		}
		if !t.IsRecurring || t.NextRecurringDate == nil || t.NextRecurringDate.After(now) {
			return nil
		}

		dueAt := *t.NextRecurringDate
		occurrence := TransactionIntent{
			Type:        t.Type,
			Amount:      t.Amount,
			Description: t.Description,
			Date:        dueAt,
			AccountID:   t.AccountID,
			Category:    t.Category,
		}
		if _, err := createTransaction(ctx, q, t.UserID, occurrence); err != nil {
			return err
		}
		if err := q.AdvanceRecurring(ctx, t.ID, t.RecurringInterval.NextAfter(t.Date.In(s.loc), dueAt), now); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}
