package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// Notifier delivers computed summaries to a user. Formatting and transport
// belong to the implementation.
type Notifier interface {
	SendMonthlyReport(ctx context.Context, user models.User, report models.MonthlyReport) error
	SendBudgetAlert(ctx context.Context, user models.User, alert models.BudgetAlert) error
}

// ReceiptScanner extracts a transaction draft from a receipt image
type ReceiptScanner interface {
	Scan(ctx context.Context, image []byte, contentType string) (*models.ReceiptDraft, error)
}

// Service handles business logic. It is the only writer of account balances.
type Service struct {
	store    repository.Store
	log      *logrus.Logger
	config   *config.Config
	loc      *time.Location
	now      func() time.Time
	notifier Notifier
	scanner  ReceiptScanner
}

// NewService initializes a new service
func NewService(store repository.Store, log *logrus.Logger, cfg *config.Config) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Service{
		store:  store,
		log:    log,
		config: cfg,
		loc:    loc,
		now:    time.Now,
	}, nil
}

// UseNotifier sets the sink for reports and alerts
func (s *Service) UseNotifier(n Notifier) { s.notifier = n }

// UseScanner sets the receipt scanner
func (s *Service) UseScanner(sc ReceiptScanner) { s.scanner = sc }

// Location is the reporting timezone
func (s *Service) Location() *time.Location { return s.loc }

func requireOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("no owner: %w", models.ErrUnauthorized)
	}
	return nil
}

// ownedAccount loads and locks an account, failing with ErrUnauthorized
// when it belongs to someone else
func ownedAccount(ctx context.Context, q repository.Queries, id, owner string) (*models.Account, error) {
	a, err := q.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != owner {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrUnauthorized)
	}
	return a, nil
}

// ownedTransaction loads and locks a transaction, failing with
// ErrUnauthorized when it belongs to someone else
func ownedTransaction(ctx context.Context, q repository.Queries, id, owner string) (*models.Transaction, error) {
	t, err := q.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != owner {
		return nil, fmt.Errorf("transaction %s: %w", id, models.ErrUnauthorized)
	}
	return t, nil
}

// sortedKeys returns map keys in a fixed order; balance rows are always
// touched in this order so concurrent units cannot deadlock on them
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
