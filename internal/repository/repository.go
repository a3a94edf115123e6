package repository

import (
	"context"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/shopspring/decimal"
)

// Store runs units of work against the ledger tables. Every write made
// through the Queries handed to fn lands together or not at all, and no
// other unit observes them before fn returns nil.
type Store interface {
	Atomic(ctx context.Context, fn func(q Queries) error) error
}

// Queries is the set of row operations available inside an atomic unit.
// Lookups by id return an error wrapping models.ErrNotFound when the row is missing.
type Queries interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUserIDs(ctx context.Context) ([]string, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	// GetAccount locks the row for the rest of the unit.
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	GetDefaultAccount(ctx context.Context, userID string) (*models.Account, error)
	// AdjustBalance adds delta to the stored balance in place.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error
	SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	ClearDefault(ctx context.Context, userID string) error
	MarkDefault(ctx context.Context, accountID string) error
	DeleteAccount(ctx context.Context, id string) error

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *models.Transaction) error
	// FindTransactions returns the subset of ids owned by userID.
	FindTransactions(ctx context.Context, ids []string, userID string) ([]models.Transaction, error)
	DeleteTransactions(ctx context.Context, ids []string, userID string) (int64, error)
	DeleteAccountTransactions(ctx context.Context, accountID string) (int64, error)
	ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]models.Transaction, error)
	// DueRecurring returns recurring templates whose next date is at or before now.
	DueRecurring(ctx context.Context, now time.Time) ([]models.Transaction, error)
	AdvanceRecurring(ctx context.Context, id string, next, processed time.Time) error

	GetBudget(ctx context.Context, userID string) (*models.Budget, error)
	UpsertBudget(ctx context.Context, budget *models.Budget) error
	MarkBudgetAlerted(ctx context.Context, budgetID string, at time.Time) error
	ListBudgets(ctx context.Context) ([]models.Budget, error)
}
