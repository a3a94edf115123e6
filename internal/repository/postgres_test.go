package repository

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// testRepo is nil when Docker is unavailable or tests run with -short
var testRepo *Repository

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	pool, err := dockertest.NewPool("")
	if err == nil {
		err = pool.Client.Ping()
	}
	if err != nil {
		logrus.Warnf("Docker unavailable, skipping postgres tests: %s", err)
		os.Exit(m.Run())
	}

	resource, db := initialPostgres(pool)
	testRepo = NewRepository(db)

	code := m.Run()
	db.Close()
	if err := pool.Purge(resource); err != nil {
		logrus.Errorf("Could not purge resource: %s", err)
	}
	os.Exit(code)
}

func initialPostgres(pool *dockertest.Pool) (*dockertest.Resource, *sql.DB) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env:        []string{"POSTGRES_PASSWORD=password123", "POSTGRES_DB=ledger"},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		logrus.Fatalf("Could not start resource: %s", err)
	}
	if err := resource.Expire(300); err != nil {
		logrus.Error(err.Error())
	}

	dsn := fmt.Sprintf("postgres://postgres:password123@%s/ledger?sslmode=disable", resource.GetHostPort("5432/tcp"))
	var db *sql.DB
	err = pool.Retry(func() error {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return err
		}
		return db.Ping()
	})
	if err != nil {
		logrus.Fatalf("Could not connect to database: %s", err)
	}

	if err := RunMigrations(dsn); err != nil {
		logrus.Fatalf("There are errors in migrations: %s", err)
	}
	return resource, db
}

func requireDB(t *testing.T) *Repository {
	t.Helper()
	if testRepo == nil {
		t.Skip("postgres is not available")
	}
	return testRepo
}

func seedUser(t *testing.T, repo *Repository) string {
	t.Helper()
	id := uuid.NewString()
	err := repo.Atomic(context.Background(), func(q Queries) error {
		return q.CreateUser(context.Background(), &models.User{
			ID:           id,
			Username:     "user",
			Email:        id + "@example.com",
			PasswordHash: "hash",
		})
	})
	require.NoError(t, err)
	return id
}

func seedAccount(t *testing.T, repo *Repository, userID, balance string, isDefault bool) *models.Account {
	t.Helper()
	a := &models.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      "Main",
		Type:      models.AccountCurrent,
		Balance:   decimal.RequireFromString(balance),
		IsDefault: isDefault,
	}
	require.NoError(t, repo.Atomic(context.Background(), func(q Queries) error {
		return q.CreateAccount(context.Background(), a)
	}))
	return a
}

func loadAccount(t *testing.T, repo *Repository, id string) *models.Account {
	t.Helper()
	var a *models.Account
	require.NoError(t, repo.Atomic(context.Background(), func(q Queries) error {
		var err error
		a, err = q.GetAccount(context.Background(), id)
		return err
	}))
	return a
}

func TestPostgresAtomicRollsBack(t *testing.T) {
	repo := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)
	acc := seedAccount(t, repo, user, "100", true)

	err := repo.Atomic(ctx, func(q Queries) error {
		if err := q.AdjustBalance(ctx, acc.ID, decimal.RequireFromString("-30")); err != nil {
			return err
		}
		return fmt.Errorf("boom: %w", models.ErrConflict)
	})
	require.ErrorIs(t, err, models.ErrConflict)
	require.Equal(t, "100.00", loadAccount(t, repo, acc.ID).Balance.StringFixed(2))
}

func TestPostgresConcurrentAdjustments(t *testing.T) {
	repo := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)
	acc := seedAccount(t, repo, user, "0", true)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Atomic(ctx, func(q Queries) error {
				if _, err := q.GetAccount(ctx, acc.ID); err != nil {
					return err
				}
				return q.AdjustBalance(ctx, acc.ID, decimal.RequireFromString("2.04"))
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, "51.00", loadAccount(t, repo, acc.ID).Balance.StringFixed(2))
}

func TestPostgresOneDefaultPerOwner(t *testing.T) {
	repo := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)
	seedAccount(t, repo, user, "0", true)

	err := repo.Atomic(ctx, func(q Queries) error {
		return q.CreateAccount(ctx, &models.Account{
			ID: uuid.NewString(), UserID: user, Name: "Second", Type: models.AccountSavings, IsDefault: true,
		})
	})
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestPostgresTransactions(t *testing.T) {
	repo := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)
	stranger := seedUser(t, repo)
	acc := seedAccount(t, repo, user, "0", true)

	next := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	template := &models.Transaction{
		ID:                uuid.NewString(),
		UserID:            user,
		AccountID:         acc.ID,
		Type:              models.Expense,
		Amount:            decimal.RequireFromString("12.30"),
		Description:       "50% off_sale",
		Category:          "shopping",
		Date:              time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		IsRecurring:       true,
		RecurringInterval: models.Monthly,
		NextRecurringDate: &next,
	}
	plain := &models.Transaction{
		ID:        uuid.NewString(),
		UserID:    user,
		AccountID: acc.ID,
		Type:      models.Income,
		Amount:    decimal.RequireFromString("5"),
		Category:  "gift",
		Date:      time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Atomic(ctx, func(q Queries) error {
		if err := q.CreateTransaction(ctx, template); err != nil {
			return err
		}
		return q.CreateTransaction(ctx, plain)
	}))

	err := repo.Atomic(ctx, func(q Queries) error {
		found, err := q.ListTransactions(ctx, user, models.TransactionFilter{Search: "50%"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.Equal(t, template.ID, found[0].ID)

		all, err := q.ListTransactions(ctx, user, models.TransactionFilter{AccountID: acc.ID})
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, plain.ID, all[0].ID)

		due, err := q.DueRecurring(ctx, next)
		require.NoError(t, err)
		require.Contains(t, ids(due), template.ID)

		foreign, err := q.FindTransactions(ctx, []string{template.ID, plain.ID}, stranger)
		require.NoError(t, err)
		require.Empty(t, foreign)

		n, err := q.DeleteTransactions(ctx, []string{template.ID, plain.ID}, user)
		require.NoError(t, err)
		require.EqualValues(t, 2, n)
		return nil
	})
	require.NoError(t, err)
}

func ids(txs []models.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func TestPostgresBudgets(t *testing.T) {
	repo := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)

	b := &models.Budget{ID: uuid.NewString(), UserID: user, Amount: decimal.RequireFromString("100")}
	require.NoError(t, repo.Atomic(ctx, func(q Queries) error { return q.UpsertBudget(ctx, b) }))
	firstID := b.ID

	again := &models.Budget{ID: uuid.NewString(), UserID: user, Amount: decimal.RequireFromString("250")}
	require.NoError(t, repo.Atomic(ctx, func(q Queries) error { return q.UpsertBudget(ctx, again) }))
	require.Equal(t, firstID, again.ID)

	at := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Atomic(ctx, func(q Queries) error { return q.MarkBudgetAlerted(ctx, firstID, at) }))

	var got *models.Budget
	require.NoError(t, repo.Atomic(ctx, func(q Queries) error {
		var err error
		got, err = q.GetBudget(ctx, user)
		return err
	}))
	require.Equal(t, "250.00", got.Amount.StringFixed(2))
	require.NotNil(t, got.LastAlertSent)
	require.True(t, got.LastAlertSent.Equal(at))
}

func TestIsRetryable(t *testing.T) {
	deadlock := &pq.Error{Code: "40P01"}
	require.True(t, isRetryable(deadlock))
	require.True(t, isRetryable(fmt.Errorf("failed to adjust balance: %w", deadlock)))
	require.True(t, isRetryable(&pq.Error{Code: "40001"}))
	require.False(t, isRetryable(&pq.Error{Code: "23505"}))
	require.False(t, isRetryable(errors.New("boom")))
	require.False(t, isRetryable(nil))
}

func TestPostgresAtomicRetriesDeadlockVictim(t *testing.T) {
	repo := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)
	acc := seedAccount(t, repo, user, "100", true)

	attempts := 0
	err := repo.Atomic(ctx, func(q Queries) error {
		attempts++
		if err := q.AdjustBalance(ctx, acc.ID, decimal.RequireFromString("-10")); err != nil {
			return err
		}
		if attempts == 1 {
			return fmt.Errorf("failed to lock transactions: %w", &pq.Error{Code: "40P01"})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, "90.00", loadAccount(t, repo, acc.ID).Balance.StringFixed(2))

	attempts = 0
	err = repo.Atomic(ctx, func(q Queries) error {
		attempts++
		return &pq.Error{Code: "40P01"}
	})
	require.Error(t, err)
	require.Equal(t, maxAttempts, attempts)
}
