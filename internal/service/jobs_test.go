package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu      sync.Mutex
	reports []models.MonthlyReport
	alerts  []models.BudgetAlert
	fail    bool
}

func (f *fakeNotifier) SendMonthlyReport(_ context.Context, _ models.User, report models.MonthlyReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink down")
	}
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeNotifier) SendBudgetAlert(_ context.Context, _ models.User, alert models.BudgetAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink down")
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

type fakeScanner struct {
	draft *models.ReceiptDraft
	err   error
}

func (f *fakeScanner) Scan(context.Context, []byte, string) (*models.ReceiptDraft, error) {
	return f.draft, f.err
}

func register(t *testing.T, svc *Service, email string) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), "user", email, "password123")
	require.NoError(t, err)
	return user
}

func TestProcessDueRecurring(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "100")

	template, err := svc.CreateTransaction(ctx, owner, TransactionInput{
		Type: "EXPENSE", Amount: "10", Date: "2025-01-31", AccountID: acc.ID,
		Category: "subscriptions", IsRecurring: true, RecurringInterval: "MONTHLY",
	})
	require.NoError(t, err)
	require.Equal(t, "2025-02-28", template.NextRecurringDate.Format("2006-01-02"))
	requireBalance(t, svc, owner, acc.ID, "90")

	created, err := svc.ProcessDueRecurring(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, 1, created)
	requireBalance(t, svc, owner, acc.ID, "80")
	requireConsistent(t, svc, owner, acc.ID, "100")

	nonRecurring := false
	occurrences, err := svc.ListTransactions(ctx, owner, models.TransactionFilter{Recurring: &nonRecurring})
	require.NoError(t, err)
	require.Len(t, occurrences, 1)
	require.Equal(t, "2025-02-28", occurrences[0].Date.Format("2006-01-02"))
	require.Equal(t, "subscriptions", occurrences[0].Category)
	require.Nil(t, occurrences[0].NextRecurringDate)

	updated, err := svc.GetTransaction(ctx, owner, template.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-03-31", updated.NextRecurringDate.Format("2006-01-02"))
	require.NotNil(t, updated.LastProcessed)
	require.True(t, updated.LastProcessed.Equal(testNow))

	created, err = svc.ProcessDueRecurring(ctx, testNow)
	require.NoError(t, err)
	require.Zero(t, created)
	requireBalance(t, svc, owner, acc.ID, "80")
}

// processedTemplate creates a monthly expense template on Jan 10 and runs
// the job until the Feb 10 and Mar 10 occurrences are posted
func processedTemplate(t *testing.T, svc *Service) (string, *models.Account, *models.Transaction, TransactionInput) {
	t.Helper()
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "100")

	in := TransactionInput{
		Type: "EXPENSE", Amount: "10", Date: "2025-01-10", AccountID: acc.ID,
		Category: "gym", Description: "membership", IsRecurring: true, RecurringInterval: "MONTHLY",
	}
	template, err := svc.CreateTransaction(ctx, owner, in)
	require.NoError(t, err)

	for range 2 {
		created, err := svc.ProcessDueRecurring(ctx, testNow)
		require.NoError(t, err)
		require.Equal(t, 1, created)
	}
	requireBalance(t, svc, owner, acc.ID, "70")

	template, err = svc.GetTransaction(ctx, owner, template.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-04-10", template.NextRecurringDate.Format("2006-01-02"))
	return owner, acc, template, in
}

func occurrenceDates(t *testing.T, svc *Service, owner string) []string {
	t.Helper()
	nonRecurring := false
	txs, err := svc.ListTransactions(context.Background(), owner, models.TransactionFilter{Recurring: &nonRecurring})
	require.NoError(t, err)
	dates := make([]string, len(txs))
	for i, tx := range txs {
		dates[i] = tx.Date.Format("2006-01-02")
	}
	return dates
}

func TestEditingProcessedTemplateKeepsSchedule(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner, acc, template, in := processedTemplate(t, svc)

	in.Description = "membership, new gym"
	edited, err := svc.UpdateTransaction(ctx, owner, template.ID, in)
	require.NoError(t, err)
	require.Equal(t, "2025-04-10", edited.NextRecurringDate.Format("2006-01-02"))
	require.NotNil(t, edited.LastProcessed)
	require.True(t, edited.LastProcessed.Equal(testNow))

	created, err := svc.ProcessDueRecurring(ctx, testNow)
	require.NoError(t, err)
	require.Zero(t, created)
	requireBalance(t, svc, owner, acc.ID, "70")
	require.Equal(t, []string{"2025-03-10", "2025-02-10"}, occurrenceDates(t, svc, owner))

	created, err = svc.ProcessDueRecurring(ctx, time.Date(2025, time.April, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, created)
	requireBalance(t, svc, owner, acc.ID, "60")
	require.Equal(t, []string{"2025-04-10", "2025-03-10", "2025-02-10"}, occurrenceDates(t, svc, owner))
	requireConsistent(t, svc, owner, acc.ID, "100")
}

func TestEditingTemplateScheduleResumesAfterLastRun(t *testing.T) {
	tests := []struct {
		name     string
		edit     func(in *TransactionInput)
		wantNext string
		// the template itself is listed once it stops recurring
		wantDates []string
	}{
		{"date moved", func(in *TransactionInput) { in.Date = "2025-01-20" }, "2025-03-20",
			[]string{"2025-03-10", "2025-02-10"}},
		{"interval changed", func(in *TransactionInput) { in.RecurringInterval = "WEEKLY" }, "2025-03-21",
			[]string{"2025-03-10", "2025-02-10"}},
		{"recurrence stopped", func(in *TransactionInput) { in.IsRecurring = false }, "",
			[]string{"2025-03-10", "2025-02-10", "2025-01-10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			ctx := context.Background()
			owner, acc, template, in := processedTemplate(t, svc)

			tt.edit(&in)
			edited, err := svc.UpdateTransaction(ctx, owner, template.ID, in)
			require.NoError(t, err)
			if tt.wantNext == "" {
				require.Nil(t, edited.NextRecurringDate)
			} else {
				require.Equal(t, tt.wantNext, edited.NextRecurringDate.Format("2006-01-02"))
			}

			created, err := svc.ProcessDueRecurring(ctx, testNow)
			require.NoError(t, err)
			require.Zero(t, created)
			requireBalance(t, svc, owner, acc.ID, "70")
			require.Equal(t, tt.wantDates, occurrenceDates(t, svc, owner))
		})
	}
}

func TestProcessDueRecurringIsolatesFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "100")

	_, err := svc.CreateTransaction(ctx, owner, TransactionInput{
		Type: "INCOME", Amount: "5", Date: "2025-03-10", AccountID: acc.ID,
		Category: "interest", IsRecurring: true, RecurringInterval: "DAILY",
	})
	require.NoError(t, err)

	// a template whose owner does not own the account cannot be materialized
	due := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	broken := &models.Transaction{
		ID:                uuid.NewString(),
		UserID:            uuid.NewString(),
		AccountID:         acc.ID,
		Type:              models.Expense,
		Amount:            decimal.RequireFromString("1"),
		Category:          "broken",
		Date:              due,
		IsRecurring:       true,
		RecurringInterval: models.Daily,
		NextRecurringDate: &due,
	}
	require.NoError(t, svc.store.Atomic(ctx, func(q repository.Queries) error {
		return q.CreateTransaction(ctx, broken)
	}))

	created, err := svc.ProcessDueRecurring(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, 1, created)
	requireBalance(t, svc, owner, acc.ID, "110")

	var after *models.Transaction
	require.NoError(t, svc.store.Atomic(ctx, func(q repository.Queries) error {
		after, err = q.GetTransaction(ctx, broken.ID)
		return err
	}))
	require.True(t, after.NextRecurringDate.Equal(due))
}

func TestBudgetStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "1000")
	other := newAccount(t, svc, owner, "Other", "1000")

	status, err := svc.GetCurrentBudget(ctx, owner, "")
	require.NoError(t, err)
	require.Nil(t, status.Budget)
	require.True(t, status.PercentUsed.IsZero())

	newTx(t, svc, owner, acc.ID, "EXPENSE", "300", "2025-03-03")
	newTx(t, svc, owner, acc.ID, "EXPENSE", "100", "2025-02-20")
	newTx(t, svc, owner, acc.ID, "INCOME", "900", "2025-03-04")
	newTx(t, svc, owner, other.ID, "EXPENSE", "50", "2025-03-05")

	_, err = svc.UpdateBudget(ctx, owner, "-1")
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = svc.UpdateBudget(ctx, owner, "500")
	require.NoError(t, err)

	status, err = svc.GetCurrentBudget(ctx, owner, "")
	require.NoError(t, err)
	require.Equal(t, acc.ID, status.AccountID)
	require.True(t, status.CurrentExpenses.Equal(decimal.RequireFromString("300")))
	require.Equal(t, "60.00", status.PercentUsed.StringFixed(2))

	status, err = svc.GetCurrentBudget(ctx, owner, other.ID)
	require.NoError(t, err)
	require.Equal(t, "10.00", status.PercentUsed.StringFixed(2))

	newTx(t, svc, owner, acc.ID, "EXPENSE", "400", "2025-03-06")
	status, err = svc.GetCurrentBudget(ctx, owner, "")
	require.NoError(t, err)
	require.Equal(t, "100.00", status.PercentUsed.StringFixed(2))
}

func TestCheckBudgetAlerts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	svc.UseNotifier(notifier)

	user := register(t, svc, "alice@example.com")
	acc := newAccount(t, svc, user.ID, "Main", "1000")
	_, err := svc.UpdateBudget(ctx, user.ID, "500")
	require.NoError(t, err)
	newTx(t, svc, user.ID, acc.ID, "EXPENSE", "300", "2025-03-03")

	sent, err := svc.CheckBudgetAlerts(ctx, testNow)
	require.NoError(t, err)
	require.Zero(t, sent)

	newTx(t, svc, user.ID, acc.ID, "EXPENSE", "150", "2025-03-10")
	sent, err = svc.CheckBudgetAlerts(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Len(t, notifier.alerts, 1)
	require.Equal(t, "90.00", notifier.alerts[0].PercentageUsed.StringFixed(2))
	require.True(t, notifier.alerts[0].TotalExpenses.Equal(decimal.RequireFromString("450")))

	sent, err = svc.CheckBudgetAlerts(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Len(t, notifier.alerts, 1)
}

func TestCheckBudgetAlertsRetriesAfterSinkFailure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	notifier := &fakeNotifier{fail: true}
	svc.UseNotifier(notifier)

	user := register(t, svc, "bob@example.com")
	acc := newAccount(t, svc, user.ID, "Main", "1000")
	_, err := svc.UpdateBudget(ctx, user.ID, "100")
	require.NoError(t, err)
	newTx(t, svc, user.ID, acc.ID, "EXPENSE", "95", "2025-03-03")

	sent, err := svc.CheckBudgetAlerts(ctx, testNow)
	require.NoError(t, err)
	require.Zero(t, sent)

	notifier.fail = false
	sent, err = svc.CheckBudgetAlerts(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
}

func TestMonthlyReport(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "0")

	newTx(t, svc, owner, acc.ID, "INCOME", "2000", "2025-02-01")
	_, err := svc.CreateTransaction(ctx, owner, TransactionInput{
		Type: "EXPENSE", Amount: "500", Date: "2025-02-03", AccountID: acc.ID, Category: "rent",
	})
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, owner, TransactionInput{
		Type: "EXPENSE", Amount: "250", Date: "2025-02-10", AccountID: acc.ID, Category: "food",
	})
	require.NoError(t, err)
	newTx(t, svc, owner, acc.ID, "EXPENSE", "999", "2025-03-01")

	report, err := svc.MonthlyReport(ctx, owner, time.Date(2025, time.February, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "February 2025", report.Month)
	require.True(t, report.TotalIncome.Equal(decimal.RequireFromString("2000")))
	require.True(t, report.TotalExpenses.Equal(decimal.RequireFromString("750")))
	require.True(t, report.ByCategory["rent"].Equal(decimal.RequireFromString("500")))
	require.Equal(t, []string{
		"You saved 1250.00 this month.",
		"Savings rate: 62.5% of income.",
		"rent was your largest expense category at 500.00 (67% of spending).",
	}, report.Insights)
}

func TestSendMonthlyReports(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	svc.UseNotifier(notifier)

	alice := register(t, svc, "alice@example.com")
	register(t, svc, "carol@example.com")
	acc := newAccount(t, svc, alice.ID, "Main", "0")
	newTx(t, svc, alice.ID, acc.ID, "EXPENSE", "40", "2025-03-02")

	sent, err := svc.SendMonthlyReports(ctx, time.Date(2025, time.April, 1, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.Len(t, notifier.reports, 2)
	for _, r := range notifier.reports {
		require.Equal(t, "March 2025", r.Month)
		if r.UserID == alice.ID {
			require.True(t, r.TotalExpenses.Equal(decimal.RequireFromString("40")))
		} else {
			require.Equal(t, []string{"No transactions were recorded this month."}, r.Insights)
		}
	}
}

func TestJobsRequireNotifier(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SendMonthlyReports(context.Background(), testNow)
	require.Error(t, err)
	_, err = svc.CheckBudgetAlerts(context.Background(), testNow)
	require.Error(t, err)
}

func TestAccountChart(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "0")

	newTx(t, svc, owner, acc.ID, "INCOME", "100", "2025-03-10")
	newTx(t, svc, owner, acc.ID, "EXPENSE", "30", "2025-03-10")
	newTx(t, svc, owner, acc.ID, "EXPENSE", "20", "2025-03-12")
	newTx(t, svc, owner, acc.ID, "EXPENSE", "500", "2024-12-01")

	chart, err := svc.AccountChart(ctx, owner, acc.ID, "7D")
	require.NoError(t, err)
	require.Len(t, chart.Points, 2)
	require.Equal(t, "2025-03-10", chart.Points[0].Date.Format("2006-01-02"))
	require.True(t, chart.TotalIncome.Equal(decimal.RequireFromString("100")))
	require.True(t, chart.TotalExpense.Equal(decimal.RequireFromString("50")))

	chart, err = svc.AccountChart(ctx, owner, acc.ID, "ALL")
	require.NoError(t, err)
	require.Len(t, chart.Points, 3)

	_, err = svc.AccountChart(ctx, owner, acc.ID, "2W")
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestCategoryReport(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "0")

	for _, in := range []TransactionInput{
		{Type: "EXPENSE", Amount: "10", Date: "2025-03-01", AccountID: acc.ID, Category: "food"},
		{Type: "EXPENSE", Amount: "30", Date: "2025-03-02", AccountID: acc.ID, Category: "rent"},
		{Type: "EXPENSE", Amount: "15", Date: "2025-03-03", AccountID: acc.ID, Category: "food"},
		{Type: "INCOME", Amount: "99", Date: "2025-03-03", AccountID: acc.ID, Category: "salary"},
	} {
		_, err := svc.CreateTransaction(ctx, owner, in)
		require.NoError(t, err)
	}

	from := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	totals, err := svc.CategoryReport(ctx, owner, from, to)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	require.Equal(t, "rent", totals[0].Category)
	require.Equal(t, "food", totals[1].Category)
	require.True(t, totals[1].Amount.Equal(decimal.RequireFromString("25")))

	_, err = svc.CategoryReport(ctx, owner, to, from)
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestAuthRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", " Alice@Example.com ", "password123")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.NotEqual(t, "password123", user.PasswordHash)

	_, err = svc.Register(ctx, "alice2", "alice@example.com", "password123")
	require.ErrorIs(t, err, models.ErrConflict)
	_, err = svc.Register(ctx, "x", "not-an-email", "password123")
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = svc.Register(ctx, "x", "x@example.com", "short")
	require.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	require.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "password123")
	require.ErrorIs(t, err, models.ErrUnauthorized)

	token, err := svc.Login(ctx, "ALICE@example.com", "password123")
	require.NoError(t, err)
	owner, err := svc.ResolveOwner(token)
	require.NoError(t, err)
	require.Equal(t, user.ID, owner)

	_, err = svc.ResolveOwner(token + "x")
	require.ErrorIs(t, err, models.ErrUnauthorized)

	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, err = svc.ResolveOwner(token)
	require.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestScanReceipt(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := uuid.NewString()
	acc := newAccount(t, svc, owner, "Main", "100")

	_, err := svc.ScanReceipt(ctx, owner, []byte("img"), "image/png")
	require.Error(t, err)

	svc.UseScanner(&fakeScanner{draft: &models.ReceiptDraft{
		Amount:      decimal.RequireFromString("12.5"),
		Date:        time.Date(2025, time.March, 9, 15, 0, 0, 0, time.UTC),
		Description: "Corner Shop",
		Category:    "groceries",
	}})

	_, err = svc.ScanReceipt(ctx, owner, nil, "image/png")
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = svc.ScanReceipt(ctx, owner, []byte("img"), "text/plain")
	require.ErrorIs(t, err, models.ErrInvalidInput)

	in, err := svc.ScanReceipt(ctx, owner, []byte("img"), "image/png")
	require.NoError(t, err)
	require.Equal(t, TransactionInput{
		Type:        "EXPENSE",
		Amount:      "12.50",
		Description: "Corner Shop",
		Date:        "2025-03-09",
		AccountID:   acc.ID,
		Category:    "groceries",
	}, *in)

	// scanning records nothing; the draft goes through the normal create path
	requireBalance(t, svc, owner, acc.ID, "100")
	_, err = svc.CreateTransaction(ctx, owner, *in)
	require.NoError(t, err)
	requireBalance(t, svc, owner, acc.ID, "87.5")
}
