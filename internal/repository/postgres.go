package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Repository provides database operations backed by PostgreSQL
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// maxAttempts bounds how often a unit aborted by a deadlock is run again
const maxAttempts = 3

// Atomic runs fn inside a read-committed database transaction. The
// transaction is committed when fn returns nil and rolled back otherwise.
// A unit that PostgreSQL aborts as a deadlock victim or a serialization
// failure is run again from the start, so fn must not carry state between
// attempts.
func (r *Repository) Atomic(ctx context.Context, fn func(q Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = r.atomic(ctx, fn)
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (r *Repository) atomic(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgQueries{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgQueries struct {
	tx *sql.Tx
}

// CreateUser creates a new user in the database
func (q *pgQueries) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := q.tx.QueryRowContext(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash).
		Scan(&user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email already registered: %w", models.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email
func (q *pgQueries) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE email = $1`
	err := q.tx.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (q *pgQueries) GetUser(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE id = $1`
	err := q.tx.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUserIDs returns the ids of every registered user
func (q *pgQueries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const accountColumns = `id, user_id, name, type, balance, is_default, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.Balance, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// CreateAccount creates a new account in the database
func (q *pgQueries) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, name, type, balance, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := q.tx.QueryRowContext(ctx, query,
		account.ID, account.UserID, account.Name, account.Type, account.Balance, account.IsDefault).
		Scan(&account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("second default account for user %s: %w", account.UserID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by id and locks it until the unit ends
func (q *pgQueries) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	a, err := scanAccount(q.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns the owner's accounts, oldest first
func (q *pgQueries) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := q.tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// GetDefaultAccount returns the owner's default account
func (q *pgQueries) GetDefaultAccount(ctx context.Context, userID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND is_default`
	a, err := scanAccount(q.tx.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default account for user %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default account: %w", err)
	}
	return a, nil
}

// AdjustBalance increments the balance in place so concurrent writers serialize on the row
func (q *pgQueries) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	query := `UPDATE accounts SET balance = balance + $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	return q.execOne(ctx, "adjust balance", "account "+accountID, query, accountID, delta)
}

// SetBalance overwrites the balance
func (q *pgQueries) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	return q.execOne(ctx, "set balance", "account "+accountID, query, accountID, balance)
}

// ClearDefault unsets the default flag on every account of the owner
func (q *pgQueries) ClearDefault(ctx context.Context, userID string) error {
	query := `UPDATE accounts SET is_default = FALSE, updated_at = CURRENT_TIMESTAMP WHERE user_id = $1 AND is_default`
	if _, err := q.tx.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to clear default account: %w", err)
	}
	return nil
}

// MarkDefault sets the default flag on one account
func (q *pgQueries) MarkDefault(ctx context.Context, accountID string) error {
	query := `UPDATE accounts SET is_default = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	err := q.execOne(ctx, "mark default", "account "+accountID, query, accountID)
	if isUniqueViolation(err) {
		return fmt.Errorf("second default account: %w", models.ErrConflict)
	}
	return err
}

// DeleteAccount removes an account row
func (q *pgQueries) DeleteAccount(ctx context.Context, id string) error {
	return q.execOne(ctx, "delete account", "account "+id, `DELETE FROM accounts WHERE id = $1`, id)
}

const transactionColumns = `id, user_id, account_id, type, amount, description, category, date,
	is_recurring, recurring_interval, next_recurring_date, last_processed, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	t := &models.Transaction{}
	var (
		interval  sql.NullString
		next      sql.NullTime
		processed sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Type, &t.Amount, &t.Description, &t.Category, &t.Date,
		&t.IsRecurring, &interval, &next, &processed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.RecurringInterval = models.RecurringInterval(interval.String)
	if next.Valid {
		t.NextRecurringDate = &next.Time
	}
	if processed.Valid {
		t.LastProcessed = &processed.Time
	}
	return t, nil
}

func nullInterval(i models.RecurringInterval) sql.NullString {
	return sql.NullString{String: string(i), Valid: i != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreateTransaction inserts a transaction row
func (q *pgQueries) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, account_id, type, amount, description, category, date,
			is_recurring, recurring_interval, next_recurring_date, last_processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := q.tx.QueryRowContext(ctx, query,
		t.ID, t.UserID, t.AccountID, t.Type, t.Amount, t.Description, t.Category, t.Date,
		t.IsRecurring, nullInterval(t.RecurringInterval), nullTime(t.NextRecurringDate), nullTime(t.LastProcessed)).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by id and locks it until the unit ends
func (q *pgQueries) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	t, err := scanTransaction(q.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// UpdateTransaction rewrites every mutable column of a transaction
func (q *pgQueries) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		UPDATE transactions
		SET account_id = $2, type = $3, amount = $4, description = $5, category = $6, date = $7,
			is_recurring = $8, recurring_interval = $9, next_recurring_date = $10, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := q.tx.QueryRowContext(ctx, query,
		t.ID, t.AccountID, t.Type, t.Amount, t.Description, t.Category, t.Date,
		t.IsRecurring, nullInterval(t.RecurringInterval), nullTime(t.NextRecurringDate)).
		Scan(&t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", t.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// FindTransactions returns the transactions among ids that belong to userID
func (q *pgQueries) FindTransactions(ctx context.Context, ids []string, userID string) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE id = ANY($1::uuid[]) AND user_id = $2
		ORDER BY id
		FOR UPDATE`
	return q.queryTransactions(ctx, query, pq.Array(ids), userID)
}

// DeleteTransactions removes the transactions among ids that belong to userID
func (q *pgQueries) DeleteTransactions(ctx context.Context, ids []string, userID string) (int64, error) {
	res, err := q.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ANY($1::uuid[]) AND user_id = $2`,
		pq.Array(ids), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAccountTransactions removes every transaction of an account
func (q *pgQueries) DeleteAccountTransactions(ctx context.Context, accountID string) (int64, error) {
	res, err := q.tx.ExecContext(ctx, `DELETE FROM transactions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account transactions: %w", err)
	}
	return res.RowsAffected()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListTransactions returns the owner's transactions matching filter, newest first
func (q *pgQueries) ListTransactions(ctx context.Context, userID string, f models.TransactionFilter) ([]models.Transaction, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Recurring != nil {
		add("is_recurring = $%d", *f.Recurring)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add("(description ILIKE $%[1]d OR category ILIKE $%[1]d)", "%"+likeEscaper.Replace(s)+"%")
	}
	if !f.From.IsZero() {
		add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("date < $%d", f.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY date DESC, created_at DESC, id`
	return q.queryTransactions(ctx, query, args...)
}

// DueRecurring returns recurring templates that are due at now
func (q *pgQueries) DueRecurring(ctx context.Context, now time.Time) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE is_recurring AND next_recurring_date IS NOT NULL AND next_recurring_date <= $1
		ORDER BY next_recurring_date, id`
	return q.queryTransactions(ctx, query, now)
}

// AdvanceRecurring moves a template's schedule forward
func (q *pgQueries) AdvanceRecurring(ctx context.Context, id string, next, processed time.Time) error {
	query := `UPDATE transactions SET next_recurring_date = $2, last_processed = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	return q.execOne(ctx, "advance recurring", "transaction "+id, query, id, next, processed)
}

func (q *pgQueries) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := q.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

const budgetColumns = `id, user_id, amount, last_alert_sent, created_at, updated_at`

func scanBudget(row interface{ Scan(...any) error }) (*models.Budget, error) {
	b := &models.Budget{}
	var alerted sql.NullTime
	if err := row.Scan(&b.ID, &b.UserID, &b.Amount, &alerted, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if alerted.Valid {
		b.LastAlertSent = &alerted.Time
	}
	return b, nil
}

// GetBudget returns the owner's budget
func (q *pgQueries) GetBudget(ctx context.Context, userID string) (*models.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1`
	b, err := scanBudget(q.tx.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("budget for user %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return b, nil
}

// UpsertBudget creates the owner's budget or replaces its amount
func (q *pgQueries) UpsertBudget(ctx context.Context, b *models.Budget) error {
	query := `
		INSERT INTO budgets (id, user_id, amount, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET amount = EXCLUDED.amount, updated_at = CURRENT_TIMESTAMP
		RETURNING ` + budgetColumns
	saved, err := scanBudget(q.tx.QueryRowContext(ctx, query, b.ID, b.UserID, b.Amount))
	if err != nil {
		return fmt.Errorf("failed to upsert budget: %w", err)
	}
	*b = *saved
	return nil
}

// MarkBudgetAlerted records when the last budget alert went out
func (q *pgQueries) MarkBudgetAlerted(ctx context.Context, budgetID string, at time.Time) error {
	query := `UPDATE budgets SET last_alert_sent = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	return q.execOne(ctx, "mark budget alerted", "budget "+budgetID, query, budgetID, at)
}

// ListBudgets returns every budget
func (q *pgQueries) ListBudgets(ctx context.Context) ([]models.Budget, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, *b)
	}
	return budgets, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isRetryable reports a deadlock or serialization failure
func isRetryable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "40P01" || pqErr.Code == "40001")
}

// execOne runs a statement that must touch exactly one row
func (q *pgQueries) execOne(ctx context.Context, op, subject, query string, args ...any) error {
	res, err := q.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", subject, models.ErrNotFound)
	}
	return nil
}
