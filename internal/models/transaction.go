package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType decides the sign of a transaction's effect on its account
type TransactionType string

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// RecurringInterval is the period of a recurring transaction template
type RecurringInterval string

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
)

// Valid reports whether i is a known interval
func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Occurrence returns the n-th date of a schedule starting at anchor, where
// the 0-th is anchor itself. Month and year steps are counted from anchor, so
// the day of month is kept and only clamped to the last day of short months
// (Jan 31 -> Feb 28 -> Mar 31).
func (i RecurringInterval) Occurrence(anchor time.Time, n int) time.Time {
	switch i {
	case Daily:
		return anchor.AddDate(0, 0, n)
	case Weekly:
		return anchor.AddDate(0, 0, 7*n)
	case Monthly:
		return addMonthsClamped(anchor, n)
	case Yearly:
		return addMonthsClamped(anchor, 12*n)
	}
	return anchor
}

// NextAfter returns the first date of the schedule anchored at anchor that
// falls strictly after t. Unknown intervals return anchor.
func (i RecurringInterval) NextAfter(anchor, t time.Time) time.Time {
	if !i.Valid() {
		return anchor
	}
	n := 1
	if t.After(anchor) {
		n = max(i.estimateSteps(anchor, t), 1)
	}
	for n > 1 && i.Occurrence(anchor, n-1).After(t) {
		n--
	}
	for !i.Occurrence(anchor, n).After(t) {
		n++
	}
	return i.Occurrence(anchor, n)
}

// estimateSteps is a close guess of how many intervals separate anchor and t
func (i RecurringInterval) estimateSteps(anchor, t time.Time) int {
	t = t.In(anchor.Location())
	switch i {
	case Daily:
		return int(t.Sub(anchor).Hours() / 24)
	case Weekly:
		return int(t.Sub(anchor).Hours() / (24 * 7))
	case Monthly:
		return (t.Year()-anchor.Year())*12 + int(t.Month()-anchor.Month())
	case Yearly:
		return t.Year() - anchor.Year()
	}
	return 1
}

func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	first = first.AddDate(0, months, 0)
	lastDay := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}

// Transaction represents a single income or expense on one account.
// Amount is always a positive magnitude; the sign comes from Type.
type Transaction struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	AccountID         string            `json:"account_id"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Description       string            `json:"description"`
	Category          string            `json:"category"`
	Date              time.Time         `json:"date"`
	IsRecurring       bool              `json:"is_recurring"`
	RecurringInterval RecurringInterval `json:"recurring_interval,omitempty"`
	NextRecurringDate *time.Time        `json:"next_recurring_date,omitempty"`
	LastProcessed     *time.Time        `json:"last_processed,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SignedAmount is the balance change this transaction causes on its account
func (t Transaction) SignedAmount() decimal.Decimal {
	return SignedDelta(t.Type, t.Amount)
}

// SignedDelta returns +amount for income and -amount for expense
func SignedDelta(typ TransactionType, amount decimal.Decimal) decimal.Decimal {
	if typ == Expense {
		return amount.Neg()
	}
	return amount
}

// TransactionFilter narrows a transaction listing. Zero values match everything.
type TransactionFilter struct {
	AccountID string
	Type      TransactionType
	Recurring *bool
	Search    string
	From      time.Time
	To        time.Time
}
