package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is an owner's monthly expense ceiling
type Budget struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	LastAlertSent *time.Time      `json:"last_alert_sent,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BudgetStatus is the derived consumption of a budget for the current month.
// Budget is nil when the owner has none.
type BudgetStatus struct {
	Budget          *Budget         `json:"budget"`
	AccountID       string          `json:"account_id"`
	CurrentExpenses decimal.Decimal `json:"current_expenses"`
	PercentUsed     decimal.Decimal `json:"percent_used"`
}
