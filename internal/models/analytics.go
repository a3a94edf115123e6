package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChartPoint holds income and expense totals for one calendar day
type ChartPoint struct {
	Date    time.Time       `json:"date"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// CategoryTotal is the summed expense for a category
type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// PeriodStats represents income and expense statistics for a period
type PeriodStats struct {
	TotalIncome      decimal.Decimal            `json:"total_income"`
	TotalExpenses    decimal.Decimal            `json:"total_expenses"`
	ByCategory       map[string]decimal.Decimal `json:"by_category"`
	TransactionCount int                        `json:"transaction_count"`
}

// MonthlyReport is the payload handed to the notification sink once a month
type MonthlyReport struct {
	UserID        string                     `json:"user_id"`
	Month         string                     `json:"month"` // Format: January 2006
	TotalIncome   decimal.Decimal            `json:"total_income"`
	TotalExpenses decimal.Decimal            `json:"total_expenses"`
	ByCategory    map[string]decimal.Decimal `json:"by_category"`
	Insights      []string                   `json:"insights"`
}

// BudgetAlert is the payload handed to the notification sink when spending nears the budget
type BudgetAlert struct {
	UserID         string          `json:"user_id"`
	PercentageUsed decimal.Decimal `json:"percentage_used"`
	BudgetAmount   decimal.Decimal `json:"budget_amount"`
	TotalExpenses  decimal.Decimal `json:"total_expenses"`
}

// ReceiptDraft is what the external receipt scanner extracts from an image
type ReceiptDraft struct {
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
}
