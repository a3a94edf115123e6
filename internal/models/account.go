package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the kind of an account
type AccountType string

const (
	AccountCurrent AccountType = "CURRENT"
	AccountSavings AccountType = "SAVINGS"
)

// Valid reports whether t is a known account type
func (t AccountType) Valid() bool {
	return t == AccountCurrent || t == AccountSavings
}

// Account represents a user's financial account.
// Balance is only ever written by the ledger service.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	IsDefault bool            `json:"is_default"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AccountDetail is an account together with its transactions, newest first
type AccountDetail struct {
	Account
	Transactions     []Transaction `json:"transactions"`
	TransactionCount int           `json:"transaction_count"`
}
