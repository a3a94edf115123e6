package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 200
	maxCategoryLength    = 50
	// amounts are stored with two fractional digits
	amountScale = 2
)

var maxAmount = decimal.New(1, 15)

// AccountInput is the raw account creation payload
type AccountInput struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	IsDefault bool   `json:"is_default"`
}

// AccountIntent is a validated AccountInput
type AccountIntent struct {
	Name      string
	Type      models.AccountType
	Balance   decimal.Decimal
	IsDefault bool
}

// Validate checks the payload and converts it to an intent
func (in AccountInput) Validate() (AccountIntent, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return AccountIntent{}, invalid("name is required")
	}
	if len(name) > maxNameLength {
		return AccountIntent{}, invalid("name too long (max %d characters)", maxNameLength)
	}
	typ := models.AccountType(strings.ToUpper(strings.TrimSpace(in.Type)))
	if !typ.Valid() {
		return AccountIntent{}, invalid("unknown account type %q", in.Type)
	}
	balance, err := ParseBalance(in.Balance)
	if err != nil {
		return AccountIntent{}, fmt.Errorf("initial balance: %w", err)
	}
	return AccountIntent{Name: name, Type: typ, Balance: balance, IsDefault: in.IsDefault}, nil
}

// TransactionInput is the raw transaction payload submitted by forms, bulk
// tools and the receipt scanner
type TransactionInput struct {
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
	Date              string `json:"date"`
	AccountID         string `json:"account_id"`
	Category          string `json:"category"`
	IsRecurring       bool   `json:"is_recurring"`
	RecurringInterval string `json:"recurring_interval,omitempty"`
}

// TransactionIntent is a validated TransactionInput
type TransactionIntent struct {
	Type              models.TransactionType
	Amount            decimal.Decimal
	Description       string
	Date              time.Time
	AccountID         string
	Category          string
	IsRecurring       bool
	RecurringInterval models.RecurringInterval
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Validate checks the payload and converts it to an intent. Dates without
// an offset are read in loc.
func (in TransactionInput) Validate(loc *time.Location) (TransactionIntent, error) {
	typ := models.TransactionType(strings.ToUpper(strings.TrimSpace(in.Type)))
	if !typ.Valid() {
		return TransactionIntent{}, invalid("unknown transaction type %q", in.Type)
	}
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return TransactionIntent{}, err
	}
	date, err := ParseDate(in.Date, loc)
	if err != nil {
		return TransactionIntent{}, err
	}
	if err := validateID(in.AccountID, "account"); err != nil {
		return TransactionIntent{}, err
	}
	description := strings.TrimSpace(in.Description)
	if len(description) > maxDescriptionLength {
		return TransactionIntent{}, invalid("description too long (max %d characters)", maxDescriptionLength)
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return TransactionIntent{}, invalid("category is required")
	}
	if len(category) > maxCategoryLength {
		return TransactionIntent{}, invalid("category too long (max %d characters)", maxCategoryLength)
	}

	intent := TransactionIntent{
		Type:        typ,
		Amount:      amount,
		Description: description,
		Date:        date,
		AccountID:   in.AccountID,
		Category:    category,
		IsRecurring: in.IsRecurring,
	}
	if in.IsRecurring {
		interval := models.RecurringInterval(strings.ToUpper(strings.TrimSpace(in.RecurringInterval)))
		if interval == "" {
			return TransactionIntent{}, invalid("recurring interval is required for recurring transactions")
		}
		if !interval.Valid() {
			return TransactionIntent{}, invalid("unknown recurring interval %q", in.RecurringInterval)
		}
		intent.RecurringInterval = interval
	}
	return intent, nil
}

// ParseAmount parses a strictly positive amount with at most two decimals.
// Both "12.34" and "12,34" are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, invalid("amount must be positive, got %s", d)
	}
	return d, nil
}

// ParseBalance parses a non-negative balance with at most two decimals
func ParseBalance(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, invalid("balance must not be negative, got %s", d)
	}
	return d, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero, invalid("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid("invalid amount %q", s)
	}
	if d.Exponent() < -amountScale && !d.Equal(d.Round(amountScale)) {
		return decimal.Zero, invalid("amount %q has more than %d decimal places", s, amountScale)
	}
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, invalid("amount %q too large", s)
	}
	return d.Round(amountScale), nil
}

// ParseDate accepts RFC 3339 timestamps and plain dates; an empty string is rejected
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, invalid("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("invalid date %q", s)
}

func validateID(id, what string) error {
	if id == "" {
		return invalid("%s id is required", what)
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalid("malformed %s id %q", what, id)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), models.ErrInvalidInput)
}
