// Package analytics derives chart series, budget consumption and category
// summaries from transaction sequences. Nothing here writes state.
//
// Daily series omit days without transactions; charts that need a
// continuous axis must fill the gaps themselves.
package analytics

import (
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/shopspring/decimal"
)

// Range is a named chart window ending today
type Range string

const (
	Range7D  Range = "7D"
	Range1M  Range = "1M"
	Range3M  Range = "3M"
	Range6M  Range = "6M"
	RangeAll Range = "ALL"
)

var rangeDays = map[Range]int{
	Range7D: 7,
	Range1M: 30,
	Range3M: 90,
	Range6M: 180,
}

// ParseRange validates a range name; the empty string selects 1M
func ParseRange(s string) (Range, error) {
	r := Range(strings.ToUpper(strings.TrimSpace(s)))
	if r == "" {
		return Range1M, nil
	}
	if _, ok := rangeDays[r]; ok || r == RangeAll {
		return r, nil
	}
	return "", fmt.Errorf("unknown chart range %q: %w", s, models.ErrInvalidInput)
}

// Window returns the half-open interval [from, to) covered by r on the day
// of now in loc. For RangeAll from is the zero time.
func (r Range) Window(now time.Time, loc *time.Location) (from, to time.Time) {
	today := StartOfDay(now, loc)
	to = today.AddDate(0, 0, 1)
	if days, ok := rangeDays[r]; ok {
		from = today.AddDate(0, 0, -days)
	}
	return from, to
}

// StartOfDay truncates t to midnight in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// MonthBounds returns the first instant of t's month and of the following month in loc
func MonthBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	t = t.In(loc)
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// DailySeries groups the transactions dated in [from, to) by calendar day in
// loc, summing income and expense separately. The result is computed when it
// is ranged over and can be ranged over again as long as txs can.
func DailySeries(txs iter.Seq[models.Transaction], from, to time.Time, loc *time.Location) iter.Seq[models.ChartPoint] {
	return func(yield func(models.ChartPoint) bool) {
		days := map[time.Time]*models.ChartPoint{}
		for t := range txs {
			if !inWindow(t.Date, from, to) {
				continue
			}
			day := StartOfDay(t.Date, loc)
			p, ok := days[day]
			if !ok {
				p = &models.ChartPoint{Date: day, Income: decimal.Zero, Expense: decimal.Zero}
				days[day] = p
			}
			if t.Type == models.Income {
				p.Income = p.Income.Add(t.Amount)
			} else {
				p.Expense = p.Expense.Add(t.Amount)
			}
		}

		keys := make([]time.Time, 0, len(days))
		for d := range days {
			keys = append(keys, d)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
		for _, d := range keys {
			if !yield(*days[d]) {
				return
			}
		}
	}
}

// Totals sums a chart series
func Totals(points iter.Seq[models.ChartPoint]) (income, expense decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero
	for p := range points {
		income = income.Add(p.Income)
		expense = expense.Add(p.Expense)
	}
	return income, expense
}

// MonthExpenses sums the expenses of accountID dated in the month of now
func MonthExpenses(txs iter.Seq[models.Transaction], accountID string, now time.Time, loc *time.Location) decimal.Decimal {
	start, end := MonthBounds(now, loc)
	total := decimal.Zero
	for t := range txs {
		if t.Type != models.Expense || t.AccountID != accountID || !inWindow(t.Date, start, end) {
			continue
		}
		total = total.Add(t.Amount)
	}
	return total
}

var hundred = decimal.NewFromInt(100)

// PercentUsed returns expenses as a percentage of budget, capped at 100 and
// rounded to two places. A zero or negative budget means no budget and yields 0.
func PercentUsed(expenses, budget decimal.Decimal) decimal.Decimal {
	if !budget.IsPositive() {
		return decimal.Zero
	}
	pct := expenses.Mul(hundred).DivRound(budget, 2)
	return decimal.Min(pct, hundred)
}

// CategoryBreakdown sums expenses dated in [from, to) per category, largest first
func CategoryBreakdown(txs iter.Seq[models.Transaction], from, to time.Time) []models.CategoryTotal {
	sums := map[string]decimal.Decimal{}
	for t := range txs {
		if t.Type != models.Expense || !inWindow(t.Date, from, to) {
			continue
		}
		cat := categoryName(t.Category)
		sums[cat] = sums[cat].Add(t.Amount)
	}

	out := make([]models.CategoryTotal, 0, len(sums))
	for c, a := range sums {
		out = append(out, models.CategoryTotal{Category: c, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func categoryName(c string) string {
	if c = strings.TrimSpace(c); c == "" {
		return "uncategorized"
	}
	return c
}

// Stats totals income and expenses dated in [from, to) and breaks expenses down by category
func Stats(txs iter.Seq[models.Transaction], from, to time.Time) models.PeriodStats {
	stats := models.PeriodStats{
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		ByCategory:    map[string]decimal.Decimal{},
	}
	for t := range txs {
		if !inWindow(t.Date, from, to) {
			continue
		}
		stats.TransactionCount++
		if t.Type == models.Income {
			stats.TotalIncome = stats.TotalIncome.Add(t.Amount)
			continue
		}
		stats.TotalExpenses = stats.TotalExpenses.Add(t.Amount)
		cat := categoryName(t.Category)
		stats.ByCategory[cat] = stats.ByCategory[cat].Add(t.Amount)
	}
	return stats
}
