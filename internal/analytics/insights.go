package analytics

import (
	"fmt"
	"sort"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/shopspring/decimal"
)

// Insights turns period statistics into short observations for the monthly report
func Insights(stats models.PeriodStats) []string {
	if stats.TransactionCount == 0 {
		return []string{"No transactions were recorded this month."}
	}

	var out []string
	net := stats.TotalIncome.Sub(stats.TotalExpenses)
	switch {
	case net.IsPositive():
		out = append(out, fmt.Sprintf("You saved %s this month.", net.StringFixed(2)))
	case net.IsNegative():
		out = append(out, fmt.Sprintf("You spent %s more than you earned this month.", net.Neg().StringFixed(2)))
	default:
		out = append(out, "Your income exactly covered your expenses this month.")
	}

	if stats.TotalIncome.IsPositive() {
		rate := net.Mul(hundred).DivRound(stats.TotalIncome, 1)
		out = append(out, fmt.Sprintf("Savings rate: %s%% of income.", rate.StringFixed(1)))
	}

	if top, amount, ok := topCategory(stats.ByCategory); ok && stats.TotalExpenses.IsPositive() {
		share := amount.Mul(hundred).DivRound(stats.TotalExpenses, 0)
		out = append(out, fmt.Sprintf("%s was your largest expense category at %s (%s%% of spending).",
			top, amount.StringFixed(2), share.String()))
	}
	return out
}

func topCategory(byCategory map[string]decimal.Decimal) (string, decimal.Decimal, bool) {
	names := make([]string, 0, len(byCategory))
	for n := range byCategory {
		names = append(names, n)
	}
	if len(names) == 0 {
		return "", decimal.Zero, false
	}
	sort.Slice(names, func(i, j int) bool {
		if c := byCategory[names[i]].Cmp(byCategory[names[j]]); c != 0 {
			return c > 0
		}
		return names[i] < names[j]
	})
	return names[0], byCategory[names[0]], true
}
