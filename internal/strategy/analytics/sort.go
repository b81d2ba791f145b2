package analytics

import (
	"fmt"
	"sort"
	"strings"

	"squeezeScanner/internal/domain"
)

// SortKeys lists the orderings SortResults accepts.
var SortKeys = []string{"return", "winrate", "trades", "drawdown", "symbol"}

// SortResults orders a run's per-symbol results in place. Metric keys rank
// best first: highest return, win rate or trade count, lowest drawdown.
// "symbol" orders alphabetically. Ties keep their input order.
func SortResults(results []*domain.SymbolResult, key string) error {
	var less func(a, b *domain.SymbolResult) bool
	switch key {
	case "return":
		less = func(a, b *domain.SymbolResult) bool { return a.TotalReturnPct > b.TotalReturnPct }
	case "winrate":
		less = func(a, b *domain.SymbolResult) bool { return a.WinRatePct > b.WinRatePct }
	case "trades":
		less = func(a, b *domain.SymbolResult) bool { return a.TotalTrades > b.TotalTrades }
	case "drawdown":
		less = func(a, b *domain.SymbolResult) bool { return a.MaxDrawdownPct < b.MaxDrawdownPct }
	case "symbol":
		less = func(a, b *domain.SymbolResult) bool { return a.Symbol < b.Symbol }
	default:
		return fmt.Errorf("unknown sort key %q (valid: %s)", key, strings.Join(SortKeys, ", "))
	}

	sort.SliceStable(results, func(i, j int) bool { return less(results[i], results[j]) })
	return nil
}
