package analytics

import (
	"math"
	"sort"
	"time"

	"squeezeScanner/internal/domain"
)

// Performance holds the metrics computed over a set of completed trades.
// All return figures are in percent. Equity compounds from 1.0 in trade
// order, so TotalReturnPct reflects reinvesting the full balance each trade.
type Performance struct {
	// Basic metrics
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRatePct           float64
	TotalReturnPct       float64
	ProfitFactor         float64 // Sum of winning returns over absolute sum of losing returns
	ProfitFactorInfinite bool    // True when there are wins but no losses
	AvgWinPct            float64
	AvgLossPct           float64 // Negative or zero
	MaxDrawdownPct       float64
	SharpeRatio          float64 // Mean per-trade return over its sample standard deviation

	// Advanced metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AvgTradeDuration     time.Duration
	Expectancy           float64 // Expected per-trade return in percent
	MonthlyReturnsPct    map[string]float64
	Drawdowns            []Drawdown
	EquityCurve          []EquityPoint
}

// Drawdown represents one peak-to-recovery period on the equity curve.
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	DepthPct   float64
	Duration   time.Duration
}

// EquityPoint is one point on the compounded equity curve.
type EquityPoint struct {
	Time        time.Time
	Equity      float64 // Multiple of starting equity
	DrawdownPct float64
}

// AnalyzePerformance computes metrics from completed trade records. Trades
// are ordered by entry time before compounding; the input slice is not
// modified.
func AnalyzePerformance(trades []*domain.TradeRecord) *Performance {
	perf := &Performance{
		MonthlyReturnsPct: make(map[string]float64),
		Drawdowns:         make([]Drawdown, 0),
		EquityCurve:       make([]EquityPoint, 0),
	}

	if len(trades) == 0 {
		return perf
	}

	ordered := append([]*domain.TradeRecord(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EntryTime.Before(ordered[j].EntryTime)
	})

	var (
		equity           = 1.0
		peakEquity       = 1.0
		currentDrawdown  *Drawdown
		sumWins, sumLoss float64
		consecWins       int
		consecLosses     int
		totalDuration    time.Duration
		returns          = make([]float64, 0, len(ordered))
	)

	for _, trade := range ordered {
		perf.TotalTrades++
		r := trade.TotalReturnPct
		returns = append(returns, r)
		totalDuration += trade.Duration()

		if trade.IsWin {
			perf.WinningTrades++
			consecWins++
			consecLosses = 0
			sumWins += r
			perf.AvgWinPct = sumWins / float64(perf.WinningTrades)
		} else {
			perf.LosingTrades++
			consecLosses++
			consecWins = 0
			sumLoss += r
			perf.AvgLossPct = sumLoss / float64(perf.LosingTrades)
		}
		if consecWins > perf.MaxConsecutiveWins {
			perf.MaxConsecutiveWins = consecWins
		}
		if consecLosses > perf.MaxConsecutiveLosses {
			perf.MaxConsecutiveLosses = consecLosses
		}

		equity *= 1 + r/100
		exitTime := trade.ExitTime()
		perf.MonthlyReturnsPct[exitTime.Format("2006-01")] += r

		if equity > peakEquity {
			peakEquity = equity
			if currentDrawdown != nil {
				currentDrawdown.EndTime = exitTime
				currentDrawdown.EndValue = equity
				currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
				perf.Drawdowns = append(perf.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else {
			ddPct := (peakEquity - equity) / peakEquity * 100
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  exitTime,
					StartValue: peakEquity,
					DepthPct:   ddPct,
				}
			} else {
				currentDrawdown.DepthPct = math.Max(currentDrawdown.DepthPct, ddPct)
			}
			if ddPct > perf.MaxDrawdownPct {
				perf.MaxDrawdownPct = ddPct
			}
		}

		perf.EquityCurve = append(perf.EquityCurve, EquityPoint{
			Time:        exitTime,
			Equity:      equity,
			DrawdownPct: (peakEquity - equity) / peakEquity * 100,
		})
	}

	if currentDrawdown != nil {
		last := ordered[len(ordered)-1]
		currentDrawdown.EndTime = last.ExitTime()
		currentDrawdown.EndValue = equity
		currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
		perf.Drawdowns = append(perf.Drawdowns, *currentDrawdown)
	}

	perf.TotalReturnPct = (equity - 1) * 100
	perf.WinRatePct = float64(perf.WinningTrades) / float64(perf.TotalTrades) * 100
	perf.AvgTradeDuration = totalDuration / time.Duration(perf.TotalTrades)
	perf.Expectancy = (perf.WinRatePct/100)*perf.AvgWinPct + (1-perf.WinRatePct/100)*perf.AvgLossPct

	switch {
	case sumLoss < 0:
		perf.ProfitFactor = sumWins / -sumLoss
	case sumWins > 0:
		perf.ProfitFactorInfinite = true
	}

	perf.SharpeRatio = sharpe(returns)

	return perf
}

// sharpe is the mean per-trade return divided by its sample standard
// deviation. Fewer than two trades, or a zero-variance series, yield 0.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// MonthlyReturn is a month bucket of summed trade returns.
type MonthlyReturn struct {
	Month     time.Time
	ReturnPct float64
}

// GetMonthlyReturns returns the monthly return buckets ordered by month.
func (p *Performance) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(p.MonthlyReturnsPct))
	for month, pct := range p.MonthlyReturnsPct {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, ReturnPct: pct})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}
