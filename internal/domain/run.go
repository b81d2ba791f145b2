package domain

import "time"

// SymbolResult is the per-symbol outcome of a backtest run, shaped for flat
// tabular reporting and persistence.
type SymbolResult struct {
	Symbol               string
	TotalTrades          int
	TotalReturnPct       float64
	WinRatePct           float64
	ProfitFactor         float64 // Sum of positive trade returns over absolute sum of negative ones
	ProfitFactorInfinite bool    // True when there were winners but no losers; ProfitFactor is then not a number
	MaxDrawdownPct       float64
	AvgWinPct            float64
	AvgLossPct           float64
	SharpeRatio          float64
	OpenAtEnd            bool   // A position was still open when the series ended
	Err                  string // Non-empty when this symbol's run aborted
	Trades               []*TradeRecord
}

// BacktestRun groups the per-symbol results of one multi-symbol backtest
// invocation together with the configuration that produced them.
type BacktestRun struct {
	ID                  string    // Run identifier (UUID)
	CreatedAt           time.Time // When the run was executed
	Interval            string    // Bar interval the run replayed
	Preset              string    // Strategy preset name
	Start               time.Time // Inclusive lower bound of replayed bars (zero = unbounded)
	End                 time.Time // Inclusive upper bound of replayed bars (zero = unbounded)
	RSIOverbought       float64   // Detector threshold used
	VolatilityThreshold float64   // Detector threshold used
	Results             []*SymbolResult
}
