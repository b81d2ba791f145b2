package backtesting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
	"squeezeScanner/internal/position"
	"squeezeScanner/internal/strategy"
	"squeezeScanner/internal/strategy/analytics"
	"squeezeScanner/internal/strategy/indicators"
)

// OpenAtEndPolicy controls what happens to a position still open when a
// symbol's bar series runs out.
type OpenAtEndPolicy int

const (
	// ExcludeOpen drops the open position from trade statistics and flags
	// the symbol result instead.
	ExcludeOpen OpenAtEndPolicy = iota
	// CloseAtEnd force-closes the remainder at the final bar's close and
	// counts the synthetic trade.
	CloseAtEnd
)

// Config holds the per-run knobs of a backtest. Zero Start/End leave that
// side of the window unbounded; zero MaxSymbols means no cap.
type Config struct {
	Start       time.Time
	End         time.Time
	OnOpenAtEnd OpenAtEndPolicy
	MaxSymbols  int
	Interval    string
	Preset      string
}

// Simulator replays historical bars through the indicator engine and signal
// detector, driving a position tracker the same way the live scanner does.
// One simulator serves many runs; each run gets its own tracker.
type Simulator struct {
	engine   *indicators.Engine
	detector *strategy.Detector
	logger   ports.Logger
}

// New wires a simulator from an indicator engine and a signal detector.
func New(engine *indicators.Engine, detector *strategy.Detector, logger ports.Logger) (*Simulator, error) {
	if engine == nil {
		return nil, errors.New("backtesting: indicator engine is required")
	}
	if detector == nil {
		return nil, errors.New("backtesting: signal detector is required")
	}
	if logger == nil {
		return nil, errors.New("backtesting: logger is required")
	}
	return &Simulator{engine: engine, detector: detector, logger: logger}, nil
}

// Run replays one symbol's bars in chronological order and returns its
// aggregated result. Bars outside [cfg.Start, cfg.End] are dropped before the
// replay starts. The indicator engine only ever sees bars up to and including
// the bar being evaluated, so a signal can never depend on future data.
func (s *Simulator) Run(ctx context.Context, cfg Config, symbol string, bars []domain.Bar) (*domain.SymbolResult, error) {
	bars = filterWindow(bars, cfg.Start, cfg.End)

	required := s.engine.RequiredBars()
	if len(bars) < required {
		return nil, fmt.Errorf("backtesting: %s has %d bars, need %d: %w",
			symbol, len(bars), required, ports.ErrInsufficientHistory)
	}

	tracker := position.NewTracker()
	var trades []*domain.TradeRecord

	for i := required - 1; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		snap, err := s.engine.Snapshot(ctx, bars[:i+1])
		if err != nil {
			return nil, fmt.Errorf("backtesting: snapshot %s at bar %d: %w", symbol, i, err)
		}

		kind := s.detector.Classify(ctx, snap, tracker.Status(symbol))
		if kind == domain.SignalNone {
			continue
		}

		trade, err := tracker.Apply(symbol, kind, snap)
		if err != nil {
			return nil, fmt.Errorf("backtesting: apply %s for %s: %w", kind, symbol, err)
		}
		if trade != nil {
			trades = append(trades, trade)
		}
	}

	openAtEnd := false
	if st := tracker.State(symbol); st.IsOpen() {
		switch cfg.OnOpenAtEnd {
		case CloseAtEnd:
			last := bars[len(bars)-1]
			if trade := tracker.ForceClose(symbol, last.Close, last.Timestamp); trade != nil {
				trades = append(trades, trade)
			}
		default:
			openAtEnd = true
		}
	}

	perf := analytics.AnalyzePerformance(trades)

	return &domain.SymbolResult{
		Symbol:               symbol,
		TotalTrades:          perf.TotalTrades,
		TotalReturnPct:       perf.TotalReturnPct,
		WinRatePct:           perf.WinRatePct,
		ProfitFactor:         perf.ProfitFactor,
		ProfitFactorInfinite: perf.ProfitFactorInfinite,
		MaxDrawdownPct:       perf.MaxDrawdownPct,
		AvgWinPct:            perf.AvgWinPct,
		AvgLossPct:           perf.AvgLossPct,
		SharpeRatio:          perf.SharpeRatio,
		OpenAtEnd:            openAtEnd,
		Trades:               trades,
	}, nil
}

// RunBatch replays every listed symbol concurrently and assembles the run
// report. Results keep the order of the order slice no matter which goroutine
// finishes first. A symbol that fails — not enough history, bad data — is
// recorded with its error string and does not stop the others.
func (s *Simulator) RunBatch(ctx context.Context, cfg Config, series map[string][]domain.Bar, order []string) (*domain.BacktestRun, error) {
	if len(order) == 0 {
		return nil, errors.New("backtesting: no symbols to run")
	}
	if cfg.MaxSymbols > 0 && len(order) > cfg.MaxSymbols {
		s.logger.Warn(ctx, "Symbol list truncated for batch run", map[string]interface{}{
			"requested": len(order),
			"cap":       cfg.MaxSymbols,
		})
		order = order[:cfg.MaxSymbols]
	}

	results := make([]*domain.SymbolResult, len(order))
	var wg sync.WaitGroup
	for idx, symbol := range order {
		wg.Add(1)
		go func(idx int, symbol string) {
			defer wg.Done()
			res, err := s.Run(ctx, cfg, symbol, series[symbol])
			if err != nil {
				results[idx] = &domain.SymbolResult{Symbol: symbol, Err: err.Error()}
				return
			}
			results[idx] = res
		}(idx, symbol)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dcfg := s.detector.Config()
	run := &domain.BacktestRun{
		ID:                  uuid.NewString(),
		CreatedAt:           time.Now().UTC(),
		Interval:            cfg.Interval,
		Preset:              cfg.Preset,
		Start:               cfg.Start,
		End:                 cfg.End,
		RSIOverbought:       dcfg.RSIOverbought,
		VolatilityThreshold: dcfg.VolatilityThreshold,
		Results:             results,
	}

	s.logger.Info(ctx, "Batch backtest finished", map[string]interface{}{
		"runID":   run.ID,
		"symbols": len(results),
		"failed":  countFailed(results),
	})
	return run, nil
}

// filterWindow keeps the bars inside [start, end]. A zero bound leaves that
// side open.
func filterWindow(bars []domain.Bar, start, end time.Time) []domain.Bar {
	if start.IsZero() && end.IsZero() {
		return bars
	}
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func countFailed(results []*domain.SymbolResult) int {
	n := 0
	for _, r := range results {
		if r.Err != "" {
			n++
		}
	}
	return n
}

// IsInsufficientHistory reports whether err is the short-series failure, so
// callers can tell "not enough bars" apart from real data problems.
func IsInsufficientHistory(err error) bool {
	return errors.Is(err, ports.ErrInsufficientHistory)
}
