package backtesting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
	"squeezeScanner/internal/risk"
)

// PortfolioMode selects how capital is divided across symbols.
type PortfolioMode string

const (
	// EqualAllocation gives every symbol its own fixed sub-account of
	// capital/n and trades each in isolation.
	EqualAllocation PortfolioMode = "equal"
	// DynamicAllocation trades all symbols out of one shared cash pool,
	// sizing entries through the risk allocator and ranking competing
	// candidates by RSI.
	DynamicAllocation PortfolioMode = "dynamic"
)

// PortfolioConfig holds the capital-level knobs of a portfolio replay.
// Allocator is only consulted in dynamic mode; nil falls back to the
// allocator defaults.
type PortfolioConfig struct {
	Mode           PortfolioMode
	InitialCapital float64
	Allocator      *risk.Allocator
}

// PortfolioPoint is one mark-to-market observation of the whole book.
type PortfolioPoint struct {
	Time           time.Time
	TotalValue     float64
	Cash           float64
	PositionsValue float64
	OpenPositions  int
}

// PortfolioResult aggregates a portfolio replay: final value after
// liquidation, risk statistics over the daily equity series and activity
// counters.
type PortfolioResult struct {
	Mode             PortfolioMode
	InitialCapital   float64
	FinalValue       float64
	TotalReturnPct   float64
	MaxDrawdownPct   float64
	SharpeRatio      float64 // Annualized from daily equity returns
	BuyCount         int
	SellCount        int
	MaxOpenPositions int
	AvgOpenPositions float64
	TradingDays      int
	Symbols          []string // Symbols that actually took part, in input order
	History          []PortfolioPoint
}

// holding is an open lot inside the portfolio book. Status mirrors the
// tracker's state machine so the detector sees the same lifecycle it would
// see live.
type holding struct {
	shares     float64
	entryPrice float64
	entryTime  time.Time
	status     domain.PositionStatus
}

// subAccount is one symbol's isolated slice of capital in equal mode.
type subAccount struct {
	cash    float64
	holding holding
}

// RunPortfolio replays all symbols against a shared calendar and books
// entries and exits against real capital instead of per-trade fractions.
// Only dates present in every usable symbol's series are traded, so all
// positions can be marked to market on every step. Exits are processed
// before entries on each date, freeing cash for the same day's candidates.
func (s *Simulator) RunPortfolio(ctx context.Context, cfg Config, pcfg PortfolioConfig, series map[string][]domain.Bar, order []string) (*PortfolioResult, error) {
	if pcfg.InitialCapital <= 0 {
		return nil, errors.New("backtesting: initial capital must be positive")
	}
	if len(order) == 0 {
		return nil, errors.New("backtesting: no symbols to run")
	}
	if cfg.MaxSymbols > 0 && len(order) > cfg.MaxSymbols {
		s.logger.Warn(ctx, "Symbol list truncated for portfolio run", map[string]interface{}{
			"requested": len(order),
			"cap":       cfg.MaxSymbols,
		})
		order = order[:cfg.MaxSymbols]
	}

	data, err := s.preparePortfolio(ctx, cfg, series, order)
	if err != nil {
		return nil, err
	}

	var result *PortfolioResult
	switch pcfg.Mode {
	case EqualAllocation:
		result, err = s.runEqual(ctx, pcfg, data)
	case DynamicAllocation, "":
		result, err = s.runDynamic(ctx, pcfg, data)
	default:
		return nil, fmt.Errorf("backtesting: unknown portfolio mode %q", pcfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Portfolio backtest finished", map[string]interface{}{
		"mode":        string(result.Mode),
		"symbols":     len(result.Symbols),
		"tradingDays": result.TradingDays,
		"returnPct":   result.TotalReturnPct,
	})
	return result, nil
}

// portfolioData is the prepared input of a portfolio replay: the usable
// symbols, their windowed series, a per-symbol timestamp index and the shared
// trading calendar.
type portfolioData struct {
	symbols  []string
	bars     map[string][]domain.Bar
	index    map[string]map[int64]int
	calendar []time.Time
	required int
}

// preparePortfolio windows each series, drops symbols without enough history
// and intersects the remaining timestamps into one shared calendar.
func (s *Simulator) preparePortfolio(ctx context.Context, cfg Config, series map[string][]domain.Bar, order []string) (*portfolioData, error) {
	required := s.engine.RequiredBars()

	data := &portfolioData{
		bars:     make(map[string][]domain.Bar, len(order)),
		index:    make(map[string]map[int64]int, len(order)),
		required: required,
	}

	for _, symbol := range order {
		bars := filterWindow(series[symbol], cfg.Start, cfg.End)
		if len(bars) < required {
			s.logger.Warn(ctx, "Symbol dropped from portfolio run", map[string]interface{}{
				"symbol": symbol,
				"bars":   len(bars),
				"need":   required,
			})
			continue
		}
		idx := make(map[int64]int, len(bars))
		for i, b := range bars {
			idx[b.Timestamp.Unix()] = i
		}
		data.bars[symbol] = bars
		data.index[symbol] = idx
		data.symbols = append(data.symbols, symbol)
	}
	if len(data.symbols) == 0 {
		return nil, fmt.Errorf("backtesting: no symbol has the %d bars a portfolio run needs: %w",
			required, ports.ErrInsufficientHistory)
	}

	common := make(map[int64]time.Time, len(data.bars[data.symbols[0]]))
	for _, b := range data.bars[data.symbols[0]] {
		common[b.Timestamp.Unix()] = b.Timestamp
	}
	for _, symbol := range data.symbols[1:] {
		idx := data.index[symbol]
		for key := range common {
			if _, ok := idx[key]; !ok {
				delete(common, key)
			}
		}
	}
	if len(common) == 0 {
		return nil, errors.New("backtesting: symbols share no common trading dates")
	}

	data.calendar = make([]time.Time, 0, len(common))
	for _, ts := range common {
		data.calendar = append(data.calendar, ts)
	}
	sort.Slice(data.calendar, func(i, j int) bool { return data.calendar[i].Before(data.calendar[j]) })
	return data, nil
}

// snapshotsAt computes the indicator snapshot of every symbol that already
// has enough history at the given calendar date. Symbols still warming up are
// simply absent from the map.
func (s *Simulator) snapshotsAt(ctx context.Context, data *portfolioData, ts time.Time) (map[string]domain.IndicatorSnapshot, error) {
	snaps := make(map[string]domain.IndicatorSnapshot, len(data.symbols))
	for _, symbol := range data.symbols {
		i := data.index[symbol][ts.Unix()]
		if i+1 < data.required {
			continue
		}
		snap, err := s.engine.Snapshot(ctx, data.bars[symbol][:i+1])
		if err != nil {
			return nil, fmt.Errorf("backtesting: snapshot %s at %s: %w", symbol, ts.Format(time.RFC3339), err)
		}
		snaps[symbol] = snap
	}
	return snaps, nil
}

// closeAt returns a symbol's closing price on a calendar date.
func (data *portfolioData) closeAt(symbol string, ts time.Time) float64 {
	return data.bars[symbol][data.index[symbol][ts.Unix()]].Close
}

// runDynamic trades every symbol out of one shared cash pool. On each date
// exits are booked first, then the flat symbols signalling an entry compete
// for the freed cash in RSI order until slots or cash run out.
func (s *Simulator) runDynamic(ctx context.Context, pcfg PortfolioConfig, data *portfolioData) (*PortfolioResult, error) {
	alloc := pcfg.Allocator
	if alloc == nil {
		alloc = risk.NewAllocator(risk.Config{})
	}

	cash := pcfg.InitialCapital
	holdings := make(map[string]*holding)
	history := make([]PortfolioPoint, 0, len(data.calendar))
	buyCount, sellCount := 0, 0
	maxOpen, sumOpen := 0, 0

	for _, ts := range data.calendar {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		snaps, err := s.snapshotsAt(ctx, data, ts)
		if err != nil {
			return nil, err
		}

		for _, symbol := range data.symbols {
			h, open := holdings[symbol]
			if !open {
				continue
			}
			snap, ok := snaps[symbol]
			if !ok {
				continue
			}
			switch s.detector.Classify(ctx, snap, h.status) {
			case domain.SignalPartialExit:
				cash += h.shares * 0.5 * snap.Close
				h.shares *= 0.5
				h.status = domain.StatusPartiallyClosed
				sellCount++
			case domain.SignalFullExit:
				cash += h.shares * snap.Close
				delete(holdings, symbol)
				sellCount++
			}
		}

		var candidates []risk.Candidate
		for _, symbol := range data.symbols {
			if _, open := holdings[symbol]; open {
				continue
			}
			snap, ok := snaps[symbol]
			if !ok {
				continue
			}
			if s.detector.Classify(ctx, snap, domain.StatusFlat) == domain.SignalEntry {
				candidates = append(candidates, risk.Candidate{Symbol: symbol, RSI: snap.RSI, Price: snap.Close})
			}
		}
		alloc.RankCandidates(candidates)
		for _, c := range candidates {
			if alloc.SlotsAvailable(len(holdings)) <= 0 {
				break
			}
			amount := alloc.InvestmentAmount(ctx, cash)
			if amount <= 0 {
				break
			}
			holdings[c.Symbol] = &holding{
				shares:     amount / c.Price,
				entryPrice: c.Price,
				entryTime:  ts,
				status:     domain.StatusFullyOpen,
			}
			cash -= amount
			buyCount++
		}

		positionsValue := 0.0
		for symbol, h := range holdings {
			positionsValue += h.shares * data.closeAt(symbol, ts)
		}
		open := len(holdings)
		if open > maxOpen {
			maxOpen = open
		}
		sumOpen += open
		history = append(history, PortfolioPoint{
			Time:           ts,
			TotalValue:     cash + positionsValue,
			Cash:           cash,
			PositionsValue: positionsValue,
			OpenPositions:  open,
		})
	}

	last := data.calendar[len(data.calendar)-1]
	for symbol, h := range holdings {
		cash += h.shares * data.closeAt(symbol, last)
	}

	result := &PortfolioResult{
		Mode:             DynamicAllocation,
		InitialCapital:   pcfg.InitialCapital,
		FinalValue:       cash,
		BuyCount:         buyCount,
		SellCount:        sellCount,
		MaxOpenPositions: maxOpen,
		AvgOpenPositions: float64(sumOpen) / float64(len(history)),
		TradingDays:      len(history),
		Symbols:          data.symbols,
		History:          history,
	}
	finishPortfolioStats(result)
	return result, nil
}

// runEqual gives every symbol an isolated sub-account of capital/n. An entry
// commits the whole sub-account; exits return cash only to that symbol's
// account. Totals are the sum over sub-accounts each day.
func (s *Simulator) runEqual(ctx context.Context, pcfg PortfolioConfig, data *portfolioData) (*PortfolioResult, error) {
	allocation := pcfg.InitialCapital / float64(len(data.symbols))
	accounts := make(map[string]*subAccount, len(data.symbols))
	for _, symbol := range data.symbols {
		accounts[symbol] = &subAccount{
			cash:    allocation,
			holding: holding{status: domain.StatusFlat},
		}
	}

	history := make([]PortfolioPoint, 0, len(data.calendar))
	buyCount, sellCount := 0, 0
	maxOpen, sumOpen := 0, 0

	for _, ts := range data.calendar {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		snaps, err := s.snapshotsAt(ctx, data, ts)
		if err != nil {
			return nil, err
		}

		for _, symbol := range data.symbols {
			snap, ok := snaps[symbol]
			if !ok {
				continue
			}
			acct := accounts[symbol]
			switch s.detector.Classify(ctx, snap, acct.holding.status) {
			case domain.SignalEntry:
				if acct.cash <= 0 {
					continue
				}
				acct.holding = holding{
					shares:     acct.cash / snap.Close,
					entryPrice: snap.Close,
					entryTime:  ts,
					status:     domain.StatusFullyOpen,
				}
				acct.cash = 0
				buyCount++
			case domain.SignalPartialExit:
				acct.cash += acct.holding.shares * 0.5 * snap.Close
				acct.holding.shares *= 0.5
				acct.holding.status = domain.StatusPartiallyClosed
				sellCount++
			case domain.SignalFullExit:
				acct.cash += acct.holding.shares * snap.Close
				acct.holding = holding{status: domain.StatusFlat}
				sellCount++
			}
		}

		cashTotal, positionsValue := 0.0, 0.0
		open := 0
		for _, symbol := range data.symbols {
			acct := accounts[symbol]
			cashTotal += acct.cash
			if acct.holding.shares > 0 {
				positionsValue += acct.holding.shares * data.closeAt(symbol, ts)
				open++
			}
		}
		if open > maxOpen {
			maxOpen = open
		}
		sumOpen += open
		history = append(history, PortfolioPoint{
			Time:           ts,
			TotalValue:     cashTotal + positionsValue,
			Cash:           cashTotal,
			PositionsValue: positionsValue,
			OpenPositions:  open,
		})
	}

	last := data.calendar[len(data.calendar)-1]
	finalValue := 0.0
	for _, symbol := range data.symbols {
		acct := accounts[symbol]
		finalValue += acct.cash
		if acct.holding.shares > 0 {
			finalValue += acct.holding.shares * data.closeAt(symbol, last)
		}
	}

	result := &PortfolioResult{
		Mode:             EqualAllocation,
		InitialCapital:   pcfg.InitialCapital,
		FinalValue:       finalValue,
		BuyCount:         buyCount,
		SellCount:        sellCount,
		MaxOpenPositions: maxOpen,
		AvgOpenPositions: float64(sumOpen) / float64(len(history)),
		TradingDays:      len(history),
		Symbols:          data.symbols,
		History:          history,
	}
	finishPortfolioStats(result)
	return result, nil
}

// finishPortfolioStats derives return, drawdown and Sharpe from the equity
// history. The Sharpe ratio annualizes daily equity returns over 252 trading
// days; fewer than two observations or zero volatility yield zero.
func finishPortfolioStats(r *PortfolioResult) {
	r.TotalReturnPct = (r.FinalValue - r.InitialCapital) / r.InitialCapital * 100

	peak := r.InitialCapital
	maxDD := 0.0
	for _, p := range r.History {
		if p.TotalValue > peak {
			peak = p.TotalValue
		}
		if peak > 0 {
			if dd := (peak - p.TotalValue) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	r.MaxDrawdownPct = maxDD * 100

	if len(r.History) < 2 {
		return
	}
	returns := make([]float64, 0, len(r.History)-1)
	for i := 1; i < len(r.History); i++ {
		prev := r.History[i-1].TotalValue
		if prev <= 0 {
			continue
		}
		returns = append(returns, r.History[i].TotalValue/prev-1)
	}
	if len(returns) < 2 {
		return
	}

	mean := 0.0
	for _, v := range returns {
		mean += v
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, v := range returns {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return
	}
	r.SharpeRatio = (mean * 252) / (std * math.Sqrt(252))
}
