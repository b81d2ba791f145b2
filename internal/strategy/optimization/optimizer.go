package optimization

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
	"squeezeScanner/internal/strategy"
	"squeezeScanner/internal/strategy/analytics"
	"squeezeScanner/internal/strategy/backtesting"
	"squeezeScanner/internal/strategy/indicators"
)

// Detector thresholds the sweep can vary. Any threshold not named in a range
// keeps its base value.
const (
	ParamRSIOverbought           = "rsi_overbought"
	ParamVolatilityThreshold     = "volatility_threshold"
	ParamPartialExitBandPosition = "partial_exit_band_position"
	ParamMidBandTolerance        = "mid_band_tolerance"
	ParamFullExitBandPosition    = "full_exit_band_position"
)

// ParameterRange defines the swept values of one detector threshold:
// Min, Min+Step, ... up to Max inclusive.
type ParameterRange struct {
	Name string
	Min  float64
	Max  float64
	Step float64
}

// Result holds the outcome of one parameter combination.
type Result struct {
	Params  map[string]float64
	Config  strategy.Config // Full detector config the combination ran with
	Metrics *analytics.Performance
	Score   float64
}

// Config holds the optimizer wiring. Score defaults to DefaultScore when nil.
type Config struct {
	Engine *indicators.Engine
	Base   strategy.Config
	Ranges []ParameterRange
	Score  func(*analytics.Performance) float64
	Logger ports.Logger
}

// Optimizer grid-searches detector thresholds by replaying the same bar
// series once per combination and scoring the resulting trade set.
type Optimizer struct {
	engine *indicators.Engine
	base   strategy.Config
	ranges []ParameterRange
	score  func(*analytics.Performance) float64
	logger ports.Logger
}

// New validates the parameter ranges and creates an optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("optimization: indicator engine is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("optimization: logger is required")
	}
	if len(cfg.Ranges) == 0 {
		return nil, fmt.Errorf("optimization: at least one parameter range is required")
	}
	for _, r := range cfg.Ranges {
		if _, err := applyParam(cfg.Base, r.Name, r.Min); err != nil {
			return nil, err
		}
		if r.Step <= 0 {
			return nil, fmt.Errorf("optimization: range %s has non-positive step %v", r.Name, r.Step)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("optimization: range %s has min %v above max %v", r.Name, r.Min, r.Max)
		}
	}
	score := cfg.Score
	if score == nil {
		score = DefaultScore
	}
	return &Optimizer{
		engine: cfg.Engine,
		base:   cfg.Base,
		ranges: cfg.Ranges,
		score:  score,
		logger: cfg.Logger,
	}, nil
}

// Optimize replays the symbol once per parameter combination, concurrently,
// and returns all scored results ordered best first. Combinations that fail
// detector validation or whose replay errors are skipped.
func (o *Optimizer) Optimize(ctx context.Context, runCfg backtesting.Config, symbol string, bars []domain.Bar) ([]Result, error) {
	combinations := o.combinations()
	resultChan := make(chan Result, len(combinations))
	var wg sync.WaitGroup

	for _, params := range combinations {
		wg.Add(1)
		go func(params map[string]float64) {
			defer wg.Done()

			detCfg := o.base
			for name, value := range params {
				detCfg, _ = applyParam(detCfg, name, value) // names validated in New
			}

			detector, err := strategy.New(detCfg, o.logger)
			if err != nil {
				o.logger.Debug(ctx, "Combination rejected by detector validation", map[string]interface{}{
					"params": params,
					"error":  err.Error(),
				})
				return
			}
			sim, err := backtesting.New(o.engine, detector, o.logger)
			if err != nil {
				return
			}

			res, err := sim.Run(ctx, runCfg, symbol, bars)
			if err != nil {
				o.logger.Warn(ctx, "Combination replay failed", map[string]interface{}{
					"symbol": symbol,
					"params": params,
					"error":  err.Error(),
				})
				return
			}

			metrics := analytics.AnalyzePerformance(res.Trades)
			resultChan <- Result{
				Params:  params,
				Config:  detCfg,
				Metrics: metrics,
				Score:   o.score(metrics),
			}
		}(params)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]Result, 0, len(combinations))
	for result := range resultChan {
		results = append(results, result)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// combinations expands the ranges into every parameter assignment.
func (o *Optimizer) combinations() []map[string]float64 {
	var combos []map[string]float64
	current := make(map[string]float64, len(o.ranges))

	var walk func(int)
	walk = func(i int) {
		if i == len(o.ranges) {
			combo := make(map[string]float64, len(current))
			for k, v := range current {
				combo[k] = v
			}
			combos = append(combos, combo)
			return
		}
		r := o.ranges[i]
		// Half a step of headroom so float accumulation cannot drop Max.
		for v := r.Min; v <= r.Max+r.Step/2; v += r.Step {
			current[r.Name] = v
			walk(i + 1)
		}
	}
	walk(0)
	return combos
}

// applyParam sets one named threshold on a detector config.
func applyParam(cfg strategy.Config, name string, value float64) (strategy.Config, error) {
	switch name {
	case ParamRSIOverbought:
		cfg.RSIOverbought = value
	case ParamVolatilityThreshold:
		cfg.VolatilityThreshold = value
	case ParamPartialExitBandPosition:
		cfg.PartialExitBandPosition = value
	case ParamMidBandTolerance:
		cfg.MidBandTolerance = value
	case ParamFullExitBandPosition:
		cfg.FullExitBandPosition = value
	default:
		return strategy.Config{}, fmt.Errorf("optimization: unknown parameter %q", name)
	}
	return cfg, nil
}

// DefaultScore folds the headline metrics into a single figure: hit rate,
// capped profit factor, drawdown headroom, total return and expectancy.
func DefaultScore(p *analytics.Performance) float64 {
	profitFactor := p.ProfitFactor
	if p.ProfitFactorInfinite || profitFactor > 10 {
		profitFactor = 10
	}

	score := 0.0
	score += p.WinRatePct / 100 * 0.3
	score += profitFactor * 0.2
	score += (1 - p.MaxDrawdownPct/100) * 0.2
	score += p.TotalReturnPct / 100 * 0.2
	score += p.Expectancy / 100 * 0.1
	return score
}
