package indicators

import (
	"context"
	"fmt"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
)

// EngineConfig holds the lookback configuration for snapshot computation.
type EngineConfig struct {
	BBPeriod           int     // Bollinger moving-average window
	BBStdDevMultiplier float64 // Band distance in standard deviations
	RSIPeriod          int     // RSI smoothing period
	VolatilityLookback int     // Trailing band widths ranked for the percentile
}

// Engine computes full indicator snapshots for the last bar of a series.
// It is stateless: a snapshot is a pure function of the bars handed in, so a
// value computed at one index never changes when future bars are appended.
type Engine struct {
	cfg       EngineConfig
	bollinger *BollingerBands
	rsi       *RSI
}

// NewEngine validates the configuration and creates an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.BBPeriod < 2 {
		return nil, fmt.Errorf("BBPeriod must be at least 2, got %d", cfg.BBPeriod)
	}
	if cfg.BBStdDevMultiplier <= 0 {
		return nil, fmt.Errorf("BBStdDevMultiplier must be positive, got %v", cfg.BBStdDevMultiplier)
	}
	if cfg.RSIPeriod < 1 {
		return nil, fmt.Errorf("RSIPeriod must be at least 1, got %d", cfg.RSIPeriod)
	}
	if cfg.VolatilityLookback < 1 {
		return nil, fmt.Errorf("VolatilityLookback must be at least 1, got %d", cfg.VolatilityLookback)
	}
	return &Engine{
		cfg: cfg,
		bollinger: NewBollingerBands(BollingerConfig{
			IndicatorConfig:  IndicatorConfig{Period: cfg.BBPeriod},
			StdDevMultiplier: cfg.BBStdDevMultiplier,
		}),
		rsi: NewRSI(IndicatorConfig{Period: cfg.RSIPeriod}),
	}, nil
}

// RequiredBars returns the minimum series length for a well-defined snapshot:
// the longest configured lookback plus the bar under evaluation.
func (e *Engine) RequiredBars() int {
	req := e.cfg.BBPeriod
	if e.cfg.VolatilityLookback > req {
		req = e.cfg.VolatilityLookback
	}
	if e.cfg.RSIPeriod > req {
		req = e.cfg.RSIPeriod
	}
	return req + 1
}

// Snapshot computes the indicator snapshot for the last bar of the series.
// Returns ports.ErrInsufficientHistory when the series is shorter than
// RequiredBars.
func (e *Engine) Snapshot(ctx context.Context, bars []domain.Bar) (domain.IndicatorSnapshot, error) {
	if len(bars) < e.RequiredBars() {
		return domain.IndicatorSnapshot{}, fmt.Errorf("%w: have %d bars, need %d", ports.ErrInsufficientHistory, len(bars), e.RequiredBars())
	}

	last := bars[len(bars)-1]

	res, err := e.bollinger.Compute(ctx, bars)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	widths, err := e.trailingWidths(ctx, bars)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	rsiVal, err := e.rsi.Calculate(ctx, bars)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	return domain.IndicatorSnapshot{
		Symbol:              last.Symbol,
		Timestamp:           last.Timestamp,
		Close:               last.Close,
		MiddleBand:          res.Middle,
		UpperBand:           res.Upper,
		LowerBand:           res.Lower,
		BandWidth:           res.Width,
		BandWidthPercentile: percentileRank(widths, res.Width),
		RSI:                 rsiVal,
		BandPosition:        BandPosition(last.Close, res),
	}, nil
}

// trailingWidths computes the band widths of the last VolatilityLookback bars
// (the current one included), most recent first. Indices whose own trailing
// window is shorter than BBPeriod are skipped; past the insufficient-history
// gate that still leaves at least VolatilityLookback-BBPeriod+2 values.
func (e *Engine) trailingWidths(ctx context.Context, bars []domain.Bar) ([]float64, error) {
	widths := make([]float64, 0, e.cfg.VolatilityLookback)
	for j := len(bars) - 1; j >= 0 && len(widths) < e.cfg.VolatilityLookback; j-- {
		if j+1 < e.cfg.BBPeriod {
			break
		}
		res, err := e.bollinger.Compute(ctx, bars[:j+1])
		if err != nil {
			return nil, err
		}
		widths = append(widths, res.Width)
	}
	return widths, nil
}

// percentileRank returns the fraction of values less than or equal to the
// current value, in [0,1].
func percentileRank(values []float64, current float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v <= current {
			count++
		}
	}
	return float64(count) / float64(len(values))
}
