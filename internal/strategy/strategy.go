package strategy

import (
	"context"
	"fmt"
	"math"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
)

// Config holds the threshold parameters for signal classification.
type Config struct {
	RSIOverbought           float64 // e.g., 70.0
	VolatilityThreshold     float64 // Band width percentile below which volatility counts as compressed, e.g., 0.2
	PartialExitBandPosition float64 // Band position at or above which half the position is taken off, e.g., 0.8
	MidBandTolerance        float64 // Distance from the mid band (0.5) that also triggers the partial exit, e.g., 0.1
	FullExitBandPosition    float64 // Band position at or below which the remainder is closed, e.g., 0.1
}

// Detector classifies indicator snapshots into trade signals given the
// symbol's current position status. Classification is deterministic: the
// same snapshot and status always yield the same signal.
type Detector struct {
	cfg    Config
	logger ports.Logger
}

// New creates a new Detector instance.
func New(cfg Config, logger ports.Logger) (*Detector, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for detector")
	}
	if cfg.RSIOverbought <= 0 || cfg.RSIOverbought >= 100 {
		return nil, fmt.Errorf("RSIOverbought must be in (0,100), got %v", cfg.RSIOverbought)
	}
	if cfg.VolatilityThreshold <= 0 || cfg.VolatilityThreshold > 1 {
		return nil, fmt.Errorf("VolatilityThreshold must be in (0,1], got %v", cfg.VolatilityThreshold)
	}
	if cfg.PartialExitBandPosition <= 0 {
		return nil, fmt.Errorf("PartialExitBandPosition must be positive, got %v", cfg.PartialExitBandPosition)
	}
	if cfg.MidBandTolerance < 0 {
		return nil, fmt.Errorf("MidBandTolerance must not be negative, got %v", cfg.MidBandTolerance)
	}
	if cfg.FullExitBandPosition < 0 {
		return nil, fmt.Errorf("FullExitBandPosition must not be negative, got %v", cfg.FullExitBandPosition)
	}
	return &Detector{cfg: cfg, logger: logger}, nil
}

// Classify maps a snapshot and the symbol's current position status to a
// signal. An entry requires a flat book, overbought momentum and compressed
// volatility; the exits step down through the band positions. Signals only
// apply to the status that can consume them, so every other combination is
// SignalNone.
func (d *Detector) Classify(ctx context.Context, snap domain.IndicatorSnapshot, status domain.PositionStatus) domain.SignalKind {
	switch status {
	case domain.StatusFlat:
		overbought := snap.RSI > d.cfg.RSIOverbought
		compressed := d.VolatilityCompressed(snap)
		if overbought && compressed {
			d.logger.Info(ctx, "Entry conditions met", map[string]interface{}{
				"symbol":          snap.Symbol,
				"rsi":             snap.RSI,
				"widthPercentile": snap.BandWidthPercentile,
				"close":           snap.Close,
			})
			return domain.SignalEntry
		}
		d.logger.Debug(ctx, "Entry conditions not met", map[string]interface{}{
			"symbol":     snap.Symbol,
			"overbought": overbought,
			"compressed": compressed,
		})

	case domain.StatusFullyOpen:
		nearMidBand := math.Abs(snap.BandPosition-0.5) <= d.cfg.MidBandTolerance
		if snap.BandPosition >= d.cfg.PartialExitBandPosition || nearMidBand {
			d.logger.Info(ctx, "Partial exit conditions met", map[string]interface{}{
				"symbol":       snap.Symbol,
				"bandPosition": snap.BandPosition,
				"nearMidBand":  nearMidBand,
				"close":        snap.Close,
			})
			return domain.SignalPartialExit
		}

	case domain.StatusPartiallyClosed:
		if snap.BandPosition <= d.cfg.FullExitBandPosition {
			d.logger.Info(ctx, "Full exit conditions met", map[string]interface{}{
				"symbol":       snap.Symbol,
				"bandPosition": snap.BandPosition,
				"close":        snap.Close,
			})
			return domain.SignalFullExit
		}
	}

	return domain.SignalNone
}

// VolatilityCompressed reports whether the snapshot's band width percentile
// is below the compression threshold. The scanner uses it to populate the
// alert payload.
func (d *Detector) VolatilityCompressed(snap domain.IndicatorSnapshot) bool {
	return snap.BandWidthPercentile < d.cfg.VolatilityThreshold
}

// Config returns the thresholds the detector was built with, so run reports
// can record the configuration that produced them.
func (d *Detector) Config() Config {
	return d.cfg
}
