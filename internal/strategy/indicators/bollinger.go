package indicators

import (
	"context"
	"fmt"
	"math"

	"squeezeScanner/internal/domain"
)

// BollingerConfig holds configuration for the Bollinger Bands indicator
type BollingerConfig struct {
	IndicatorConfig
	StdDevMultiplier float64
}

// BollingerResult holds the band values computed for one bar.
type BollingerResult struct {
	Middle float64 // Simple moving average of close
	Upper  float64 // Middle + multiplier * sample standard deviation
	Lower  float64 // Middle - multiplier * sample standard deviation
	Width  float64 // (Upper - Lower) / Middle, zero when Middle is zero
}

// BollingerBands implements the Bollinger Bands indicator
type BollingerBands struct {
	BaseIndicator
	config BollingerConfig
}

// NewBollingerBands creates a new Bollinger Bands indicator instance
func NewBollingerBands(config BollingerConfig) *BollingerBands {
	return &BollingerBands{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (b *BollingerBands) Name() string {
	return "BollingerBands"
}

// Calculate computes the normalized band width for the last bar, satisfying
// the Indicator interface. Callers that need the full band values use Compute.
func (b *BollingerBands) Calculate(ctx context.Context, bars []domain.Bar) (float64, error) {
	res, err := b.Compute(ctx, bars)
	if err != nil {
		return 0, err
	}
	return res.Width, nil
}

// Compute calculates the middle, upper and lower bands for the last bar of
// the given series using the trailing Period closes.
func (b *BollingerBands) Compute(ctx context.Context, bars []domain.Bar) (BollingerResult, error) {
	period := b.Config.Period
	if len(bars) < period {
		return BollingerResult{}, fmt.Errorf("not enough data (%d) to calculate Bollinger Bands for period %d", len(bars), period)
	}

	window := bars[len(bars)-period:]
	middle := sma(window)
	dev := sampleStdDev(window, middle)

	res := BollingerResult{
		Middle: middle,
		Upper:  middle + b.config.StdDevMultiplier*dev,
		Lower:  middle - b.config.StdDevMultiplier*dev,
	}
	if res.Middle != 0 {
		res.Width = (res.Upper - res.Lower) / res.Middle
	}
	return res, nil
}

// BandPosition returns the normalized location of close within the channel,
// 0 at the lower band and 1 at the upper band. The value exceeds [0,1] when
// price escapes the bands. A degenerate channel (upper == lower) maps to 0.5.
func BandPosition(close float64, res BollingerResult) float64 {
	span := res.Upper - res.Lower
	if span == 0 {
		return 0.5
	}
	return (close - res.Lower) / span
}

// sma computes the simple moving average of close over the whole window.
func sma(window []domain.Bar) float64 {
	total := 0.0
	for _, bar := range window {
		total += bar.Close
	}
	return total / float64(len(window))
}

// sampleStdDev computes the sample standard deviation (n-1 divisor) of close
// over the window around the given mean.
func sampleStdDev(window []domain.Bar, mean float64) float64 {
	if len(window) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, bar := range window {
		d := bar.Close - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(window)-1))
}
