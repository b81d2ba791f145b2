package indicators

import (
	"context"
	"fmt"

	"squeezeScanner/internal/domain"
)

// RSI implements the Relative Strength Index indicator.
// Overbought/oversold thresholds belong to the signal detector, not here;
// this type only produces the oscillator value.
type RSI struct {
	BaseIndicator
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config IndicatorConfig) *RSI {
	return &RSI{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// Calculate computes the RSI value using Wilder's smoothing method
func (r *RSI) Calculate(ctx context.Context, bars []domain.Bar) (float64, error) {
	if len(bars) <= r.Config.Period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(bars), r.Config.Period)
	}

	// Calculate price changes
	changes := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		changes = append(changes, change)
	}

	// Calculate initial average gain and loss
	var avgGain, avgLoss float64
	for i := 0; i < r.Config.Period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(r.Config.Period)
	avgLoss /= float64(r.Config.Period)

	// Calculate smoothed average gain and loss using Wilder's smoothing
	for i := r.Config.Period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(r.Config.Period-1) + changes[i]) / float64(r.Config.Period)
			avgLoss = (avgLoss * float64(r.Config.Period-1)) / float64(r.Config.Period)
		} else {
			avgGain = (avgGain * float64(r.Config.Period-1)) / float64(r.Config.Period)
			avgLoss = (avgLoss*float64(r.Config.Period-1) - changes[i]) / float64(r.Config.Period)
		}
	}

	// Handle edge cases
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil // Neutral if no change
		}
		return 100, nil // Max RSI if only gains
	}

	// Calculate RSI
	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))

	// Ensure RSI is within bounds
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}

	return rsi, nil
}
