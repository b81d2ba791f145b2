package domain

import "time"

// IndicatorSnapshot holds the derived indicator values for one symbol at one
// bar. A snapshot is only well-defined once the trailing history covers the
// longest indicator lookback; callers receive an insufficient-history error
// before that. All values are pure functions of the bars at or before the
// snapshot's timestamp.
type IndicatorSnapshot struct {
	Symbol              string    // Ticker symbol
	Timestamp           time.Time // Timestamp of the bar the snapshot was computed at
	Close               float64   // Closing price of that bar
	MiddleBand          float64   // Bollinger middle band (SMA of close)
	UpperBand           float64   // Bollinger upper band
	LowerBand           float64   // Bollinger lower band
	BandWidth           float64   // (upper - lower) / middle
	BandWidthPercentile float64   // Rank of the current band width within its trailing window, in [0,1]
	RSI                 float64   // Wilder relative strength index, in [0,100]
	BandPosition        float64   // Normalized close position between the bands, 0=lower 1=upper
}
