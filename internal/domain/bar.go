package domain

import "time"

// Bar represents a single OHLCV bar for one symbol.
// Bars are immutable and strictly ordered by timestamp within a symbol.
type Bar struct {
	Timestamp time.Time // Start time of the bar interval
	Symbol    string    // Ticker symbol
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Traded volume
}
