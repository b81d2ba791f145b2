package domain

import "time"

// Alert is the payload dispatched to a notifier when a live scan produces a
// signal. The scanner populates every field; formatting and transport belong
// to the notifier adapters.
type Alert struct {
	Symbol               string     // Ticker symbol
	Kind                 SignalKind // Signal classification that fired
	Price                float64    // Close price of the triggering bar
	RSI                  float64    // RSI at the triggering bar
	BandPosition         float64    // Band position at the triggering bar
	BandWidthPercentile  float64    // Band width percentile rank at the triggering bar
	VolatilityCompressed bool       // Band width percentile was below the compression threshold
	Timestamp            time.Time  // Bar timestamp that produced the signal
}
